// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (ElevenLabs, a local Coqui
// server, ...) and offers the two capabilities the dialogue pipeline needs:
// looking a voice up by its identifier, and synthesising one line of text with
// that voice as a stream of raw PCM chunks.
//
// All providers emit signed 16-bit little-endian mono PCM at the sample rate
// they were configured with. Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/lugia19/GPT-Speaker/pkg/types"
)

// ErrVoiceNotFound is returned by FetchVoice when the backend does not know
// the requested voice identifier.
var ErrVoiceNotFound = errors.New("tts: voice not found")

// DefaultModel is the generation model used when Options.Model is empty.
const DefaultModel = "eleven_multilingual_v2"

// Options tunes a single synthesis request.
type Options struct {
	// Model selects the backend's generation model. Backends that have a
	// single model ignore it.
	Model string

	// LatencyOptimization trades quality for time-to-first-audio, 0 (off)
	// through 4 (maximum). Backends without the knob ignore it.
	LatencyOptimization int
}

// DefaultOptions returns the generation options used for dialogue lines.
func DefaultOptions() Options {
	return Options{Model: DefaultModel, LatencyOptimization: 1}
}

// Chunk is one piece of a synthesis stream. A chunk carries either PCM audio
// or a terminal Err; a stream that fails sends one chunk with Err set and then
// closes.
type Chunk struct {
	PCM []byte
	Err error
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// FetchVoice returns the voice profile identified by id. It returns an
	// error wrapping [ErrVoiceNotFound] when the backend does not know id, and
	// another error when the backend cannot be reached.
	FetchVoice(ctx context.Context, id string) (types.VoiceProfile, error)

	// SynthesizeStream synthesises text with voice and returns a channel of
	// PCM chunks. The channel is closed when synthesis is complete or ctx is
	// cancelled; the caller must drain it.
	//
	// Returns a non-nil error only if the stream cannot be started.
	SynthesizeStream(ctx context.Context, text string, voice types.VoiceProfile, opts Options) (<-chan Chunk, error)

	// ListVoices returns all voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
