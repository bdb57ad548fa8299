// Package audio defines the output side of speech playback: the [Sink] that
// turns raw PCM into sound, plus the PCM format helpers shared by TTS
// providers and sinks.
//
// All PCM handled here is signed 16-bit little-endian, interleaved when
// stereo.
//
// This package lives under pkg/ because external code is expected to
// implement [Sink] (e.g., to route speech into a virtual audio cable).
package audio

import (
	"context"
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono returns a single-channel format at rate.
func Mono(rate int) Format {
	return Format{SampleRate: rate, Channels: 1}
}

// String returns a human-readable form, e.g. "44100Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Validate reports whether f describes a playable stream.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("audio: channels must be 1 or 2, got %d", f.Channels)
	}
	return nil
}

// Duration returns the playback length of n bytes of PCM in format f.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := n / (2 * f.Channels)
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Sink plays PCM audio on an output device.
//
// Implementations must be safe for concurrent use, but callers are expected to
// play one clip at a time; overlapping Play calls may interleave.
type Sink interface {
	// Play writes the chunks received from pcm, encoded in format, to the
	// device and blocks until the last sample has been played, pcm is closed
	// and drained, or ctx is cancelled. The caller owns pcm; Play drains it
	// before returning even on error.
	Play(ctx context.Context, format Format, pcm <-chan []byte) error

	// Close releases the device. Subsequent Play calls return an error.
	Close() error
}
