package resilience

import (
	"context"
	"errors"

	"github.com/lugia19/GPT-Speaker/pkg/provider/tts"
	"github.com/lugia19/GPT-Speaker/pkg/types"
)

// TTSFallback is a [tts.Provider] that fails over across synthesis backends,
// typically the same vendor under a second API key.
//
// [tts.ErrVoiceNotFound] never fails over: the voice id belongs to the
// roster, not to a particular backend.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// TTSFailure is [CountsAsFailure] with [tts.ErrVoiceNotFound] treated as a
// caller error.
func TTSFailure(err error) bool {
	return CountsAsFailure(err) && !errors.Is(err, tts.ErrVoiceNotFound)
}

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
// Unless cfg supplies its own IsFailure, [TTSFailure] decides what counts
// against a backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = TTSFailure
	}
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// FetchVoice looks id up on the first healthy backend.
func (f *TTSFallback) FetchVoice(ctx context.Context, id string) (types.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (types.VoiceProfile, error) {
		return p.FetchVoice(ctx, id)
	})
}

// SynthesizeStream opens a stream on the first healthy backend. Errors
// reported on the stream after it opened do not fail over.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text string, voice types.VoiceProfile, opts tts.Options) (<-chan tts.Chunk, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (<-chan tts.Chunk, error) {
		return p.SynthesizeStream(ctx, text, voice, opts)
	})
}

// ListVoices lists the voices of the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
