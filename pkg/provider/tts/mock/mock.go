// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to the playout queue and to
// verify which voices were fetched and which lines were synthesised.
//
// Example:
//
//	p := &mock.Provider{
//	    Voices:           map[string]types.VoiceProfile{"v1": {ID: "v1", Name: "Rachel"}},
//	    SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	}
//	ch, _ := p.SynthesizeStream(ctx, "Hello.", voice, tts.DefaultOptions())
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/lugia19/GPT-Speaker/pkg/provider/tts"
	"github.com/lugia19/GPT-Speaker/pkg/types"
)

// SynthesizeCall records a single invocation of SynthesizeStream.
type SynthesizeCall struct {
	Ctx     context.Context
	Text    string
	Voice   types.VoiceProfile
	Options tts.Options
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Voices is the catalogue served by FetchVoice and, when
	// ListVoicesResult is nil, by ListVoices.
	Voices map[string]types.VoiceProfile

	// FetchErr, if non-nil, is returned by every FetchVoice call.
	FetchErr error

	// SynthesizeChunks is the sequence of PCM slices emitted per stream.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned from SynthesizeStream instead of
	// opening a stream.
	SynthesizeErr error

	// StreamErr, if non-nil, is sent as the terminal chunk of every stream.
	StreamErr error

	// OnSynthesize, if set, is called synchronously with each synthesised
	// text before the stream opens. Tests use it to block or observe ordering.
	OnSynthesize func(text string)

	// ListVoicesResult is returned by ListVoices. When nil, the values of
	// Voices are returned.
	ListVoicesResult []types.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	fetchCalls      []string
	synthesizeCalls []SynthesizeCall
}

// FetchVoice records the call and returns the catalogue entry for id.
func (p *Provider) FetchVoice(_ context.Context, id string) (types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetchCalls = append(p.fetchCalls, id)
	if p.FetchErr != nil {
		return types.VoiceProfile{}, p.FetchErr
	}
	v, ok := p.Voices[id]
	if !ok {
		return types.VoiceProfile{}, fmt.Errorf("mock: voice %q: %w", id, tts.ErrVoiceNotFound)
	}
	return v, nil
}

// SynthesizeStream records the call and, if SynthesizeErr is nil, returns a
// channel that emits SynthesizeChunks (and StreamErr, if set) then closes.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, voice types.VoiceProfile, opts tts.Options) (<-chan tts.Chunk, error) {
	p.mu.Lock()
	p.synthesizeCalls = append(p.synthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice, Options: opts})
	hook := p.OnSynthesize
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	chunks := make([][]byte, len(p.SynthesizeChunks))
	copy(chunks, p.SynthesizeChunks)
	streamErr := p.StreamErr
	p.mu.Unlock()

	if hook != nil {
		hook(text)
	}

	ch := make(chan tts.Chunk, len(chunks)+1)
	go func() {
		defer close(ch)
		for _, pcm := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- tts.Chunk{PCM: pcm}:
			}
		}
		if streamErr != nil {
			select {
			case <-ctx.Done():
			case ch <- tts.Chunk{Err: streamErr}:
			}
		}
	}()
	return ch, nil
}

// ListVoices returns ListVoicesResult, or the Voices catalogue when unset.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	if p.ListVoicesResult != nil {
		return p.ListVoicesResult, nil
	}
	out := make([]types.VoiceProfile, 0, len(p.Voices))
	for _, v := range p.Voices {
		out = append(out, v)
	}
	return out, nil
}

// FetchCalls returns the voice IDs passed to FetchVoice, in call order.
func (p *Provider) FetchCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.fetchCalls))
	copy(out, p.fetchCalls)
	return out
}

// SynthesizeCalls returns a copy of every recorded SynthesizeStream call.
func (p *Provider) SynthesizeCalls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.synthesizeCalls))
	copy(out, p.synthesizeCalls)
	return out
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetchCalls = nil
	p.synthesizeCalls = nil
}

var _ tts.Provider = (*Provider)(nil)
