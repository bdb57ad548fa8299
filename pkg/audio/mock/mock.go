// Package mock provides an in-memory implementation of [audio.Sink] for use
// in unit tests.
//
// The mock is safe for concurrent use. It records every clip it plays so
// that tests can assert on order and content, and exposes fields that
// control its behaviour.
//
// Typical usage:
//
//	sink := &mock.Sink{Delay: 20 * time.Millisecond}
//	err := sink.Play(ctx, audio.Mono(44100), pcm)
//	clips := sink.Clips()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/lugia19/GPT-Speaker/pkg/audio"
)

var _ audio.Sink = (*Sink)(nil)

// Clip is one recorded Play invocation.
type Clip struct {
	Format  audio.Format
	PCM     []byte
	Started time.Time
	Ended   time.Time
}

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// Delay is how long each Play blocks after its stream is drained,
	// simulating playback time.
	Delay time.Duration

	// PlayErr, if non-nil, is returned from every Play call after the stream
	// has been drained.
	PlayErr error

	// OnPlay, if set, is called at the start of each Play with the number of
	// clips played before it.
	OnPlay func(index int)

	clips       []Clip
	playing     int
	maxPlaying  int
	closeCalled int
}

// Play drains pcm, records the clip, waits Delay and returns PlayErr.
func (s *Sink) Play(ctx context.Context, format audio.Format, pcm <-chan []byte) error {
	s.mu.Lock()
	idx := len(s.clips)
	s.playing++
	s.maxPlaying = max(s.maxPlaying, s.playing)
	hook := s.OnPlay
	delay := s.Delay
	playErr := s.PlayErr
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.playing--
		s.mu.Unlock()
	}()

	if hook != nil {
		hook(idx)
	}

	clip := Clip{Format: format, Started: time.Now()}
	for chunk := range pcm {
		clip.PCM = append(clip.PCM, chunk...)
	}
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	clip.Ended = time.Now()

	s.mu.Lock()
	s.clips = append(s.clips, clip)
	s.mu.Unlock()
	return playErr
}

// Close records the call.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalled++
	return nil
}

// Clips returns a copy of all recorded clips in play order.
func (s *Sink) Clips() []Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Clip, len(s.clips))
	copy(out, s.clips)
	return out
}

// MaxConcurrent reports the highest number of Play calls that were in
// flight at the same time.
func (s *Sink) MaxConcurrent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxPlaying
}

// CloseCalls reports how many times Close was called.
func (s *Sink) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalled
}
