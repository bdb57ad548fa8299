// Package speaker implements [audio.Sink] on the host's default output device
// using github.com/ebitengine/oto/v3.
//
// oto allows a single context per process, so create at most one Speaker.
package speaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/lugia19/GPT-Speaker/pkg/audio"
)

var _ audio.Sink = (*Speaker)(nil)

const (
	defaultBufferSize   = 100 * time.Millisecond
	defaultPollInterval = 10 * time.Millisecond
)

// Option configures a [Speaker].
type Option func(*Speaker)

// WithVolume sets the playback volume in [0, 1]. Defaults to 1.
func WithVolume(v float64) Option {
	return func(s *Speaker) {
		s.volume = min(max(v, 0), 1)
	}
}

// WithBufferSize sets the device buffer duration. Smaller buffers lower the
// latency between clips at the risk of underruns.
func WithBufferSize(d time.Duration) Option {
	return func(s *Speaker) {
		s.bufferSize = d
	}
}

// Speaker plays PCM on the default output device.
type Speaker struct {
	ctx        *oto.Context
	format     audio.Format
	volume     float64
	bufferSize time.Duration

	mu     sync.Mutex
	closed bool
}

// New opens the output device in format. Clips in other formats are converted
// on the fly by Play.
func New(format audio.Format, opts ...Option) (*Speaker, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("speaker: %w", err)
	}
	s := &Speaker{
		format:     format,
		volume:     1,
		bufferSize: defaultBufferSize,
	}
	for _, o := range opts {
		o(s)
	}

	octx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   s.bufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("speaker: open device: %w", err)
	}
	<-ready
	s.ctx = octx
	return s, nil
}

// Format returns the device format.
func (s *Speaker) Format() audio.Format {
	return s.format
}

// Play streams pcm to the device and blocks until the clip has finished
// playing or ctx is cancelled. On cancellation the remaining chunks are
// drained in the background.
func (s *Speaker) Play(ctx context.Context, format audio.Format, pcm <-chan []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		go audio.Drain(pcm)
		return errors.New("speaker: closed")
	}
	if err := format.Validate(); err != nil {
		go audio.Drain(pcm)
		return fmt.Errorf("speaker: %w", err)
	}

	stream := audio.ConvertStream(pcm, format, s.format)
	pr := pipeStream(stream)
	defer pr.Close()

	player := s.ctx.NewPlayer(pr)
	defer player.Close()
	player.SetVolume(s.volume)
	player.Play()

	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			player.Pause()
			pr.CloseWithError(ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			if !player.IsPlaying() {
				if err := player.Err(); err != nil {
					return fmt.Errorf("speaker: playback: %w", err)
				}
				return nil
			}
		}
	}
}

// Close suspends the device. Subsequent Play calls fail.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.ctx.Suspend()
}

// pipeStream copies stream into a pipe for the player. Closing the returned
// reader makes the copier drain the rest of stream and exit.
func pipeStream(stream <-chan []byte) *io.PipeReader {
	pr, pw := io.Pipe()
	go func() {
		for chunk := range stream {
			if _, err := pw.Write(chunk); err != nil {
				audio.Drain(stream)
				return
			}
		}
		pw.Close()
	}()
	return pr
}
