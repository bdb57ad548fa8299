package audio

import (
	"context"
	"sync/atomic"
	"time"
)

var _ Sink = (*Discard)(nil)

// Discard is a [Sink] without a device. It consumes every clip and, when
// Realtime is set, blocks for the clip's playback duration so that pacing
// matches a real speaker. Useful on headless hosts.
type Discard struct {
	Realtime bool

	played atomic.Int64
}

// Play consumes pcm and returns once it is closed (plus the clip duration
// when Realtime is set) or ctx is cancelled.
func (d *Discard) Play(ctx context.Context, format Format, pcm <-chan []byte) error {
	var n int
	for {
		select {
		case <-ctx.Done():
			go Drain(pcm)
			return ctx.Err()
		case chunk, ok := <-pcm:
			if !ok {
				d.played.Add(int64(n))
				if !d.Realtime {
					return nil
				}
				t := time.NewTimer(format.Duration(n))
				defer t.Stop()
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-t.C:
					return nil
				}
			}
			n += len(chunk)
		}
	}
}

// BytesPlayed reports the total number of PCM bytes consumed.
func (d *Discard) BytesPlayed() int64 {
	return d.played.Load()
}

// Close implements [Sink]. It is a no-op.
func (d *Discard) Close() error { return nil }
