// Package transcript delivers finished dialogue transcripts to display
// surfaces.
//
// The dialogue handler publishes one [Entry] per successful request to a
// [Feed]. Display surfaces (the HTTP endpoint, websocket clients, a terminal
// printer) subscribe and render entries on their own goroutines; the handler
// never waits for them.
package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/lugia19/GPT-Speaker/internal/observe"
	"github.com/lugia19/GPT-Speaker/pkg/types"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 16

// Entry is one finished transcript.
type Entry struct {
	RequestID string             `json:"request_id,omitempty"`
	Text      string             `json:"transcript"`
	Lines     []types.DialogLine `json:"lines"`
	Time      time.Time          `json:"time"`
}

// Option is a functional option for configuring a [Feed].
type Option func(*Feed)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.buffer = n
		}
	}
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(f *Feed) {
		f.metrics = m
	}
}

// Feed fans transcripts out to subscribers. A subscriber that falls behind
// loses its oldest undelivered entries rather than blocking the publisher.
// All methods are safe for concurrent use.
type Feed struct {
	buffer  int
	metrics *observe.Metrics

	mu      sync.Mutex
	subs    map[chan Entry]struct{}
	last    Entry
	hasLast bool
	closed  bool
}

// NewFeed returns an empty feed.
func NewFeed(opts ...Option) *Feed {
	f := &Feed{
		buffer: DefaultBuffer,
		subs:   make(map[chan Entry]struct{}),
	}
	for _, o := range opts {
		o(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	return f
}

// Publish delivers e to every subscriber and remembers it as the latest
// entry. It never blocks. Publishing on a closed feed is a no-op.
func (f *Feed) Publish(e Entry) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.last, f.hasLast = e, true

	for ch := range f.subs {
		for {
			select {
			case ch <- e:
			default:
				// Full: drop the oldest entry and retry.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Last returns the most recently published entry.
func (f *Feed) Last() (Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.hasLast
}

// Subscribe returns a channel receiving every entry published from now on.
// The channel is closed when ctx is done or the feed is closed.
func (f *Feed) Subscribe(ctx context.Context) <-chan Entry {
	ch := make(chan Entry, f.buffer)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch
	}
	f.subs[ch] = struct{}{}
	f.mu.Unlock()
	f.metrics.TranscriptSubscribers.Add(ctx, 1)

	go func() {
		<-ctx.Done()
		f.unsubscribe(ch)
	}()
	return ch
}

func (f *Feed) unsubscribe(ch chan Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[ch]; !ok {
		return
	}
	delete(f.subs, ch)
	close(ch)
	f.metrics.TranscriptSubscribers.Add(context.Background(), -1)
}

// Subscribers returns the number of active subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close closes every subscriber channel. Later Publish calls are dropped and
// later subscriptions receive an already closed channel.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
		f.metrics.TranscriptSubscribers.Add(context.Background(), -1)
	}
}
