// Package playout turns queued dialogue lines into sound, one at a time.
//
// A [Queue] owns exactly one worker goroutine. For each [Job] the worker
// synthesises the text through a TTS backend, streams the PCM into the audio
// sink, waits until the clip has finished playing and then keeps a short
// cooldown before starting the next clip. Lines therefore never overlap and
// play in the order they were enqueued.
package playout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lugia19/GPT-Speaker/internal/observe"
	"github.com/lugia19/GPT-Speaker/pkg/audio"
	"github.com/lugia19/GPT-Speaker/pkg/provider/tts"
	"github.com/lugia19/GPT-Speaker/pkg/types"
)

const (
	// DefaultCooldown is the pause kept between the end of one clip and the
	// start of the next.
	DefaultCooldown = 500 * time.Millisecond

	// DefaultSampleRate is the PCM rate assumed for synthesised audio when no
	// format is configured.
	DefaultSampleRate = 44100
)

// Job outcomes recorded in metrics.
const (
	StatusPlayed    = "played"
	StatusFailed    = "failed"
	StatusDiscarded = "discarded"
)

var (
	// ErrClosed is returned by Enqueue after Close has been called.
	ErrClosed = errors.New("playout: queue closed")

	// ErrQueueFull is returned by Enqueue when a size limit is configured and
	// reached.
	ErrQueueFull = errors.New("playout: queue full")
)

// Synthesizer produces PCM for one line of text. [tts.Provider] satisfies it.
type Synthesizer interface {
	SynthesizeStream(ctx context.Context, text string, voice types.VoiceProfile, opts tts.Options) (<-chan tts.Chunk, error)
}

// Job is one line of speech. Its text already has substitutions applied.
type Job struct {
	Voice   types.VoiceProfile
	Text    string
	Options tts.Options

	// Character is the speaker name as extracted, for logs only.
	Character string

	// RequestID ties the job to the dialogue request that produced it.
	RequestID string
}

// Option is a functional option for configuring a [Queue].
type Option func(*Queue)

// WithCooldown sets the pause between consecutive clips. Zero disables it.
func WithCooldown(d time.Duration) Option {
	return func(q *Queue) {
		q.cooldown = d
	}
}

// WithFormat sets the PCM format produced by the synthesizer.
// Default: 44.1 kHz mono.
func WithFormat(f audio.Format) Option {
	return func(q *Queue) {
		q.format = f
	}
}

// WithDrainOnClose controls whether Close plays the jobs still queued (true,
// the default) or discards them.
func WithDrainOnClose(drain bool) Option {
	return func(q *Queue) {
		q.drainOnClose = drain
	}
}

// WithMaxLen limits the number of pending jobs. Zero means unlimited.
func WithMaxLen(n int) Option {
	return func(q *Queue) {
		q.maxLen = n
	}
}

// WithJobTimeout bounds synthesis plus playback of a single job. Zero means
// no bound, so a stuck backend stalls every later job.
func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.jobTimeout = d
	}
}

// WithErrorHandler registers fn to be called from the worker goroutine for
// every failed job. fn must not block for long.
func WithErrorHandler(fn func(Job, error)) Option {
	return func(q *Queue) {
		q.onError = fn
	}
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// Queue is a single-worker FIFO of synthesis jobs. All exported methods are
// safe for concurrent use.
type Queue struct {
	synth        Synthesizer
	sink         audio.Sink
	format       audio.Format
	cooldown     time.Duration
	drainOnClose bool
	maxLen       int
	jobTimeout   time.Duration
	onError      func(Job, error)
	metrics      *observe.Metrics

	mu     sync.Mutex
	jobs   []Job
	closed bool

	notify chan struct{} // signalled when a job is enqueued
	done   chan struct{} // closed by Close; no more jobs will arrive
	exited chan struct{} // closed when the worker returns
}

// New creates a Queue that synthesises with synth and plays through sink.
// The worker goroutine starts immediately; call [Queue.Close] to stop it.
func New(synth Synthesizer, sink audio.Sink, opts ...Option) *Queue {
	q := &Queue{
		synth:        synth,
		sink:         sink,
		format:       audio.Mono(DefaultSampleRate),
		cooldown:     DefaultCooldown,
		drainOnClose: true,
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		exited:       make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	if q.metrics == nil {
		q.metrics = observe.DefaultMetrics()
	}
	go q.run()
	return q
}

// Enqueue appends job to the tail of the queue without waiting for it to
// play.
func (q *Queue) Enqueue(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.maxLen > 0 && len(q.jobs) >= q.maxLen {
		return ErrQueueFull
	}
	q.jobs = append(q.jobs, job)
	q.metrics.QueueDepth.Add(context.Background(), 1)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Len returns the number of jobs waiting to be played, excluding the one in
// flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close stops accepting jobs and waits for the worker to finish. Queued jobs
// are played or discarded according to [WithDrainOnClose]; the clip in
// flight always plays to the end. If ctx expires first, the jobs still queued
// are discarded and ctx's error is returned while the current clip finishes
// in the background. Close is idempotent.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		if !q.drainOnClose {
			q.discardLocked()
		}
		close(q.done)
	}
	q.mu.Unlock()

	select {
	case <-q.exited:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		q.discardLocked()
		q.mu.Unlock()
		return fmt.Errorf("playout: close: %w", ctx.Err())
	}
}

// discardLocked drops every pending job. Must be called with q.mu held.
func (q *Queue) discardLocked() {
	n := len(q.jobs)
	if n == 0 {
		return
	}
	ctx := context.Background()
	for range n {
		q.metrics.RecordPlayoutJob(ctx, StatusDiscarded)
	}
	q.metrics.QueueDepth.Add(ctx, -int64(n))
	q.jobs = nil
	observe.Logger(ctx).Info("playout: discarded queued jobs", "count", n)
}

// dequeue pops the oldest job. Returns ok=false if the queue is empty.
func (q *Queue) dequeue() (job Job, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return Job{}, false
	}
	job = q.jobs[0]
	q.jobs[0] = Job{}
	q.jobs = q.jobs[1:]
	q.metrics.QueueDepth.Add(context.Background(), -1)
	return job, true
}

// run is the worker goroutine. It exits once Close has been called and the
// queue is empty.
func (q *Queue) run() {
	defer close(q.exited)

	cooldown := time.NewTimer(0)
	if !cooldown.Stop() {
		<-cooldown.C
	}
	defer cooldown.Stop()

	var lastEnd time.Time
	for {
		job, ok := q.dequeue()
		if !ok {
			select {
			case <-q.notify:
				continue
			case <-q.done:
				if q.Len() > 0 {
					continue
				}
				return
			}
		}

		if !lastEnd.IsZero() {
			if wait := q.cooldown - time.Since(lastEnd); wait > 0 {
				cooldown.Reset(wait)
				<-cooldown.C
			}
		}

		q.process(job)
		lastEnd = time.Now()
	}
}

// process synthesises and plays one job, reporting failures without
// stopping the worker.
func (q *Queue) process(job Job) {
	ctx := observe.WithRequestID(context.Background(), job.RequestID)
	if q.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.jobTimeout)
		defer cancel()
	}
	ctx, span := observe.StartSpan(ctx, observe.SpanPlayoutJob,
		trace.WithAttributes(
			attribute.String("voice_id", job.Voice.ID),
			attribute.String("character", job.Character),
		))
	defer span.End()

	log := observe.Logger(ctx).With("character", job.Character, "voice_id", job.Voice.ID)
	start := time.Now()

	err := q.play(ctx, job)
	q.metrics.PlaybackDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		log.Warn("playout: job failed", "err", err)
		q.metrics.RecordPlayoutJob(ctx, StatusFailed)
		if q.onError != nil {
			q.onError(job, err)
		}
		return
	}
	log.Debug("playout: job played", "duration", time.Since(start))
	q.metrics.RecordPlayoutJob(ctx, StatusPlayed)
}

// play streams the synthesised PCM of job into the sink and blocks until the
// sink is done with it.
func (q *Queue) play(ctx context.Context, job Job) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	synthStart := time.Now()
	stream, err := q.synth.SynthesizeStream(ctx, job.Text, job.Voice, job.Options)
	if err != nil {
		return fmt.Errorf("playout: synthesize: %w", err)
	}

	pcm := make(chan []byte, 16)
	streamErr := make(chan error, 1)
	go func() {
		defer close(pcm)
		var err error
		for chunk := range stream {
			if chunk.Err != nil {
				err = chunk.Err
				continue
			}
			select {
			case pcm <- chunk.PCM:
			case <-ctx.Done():
				go audio.Drain(stream)
				streamErr <- err
				return
			}
		}
		q.metrics.TTSDuration.Record(ctx, time.Since(synthStart).Seconds())
		streamErr <- err
	}()

	playErr := q.sink.Play(ctx, q.format, pcm)
	cancel()
	synthErr := <-streamErr

	var errs []error
	if synthErr != nil {
		errs = append(errs, fmt.Errorf("playout: synthesize: %w", synthErr))
	}
	if playErr != nil {
		errs = append(errs, fmt.Errorf("playout: play: %w", playErr))
	}
	return errors.Join(errs...)
}
