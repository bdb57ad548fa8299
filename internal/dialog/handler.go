// Package dialog orchestrates one dialogue-to-speech request: it extracts the
// quoted lines from narrative text, rewrites them with the substitution
// rules, resolves each speaker to a voice, queues the voiced lines for
// playback and assembles a transcript of everything that was said.
//
// Failures below the request boundary are absorbed: a line whose speaker has
// no voice still appears in the transcript, and a line that cannot be queued
// is logged and skipped. Only malformed input, an empty roster and an empty
// extraction end a request early.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lugia19/GPT-Speaker/internal/observe"
	"github.com/lugia19/GPT-Speaker/internal/playout"
	"github.com/lugia19/GPT-Speaker/internal/roster"
	"github.com/lugia19/GPT-Speaker/internal/substitute"
	"github.com/lugia19/GPT-Speaker/internal/transcript"
	"github.com/lugia19/GPT-Speaker/pkg/provider/tts"
	"github.com/lugia19/GPT-Speaker/pkg/types"
)

var (
	// ErrInvalidInput is returned for an empty or blank request text.
	ErrInvalidInput = errors.New("dialog: invalid input")

	// ErrNoRoster is returned when the roster snapshot has no entries.
	ErrNoRoster = errors.New("dialog: roster is empty")

	// ErrExtractionEmpty reports that the extractor produced no dialogue.
	ErrExtractionEmpty = errors.New("dialog: no dialog extracted")
)

// Status is the outcome of a request.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusNoVoices        Status = "no_voices"
	StatusExtractionEmpty Status = "extraction_empty"
	StatusInvalidInput    Status = "invalid_input"
)

// Line outcomes recorded in metrics.
const (
	outcomeEnqueued   = "enqueued"
	outcomeSilent     = "silent"
	outcomeUnresolved = "unresolved"
	outcomeDropped    = "dropped"
)

// Result describes a handled request.
type Result struct {
	Status Status

	// RequestID identifies the request in logs, jobs and the transcript feed.
	RequestID string

	// Transcript is "{character}: {text}" per line, joined by blank lines.
	// Empty unless Status is StatusSuccess.
	Transcript string

	// Lines are the extracted lines with substitutions applied.
	Lines []types.DialogLine

	// Enqueued is the number of lines queued for playback.
	Enqueued int
}

// Resolver maps a speaker name to a voice from the roster.
type Resolver interface {
	Resolve(ctx context.Context, speaker string, snap *roster.Snapshot) (types.VoiceProfile, bool)
}

// Enqueuer accepts synthesis jobs without waiting for them to play.
type Enqueuer interface {
	Enqueue(job playout.Job) error
}

// Option is a functional option for configuring a [Handler].
type Option func(*Handler)

// WithRules sets the substitution table applied to every line.
func WithRules(r *substitute.Rules) Option {
	return func(h *Handler) {
		h.rules = r
	}
}

// WithFeed publishes every successful transcript to f.
func WithFeed(f *transcript.Feed) Option {
	return func(h *Handler) {
		h.feed = f
	}
}

// WithGenerationOptions sets the synthesis options attached to every job.
// Default: [tts.DefaultOptions].
func WithGenerationOptions(o tts.Options) Option {
	return func(h *Handler) {
		h.options = o
	}
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// Handler runs the dialogue pipeline. It holds no per-request state and is
// safe for concurrent use; lines of concurrent requests may interleave in the
// playback queue.
type Handler struct {
	extractor Extractor
	resolver  Resolver
	queue     Enqueuer
	rules     *substitute.Rules
	feed      *transcript.Feed
	options   tts.Options
	metrics   *observe.Metrics
}

// New returns a Handler wired to its collaborators.
func New(extractor Extractor, resolver Resolver, queue Enqueuer, opts ...Option) *Handler {
	h := &Handler{
		extractor: extractor,
		resolver:  resolver,
		queue:     queue,
		options:   tts.DefaultOptions(),
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Handle processes one request against snap, which must not change for the
// duration of the call. The returned error wraps [ErrInvalidInput],
// [ErrNoRoster] or [ErrExtractionEmpty] for the matching non-success status
// and is nil on success.
func (h *Handler) Handle(ctx context.Context, rawText string, snap *roster.Snapshot) (Result, error) {
	requestID := observe.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	res := Result{RequestID: requestID}
	ctx = observe.WithRequestID(ctx, requestID)

	ctx, span := observe.StartSpan(ctx, observe.SpanHandle,
		trace.WithAttributes(attribute.Int("roster_size", snap.Len())))
	defer span.End()
	log := observe.Logger(ctx)

	start := time.Now()
	defer func() {
		h.metrics.DialogDuration.Record(ctx, time.Since(start).Seconds())
		h.metrics.RecordDialogRequest(ctx, string(res.Status))
		span.SetAttributes(attribute.String("status", string(res.Status)))
	}()

	if strings.TrimSpace(rawText) == "" {
		res.Status = StatusInvalidInput
		return res, ErrInvalidInput
	}
	if snap.Len() == 0 {
		log.Info("dialog: no voices configured, skipping")
		res.Status = StatusNoVoices
		return res, ErrNoRoster
	}

	lines, err := h.extractor.Extract(ctx, rawText, snap)
	if err == nil && len(lines) == 0 {
		err = ErrExtractionEmpty
	}
	if err != nil {
		if !errors.Is(err, ErrExtractionEmpty) {
			err = fmt.Errorf("%w: %w", ErrExtractionEmpty, err)
			span.RecordError(err)
			log.Warn("dialog: extraction failed", "err", err)
		} else {
			log.Info("dialog: nothing extracted", "err", err)
		}
		res.Status = StatusExtractionEmpty
		return res, err
	}

	var sb strings.Builder
	res.Lines = make([]types.DialogLine, 0, len(lines))
	for _, line := range lines {
		text := h.rules.Apply(line.Text)
		res.Lines = append(res.Lines, types.DialogLine{Character: line.Character, Text: text})
		fmt.Fprintf(&sb, "%s: %s\n\n", line.Character, text)

		outcome := h.voice(ctx, requestID, line.Character, text, snap)
		if outcome == outcomeEnqueued {
			res.Enqueued++
		}
		h.metrics.RecordDialogLine(ctx, outcome)
	}

	res.Status = StatusSuccess
	res.Transcript = strings.TrimSpace(sb.String())
	log.Info("dialog: request handled", "lines", len(res.Lines), "enqueued", res.Enqueued)

	if h.feed != nil {
		h.feed.Publish(transcript.Entry{
			RequestID: requestID,
			Text:      res.Transcript,
			Lines:     res.Lines,
		})
	}
	return res, nil
}

// voice resolves the speaker of one line and queues it for playback.
func (h *Handler) voice(ctx context.Context, requestID, character, text string, snap *roster.Snapshot) string {
	log := observe.Logger(ctx).With("character", character)

	v, ok := h.resolver.Resolve(ctx, character, snap)
	if !ok {
		log.Debug("dialog: no voice for speaker, line not voiced")
		return outcomeUnresolved
	}
	if strings.TrimSpace(text) == "" {
		return outcomeSilent
	}
	err := h.queue.Enqueue(playout.Job{
		Voice:     v,
		Text:      text,
		Options:   h.options,
		Character: character,
		RequestID: requestID,
	})
	if err != nil {
		log.Warn("dialog: enqueue failed", "err", err)
		return outcomeDropped
	}
	return outcomeEnqueued
}
