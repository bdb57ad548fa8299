// Package resolve maps free-form speaker names produced by the extractor to
// voices from the roster.
//
// Each name is fuzzy-matched against the roster; the best match's voice is
// fetched from the TTS backend and cached per speaker name, so repeated lines
// from the same speaker cost no further lookups. The cache is invalidated
// entry by entry when the roster assigns the best-matching character a
// different voice.
package resolve

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lugia19/GPT-Speaker/internal/observe"
	"github.com/lugia19/GPT-Speaker/internal/roster"
	"github.com/lugia19/GPT-Speaker/pkg/provider/tts"
	"github.com/lugia19/GPT-Speaker/pkg/types"
)

// Resolution outcomes recorded in metrics.
const (
	ResultCached     = "cached"
	ResultFetched    = "fetched"
	ResultNoVoice    = "no_voice"
	ResultMiss       = "miss"
	ResultFetchError = "fetch_error"
)

// VoiceFetcher looks voices up by identifier. [tts.Provider] satisfies it.
type VoiceFetcher interface {
	FetchVoice(ctx context.Context, id string) (types.VoiceProfile, error)
}

// Option is a functional option for configuring a [Resolver].
type Option func(*Resolver)

// WithMinScore makes best matches scoring below min resolve to no voice.
// The default of 0 always accepts the best match of a non-empty roster.
func WithMinScore(min float64) Option {
	return func(r *Resolver) {
		r.minScore = min
	}
}

// WithMetrics sets the metrics recorder. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithFetchTimeout bounds each voice lookup. Zero means no extra bound.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.fetchTimeout = d
	}
}

// cacheEntry remembers the voice resolved for one speaker name. voiceID is
// the roster id the entry was computed for; ok is false for the no-voice
// sentinel.
type cacheEntry struct {
	voiceID string
	voice   types.VoiceProfile
	ok      bool
}

// Resolver resolves speaker names to voices. It is safe for concurrent use;
// cache read-modify-write cycles are serialised.
type Resolver struct {
	fetcher      VoiceFetcher
	matcher      Matcher
	minScore     float64
	fetchTimeout time.Duration
	metrics      *observe.Metrics

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New returns a Resolver that fetches voices through fetcher.
func New(fetcher VoiceFetcher, opts ...Option) *Resolver {
	r := &Resolver{
		fetcher: fetcher,
		cache:   make(map[string]cacheEntry),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Resolve returns the voice for speaker, or false when the roster is empty,
// the best match scores below the minimum, the matched character has no
// voice, or the voice could not be fetched.
//
// The cached result is reused while the best match keeps the voice id it was
// computed for. A speaker seen for the first time, or whose best match now
// carries another id (including a previously empty one), is looked up again.
// A failed fetch is cached as no voice under the id that failed, except when
// it failed by timing out or being cancelled.
func (r *Resolver) Resolve(ctx context.Context, speaker string, snap *roster.Snapshot) (types.VoiceProfile, bool) {
	if snap.Len() == 0 {
		r.metrics.RecordResolution(ctx, ResultMiss)
		return types.VoiceProfile{}, false
	}

	ctx, span := observe.StartSpan(ctx, observe.SpanResolve,
		trace.WithAttributes(attribute.String("speaker", speaker)))
	defer span.End()
	log := observe.Logger(ctx)

	idx, score := r.matcher.Best(speaker, snap.Names())
	entry := snap.At(idx)
	span.SetAttributes(
		attribute.String("character", entry.CharacterName),
		attribute.Float64("score", score),
	)

	if score < r.minScore {
		log.Debug("resolve: best match below threshold",
			"speaker", speaker, "character", entry.CharacterName, "score", score, "min_score", r.minScore)
		r.metrics.RecordResolution(ctx, ResultMiss)
		return types.VoiceProfile{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// A failed fetch is cached under the id it was tried with, so it counts
	// as the same match until the roster assigns another voice.
	cached, seen := r.cache[speaker]
	if seen && cached.voiceID == entry.VoiceID {
		r.metrics.RecordResolution(ctx, ResultCached)
		return cached.voice, cached.ok
	}

	if entry.VoiceID == "" {
		r.cache[speaker] = cacheEntry{}
		log.Debug("resolve: character has no voice", "speaker", speaker, "character", entry.CharacterName)
		r.metrics.RecordResolution(ctx, ResultNoVoice)
		return types.VoiceProfile{}, false
	}

	// The fetch outlives the request that triggered it; only fetchTimeout
	// bounds it.
	fetchCtx := context.WithoutCancel(ctx)
	if r.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(fetchCtx, r.fetchTimeout)
		defer cancel()
	}
	voice, err := r.fetcher.FetchVoice(fetchCtx, entry.VoiceID)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, tts.ErrVoiceNotFound) {
			level = slog.LevelInfo
		}
		log.Log(ctx, level, "resolve: voice lookup failed",
			"speaker", speaker, "character", entry.CharacterName, "voice_id", entry.VoiceID, "err", err)
		span.RecordError(err)
		if !isContextErr(err) {
			r.cache[speaker] = cacheEntry{voiceID: entry.VoiceID}
		}
		r.metrics.RecordResolution(ctx, ResultFetchError)
		return types.VoiceProfile{}, false
	}

	r.cache[speaker] = cacheEntry{voiceID: entry.VoiceID, voice: voice, ok: true}
	log.Debug("resolve: voice fetched",
		"speaker", speaker, "character", entry.CharacterName, "voice_id", entry.VoiceID, "score", score)
	r.metrics.RecordResolution(ctx, ResultFetched)
	return voice, true
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Reset drops every cached resolution.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.cache)
}

// Len returns the number of cached speaker names.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}
