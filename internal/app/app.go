// Package app wires the GPT Speaker subsystems into a running application.
//
// New builds the pipeline from a validated config and a set of providers, Run
// serves HTTP and watches the config file until the context ends or a stop is
// requested, and Shutdown lets queued lines finish before releasing the audio
// device.
//
// For testing, inject providers from the */mock packages and use
// [App.Handler] without calling Run.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lugia19/GPT-Speaker/internal/config"
	"github.com/lugia19/GPT-Speaker/internal/dialog"
	"github.com/lugia19/GPT-Speaker/internal/health"
	"github.com/lugia19/GPT-Speaker/internal/observe"
	"github.com/lugia19/GPT-Speaker/internal/playout"
	"github.com/lugia19/GPT-Speaker/internal/resolve"
	"github.com/lugia19/GPT-Speaker/internal/roster"
	"github.com/lugia19/GPT-Speaker/internal/server"
	"github.com/lugia19/GPT-Speaker/internal/substitute"
	"github.com/lugia19/GPT-Speaker/internal/transcript"
	"github.com/lugia19/GPT-Speaker/pkg/audio"
	"github.com/lugia19/GPT-Speaker/pkg/provider/llm"
	"github.com/lugia19/GPT-Speaker/pkg/provider/tts"
)

// Providers holds the backends built from the config registry.
type Providers struct {
	LLM   llm.Provider
	TTS   tts.Provider
	Audio audio.Sink

	// LLMName labels extraction metrics. Defaults to "llm".
	LLMName string
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics        *observe.Metrics
	metricsHandler http.Handler
	level          *slog.LevelVar
	configPath     string
	watchInterval  time.Duration

	roster   *roster.Store
	rules    *substitute.Rules
	resolver *resolve.Resolver
	queue    *playout.Queue
	feed     *transcript.Feed
	dialog   *dialog.Handler
	health   *health.Handler
	server   *server.Server
	watcher  *config.Watcher

	stopCh   chan struct{}
	stopOnce sync.Once

	shutdownOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves /metrics from h.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets config reloads change the log level through lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigWatch reloads the roster and log level when the file at path
// changes. interval <= 0 keeps the watcher default.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// New wires all subsystems. The playout worker starts immediately; HTTP is
// served only once Run is called.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil || providers.TTS == nil || providers.Audio == nil {
		return nil, errors.New("app: llm, tts and audio providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		stopCh:    make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	snap, err := roster.NewSnapshot(cfg.Roster)
	if err != nil {
		return nil, fmt.Errorf("app: roster: %w", err)
	}
	a.roster = roster.NewStore(snap)

	a.rules, err = substitute.Load(cfg.Substitutions.Path)
	if err != nil {
		return nil, fmt.Errorf("app: substitutions: %w", err)
	}

	a.resolver = resolve.New(providers.TTS,
		resolve.WithMinScore(cfg.Matching.MinScore),
		resolve.WithFetchTimeout(cfg.Matching.FetchTimeout),
		resolve.WithMetrics(a.metrics),
	)

	a.queue = playout.New(providers.TTS, providers.Audio, a.playoutOptions()...)
	a.feed = transcript.NewFeed(transcript.WithMetrics(a.metrics))

	llmName := providers.LLMName
	if llmName == "" {
		llmName = "llm"
	}
	extractor := dialog.NewLLMExtractor(providers.LLM,
		dialog.WithProviderName(llmName),
		dialog.WithExtractorMetrics(a.metrics),
	)
	a.dialog = dialog.New(extractor, a.resolver, a.queue,
		dialog.WithRules(a.rules),
		dialog.WithFeed(a.feed),
		dialog.WithGenerationOptions(generationOptions(cfg)),
		dialog.WithMetrics(a.metrics),
	)

	a.health = health.New(
		health.RosterChecker(func() int { return a.roster.Snapshot().Len() }),
		health.ProviderChecker("tts", providers.TTS),
	)

	a.server = server.New(a.dialog, a.roster,
		server.WithCache(a.resolver),
		server.WithVoices(providers.TTS),
		server.WithFeed(a.feed),
		server.WithHealth(a.health),
		server.WithMetrics(a.metrics),
		server.WithMetricsHandler(a.metricsHandler),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		server.WithStop(a.Stop),
	)

	if a.configPath != "" {
		var wopts []config.WatcherOption
		if a.watchInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.watchInterval))
		}
		a.watcher, err = config.NewWatcher(a.configPath, a.applyConfig, wopts...)
		if err != nil {
			_ = a.queue.Close(ctx)
			return nil, fmt.Errorf("app: config watcher: %w", err)
		}
	}

	slog.Info("pipeline ready",
		"characters", snap.Len(),
		"substitutions", a.rules.Len(),
		"queue_size", cfg.Playback.QueueSize,
	)
	return a, nil
}

func (a *App) playoutOptions() []playout.Option {
	pb := a.cfg.Playback
	opts := []playout.Option{
		playout.WithMetrics(a.metrics),
		playout.WithErrorHandler(func(job playout.Job, err error) {
			slog.Warn("line not played",
				"request_id", job.RequestID,
				"character", job.Character,
				"voice", job.Voice.ID,
				"err", err,
			)
		}),
	}
	if pb.Cooldown != nil {
		opts = append(opts, playout.WithCooldown(*pb.Cooldown))
	}
	if pb.DrainOnClose != nil {
		opts = append(opts, playout.WithDrainOnClose(*pb.DrainOnClose))
	}
	if pb.QueueSize > 0 {
		opts = append(opts, playout.WithMaxLen(pb.QueueSize))
	}
	if pb.JobTimeout > 0 {
		opts = append(opts, playout.WithJobTimeout(pb.JobTimeout))
	}
	return opts
}

func generationOptions(cfg *config.Config) tts.Options {
	opts := tts.DefaultOptions()
	if cfg.Generation.Model != "" {
		opts.Model = cfg.Generation.Model
	}
	if cfg.Generation.LatencyOptimization != nil {
		opts.LatencyOptimization = *cfg.Generation.LatencyOptimization
	}
	return opts
}

// Handler returns the HTTP handler serving the control surface.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Roster returns the live roster store.
func (a *App) Roster() *roster.Store {
	return a.roster
}

// Feed returns the transcript feed.
func (a *App) Feed() *transcript.Feed {
	return a.feed
}

// Stop asks Run to return. It is safe to call more than once.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		slog.Info("stop requested")
		a.health.SetDraining()
		close(a.stopCh)
	})
}

// Run serves HTTP and watches the config file until ctx is done or Stop is
// called. It returns the first error from either.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		select {
		case <-a.stopCh:
			cancel()
		case <-runCtx.Done():
		}
		return nil
	})

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	var certFile, keyFile string
	if tls := a.cfg.Server.TLS; tls != nil {
		certFile, keyFile = tls.CertFile, tls.KeyFile
	}
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr, "tls", certFile != "")
		if err := server.Serve(runCtx, srv, certFile, keyFile, a.cfg.Server.ShutdownTimeout); err != nil {
			return fmt.Errorf("app: http: %w", err)
		}
		return nil
	})

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(runCtx) })
	}

	return g.Wait()
}

// applyConfig is the watcher callback for a changed, valid config file.
func (a *App) applyConfig(old, next *config.Config) {
	d := config.Diff(old, next)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RosterChanged {
		if _, err := a.roster.Replace(next.Roster); err != nil {
			slog.Warn("reloaded roster rejected", "err", err)
		} else {
			for _, c := range d.RosterChanges {
				slog.Info("roster entry changed",
					"character", c.Name,
					"added", c.Added,
					"removed", c.Removed,
					"voice_changed", c.VoiceChanged,
					"gender_changed", c.GenderChanged,
				)
			}
		}
	}
	if d.SubstitutionsChanged || d.MinScoreChanged {
		slog.Warn("substitutions.path and matching.min_score take effect after a restart")
	}
}

// Shutdown stops accepting lines, waits for queued lines per the drain
// setting and releases the audio device. Remaining steps are skipped when ctx
// expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.shutdownOnce.Do(func() {
		a.Stop()
		slog.Info("shutting down", "pending_lines", a.queue.Len())

		if err := a.queue.Close(ctx); err != nil {
			slog.Warn("playout close", "err", err)
			shutdownErr = err
		}
		a.feed.Close()
		if err := a.providers.Audio.Close(); err != nil {
			slog.Warn("audio close", "err", err)
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// SlogLevel converts a config log level to a [slog.Level].
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
