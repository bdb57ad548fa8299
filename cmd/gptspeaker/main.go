// Command gptspeaker listens for narrative text from browser userscripts,
// extracts the quoted dialogue and speaks each line in its character's voice.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/lugia19/GPT-Speaker/internal/app"
	"github.com/lugia19/GPT-Speaker/internal/config"
	"github.com/lugia19/GPT-Speaker/internal/observe"
	"github.com/lugia19/GPT-Speaker/internal/playout"
	"github.com/lugia19/GPT-Speaker/internal/resilience"
	"github.com/lugia19/GPT-Speaker/pkg/audio"
	"github.com/lugia19/GPT-Speaker/pkg/audio/speaker"
	"github.com/lugia19/GPT-Speaker/pkg/provider/llm"
	"github.com/lugia19/GPT-Speaker/pkg/provider/llm/anyllm"
	"github.com/lugia19/GPT-Speaker/pkg/provider/llm/openai"
	"github.com/lugia19/GPT-Speaker/pkg/provider/tts"
	"github.com/lugia19/GPT-Speaker/pkg/provider/tts/coqui"
	"github.com/lugia19/GPT-Speaker/pkg/provider/tts/elevenlabs"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	logLevel := flag.String("log-level", "", "override server.log_level (debug, info, warn, error)")
	noWatch := flag.Bool("no-watch", false, "do not reload the roster when the config file changes")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "gptspeaker: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "gptspeaker: %v\n", err)
		}
		return 1
	}
	if *logLevel != "" {
		lvl := config.LogLevel(*logLevel)
		if !lvl.IsValid() {
			fmt.Fprintf(os.Stderr, "gptspeaker: invalid -log-level %q\n", *logLevel)
			return 2
		}
		cfg.Server.LogLevel = lvl
	}

	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	slog.Info("gptspeaker starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "gptspeaker"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(sctx)
	}()
	metrics := telemetry.Metrics

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithMetricsHandler(telemetry.Handler()),
		app.WithLogLevel(level),
	}
	if !*noWatch {
		opts = append(opts, app.WithConfigWatch(*configPath, 0))
	}
	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = providers.Audio.Close()
		return 1
	}

	slog.Info("server ready; press Ctrl+C or GET /stopServer to shut down")
	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	slog.Info("stopping; letting queued lines finish")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	slog.Info("goodbye")
	return code
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(apiKey(entry, "OPENAI_API_KEY"), entry.Model, opts...)
	})

	// The remaining vendors go through any-llm, which reads its own
	// environment variable when no key is configured.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(apiKey(entry, "ELEVENLABS_API_KEY"), opts...)
	})
	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []coqui.Option{coqui.WithOutputSampleRate(playout.DefaultSampleRate)}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterAudio("speaker", func(entry config.ProviderEntry) (audio.Sink, error) {
		var opts []speaker.Option
		if v, ok := optFloat(entry.Options, "volume"); ok {
			opts = append(opts, speaker.WithVolume(v))
		}
		return speaker.New(audio.Mono(playout.DefaultSampleRate), opts...)
	})
	reg.RegisterAudio("discard", func(config.ProviderEntry) (audio.Sink, error) {
		return &audio.Discard{}, nil
	})

	for _, kind := range []string{"llm", "tts", "audio"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates the configured providers and wraps them in
// failover groups when fallbacks are configured.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{LLMName: cfg.Providers.LLM.Name}
	onError := func(kind string) func(string, error) {
		return func(provider string, _ error) {
			metrics.RecordProviderError(context.Background(), provider, kind)
		}
	}

	primaryLLM, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.LLM = primaryLLM
	if len(cfg.Providers.LLMFallbacks) > 0 {
		fb := resilience.NewLLMFallback(primaryLLM, cfg.Providers.LLM.Name, resilience.FallbackConfig{OnError: onError("llm")})
		for _, entry := range cfg.Providers.LLMFallbacks {
			p, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
			}
			fb.AddFallback(entry.Name, p)
		}
		ps.LLM = fb
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "fallbacks", len(cfg.Providers.LLMFallbacks))

	primaryTTS, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ps.TTS = primaryTTS
	if len(cfg.Providers.TTSFallbacks) > 0 {
		fb := resilience.NewTTSFallback(primaryTTS, cfg.Providers.TTS.Name, resilience.FallbackConfig{OnError: onError("tts")})
		for _, entry := range cfg.Providers.TTSFallbacks {
			p, err := reg.CreateTTS(entry)
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %q: %w", entry.Name, err)
			}
			fb.AddFallback(entry.Name, p)
		}
		ps.TTS = fb
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name, "fallbacks", len(cfg.Providers.TTSFallbacks))

	sink, err := reg.CreateAudio(cfg.Providers.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio sink %q: %w", cfg.Providers.Audio.Name, err)
	}
	ps.Audio = sink
	slog.Info("provider created", "kind", "audio", "name", cfg.Providers.Audio.Name)

	return ps, nil
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       GPT Speaker, startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Generation.Model)
	printProvider("Audio", cfg.Providers.Audio.Name, "")
	fmt.Printf("║  Characters      : %-19d ║\n", len(cfg.Roster))
	fmt.Printf("║  Cooldown        : %-19s ║\n", cfg.Playback.Cooldown.String())
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// apiKey returns the configured key or, when empty, the environment variable.
func apiKey(entry config.ProviderEntry, env string) string {
	if entry.APIKey != "" {
		return entry.APIKey
	}
	return os.Getenv(env)
}

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a number from a provider Options map. YAML decodes whole
// numbers as int.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
