package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lugia19/GPT-Speaker/internal/roster"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":   {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":   {"elevenlabs", "coqui"},
	"audio": {"speaker", "discard"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields with their defaults and resolves
// environment references in API keys.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Providers.Audio.Name == "" {
		cfg.Providers.Audio.Name = "speaker"
	}
	if cfg.Playback.Cooldown == nil {
		d := DefaultCooldown
		cfg.Playback.Cooldown = &d
	}
	if cfg.Playback.DrainOnClose == nil {
		drain := true
		cfg.Playback.DrainOnClose = &drain
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = DefaultModel
	}
	if cfg.Generation.LatencyOptimization == nil {
		l := DefaultLatencyOptimization
		cfg.Generation.LatencyOptimization = &l
	}
	if cfg.Substitutions.Path == "" {
		cfg.Substitutions.Path = DefaultSubstitutionsPath
	}

	expandKey(&cfg.Providers.LLM)
	expandKey(&cfg.Providers.TTS)
	for i := range cfg.Providers.LLMFallbacks {
		expandKey(&cfg.Providers.LLMFallbacks[i])
	}
	for i := range cfg.Providers.TTSFallbacks {
		expandKey(&cfg.Providers.TTSFallbacks[i])
	}
}

func expandKey(e *ProviderEntry) {
	if strings.HasPrefix(e.APIKey, "$") {
		e.APIKey = os.ExpandEnv(e.APIKey)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required; dialogue cannot be extracted without an LLM provider"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required; lines cannot be spoken without a TTS provider"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("audio", cfg.Providers.Audio.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	for i, fb := range cfg.Providers.TTSFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", fb.Name)
	}

	// Playback
	if c := cfg.Playback.Cooldown; c != nil && *c < 0 {
		errs = append(errs, fmt.Errorf("playback.cooldown %v must not be negative", *c))
	}
	if cfg.Playback.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("playback.queue_size %d must not be negative", cfg.Playback.QueueSize))
	}
	if cfg.Playback.JobTimeout < 0 {
		errs = append(errs, fmt.Errorf("playback.job_timeout %v must not be negative", cfg.Playback.JobTimeout))
	}

	// Generation
	if l := cfg.Generation.LatencyOptimization; l != nil && (*l < 0 || *l > 4) {
		errs = append(errs, fmt.Errorf("generation.latency_optimization %d is out of range [0, 4]", *l))
	}

	// Matching
	if cfg.Matching.MinScore < 0 || cfg.Matching.MinScore > 1 {
		errs = append(errs, fmt.Errorf("matching.min_score %.2f is out of range [0, 1]", cfg.Matching.MinScore))
	}
	if cfg.Matching.FetchTimeout < 0 {
		errs = append(errs, fmt.Errorf("matching.fetch_timeout %v must not be negative", cfg.Matching.FetchTimeout))
	}

	// Roster
	if _, err := roster.NewSnapshot(cfg.Roster); err != nil {
		errs = append(errs, err)
	}
	if len(cfg.Roster) == 0 {
		slog.Warn("roster is empty; requests will be skipped until voices are assigned")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
