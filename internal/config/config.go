// Package config provides the configuration schema, loader, provider registry
// and hot-reload watcher for GPT Speaker.
package config

import (
	"time"

	"github.com/lugia19/GPT-Speaker/internal/roster"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr          = "127.0.0.1:57319"
	DefaultShutdownTimeout     = 15 * time.Second
	DefaultCooldown            = 500 * time.Millisecond
	DefaultSubstitutionsPath   = "text_changes.json"
	DefaultModel               = "eleven_multilingual_v2"
	DefaultLatencyOptimization = 1
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Playback      PlaybackConfig      `yaml:"playback"`
	Generation    GenerationConfig    `yaml:"generation"`
	Matching      MatchingConfig      `yaml:"matching"`
	Substitutions SubstitutionsConfig `yaml:"substitutions"`

	// Roster is the initial character to voice mapping. Edits to this section
	// are applied while running.
	Roster []roster.Entry `yaml:"roster"`
}

// ServerConfig holds network and logging settings for the control surface.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on.
	// Default: 127.0.0.1:57319, where the browser userscripts expect it.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists origins allowed to call the API from a browser.
	// Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ShutdownTimeout bounds graceful shutdown, including draining the
	// playback queue. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each entry selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	// LLM extracts dialogue from narrative text.
	LLM ProviderEntry `yaml:"llm"`

	// TTS looks voices up and synthesises speech.
	TTS ProviderEntry `yaml:"tts"`

	// Audio plays synthesised speech. Default: "speaker".
	Audio ProviderEntry `yaml:"audio"`

	// LLMFallbacks are tried in order when LLM fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// TTSFallbacks are tried in order when TTS fails.
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any. A value
	// of the form "$VAR" or "${VAR}" is read from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// PlaybackConfig tunes the synthesis queue.
type PlaybackConfig struct {
	// Cooldown is the pause between consecutive clips. Default: 500ms.
	Cooldown *time.Duration `yaml:"cooldown"`

	// DrainOnClose plays queued lines on shutdown instead of dropping them.
	// Default: true.
	DrainOnClose *bool `yaml:"drain_on_close"`

	// QueueSize limits pending lines. Zero means unlimited.
	QueueSize int `yaml:"queue_size"`

	// JobTimeout bounds synthesis and playback of one line. Zero means no
	// bound.
	JobTimeout time.Duration `yaml:"job_timeout"`
}

// GenerationConfig holds the synthesis options attached to every line.
type GenerationConfig struct {
	// Model is the TTS generation model. Default: eleven_multilingual_v2.
	Model string `yaml:"model"`

	// LatencyOptimization trades quality for latency, 0 to 4. Default: 1.
	LatencyOptimization *int `yaml:"latency_optimization"`
}

// MatchingConfig tunes speaker name resolution.
type MatchingConfig struct {
	// MinScore is the lowest fuzzy score, 0 to 1, accepted as a match. The
	// default of 0 always accepts the best match.
	MinScore float64 `yaml:"min_score"`

	// FetchTimeout bounds each voice lookup. Zero means no extra bound.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// SubstitutionsConfig locates the text substitution table.
type SubstitutionsConfig struct {
	// Path is the JSON substitution file. Default: text_changes.json.
	Path string `yaml:"path"`
}
