package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/lugia19/GPT-Speaker/pkg/audio"
	"github.com/lugia19/GPT-Speaker/pkg/provider/llm"
	"github.com/lugia19/GPT-Speaker/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// LLMFactory builds an LLM provider from its config entry.
type LLMFactory func(ProviderEntry) (llm.Provider, error)

// TTSFactory builds a TTS provider from its config entry.
type TTSFactory func(ProviderEntry) (tts.Provider, error)

// AudioFactory builds an audio sink from its config entry.
type AudioFactory func(ProviderEntry) (audio.Sink, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	llm   map[string]LLMFactory
	tts   map[string]TTSFactory
	audio map[string]AudioFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:   make(map[string]LLMFactory),
		tts:   make(map[string]TTSFactory),
		audio: make(map[string]AudioFactory),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterAudio registers an audio sink factory under name.
func (r *Registry) RegisterAudio(name string, factory AudioFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAudio instantiates an audio sink using the factory registered under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Sink, error) {
	r.mu.RLock()
	factory, ok := r.audio[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// Names returns the sorted provider names registered for kind ("llm", "tts"
// or "audio").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "llm":
		for n := range r.llm {
			names = append(names, n)
		}
	case "tts":
		for n := range r.tts {
			names = append(names, n)
		}
	case "audio":
		for n := range r.audio {
			names = append(names, n)
		}
	}
	slices.Sort(names)
	return names
}
