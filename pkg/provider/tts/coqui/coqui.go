// Package coqui provides a local Coqui TTS-backed provider that talks to either
// a standard Coqui TTS server or a Coqui XTTS v2 server over its REST API.
// It implements the tts.Provider interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis via GET /api/tts, voices from
//     GET /details.
//
//   - APIModeXTTS: the XTTS v2 API server. Synthesis via POST /tts_to_audio/,
//     voices from GET /studio_speakers.
//
// Both servers answer one WAV file per request; the provider strips the header,
// optionally resamples to the playback rate and emits the PCM in chunks.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/lugia19/GPT-Speaker/pkg/audio"
	"github.com/lugia19/GPT-Speaker/pkg/provider/tts"
	"github.com/lugia19/GPT-Speaker/pkg/types"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage        = "en"
	defaultTimeout         = 30 * time.Second
	ttsEndpoint            = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"
	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"

	// pcmChunkSize is the size of each PCM chunk emitted on the audio channel.
	pcmChunkSize = 4096
)

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	APIModeXTTS     APIMode = "xtts"
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the TTS server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithOutputSampleRate resamples synthesised mono PCM to rate. When 0
// (default), PCM is emitted at the model's native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) {
		p.outputRate = rate
	}
}

// Provider implements tts.Provider backed by a locally-running Coqui TTS server.
type Provider struct {
	serverURL  string
	language   string
	httpClient *http.Client
	apiMode    APIMode
	outputRate int
}

// New creates a Coqui Provider targeting the TTS server at serverURL
// (e.g., "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.apiMode != APIModeStandard && p.apiMode != APIModeXTTS {
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.apiMode)
	}
	return p, nil
}

// SynthesizeStream issues one synthesis request for text and emits the PCM
// in fixed-size chunks. Options are ignored; Coqui servers expose a single
// model per process.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, voice types.VoiceProfile, _ tts.Options) (<-chan tts.Chunk, error) {
	if voice.ID == "" && p.apiMode == APIModeXTTS {
		return nil, errors.New("coqui: voice.ID must not be empty (required for XTTS mode)")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("coqui: text must not be empty")
	}

	audioCh := make(chan tts.Chunk, 8)
	go func() {
		defer close(audioCh)

		var (
			pcm []byte
			err error
		)
		if p.apiMode == APIModeStandard {
			pcm, err = p.synthesizeStandard(ctx, text, voice)
		} else {
			pcm, err = p.synthesizeXTTS(ctx, text, voice)
		}
		if err != nil {
			select {
			case audioCh <- tts.Chunk{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		for len(pcm) > 0 {
			end := min(pcmChunkSize, len(pcm))
			select {
			case audioCh <- tts.Chunk{PCM: pcm[:end]}:
			case <-ctx.Done():
				return
			}
			pcm = pcm[end:]
		}
	}()
	return audioCh, nil
}

type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

func (p *Provider) synthesizeXTTS(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	data, err := json.Marshal(ttsRequest{Text: text, SpeakerWav: voice.ID, Language: p.language})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return p.fetchWAV(req, ttsEndpoint)
}

func (p *Provider) synthesizeStandard(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	params := url.Values{}
	params.Set("text", text)
	if voice.ID != "" {
		params.Set("speaker_id", voice.ID)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	return p.fetchWAV(req, apiTTSEndpoint)
}

// fetchWAV performs req, strips the WAV header and resamples if configured.
func (p *Provider) fetchWAV(req *http.Request, endpoint string) ([]byte, error) {
	req.Header.Set("Accept", "audio/wav")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, endpoint, resp.StatusCode)
	}
	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	info, err := parseWAV(wav)
	if err != nil {
		return nil, err
	}
	pcm := wav[info.DataOffset:]
	if p.outputRate > 0 && info.SampleRate != p.outputRate && info.Channels == 1 {
		pcm = audio.ResampleMono16(pcm, info.SampleRate, p.outputRate)
	}
	return pcm, nil
}

// FetchVoice looks id up in the server's voice catalogue.
func (p *Provider) FetchVoice(ctx context.Context, id string) (types.VoiceProfile, error) {
	voices, err := p.ListVoices(ctx)
	if err != nil {
		return types.VoiceProfile{}, err
	}
	for _, v := range voices {
		if v.ID == id {
			return v, nil
		}
	}
	return types.VoiceProfile{}, fmt.Errorf("coqui: voice %q: %w", id, tts.ErrVoiceNotFound)
}

// ListVoices retrieves the voice catalogue. In APIModeXTTS it maps each studio
// speaker to a profile. In APIModeStandard it returns one profile per speaker
// of a multi-speaker model, or a single profile named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	if p.apiMode == APIModeStandard {
		return p.listVoicesStandard(ctx)
	}
	return p.listVoicesXTTS(ctx)
}

func (p *Provider) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui: GET %s returned status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", endpoint, err)
	}
	return nil
}

func (p *Provider) listVoicesXTTS(ctx context.Context) ([]types.VoiceProfile, error) {
	var raw map[string]json.RawMessage
	if err := p.getJSON(ctx, studioSpeakersEndpoint, &raw); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	profiles := make([]types.VoiceProfile, 0, len(names))
	for _, name := range names {
		profiles = append(profiles, types.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{"type": "studio"},
		})
	}
	return profiles, nil
}

// detailsResponse is the body of GET /details. Speakers is nil for
// single-speaker models.
type detailsResponse struct {
	ModelName string   `json:"model_name"`
	Language  string   `json:"language"`
	Speakers  []string `json:"speakers"`
}

func (p *Provider) listVoicesStandard(ctx context.Context) ([]types.VoiceProfile, error) {
	var details detailsResponse
	if err := p.getJSON(ctx, detailsEndpoint, &details); err != nil {
		return nil, err
	}

	if len(details.Speakers) > 0 {
		speakers := append([]string(nil), details.Speakers...)
		sort.Strings(speakers)
		profiles := make([]types.VoiceProfile, 0, len(speakers))
		for _, spk := range speakers {
			profiles = append(profiles, types.VoiceProfile{
				ID:       spk,
				Name:     spk,
				Provider: "coqui",
				Metadata: map[string]string{"type": "speaker", "model_name": details.ModelName},
			})
		}
		return profiles, nil
	}

	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return []types.VoiceProfile{{
		ID:       name,
		Name:     name,
		Provider: "coqui",
		Metadata: map[string]string{"type": "single-speaker", "model_name": name},
	}}, nil
}
