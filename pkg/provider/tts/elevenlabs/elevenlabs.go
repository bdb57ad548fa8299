// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API for synthesis and the REST API for voice
// lookup. It implements the tts.Provider interface.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/lugia19/GPT-Speaker/pkg/provider/tts"
	"github.com/lugia19/GPT-Speaker/pkg/types"
)

const (
	defaultAPIBase   = "https://api.elevenlabs.io"
	defaultWSBase    = "wss://api.elevenlabs.io"
	defaultOutputFmt = "pcm_44100"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model used when a request names none.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_44100", "pcm_24000").
// Only raw PCM formats are playable by the local speaker.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithBaseURL overrides the REST API base URL (voice lookup).
func WithBaseURL(base string) Option {
	return func(p *Provider) {
		p.apiBase = strings.TrimRight(base, "/")
	}
}

// WithWebSocketURL overrides the streaming API base URL (synthesis).
func WithWebSocketURL(base string) Option {
	return func(p *Provider) {
		p.wsBase = strings.TrimRight(base, "/")
	}
}

// WithHTTPClient replaces the HTTP client used for REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithVoiceSettings sets the stability and similarity boost sent with every
// synthesis request.
func WithVoiceSettings(stability, similarityBoost float64) Option {
	return func(p *Provider) {
		p.settings = voiceSettings{Stability: stability, SimilarityBoost: similarityBoost}
	}
}

// Provider implements tts.Provider backed by the ElevenLabs API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	apiBase      string
	wsBase       string
	settings     voiceSettings
	httpClient   *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        tts.DefaultModel,
		outputFormat: defaultOutputFmt,
		apiBase:      defaultAPIBase,
		wsBase:       defaultWSBase,
		settings:     voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// SampleRate returns the sample rate implied by the configured output format,
// or 0 when the format is not raw PCM.
func (p *Provider) SampleRate() int {
	rate, ok := strings.CutPrefix(p.outputFormat, "pcm_")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(rate)
	if err != nil {
		return 0
	}
	return n
}

// ---- WebSocket message types ----

type textMessage struct {
	Text                 string         `json:"text"`
	VoiceSettings        *voiceSettings `json:"voice_settings,omitempty"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// boiMessage is the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// SynthesizeStream opens a WebSocket to ElevenLabs, sends text as a single
// generation and returns a channel emitting raw PCM chunks. A server-side
// error or an abnormal close is delivered as a terminal chunk with Err set.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, voice types.VoiceProfile, opts tts.Options) (<-chan tts.Chunk, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice.ID, opts), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	conn.SetReadLimit(1 << 22)

	// ElevenLabs requires a non-empty first text value; the trailing space on
	// the payload lets it treat the line as complete.
	msgs := []any{
		boiMessage{Text: " ", VoiceSettings: &p.settings, XiAPIKey: p.apiKey},
		textMessage{Text: text + " ", TryTriggerGeneration: true},
		textMessage{Text: ""},
	}
	for _, m := range msgs {
		b, _ := json.Marshal(m)
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			conn.Close(websocket.StatusInternalError, "write failed")
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	audioCh := make(chan tts.Chunk, 64)
	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		send := func(c tts.Chunk) bool {
			select {
			case audioCh <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure || ctx.Err() != nil {
					return
				}
				send(tts.Chunk{Err: fmt.Errorf("elevenlabs: read: %w", err)})
				return
			}
			var resp audioResponse
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}
			if resp.Error != "" {
				send(tts.Chunk{Err: fmt.Errorf("elevenlabs: %s: %s", resp.Error, resp.Message)})
				return
			}
			if resp.Audio != "" {
				pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
				if err != nil {
					send(tts.Chunk{Err: fmt.Errorf("elevenlabs: decode audio: %w", err)})
					return
				}
				if !send(tts.Chunk{PCM: pcm}) {
					return
				}
			}
			if resp.IsFinal {
				return
			}
		}
	}()

	return audioCh, nil
}

// streamURL builds the stream-input WebSocket URL for voiceID.
func (p *Provider) streamURL(voiceID string, opts tts.Options) string {
	model := opts.Model
	if model == "" {
		model = p.model
	}
	q := url.Values{}
	q.Set("model_id", model)
	q.Set("output_format", p.outputFormat)
	if opts.LatencyOptimization > 0 {
		q.Set("optimize_streaming_latency", strconv.Itoa(opts.LatencyOptimization))
	}
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", p.wsBase, url.PathEscape(voiceID), q.Encode())
}

// ---- Voice lookup ----

type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

func (v elevenLabsVoice) profile() types.VoiceProfile {
	meta := make(map[string]string, len(v.Labels)+1)
	for k, val := range v.Labels {
		meta[k] = val
	}
	if v.Category != "" {
		meta["category"] = v.Category
	}
	return types.VoiceProfile{
		ID:       v.VoiceID,
		Name:     v.Name,
		Provider: "elevenlabs",
		Metadata: meta,
	}
}

// FetchVoice retrieves a single voice via GET /v1/voices/{id}.
func (p *Provider) FetchVoice(ctx context.Context, id string) (types.VoiceProfile, error) {
	if id == "" {
		return types.VoiceProfile{}, fmt.Errorf("elevenlabs: empty voice id: %w", tts.ErrVoiceNotFound)
	}
	body, status, err := p.get(ctx, "/v1/voices/"+url.PathEscape(id))
	if err != nil {
		return types.VoiceProfile{}, fmt.Errorf("elevenlabs: fetch voice %q: %w", id, err)
	}
	switch {
	case status == http.StatusNotFound,
		status == http.StatusBadRequest && bytes.Contains(body, []byte("voice_not_found")):
		return types.VoiceProfile{}, fmt.Errorf("elevenlabs: fetch voice %q: %w", id, tts.ErrVoiceNotFound)
	case status != http.StatusOK:
		return types.VoiceProfile{}, fmt.Errorf("elevenlabs: fetch voice %q: unexpected status %d", id, status)
	}

	var v elevenLabsVoice
	if err := json.Unmarshal(body, &v); err != nil {
		return types.VoiceProfile{}, fmt.Errorf("elevenlabs: fetch voice %q decode: %w", id, err)
	}
	return v.profile(), nil
}

// ListVoices returns all voices available from ElevenLabs for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	body, status, err := p.get(ctx, "/v1/voices")
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", status)
	}
	profiles, err := parseVoicesResponse(body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return profiles, nil
}

func (p *Provider) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+path, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// parseVoicesResponse parses a raw /v1/voices response into VoiceProfile values.
func parseVoicesResponse(data []byte) ([]types.VoiceProfile, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, err
	}
	profiles := make([]types.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		profiles = append(profiles, v.profile())
	}
	return profiles, nil
}

var _ tts.Provider = (*Provider)(nil)
