package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/lugia19/GPT-Speaker/pkg/provider/tts"
	"github.com/lugia19/GPT-Speaker/pkg/types"
)

// ---- URL construction ----

func TestStreamURL(t *testing.T) {
	t.Parallel()
	p, _ := New("key")
	raw := p.streamURL("voice-abc123", tts.DefaultOptions())
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	if u.Scheme != "wss" {
		t.Errorf("scheme = %q, want wss", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/text-to-speech/voice-abc123/stream-input") {
		t.Errorf("path = %q", u.Path)
	}
	q := u.Query()
	if q.Get("model_id") != "eleven_multilingual_v2" {
		t.Errorf("model_id = %q", q.Get("model_id"))
	}
	if q.Get("output_format") != "pcm_44100" {
		t.Errorf("output_format = %q", q.Get("output_format"))
	}
	if q.Get("optimize_streaming_latency") != "1" {
		t.Errorf("optimize_streaming_latency = %q", q.Get("optimize_streaming_latency"))
	}
}

func TestStreamURL_NoLatencyOptimization(t *testing.T) {
	t.Parallel()
	p, _ := New("key", WithModel("eleven_flash_v2_5"))
	raw := p.streamURL("v", tts.Options{})
	if strings.Contains(raw, "optimize_streaming_latency") {
		t.Errorf("URL %q should not carry latency optimisation", raw)
	}
	if !strings.Contains(raw, "model_id=eleven_flash_v2_5") {
		t.Errorf("URL %q should fall back to the provider model", raw)
	}
}

// ---- Voice list response parsing ----

func TestParseVoicesResponse_Success(t *testing.T) {
	t.Parallel()
	raw := []byte(`{
		"voices": [
			{"voice_id": "abc123", "name": "Rachel", "category": "premade", "labels": {"gender": "female"}},
			{"voice_id": "def456", "name": "Adam", "category": "", "labels": null}
		]
	}`)

	profiles, err := parseVoicesResponse(raw)
	if err != nil {
		t.Fatalf("parseVoicesResponse: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	rachel := profiles[0]
	if rachel.ID != "abc123" || rachel.Name != "Rachel" || rachel.Provider != "elevenlabs" {
		t.Errorf("rachel = %+v", rachel)
	}
	if rachel.Metadata["gender"] != "female" || rachel.Metadata["category"] != "premade" {
		t.Errorf("rachel metadata = %v", rachel.Metadata)
	}
	if _, ok := profiles[1].Metadata["category"]; ok {
		t.Error("expected no 'category' key in metadata when category is empty")
	}
}

func TestParseVoicesResponse_InvalidJSON(t *testing.T) {
	t.Parallel()
	if _, err := parseVoicesResponse([]byte(`{invalid`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

// ---- REST voice lookup ----

func newRESTServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/v1/voices":
			io.WriteString(w, `{"voices":[{"voice_id":"v1","name":"Rachel"}]}`)
		case "/v1/voices/v1":
			io.WriteString(w, `{"voice_id":"v1","name":"Rachel","labels":{"gender":"female"}}`)
		case "/v1/voices/gone":
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"detail":{"status":"voice_not_found"}}`)
		case "/v1/voices/boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchVoice(t *testing.T) {
	t.Parallel()
	srv := newRESTServer(t)
	p, _ := New("key", WithBaseURL(srv.URL))

	v, err := p.FetchVoice(context.Background(), "v1")
	if err != nil {
		t.Fatalf("FetchVoice: %v", err)
	}
	if v.Name != "Rachel" || v.Metadata["gender"] != "female" {
		t.Errorf("voice = %+v", v)
	}

	for _, id := range []string{"gone", "missing", ""} {
		if _, err := p.FetchVoice(context.Background(), id); !errors.Is(err, tts.ErrVoiceNotFound) {
			t.Errorf("FetchVoice(%q) err = %v, want ErrVoiceNotFound", id, err)
		}
	}

	_, err = p.FetchVoice(context.Background(), "boom")
	if err == nil || errors.Is(err, tts.ErrVoiceNotFound) {
		t.Errorf("FetchVoice(boom) err = %v, want a non-not-found error", err)
	}
}

func TestListVoices(t *testing.T) {
	t.Parallel()
	srv := newRESTServer(t)
	p, _ := New("key", WithBaseURL(srv.URL))
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "v1" {
		t.Errorf("voices = %+v", voices)
	}

	bad, _ := New("wrong", WithBaseURL(srv.URL))
	if _, err := bad.ListVoices(context.Background()); err == nil {
		t.Error("expected error for rejected API key")
	}
}

// ---- WebSocket synthesis ----

// newStreamServer accepts one stream-input session, records the text messages
// it receives and answers with the given server messages.
func newStreamServer(t *testing.T, replies []string, got chan<- []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()
		var texts []string
		for i := 0; i < 3; i++ {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m struct {
				Text string `json:"text"`
			}
			_ = json.Unmarshal(msg, &m)
			texts = append(texts, m.Text)
		}
		got <- texts
		for _, reply := range replies {
			if err := conn.Write(ctx, websocket.MessageText, []byte(reply)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSynthesizeStream(t *testing.T) {
	t.Parallel()
	audio := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})
	got := make(chan []string, 1)
	srv := newStreamServer(t, []string{
		fmt.Sprintf(`{"audio":%q}`, audio),
		fmt.Sprintf(`{"audio":%q,"isFinal":false}`, audio),
		`{"isFinal":true}`,
	}, got)

	p, _ := New("key", WithWebSocketURL(wsURL(srv)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := p.SynthesizeStream(ctx, "Hello there.", types.VoiceProfile{ID: "v1"}, tts.DefaultOptions())
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var pcm []byte
	for c := range ch {
		if c.Err != nil {
			t.Fatalf("stream error: %v", c.Err)
		}
		pcm = append(pcm, c.PCM...)
	}
	if len(pcm) != 8 {
		t.Errorf("pcm length = %d, want 8", len(pcm))
	}

	texts := <-got
	if texts[0] != " " || texts[1] != "Hello there. " || texts[2] != "" {
		t.Errorf("sent texts = %q, want BOI, line, flush", texts)
	}
}

func TestSynthesizeStream_ServerError(t *testing.T) {
	t.Parallel()
	got := make(chan []string, 1)
	srv := newStreamServer(t, []string{`{"error":"quota_exceeded","message":"out of characters"}`}, got)

	p, _ := New("key", WithWebSocketURL(wsURL(srv)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := p.SynthesizeStream(ctx, "Hi.", types.VoiceProfile{ID: "v1"}, tts.Options{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var streamErr error
	for c := range ch {
		if c.Err != nil {
			streamErr = c.Err
		}
	}
	if streamErr == nil || !strings.Contains(streamErr.Error(), "quota_exceeded") {
		t.Errorf("stream error = %v, want quota_exceeded", streamErr)
	}
}

func TestSynthesizeStream_Validation(t *testing.T) {
	t.Parallel()
	p, _ := New("key")
	if _, err := p.SynthesizeStream(context.Background(), "Hi", types.VoiceProfile{}, tts.Options{}); err == nil {
		t.Error("expected error for empty voice ID")
	}
	if _, err := p.SynthesizeStream(context.Background(), "  ", types.VoiceProfile{ID: "v"}, tts.Options{}); err == nil {
		t.Error("expected error for blank text")
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != tts.DefaultModel {
		t.Errorf("expected model %q, got %q", tts.DefaultModel, p.model)
	}
	if p.SampleRate() != 44100 {
		t.Errorf("SampleRate = %d, want 44100", p.SampleRate())
	}
}

func TestSampleRate_NonPCM(t *testing.T) {
	t.Parallel()
	p, _ := New("key", WithOutputFormat("mp3_44100_128"))
	if p.SampleRate() != 0 {
		t.Errorf("SampleRate = %d, want 0 for mp3", p.SampleRate())
	}
	p, _ = New("key", WithOutputFormat("pcm_24000"))
	if p.SampleRate() != 24000 {
		t.Errorf("SampleRate = %d, want 24000", p.SampleRate())
	}
}
