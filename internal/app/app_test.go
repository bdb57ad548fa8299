package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lugia19/GPT-Speaker/internal/app"
	"github.com/lugia19/GPT-Speaker/internal/config"
	audiomock "github.com/lugia19/GPT-Speaker/pkg/audio/mock"
	"github.com/lugia19/GPT-Speaker/pkg/provider/llm"
	llmmock "github.com/lugia19/GPT-Speaker/pkg/provider/llm/mock"
	ttsmock "github.com/lugia19/GPT-Speaker/pkg/provider/tts/mock"
	"github.com/lugia19/GPT-Speaker/pkg/types"
)

const baseYAML = `
server:
  listen_addr: "127.0.0.1:0"
providers:
  llm:
    name: openai
  tts:
    name: elevenlabs
  audio:
    name: discard
playback:
  cooldown: 1ms
roster:
  - character_name: Alice
    gender: female
    voice_id: v-alice
  - character_name: Bob
    gender: male
    voice_id: v-bob
`

// testConfig loads yaml with the substitutions file placed in a temp dir.
func testConfig(t *testing.T, yaml string) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	subs := filepath.Join(dir, "text_changes.json")
	yaml += "substitutions:\n  path: " + subs + "\n"
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfg, path
}

func speak(lines string) *llm.CompletionResponse {
	return &llm.CompletionResponse{ToolCalls: []types.ToolCall{{
		Name:      "speak",
		Arguments: `{"speech_data":` + lines + `}`,
	}}}
}

func testProviders() (*app.Providers, *ttsmock.Provider, *audiomock.Sink) {
	tts := &ttsmock.Provider{
		Voices: map[string]types.VoiceProfile{
			"v-alice": {ID: "v-alice", Name: "Rachel"},
			"v-bob":   {ID: "v-bob", Name: "Adam"},
		},
		SynthesizeChunks: [][]byte{{1, 0, 2, 0}},
	}
	sink := &audiomock.Sink{}
	return &app.Providers{
		LLM: &llmmock.Provider{CompleteResponse: speak(
			`[{"character":"Alice","text":"Hello there."},{"character":"bob","text":"Hi, Alice."}]`)},
		TTS:   tts,
		Audio: sink,
	}, tts, sink
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()
	cfg, _ := testConfig(t, baseYAML)
	if _, err := app.New(context.Background(), cfg, &app.Providers{}); err == nil {
		t.Fatal("expected error for missing providers")
	}
}

func TestApp_GenerateEndToEnd(t *testing.T) {
	t.Parallel()
	cfg, _ := testConfig(t, baseYAML)
	providers, tts, sink := testProviders()

	a, err := app.New(context.Background(), cfg, providers)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := httptest.NewRequest("POST", "/generate_extract_audio",
		strings.NewReader(`{"text":"\"Hello there.\" said Alice. \"Hi, Alice.\" replied Bob."}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || body["message"] != "Audio generation successful." {
		t.Fatalf("got %d %v", rec.Code, body)
	}
	if want := "Alice: Hello there.\n\nbob: Hi, Alice."; body["transcript"] != want {
		t.Errorf("transcript = %q, want %q", body["transcript"], want)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	calls := tts.SynthesizeCalls()
	if len(calls) != 2 {
		t.Fatalf("synthesize calls = %d, want 2", len(calls))
	}
	if calls[0].Voice.ID != "v-alice" || calls[1].Voice.ID != "v-bob" {
		t.Errorf("voices = %s, %s", calls[0].Voice.ID, calls[1].Voice.ID)
	}
	if calls[0].Options.Model != "eleven_multilingual_v2" || calls[0].Options.LatencyOptimization != 1 {
		t.Errorf("options = %+v", calls[0].Options)
	}
	if n := len(sink.Clips()); n != 2 {
		t.Errorf("clips played = %d, want 2", n)
	}
	if sink.CloseCalls() != 1 {
		t.Errorf("audio close calls = %d, want 1", sink.CloseCalls())
	}
	if last, ok := a.Feed().Last(); !ok || !strings.HasPrefix(last.Text, "Alice:") {
		t.Errorf("feed last = %+v, %v", last, ok)
	}
}

func TestApp_EmptyRosterSkipsExtraction(t *testing.T) {
	t.Parallel()
	cfg, _ := testConfig(t, `
providers:
  llm:
    name: openai
  tts:
    name: elevenlabs
`)
	providers, _, _ := testProviders()
	a, err := app.New(context.Background(), cfg, providers)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	req := httptest.NewRequest("POST", "/generate_extract_audio", strings.NewReader(`{"text":"anything"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), "Audio generation not run, no voices.") {
		t.Errorf("body = %s", rec.Body.String())
	}
	if n := len(providers.LLM.(*llmmock.Provider).CompleteCalls()); n != 0 {
		t.Errorf("llm called %d times, want 0", n)
	}
}

func TestApp_RunStopsOnRequest(t *testing.T) {
	t.Parallel()
	cfg, _ := testConfig(t, baseYAML)
	providers, _, _ := testProviders()
	a, err := app.New(context.Background(), cfg, providers)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	a.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestApp_ConfigReloadReplacesRoster(t *testing.T) {
	t.Parallel()
	cfg, path := testConfig(t, baseYAML)
	providers, _, _ := testProviders()

	a, err := app.New(context.Background(), cfg, providers,
		app.WithConfigWatch(path, 20*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = a.Shutdown(context.Background())
	})

	updated := strings.Replace(mustRead(t, path), "voice_id: v-bob\n",
		"voice_id: v-bob-2\n  - character_name: Carol\n", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	_ = os.Chtimes(path, future, future)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if a.Roster().Snapshot().Len() == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	snap := a.Roster().Snapshot()
	if snap.Len() != 3 {
		t.Fatalf("roster size = %d, want 3", snap.Len())
	}
	if e, _ := snap.Lookup("Bob"); e.VoiceID != "v-bob-2" {
		t.Errorf("Bob voice = %q", e.VoiceID)
	}
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(b)
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	if app.SlogLevel(config.LogDebug).String() != "DEBUG" || app.SlogLevel("").String() != "INFO" {
		t.Error("unexpected level mapping")
	}
}

func TestApp_RosterEditKeepsResolvedVoices(t *testing.T) {
	t.Parallel()
	cfg, _ := testConfig(t, baseYAML)
	providers, tts, _ := testProviders()
	a, err := app.New(context.Background(), cfg, providers)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	generate := func() {
		t.Helper()
		req := httptest.NewRequest("POST", "/generate_extract_audio", strings.NewReader(`{"text":"hi"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
		}
	}

	generate()
	if n := len(tts.FetchCalls()); n != 2 {
		t.Fatalf("fetch calls = %d, want 2", n)
	}

	// Bob moves to another voice; Alice keeps hers.
	req := httptest.NewRequest("PUT", "/roster", strings.NewReader(
		`[{"character_name":"Alice","gender":"female","voice_id":"v-alice"},`+
			`{"character_name":"Bob","gender":"male","voice_id":"v-bob2"}]`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT /roster status = %d: %s", rec.Code, rec.Body.String())
	}

	generate()
	fetches := tts.FetchCalls()
	if len(fetches) != 3 || fetches[2] != "v-bob2" {
		t.Errorf("fetch calls = %v, want only v-bob2 refetched", fetches)
	}
}
