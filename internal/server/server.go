// Package server exposes the dialogue pipeline over HTTP.
//
// Browser userscripts POST narrative text to /generate_extract_audio. The
// remaining routes inspect and adjust the running pipeline: the roster, the
// voice cache, the backend's voice list and the transcript feed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/lugia19/GPT-Speaker/internal/dialog"
	"github.com/lugia19/GPT-Speaker/internal/health"
	"github.com/lugia19/GPT-Speaker/internal/observe"
	"github.com/lugia19/GPT-Speaker/internal/roster"
	"github.com/lugia19/GPT-Speaker/internal/transcript"
	"github.com/lugia19/GPT-Speaker/pkg/types"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Response messages understood by the userscripts.
const (
	msgTestPage      = "GPT_Speaker (v3) test page"
	msgInvalid       = "Invalid request format."
	msgNoVoices      = "Audio generation not run, no voices."
	msgNoDialog      = "Audio generation not run, no dialog extracted."
	msgSuccess       = "Audio generation successful."
	msgShuttingDown  = "Server is shutting down..."
	msgCacheCleared  = "Voice cache cleared."
	msgNoTranscript  = "No transcript yet."
	msgNotConfigured = "Not configured."
)

// Dialog handles one block of narrative text.
type Dialog interface {
	Handle(ctx context.Context, rawText string, snap *roster.Snapshot) (dialog.Result, error)
}

// Roster holds the current roster snapshot.
type Roster interface {
	Snapshot() *roster.Snapshot
	Replace(entries []roster.Entry) (*roster.Snapshot, error)
}

// CacheResetter forgets resolved voices.
type CacheResetter interface {
	Reset()
}

// VoiceLister lists the voices a TTS backend offers.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithCache enables DELETE /cache.
func WithCache(c CacheResetter) Option {
	return func(s *Server) { s.cache = c }
}

// WithVoices enables GET /voices.
func WithVoices(v VoiceLister) Option {
	return func(s *Server) { s.voices = v }
}

// WithFeed enables GET /transcript and GET /transcript/ws.
func WithFeed(f *transcript.Feed) Option {
	return func(s *Server) { s.feed = f }
}

// WithHealth serves /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics sets the metrics used by the request middleware. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsHandler serves GET /metrics from h.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithAllowedOrigins restricts cross-origin requests to the given origins.
// An empty list allows every origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithStop sets the function GET /stopServer calls after responding.
func WithStop(stop func()) Option {
	return func(s *Server) { s.stop = stop }
}

// Server routes HTTP requests to the pipeline.
type Server struct {
	dialog         Dialog
	roster         Roster
	cache          CacheResetter
	voices         VoiceLister
	feed           *transcript.Feed
	health         *health.Handler
	metrics        *observe.Metrics
	metricsHandler http.Handler
	origins        []string
	stop           func()
}

// New creates a [Server] that sends dialogue to d using the roster held by r.
func New(d Dialog, r Roster, opts ...Option) *Server {
	s := &Server{dialog: d, roster: r}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed handler wrapped in CORS and request middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("POST /generate_extract_audio", s.handleGenerate)
	mux.HandleFunc("GET /stopServer", s.handleStop)
	mux.HandleFunc("GET /roster", s.handleGetRoster)
	mux.HandleFunc("PUT /roster", s.handlePutRoster)
	mux.HandleFunc("DELETE /cache", s.handleClearCache)
	mux.HandleFunc("GET /voices", s.handleVoices)
	mux.HandleFunc("GET /transcript", s.handleTranscript)
	mux.HandleFunc("GET /transcript/ws", s.handleTranscriptWS)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	return cors(s.origins)(observe.Middleware(s.metrics)(mux))
}

type messageResponse struct {
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Success    bool   `json:"success,omitempty"`
}

func (s *Server) handleHome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, messageResponse{Message: msgTestPage})
}

type generateRequest struct {
	Text *string `json:"text"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !isJSON(r) {
		writeJSON(w, http.StatusBadRequest, messageResponse{Error: msgInvalid})
		return
	}
	var req generateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Text == nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Error: msgInvalid})
		return
	}

	res, err := s.dialog.Handle(r.Context(), *req.Text, s.roster.Snapshot())
	switch res.Status {
	case dialog.StatusSuccess:
		writeJSON(w, http.StatusOK, messageResponse{Message: msgSuccess, Transcript: res.Transcript})
	case dialog.StatusNoVoices:
		writeJSON(w, http.StatusOK, messageResponse{Message: msgNoVoices})
	case dialog.StatusExtractionEmpty:
		writeJSON(w, http.StatusOK, messageResponse{Message: msgNoDialog})
	case dialog.StatusInvalidInput:
		writeJSON(w, http.StatusBadRequest, messageResponse{Error: msgInvalid})
	default:
		observe.Logger(r.Context()).Error("server: unexpected dialog result", "status", res.Status, "err", err)
		writeJSON(w, http.StatusInternalServerError, messageResponse{Error: http.StatusText(http.StatusInternalServerError)})
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.stop == nil {
		writeJSON(w, http.StatusNotImplemented, messageResponse{Error: msgNotConfigured})
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: msgShuttingDown})
	_ = http.NewResponseController(w).Flush()
	observe.Logger(r.Context()).Info("server: shutdown requested over HTTP")
	// Shutdown waits for this handler, so stop must not block it.
	go s.stop()
}

func (s *Server) handleGetRoster(w http.ResponseWriter, _ *http.Request) {
	entries := s.roster.Snapshot().Entries()
	if entries == nil {
		entries = []roster.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handlePutRoster(w http.ResponseWriter, r *http.Request) {
	var entries []roster.Entry
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&entries); err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Error: msgInvalid})
		return
	}
	snap, err := s.roster.Replace(entries)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, messageResponse{Error: err.Error()})
		return
	}
	observe.Logger(r.Context()).Info("server: roster replaced", "characters", snap.Len())
	writeJSON(w, http.StatusOK, snap.Entries())
}

func (s *Server) handleClearCache(w http.ResponseWriter, _ *http.Request) {
	if s.cache == nil {
		writeJSON(w, http.StatusNotImplemented, messageResponse{Error: msgNotConfigured})
		return
	}
	s.cache.Reset()
	writeJSON(w, http.StatusOK, messageResponse{Message: msgCacheCleared})
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.voices == nil {
		writeJSON(w, http.StatusNotImplemented, messageResponse{Error: msgNotConfigured})
		return
	}
	voices, err := s.voices.ListVoices(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Warn("server: list voices failed", "err", err)
		writeJSON(w, http.StatusBadGateway, messageResponse{Error: err.Error()})
		return
	}
	if voices == nil {
		voices = []types.VoiceProfile{}
	}
	writeJSON(w, http.StatusOK, voices)
}

func (s *Server) handleTranscript(w http.ResponseWriter, _ *http.Request) {
	if s.feed == nil {
		writeJSON(w, http.StatusNotImplemented, messageResponse{Error: msgNotConfigured})
		return
	}
	entry, ok := s.feed.Last()
	if !ok {
		writeJSON(w, http.StatusNotFound, messageResponse{Error: msgNoTranscript})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// isJSON reports whether the request declares a JSON body.
func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mt == "application/json" || (len(mt) > 5 && mt[len(mt)-5:] == "+json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: write response", "err", err)
	}
}

// Serve runs srv until ctx is done, then shuts it down within timeout.
func Serve(ctx context.Context, srv *http.Server, certFile, keyFile string, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if certFile != "" {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
