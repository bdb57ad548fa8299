// Package health serves the liveness and readiness endpoints.
//
//   - /healthz reports 200 while the process can serve HTTP.
//   - /readyz reports 200 only when every registered [Checker] passes and the
//     server is not draining.
//
// Responses are JSON objects with a top-level "status" field ("ok", "fail" or
// "draining") and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lugia19/GPT-Speaker/pkg/types"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency is
// usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
	draining atomic.Bool
}

// New creates a [Handler] that evaluates the given checkers concurrently on
// each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// SetDraining marks the server as shutting down. Readyz fails from then on so
// that userscripts stop sending new dialogue.
func (h *Handler) SetDraining() {
	h.draining.Store(true)
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 when every checker passes within [checkTimeout].
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, result{Status: "draining"})
		return
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)
	for _, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
				return
			}
			checks[c.Name] = "ok"
		}()
	}
	wg.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// ErrRosterEmpty is reported by [RosterChecker] when no characters are
// configured.
var ErrRosterEmpty = errors.New("roster is empty")

// RosterChecker fails while size reports zero characters.
func RosterChecker(size func() int) Checker {
	return Checker{
		Name: "roster",
		Check: func(context.Context) error {
			if size() == 0 {
				return ErrRosterEmpty
			}
			return nil
		},
	}
}

// VoiceLister is the part of a TTS provider [ProviderChecker] probes.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}

// ProviderChecker probes a TTS provider by listing its voices.
func ProviderChecker(name string, p VoiceLister) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			_, err := p.ListVoices(ctx)
			return err
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
