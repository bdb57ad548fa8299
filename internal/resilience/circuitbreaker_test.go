package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lugia19/GPT-Speaker/pkg/provider/tts"
)

var errTest = errors.New("backend unavailable")

// fakeClock is a manually advanced clock for breaker timing.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestBreaker returns a breaker driven by a fake clock.
func newTestBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(cfg)
	cb.now = clk.Now
	return cb, clk
}

func fail() error    { return errTest }
func succeed() error { return nil }

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "elevenlabs"})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d/%v/%d, want 5/30s/3", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.isFailure(context.Canceled) || !cb.isFailure(errTest) {
		t.Error("default failure predicate should be CountsAsFailure")
	}
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	t.Parallel()
	cb, clk := newTestBreaker(CircuitBreakerConfig{
		Name:         "openai",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Second,
		HalfOpenMax:  2,
	})

	steps := []struct {
		name    string
		advance time.Duration
		fn      func() error
		wantErr error
		want    State
	}{
		{name: "first failure", fn: fail, wantErr: errTest, want: StateClosed},
		{name: "success clears count", fn: succeed, want: StateClosed},
		{name: "failure again", fn: fail, wantErr: errTest, want: StateClosed},
		{name: "second consecutive failure opens", fn: fail, wantErr: errTest, want: StateOpen},
		{name: "open rejects", advance: 9 * time.Second, fn: succeed, wantErr: ErrCircuitOpen, want: StateOpen},
		{name: "first probe", advance: time.Second, fn: succeed, want: StateHalfOpen},
		{name: "second probe closes", fn: succeed, want: StateClosed},
	}
	for _, st := range steps {
		clk.Advance(st.advance)
		if err := cb.Execute(st.fn); !errors.Is(err, st.wantErr) {
			t.Fatalf("%s: err = %v, want %v", st.name, err, st.wantErr)
		}
		if got := cb.State(); got != st.want {
			t.Fatalf("%s: state = %v, want %v", st.name, got, st.want)
		}
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()
	cb, clk := newTestBreaker(CircuitBreakerConfig{Name: "tts", MaxFailures: 1, ResetTimeout: time.Minute})

	_ = cb.Execute(fail)
	clk.Advance(time.Minute)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after reset timeout", cb.State())
	}
	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", cb.State())
	}
	if err := cb.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen until the next timeout", err)
	}
}

func TestCircuitBreaker_CallerErrorsDoNotCount(t *testing.T) {
	t.Parallel()
	notFound := fmt.Errorf("elevenlabs: voice %q: %w", "v-missing", tts.ErrVoiceNotFound)

	tests := []struct {
		name      string
		isFailure func(error) bool
		err       error
		wantOpen  bool
	}{
		{name: "cancelled request", err: context.Canceled},
		{name: "expired deadline", err: fmt.Errorf("fetch: %w", context.DeadlineExceeded)},
		{name: "unknown voice with tts predicate", isFailure: TTSFailure, err: notFound},
		{name: "unknown voice with default predicate", err: notFound, wantOpen: true},
		{name: "backend error with tts predicate", isFailure: TTSFailure, err: errTest, wantOpen: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "tts", MaxFailures: 1, IsFailure: tc.isFailure})
			if err := cb.Execute(func() error { return tc.err }); !errors.Is(err, tc.err) {
				t.Fatalf("err = %v, want %v passed through", err, tc.err)
			}
			if open := cb.State() == StateOpen; open != tc.wantOpen {
				t.Errorf("open = %v, want %v", open, tc.wantOpen)
			}
		})
	}
}

func TestCircuitBreaker_CancelledProbeKeepsBudget(t *testing.T) {
	t.Parallel()
	cb, clk := newTestBreaker(CircuitBreakerConfig{
		Name:         "tts",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
	})
	_ = cb.Execute(fail)
	clk.Advance(time.Second)

	// A cancelled probe says nothing about the backend, so the single probe
	// slot is still available afterwards.
	_ = cb.Execute(func() error { return context.Canceled })
	if err := cb.Execute(succeed); err != nil {
		t.Fatalf("probe after cancellation: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()
	cb, _ := newTestBreaker(CircuitBreakerConfig{Name: "openai", MaxFailures: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	cb.Reset()
	if err := cb.Execute(succeed); err != nil {
		t.Errorf("Execute after Reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
