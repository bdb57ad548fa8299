package roster

import (
	"log/slog"
	"slices"
	"sync"
)

// Store owns the current roster snapshot. Readers take a snapshot at the
// start of each request; writers replace it wholesale, so in-flight requests
// never observe a half-edited roster. Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	snap     *Snapshot
	onChange []func(*Snapshot)
}

// NewStore returns a store holding initial, or an empty roster when nil.
func NewStore(initial *Snapshot) *Store {
	if initial == nil {
		initial = &Snapshot{}
	}
	return &Store{snap: initial}
}

// Snapshot returns the current roster.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Replace validates entries and installs them as the current roster. On a
// validation error the current roster is kept. Registered change callbacks
// run synchronously after the swap when the roster actually changed.
func (s *Store) Replace(entries []Entry) (*Snapshot, error) {
	next, err := NewSnapshot(entries)
	if err != nil {
		return nil, err
	}
	s.Set(next)
	return next, nil
}

// Set installs an already-validated snapshot.
func (s *Store) Set(next *Snapshot) {
	if next == nil {
		next = &Snapshot{}
	}
	s.mu.Lock()
	changed := !s.snap.Equal(next)
	s.snap = next
	callbacks := slices.Clone(s.onChange)
	s.mu.Unlock()

	if !changed {
		return
	}
	slog.Info("roster updated", "characters", next.Len())
	for _, fn := range callbacks {
		fn(next)
	}
}

// OnChange registers fn to be called with every new roster.
func (s *Store) OnChange(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}
