// Package roster holds the user-maintained mapping of character names to
// synthetic voices.
//
// A [Snapshot] is an immutable, ordered view of the roster. The dialogue
// pipeline takes exactly one snapshot per request and never mutates it. The
// [Store] is the control-surface side: it owns the current snapshot and
// swaps it atomically when the user edits the roster.
package roster

import (
	"errors"
	"fmt"
	"strings"
)

// Gender is the coarse voice gender shown to the extractor as a
// disambiguation hint.
type Gender string

const (
	GenderFemale Gender = "female"
	GenderMale   Gender = "male"
	GenderOther  Gender = "other"
)

// IsValid reports whether g is a recognised gender.
func (g Gender) IsValid() bool {
	switch g {
	case GenderFemale, GenderMale, GenderOther:
		return true
	}
	return false
}

// ParseGender parses s case-insensitively. The empty string maps to
// [GenderOther].
func ParseGender(s string) (Gender, error) {
	if strings.TrimSpace(s) == "" {
		return GenderOther, nil
	}
	g := Gender(strings.ToLower(strings.TrimSpace(s)))
	if !g.IsValid() {
		return "", fmt.Errorf("roster: invalid gender %q; valid values: female, male, other", s)
	}
	return g, nil
}

// Entry assigns a voice to one character.
type Entry struct {
	// CharacterName is the unique, case-sensitive roster key. When empty,
	// VoiceName is used instead.
	CharacterName string `json:"character_name" yaml:"character_name"`

	// Gender is a hint for the extractor. Empty means [GenderOther].
	Gender Gender `json:"gender,omitempty" yaml:"gender"`

	// VoiceID is the TTS backend's voice identifier. Empty marks the
	// character as deliberately silent.
	VoiceID string `json:"voice_id,omitempty" yaml:"voice_id"`

	// VoiceName is the display name of the voice, used as the character name
	// when none is given.
	VoiceName string `json:"voice_name,omitempty" yaml:"voice_name"`
}

// HasVoice reports whether the entry is assigned a voice.
func (e Entry) HasVoice() bool {
	return e.VoiceID != ""
}

// normalize fills defaults and returns the entry as stored in a snapshot.
func (e Entry) normalize() (Entry, error) {
	e.CharacterName = strings.TrimSpace(e.CharacterName)
	if e.CharacterName == "" {
		e.CharacterName = strings.TrimSpace(e.VoiceName)
	}
	if e.CharacterName == "" {
		return e, errors.New("character name and voice name are both empty")
	}
	g, err := ParseGender(string(e.Gender))
	if err != nil {
		return e, err
	}
	e.Gender = g
	e.VoiceID = strings.TrimSpace(e.VoiceID)
	return e, nil
}

// Snapshot is an immutable, ordered roster. The zero value is an empty
// roster. Snapshots are safe for concurrent use.
type Snapshot struct {
	entries []Entry
	index   map[string]int
}

// NewSnapshot validates entries and returns a snapshot preserving their
// order. Character names must be unique after normalisation. All problems
// are reported together.
func NewSnapshot(entries []Entry) (*Snapshot, error) {
	s := &Snapshot{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	var errs []error
	for i, e := range entries {
		n, err := e.normalize()
		if err != nil {
			errs = append(errs, fmt.Errorf("roster[%d]: %w", i, err))
			continue
		}
		if _, dup := s.index[n.CharacterName]; dup {
			errs = append(errs, fmt.Errorf("roster[%d]: duplicate character name %q", i, n.CharacterName))
			continue
		}
		s.index[n.CharacterName] = len(s.entries)
		s.entries = append(s.entries, n)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

// MustSnapshot is like [NewSnapshot] but panics on invalid input. Intended
// for tests and static rosters.
func MustSnapshot(entries ...Entry) *Snapshot {
	s, err := NewSnapshot(entries)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of entries. A nil snapshot is empty.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Entries returns a copy of the entries in roster order.
func (s *Snapshot) Entries() []Entry {
	if s == nil {
		return nil
	}
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// At returns the i-th entry in roster order.
func (s *Snapshot) At(i int) Entry {
	return s.entries[i]
}

// Names returns the character names in roster order.
func (s *Snapshot) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.entries))
	for i, e := range s.entries {
		names[i] = e.CharacterName
	}
	return names
}

// Lookup returns the entry with exactly the given character name.
func (s *Snapshot) Lookup(name string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	i, ok := s.index[name]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// Equal reports whether s and other hold the same entries in the same order.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s.Len() != other.Len() {
		return false
	}
	for i := range s.Len() {
		if s.entries[i] != other.entries[i] {
			return false
		}
	}
	return true
}
