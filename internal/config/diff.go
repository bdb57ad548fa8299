package config

import "github.com/lugia19/GPT-Speaker/internal/roster"

// ConfigDiff describes the hot-reloadable changes between two configs.
// Everything else takes effect on restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RosterChanged is true when entries were added, removed, edited or
	// reordered.
	RosterChanged bool
	RosterChanges []RosterDiff

	SubstitutionsChanged bool
	MinScoreChanged      bool
}

// RosterDiff describes what changed for one character.
type RosterDiff struct {
	Name          string
	Added         bool
	Removed       bool
	VoiceChanged  bool
	GenderChanged bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.SubstitutionsChanged = old.Substitutions.Path != new.Substitutions.Path
	d.MinScoreChanged = old.Matching.MinScore != new.Matching.MinScore

	oldEntries := indexRoster(old.Roster)
	newEntries := indexRoster(new.Roster)

	// Walk in roster order so changes are reported deterministically.
	for _, e := range old.Roster {
		name := rosterKey(e)
		ne, ok := newEntries[name]
		if !ok {
			d.RosterChanges = append(d.RosterChanges, RosterDiff{Name: name, Removed: true})
			continue
		}
		rd := RosterDiff{
			Name:          name,
			VoiceChanged:  e.VoiceID != ne.VoiceID,
			GenderChanged: e.Gender != ne.Gender,
		}
		if rd.VoiceChanged || rd.GenderChanged {
			d.RosterChanges = append(d.RosterChanges, rd)
		}
	}
	for _, e := range new.Roster {
		name := rosterKey(e)
		if _, ok := oldEntries[name]; !ok {
			d.RosterChanges = append(d.RosterChanges, RosterDiff{Name: name, Added: true})
		}
	}

	d.RosterChanged = len(d.RosterChanges) > 0 || !sameOrder(old.Roster, new.Roster)
	return d
}

func rosterKey(e roster.Entry) string {
	if e.CharacterName != "" {
		return e.CharacterName
	}
	return e.VoiceName
}

func indexRoster(entries []roster.Entry) map[string]roster.Entry {
	m := make(map[string]roster.Entry, len(entries))
	for _, e := range entries {
		m[rosterKey(e)] = e
	}
	return m
}

func sameOrder(a, b []roster.Entry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if rosterKey(a[i]) != rosterKey(b[i]) {
			return false
		}
	}
	return true
}
