// Package substitute applies an ordered table of literal text replacements to
// dialogue lines before they are synthesised.
//
// The table lives in a JSON object file (text_changes.json by default). Keys
// are applied in the order they appear in the file; each key is replaced
// everywhere in one non-recursive pass before the next key is considered.
package substitute

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultPath is the substitution file used when none is configured.
const DefaultPath = "text_changes.json"

// Rule replaces every occurrence of From with To.
type Rule struct {
	From string
	To   string
}

// Rules is an immutable, ordered substitution table. The zero value applies
// no substitutions. Rules is safe for concurrent use.
type Rules struct {
	rules []Rule
}

// New returns a table applying rules in the given order. Rules with an empty
// From are dropped.
func New(rules ...Rule) *Rules {
	kept := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.From == "" {
			continue
		}
		kept = append(kept, r)
	}
	return &Rules{rules: kept}
}

// Load reads the substitution table at path. A missing file is created
// containing an empty JSON object. A file that cannot be read or created
// yields an empty table and a warning; only malformed content is an error.
func Load(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := createEmpty(path); err != nil {
			slog.Warn("substitute: file unavailable, using no substitutions", "path", path, "err", err)
		}
		return New(), nil
	}
	if err != nil {
		slog.Warn("substitute: file unavailable, using no substitutions", "path", path, "err", err)
		return New(), nil
	}

	r, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("substitute: %q: %w", path, err)
	}
	return r, nil
}

// Parse decodes a JSON object of string to string, keeping key order.
func Parse(r io.Reader) (*Rules, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return New(), nil
	}
	om := orderedmap.New[string, string]()
	if err := json.Unmarshal(data, om); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	rules := make([]Rule, 0, om.Len())
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		rules = append(rules, Rule{From: pair.Key, To: pair.Value})
	}
	return New(rules...), nil
}

func createEmpty(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("substitute: create dir for %q: %w", path, err)
		}
	}
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		return fmt.Errorf("substitute: create %q: %w", path, err)
	}
	return nil
}

// Apply returns text with every rule applied in order.
func (r *Rules) Apply(text string) string {
	if r == nil {
		return text
	}
	for _, rule := range r.rules {
		text = strings.ReplaceAll(text, rule.From, rule.To)
	}
	return text
}

// Len returns the number of rules.
func (r *Rules) Len() int {
	if r == nil {
		return 0
	}
	return len(r.rules)
}

// Rules returns a copy of the table in application order.
func (r *Rules) Rules() []Rule {
	if r == nil {
		return nil
	}
	return append([]Rule(nil), r.rules...)
}
