package substitute

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestApply_OrderMatters(t *testing.T) {
	t.Parallel()
	r := New(Rule{From: "Mr.", To: "Mister"}, Rule{From: "Mister", To: "Sir"})
	if got := r.Apply("Mr. Smith"); got != "Sir Smith" {
		t.Errorf("Apply = %q, want %q", got, "Sir Smith")
	}

	reversed := New(Rule{From: "Mister", To: "Sir"}, Rule{From: "Mr.", To: "Mister"})
	if got := reversed.Apply("Mr. Smith"); got != "Mister Smith" {
		t.Errorf("Apply = %q, want %q", got, "Mister Smith")
	}
}

func TestApply_NonRecursive(t *testing.T) {
	t.Parallel()
	r := New(Rule{From: "a", To: "aa"})
	if got := r.Apply("banana"); got != "baanaanaa" {
		t.Errorf("Apply = %q, want %q", got, "baanaanaa")
	}
}

func TestApply_EmptyAndNil(t *testing.T) {
	t.Parallel()
	var nilRules *Rules
	if got := nilRules.Apply("hello"); got != "hello" {
		t.Errorf("nil Apply = %q", got)
	}
	r := New(Rule{From: "", To: "x"})
	if r.Len() != 0 {
		t.Errorf("empty key kept: Len = %d", r.Len())
	}
	if got := r.Apply("hello"); got != "hello" {
		t.Errorf("Apply = %q", got)
	}
}

func TestParse_KeepsFileOrder(t *testing.T) {
	t.Parallel()
	r, err := Parse(strings.NewReader(`{"zeta": "z", "alpha": "a", "": "ignored", "mid": "m"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var keys []string
	for _, rule := range r.Rules() {
		keys = append(keys, rule.From)
	}
	if !slices.Equal(keys, []string{"zeta", "alpha", "mid"}) {
		t.Errorf("keys = %v", keys)
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()
	for _, in := range []string{`[1,2]`, `{"a": 1}`, `{"a": `} {
		if _, err := Parse(strings.NewReader(in)); err == nil {
			t.Errorf("Parse(%q): expected error", in)
		}
	}
	r, err := Parse(strings.NewReader("  \n"))
	if err != nil || r.Len() != 0 {
		t.Errorf("blank input: %v, len %d", err, r.Len())
	}
}

func TestLoad_CreatesMissingFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sub", "text_changes.json")
	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("file not created: %v", err)
	}
	if string(data) != "{}" {
		t.Errorf("created file = %q, want {}", data)
	}
}

func TestLoad_ExistingFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "text_changes.json")
	if err := os.WriteFile(path, []byte(`{"Gandalf": "Gan-dalf", "lol": "laugh out loud"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := r.Apply("Gandalf says lol"); got != "Gan-dalf says laugh out loud" {
		t.Errorf("Apply = %q", got)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "text_changes.json")
	if err := os.WriteFile(path, []byte(`not json`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoad_UncreatableFileIsEmpty(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := Load(filepath.Join(blocker, "text_changes.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestLoad_UnreadableFileIsEmpty(t *testing.T) {
	t.Parallel()
	// A directory exists at the path but cannot be read as a file.
	r, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}
