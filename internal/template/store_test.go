package template

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newStore(t *testing.T, path string) *Store {
	t.Helper()
	return NewStore(path, zap.NewNop())
}

func TestLoadBootstrapsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.json")
	s := newStore(t, path)

	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if _, ok := s.Get("emergence"); !ok {
		t.Error("expected emergence default")
	}
	if _, ok := s.Get("manifesto"); !ok {
		t.Error("expected manifesto default")
	}

	// Defaults must be persisted for the next load.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("defaults not persisted: %v", err)
	}
	var raw map[string]Template
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("persisted defaults unparseable: %v", err)
	}
	if _, ok := raw["emergence"]; !ok {
		t.Error("persisted file missing emergence")
	}
}

func TestLoadCorruptFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := newStore(t, path)
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := s.Get("emergence"); !ok {
		t.Error("expected defaults after corrupt file")
	}
}

func TestLoadReadsPersistedTemplates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.json")
	persisted := map[string]Template{
		"greeting": {
			Content:  "Hello {name}, welcome to {place}!",
			Tags:     []string{"social"},
			Category: "outreach",
		},
	}
	data, _ := json.Marshal(persisted)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	s := newStore(t, path)
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	tmpl, ok := s.Get("greeting")
	if !ok {
		t.Fatal("greeting not loaded")
	}
	if tmpl.Name != "greeting" {
		t.Errorf("name not backfilled, got %q", tmpl.Name)
	}
	if tmpl.Category != "outreach" {
		t.Errorf("category lost, got %q", tmpl.Category)
	}
}

func TestFormatResolvesAllPlaceholders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.json")
	s := newStore(t, path)
	s.templates = map[string]Template{
		"greeting": {Name: "greeting", Content: "Hello {name}, {name} of {place}!"},
	}

	out, err := s.Format("greeting", map[string]string{"name": "Ada", "place": "London"})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	if out != "Hello Ada, Ada of London!" {
		t.Errorf("got %q", out)
	}
	if strings.ContainsAny(out, "{}") {
		t.Errorf("unresolved placeholder remains: %q", out)
	}
}

func TestFormatMissingParameter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.json")
	s := newStore(t, path)
	s.templates = map[string]Template{
		"greeting": {Name: "greeting", Content: "Hello {name} from {place}"},
	}

	_, err := s.Format("greeting", map[string]string{"name": "Ada"})
	if err == nil {
		t.Fatal("expected error for missing parameter")
	}
	if !strings.Contains(err.Error(), "place") {
		t.Errorf("error should name the missing key: %v", err)
	}
}

func TestFormatUnknownTemplate(t *testing.T) {
	s := newStore(t, filepath.Join(t.TempDir(), "templates.json"))
	if _, err := s.Format("nope", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestListSorted(t *testing.T) {
	s := newStore(t, filepath.Join(t.TempDir(), "templates.json"))
	s.templates = map[string]Template{
		"zeta":  {Name: "zeta"},
		"alpha": {Name: "alpha"},
	}
	got := s.List()
	if len(got) != 2 || got[0].Name != "alpha" || got[1].Name != "zeta" {
		t.Fatalf("got %v", got)
	}
}
