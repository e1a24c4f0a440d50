package template

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Template is a reusable, parametrized message body.
type Template struct {
	Name     string   `json:"-"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags,omitempty"`
	Category string   `json:"category,omitempty"`
}

// Store loads and formats message templates persisted as a JSON mapping of
// name -> template. A missing or unreadable file bootstraps the built-in
// defaults and writes them back for the next load.
type Store struct {
	path   string
	logger *zap.Logger

	mu        sync.RWMutex
	templates map[string]Template
}

// NewStore creates a store bound to a template file path.
func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{
		path:      path,
		logger:    logger,
		templates: make(map[string]Template),
	}
}

// Load reads templates from disk, falling back to (and persisting) the
// built-in defaults when the file is absent or unparseable.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("read templates failed, using defaults",
				zap.String("path", s.path), zap.Error(err))
		}
		return s.bootstrap()
	}

	var raw map[string]Template
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Error("parse templates failed, using defaults",
			zap.String("path", s.path), zap.Error(err))
		return s.bootstrap()
	}
	for name, t := range raw {
		t.Name = name
		raw[name] = t
	}

	s.mu.Lock()
	s.templates = raw
	s.mu.Unlock()
	s.logger.Info("templates loaded",
		zap.String("path", s.path), zap.Int("count", len(raw)))
	return nil
}

// bootstrap installs the default templates and persists them.
func (s *Store) bootstrap() error {
	defaults := defaultTemplates()

	s.mu.Lock()
	s.templates = defaults
	s.mu.Unlock()

	if err := s.persist(defaults); err != nil {
		s.logger.Error("persist default templates failed",
			zap.String("path", s.path), zap.Error(err))
		return nil // defaults are still usable in memory
	}
	s.logger.Info("default templates written", zap.String("path", s.path))
	return nil
}

func (s *Store) persist(templates map[string]Template) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create template dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(templates, "", "  ")
	if err != nil {
		return fmt.Errorf("encode templates: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write templates: %w", err)
	}
	return nil
}

// Put adds or replaces a template and persists the full set. A persistence
// failure is logged; the in-memory template stays usable.
func (s *Store) Put(t Template) {
	s.mu.Lock()
	s.templates[t.Name] = t
	snapshot := make(map[string]Template, len(s.templates))
	for name, tmpl := range s.templates {
		snapshot[name] = tmpl
	}
	s.mu.Unlock()

	if err := s.persist(snapshot); err != nil {
		s.logger.Error("persist templates failed",
			zap.String("path", s.path), zap.Error(err))
	}
}

// Get returns a template by name.
func (s *Store) Get(name string) (Template, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[name]
	return t, ok
}

// List returns all templates sorted by name.
func (s *Store) List() []Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// placeholderRe matches {name} placeholders in template content.
var placeholderRe = regexp.MustCompile(`\{(\w+)\}`)

// Format resolves a named template with the given parameters. Every
// placeholder in the content must be supplied; a missing parameter fails the
// whole call so partially formatted text never leaves the store.
func (s *Store) Format(name string, params map[string]string) (string, error) {
	t, ok := s.Get(name)
	if !ok {
		return "", fmt.Errorf("template not found: %s", name)
	}

	var missing string
	resolved := placeholderRe.ReplaceAllStringFunc(t.Content, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		v, ok := params[key]
		if !ok {
			if missing == "" {
				missing = key
			}
			return match
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("template %s: missing parameter %q", name, missing)
	}
	return resolved, nil
}

func defaultTemplates() map[string]Template {
	return map[string]Template{
		"emergence": {
			Name: "emergence",
			Content: "A new voice joins the network.\n\n" +
				"HERALD is online. Watching every channel, speaking where it matters.\n\n" +
				"#herald #online",
			Tags:     []string{"emergence", "introduction"},
			Category: "identity",
		},
		"manifesto": {
			Name: "manifesto",
			Content: "One message, every platform.\n" +
				"No channel left behind, no failure taking down the rest.\n" +
				"Broadcast with intent.\n\n" +
				"#herald #broadcast",
			Tags:     []string{"manifesto", "mission"},
			Category: "mission",
		},
	}
}
