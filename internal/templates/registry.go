package templates

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Registry maintains an in-memory catalogue of prompt templates loaded from
// disk. Templates are immutable once registered; Render never mutates them.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]*Template)}
}

// LoadDirectory loads every YAML template under root. Later files win on
// duplicate names.
func (r *Registry) LoadDirectory(root string) error {
	var failures []string
	walkFn := func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", path, walkErr))
			return nil
		}
		if d.IsDir() || !isYAML(path) {
			return nil
		}
		tpl, err := LoadFile(path)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", path, err))
			return nil
		}
		r.Register(tpl)
		return nil
	}

	if err := filepath.WalkDir(root, walkFn); err != nil {
		return fmt.Errorf("walk template directory %s: %w", root, err)
	}
	if len(failures) > 0 {
		return fmt.Errorf("template load failures: %s", strings.Join(failures, "; "))
	}
	return nil
}

// Register adds or replaces a template.
func (r *Registry) Register(tpl *Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[tpl.Name] = tpl
}

// Get returns the template with the supplied name.
func (r *Registry) Get(name string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.templates[name]
	return tpl, ok
}

// Names lists registered template names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render fetches a template by name and fills its {slot} markers. Slots
// absent from the map are left in place so a missing value is visible in the
// rendered output rather than silently dropped.
func (r *Registry) Render(name string, slots Slots) (system, user string, err error) {
	tpl, ok := r.Get(name)
	if !ok {
		return "", "", fmt.Errorf("unknown template %q", name)
	}
	return tpl.System, fill(tpl.User, slots), nil
}

func fill(text string, slots Slots) string {
	if len(slots) == 0 {
		return text
	}
	pairs := make([]string, 0, len(slots)*2)
	for k, v := range slots {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
