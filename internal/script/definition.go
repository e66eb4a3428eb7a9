package script

import (
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/scriptroots/internal/snapshot"
)

// Definition describes one kind of script the core manages: which file
// paths it matches, the runtime those scripts target, where their
// module dependencies are searched, and whether files outside the
// workspace still get a minimal synthetic configuration.
type Definition struct {
	// Name identifies the definition in logs and notifications.
	Name string

	// Patterns are doublestar patterns matched against the
	// slash-separated path and, when relative, against the base name.
	Patterns []string

	// Runtime is the default runtime binding for matched scripts.
	Runtime snapshot.Runtime

	// SearchPaths are the module roots dependency resolution starts from.
	SearchPaths []string

	// AllowOutsideWorkspace permits a synthetic minimal configuration
	// for matched files that live outside the workspace.
	AllowOutsideWorkspace bool
}

// Matches reports whether the definition covers the given path.
func (d *Definition) Matches(path string) bool {
	slashed := filepath.ToSlash(path)
	base := filepath.Base(path)
	for _, pat := range d.Patterns {
		if ok, err := doublestar.Match(pat, slashed); err == nil && ok {
			return true
		}
		if ok, err := doublestar.Match(pat, base); err == nil && ok {
			return true
		}
	}
	return false
}

// Registry holds the ordered script definitions. Lookups return the
// first matching definition. The registry carries a readiness gate: the
// orchestrator treats "definitions not ready" as a transient condition
// and silently retries on the next trigger.
type Registry struct {
	mu    sync.RWMutex
	defs  []*Definition
	ready atomic.Bool
}

// NewRegistry creates an empty, not-yet-ready registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a definition. Earlier definitions win on overlap.
func (r *Registry) Register(def *Definition) {
	r.mu.Lock()
	r.defs = append(r.defs, def)
	r.mu.Unlock()
}

// SetReady marks the definition subsystem ready (or not).
func (r *Registry) SetReady(ready bool) {
	r.ready.Store(ready)
}

// Ready reports whether definitions may be consulted.
func (r *Registry) Ready() bool {
	return r.ready.Load()
}

// DefinitionFor returns the first definition matching path, or nil.
func (r *Registry) DefinitionFor(path string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.defs {
		if d.Matches(path) {
			return d
		}
	}
	return nil
}

// All returns the registered definitions in priority order.
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Definition, len(r.defs))
	copy(out, r.defs)
	return out
}
