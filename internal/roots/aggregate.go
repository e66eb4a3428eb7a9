// Package roots maintains the aggregate index derived from all applied
// script configurations: module roots per file, runtime bindings, and
// the combined search scopes used for dependency class and source
// lookup.
//
// The aggregate is a pull-model derived view. It never subscribes to
// individual file changes; it is built once from a point-in-time copy
// of the cache and replaced wholesale on invalidation, so concurrent
// readers never observe a torn view.
package roots

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/scriptroots/internal/cache"
	"github.com/dshills/scriptroots/internal/script"
	"github.com/dshills/scriptroots/internal/snapshot"
)

// SearchScope is an immutable set of directory roots with containment
// queries, used for dependency class/source lookup.
type SearchScope struct {
	dirs []string
}

// NewSearchScope builds a scope over the given directories.
func NewSearchScope(dirs []string) SearchScope {
	out := make([]string, 0, len(dirs))
	seen := make(map[string]struct{}, len(dirs))
	for _, d := range dirs {
		d = filepath.Clean(d)
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return SearchScope{dirs: out}
}

// Contains reports whether path is one of the roots or lives under one.
func (s SearchScope) Contains(path string) bool {
	path = filepath.Clean(path)
	for _, d := range s.dirs {
		if path == d || strings.HasPrefix(path, d+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Roots returns the scope's directories in sorted order.
func (s SearchScope) Roots() []string {
	out := make([]string, len(s.dirs))
	copy(out, s.dirs)
	return out
}

// IsEmpty reports whether the scope has no roots.
func (s SearchScope) IsEmpty() bool {
	return len(s.dirs) == 0
}

// Aggregate is the immutable derived index over all applied
// configurations. Once built it is never mutated; the tracker replaces
// it by pointer swap on invalidation.
type Aggregate struct {
	rootsByFile   map[script.FileID][]string
	runtimeByFile map[script.FileID]snapshot.Runtime
	rootSet       map[string]struct{}

	firstRuntime snapshot.Runtime
	moduleRoots  []string
	sourceRoots  []string
	classScope   SearchScope
	sourceScope  SearchScope
}

// buildAggregate constructs the index from a point-in-time view of the
// applied configurations.
func buildAggregate(applied []cache.Applied) *Aggregate {
	a := &Aggregate{
		rootsByFile:   make(map[script.FileID][]string, len(applied)),
		runtimeByFile: make(map[script.FileID]snapshot.Runtime, len(applied)),
		rootSet:       make(map[string]struct{}),
	}

	// Deterministic first-runtime pick regardless of map iteration.
	sort.Slice(applied, func(i, j int) bool {
		return applied[i].Handle.Path < applied[j].Handle.Path
	})

	var moduleRoots, sourceRoots []string
	for _, ap := range applied {
		cfg := ap.Snapshot.Config
		a.rootsByFile[ap.Handle.ID] = append([]string(nil), cfg.ModuleRoots...)
		if !cfg.Runtime.IsZero() {
			a.runtimeByFile[ap.Handle.ID] = cfg.Runtime
			if a.firstRuntime.IsZero() {
				a.firstRuntime = cfg.Runtime
			}
		}
		for _, r := range cfg.ModuleRoots {
			r = filepath.Clean(r)
			if _, dup := a.rootSet[r]; dup {
				continue
			}
			a.rootSet[r] = struct{}{}
			moduleRoots = append(moduleRoots, r)
		}
		sourceRoots = append(sourceRoots, cfg.SourceRoots...)
	}

	sort.Strings(moduleRoots)
	a.moduleRoots = moduleRoots
	a.classScope = NewSearchScope(moduleRoots)
	a.sourceScope = NewSearchScope(sourceRoots)
	a.sourceRoots = a.sourceScope.Roots()
	return a
}

// RootsFor returns the module roots for one script, or nil if the file
// is not indexed.
func (a *Aggregate) RootsFor(id script.FileID) []string {
	roots, ok := a.rootsByFile[id]
	if !ok {
		return nil
	}
	out := make([]string, len(roots))
	copy(out, roots)
	return out
}

// ContainsFile reports whether the script has an indexed configuration.
func (a *Aggregate) ContainsFile(id script.FileID) bool {
	_, ok := a.rootsByFile[id]
	return ok
}

// RuntimeFor returns the runtime binding for one script.
func (a *Aggregate) RuntimeFor(id script.FileID) (snapshot.Runtime, bool) {
	rt, ok := a.runtimeByFile[id]
	return rt, ok
}

// FirstRuntime returns the first runtime discovered across all scripts.
func (a *Aggregate) FirstRuntime() (snapshot.Runtime, bool) {
	return a.firstRuntime, !a.firstRuntime.IsZero()
}

// AllModuleRoots returns the union of every script's module roots.
func (a *Aggregate) AllModuleRoots() []string {
	out := make([]string, len(a.moduleRoots))
	copy(out, a.moduleRoots)
	return out
}

// AllSourceRoots returns the union of every script's source roots.
func (a *Aggregate) AllSourceRoots() []string {
	out := make([]string, len(a.sourceRoots))
	copy(out, a.sourceRoots)
	return out
}

// ClassScope returns the combined search scope for dependency modules.
func (a *Aggregate) ClassScope() SearchScope {
	return a.classScope
}

// SourceScope returns the combined search scope for dependency sources.
func (a *Aggregate) SourceScope() SearchScope {
	return a.sourceScope
}

// hasAllRoots reports whether every module root of cfg is already
// indexed. Used to decide whether an apply must invalidate.
func (a *Aggregate) hasAllRoots(cfg snapshot.Configuration) bool {
	for _, r := range cfg.ModuleRoots {
		if _, ok := a.rootSet[filepath.Clean(r)]; !ok {
			return false
		}
	}
	return true
}
