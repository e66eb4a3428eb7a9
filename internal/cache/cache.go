// Package cache implements the per-file configuration cache: the
// mapping from stable file identity to loaded/applied snapshot state.
//
// The cache supports concurrent point reads and writes. SetApplied is
// additionally gated by the roots-index transaction protocol: the guard
// is a correctness protocol, not a mutual-exclusion primitive, so the
// caller must be inside an active transaction or the call panics.
package cache

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dshills/scriptroots/internal/script"
	"github.com/dshills/scriptroots/internal/snapshot"
)

// Persister durably stores loaded snapshots, keyed by file identity.
// Notified on every SetLoaded; failures are its own to contain.
type Persister interface {
	Persist(h script.Handle, snap *snapshot.Snapshot)
}

// StalenessFunc decides whether a cached state still matches the
// current file content and environment.
type StalenessFunc func(h script.Handle) bool

// GuardFunc reports whether the calling context is inside an active
// roots-index transaction; a non-nil error makes SetApplied panic.
type GuardFunc func(ctx context.Context) error

// Applied is one (file, applied snapshot) pair from a point-in-time
// view of the cache.
type Applied struct {
	Handle   script.Handle
	Snapshot *snapshot.Snapshot
}

type entry struct {
	path      string
	loaded    *snapshot.Snapshot
	applied   *snapshot.Snapshot
	outOfDate bool
}

// Cache maps file identity to configuration state.
type Cache struct {
	mu      sync.RWMutex
	entries map[script.FileID]*entry

	guard     GuardFunc
	persister Persister
	upToDate  StalenessFunc
	log       zerolog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithGuard installs the transaction guard consulted by SetApplied.
func WithGuard(g GuardFunc) Option {
	return func(c *Cache) {
		c.guard = g
	}
}

// WithPersister installs the persistence collaborator notified on SetLoaded.
func WithPersister(p Persister) Option {
	return func(c *Cache) {
		c.persister = p
	}
}

// WithStaleness installs the staleness predicate used by IsUpToDate.
func WithStaleness(f StalenessFunc) Option {
	return func(c *Cache) {
		c.upToDate = f
	}
}

// WithLogger sets the cache logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Cache) {
		c.log = log
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[script.FileID]*entry),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the file's state. Non-blocking, no side effects.
func (c *Cache) Get(id script.FileID) (snapshot.State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok {
		return snapshot.State{}, false
	}
	return snapshot.State{Loaded: e.loaded, Applied: e.applied, OutOfDate: e.outOfDate}, true
}

// SetLoaded records a loaded-but-not-yet-applied snapshot. Applied is
// never touched. The persistence collaborator is notified afterwards,
// outside the lock.
func (c *Cache) SetLoaded(h script.Handle, snap *snapshot.Snapshot) {
	c.mu.Lock()
	e := c.ensure(h)
	e.loaded = snap
	c.mu.Unlock()

	c.log.Debug().Str("file", h.Path).Msg("configuration loaded")
	if c.persister != nil && snap != nil {
		c.persister.Persist(h, snap)
	}
}

// SetApplied replaces the applied snapshot; nil clears it. The loaded
// snapshot is overwritten so the pending result never outlives its
// acceptance. Panics if called outside an active roots-index
// transaction: that is a caller-contract violation, not an
// environmental condition.
func (c *Cache) SetApplied(ctx context.Context, h script.Handle, snap *snapshot.Snapshot) {
	if c.guard != nil {
		if err := c.guard(ctx); err != nil {
			panic(err)
		}
	}

	c.mu.Lock()
	e := c.ensure(h)
	e.applied = snap
	e.loaded = snap
	e.outOfDate = false
	c.mu.Unlock()

	c.log.Debug().Str("file", h.Path).Bool("cleared", snap == nil).Msg("configuration applied")
}

// MarkOutOfDate flags every cached file in scope so the next staleness
// check treats it as outdated. Applied data is never removed; the
// previous good configuration stays usable until a fresh one is ready.
func (c *Cache) MarkOutOfDate(scope Scope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, e := range c.entries {
		if scope.Matches(id, e.path) {
			e.outOfDate = true
		}
	}
}

// IsUpToDate reports whether the file has a cached state that is
// neither flagged out of date nor stale per the staleness predicate. A
// file with no cached state is never up to date.
func (c *Cache) IsUpToDate(h script.Handle) bool {
	c.mu.RLock()
	e, ok := c.entries[h.ID]
	outOfDate := ok && e.outOfDate
	applied := ok && e.applied != nil
	c.mu.RUnlock()

	if !ok || !applied || outOfDate {
		return false
	}
	if c.upToDate != nil && !c.upToDate(h) {
		return false
	}
	return true
}

// AllApplied returns a point-in-time copy of all (file, applied
// snapshot) pairs. Used to build the roots aggregate.
func (c *Cache) AllApplied() []Applied {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Applied, 0, len(c.entries))
	for id, e := range c.entries {
		if e.applied == nil {
			continue
		}
		out = append(out, Applied{
			Handle:   script.HandleForID(id, e.path),
			Snapshot: e.applied,
		})
	}
	return out
}

// Remove drops a single file's state (file deleted or moved away).
func (c *Cache) Remove(id script.FileID) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// RemoveByPath drops the state cached for the given path, regardless of
// the identity it was keyed under. Deleted files can no longer be
// re-identified, so path is the only key the caller still has.
func (c *Cache) RemoveByPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, e := range c.entries {
		if e.path == path {
			delete(c.entries, id)
		}
	}
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[script.FileID]*entry)
	c.mu.Unlock()
}

// Len returns the number of cached files.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ensure returns the entry for h, creating it if needed. Caller holds
// the write lock.
func (c *Cache) ensure(h script.Handle) *entry {
	e, ok := c.entries[h.ID]
	if !ok {
		e = &entry{path: h.Path}
		c.entries[h.ID] = e
	} else if h.Path != "" {
		e.path = h.Path
	}
	return e
}

// Scope selects a subset of cached files for invalidation. The zero
// scope matches nothing; All matches everything; otherwise a file
// matches when its identity is listed or its path falls under one of
// the prefixes.
type Scope struct {
	All      bool
	Prefixes []string
	Files    []script.FileID
}

// ScopeAll matches every cached file.
func ScopeAll() Scope {
	return Scope{All: true}
}

// ScopeFiles matches exactly the given files.
func ScopeFiles(ids ...script.FileID) Scope {
	return Scope{Files: ids}
}

// ScopePrefix matches files whose path is under the given prefix.
func ScopePrefix(prefix string) Scope {
	return Scope{Prefixes: []string{prefix}}
}

// Matches reports whether the scope covers the given file.
func (s Scope) Matches(id script.FileID, path string) bool {
	if s.All {
		return true
	}
	for _, f := range s.Files {
		if f == id {
			return true
		}
	}
	for _, p := range s.Prefixes {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
