package roots

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dshills/scriptroots/internal/cache"
	"github.com/dshills/scriptroots/internal/script"
	"github.com/dshills/scriptroots/internal/snapshot"
)

// ErrNoTransaction indicates a root-affecting mutation was attempted
// outside an active roots-index transaction. This is a caller-contract
// violation and is surfaced immediately rather than swallowed.
var ErrNoTransaction = errors.New("roots: mutation outside roots-index transaction")

// modCounter is the process-wide modification counter. Consumers treat
// any advance as "something changed, re-derive your own cached view".
var modCounter atomic.Int64

// ModCount returns the process-wide modification count.
func ModCount() int64 {
	return modCounter.Load()
}

type txnKey struct{}

// txn is the per-transaction marker carried in the context. Nested
// transactions share the outermost marker, so finalization runs once
// per burst.
type txn struct {
	tracker *Tracker
	pending atomic.Bool
}

// Tracker owns the aggregate: it rebuilds it lazily from the cache,
// swaps it atomically on invalidation, and enforces the transaction
// protocol for root-affecting mutations.
type Tracker struct {
	cache *cache.Cache
	log   zerolog.Logger

	// agg is replaced wholesale, never mutated. buildMu serializes the
	// rebuild so concurrent readers converge on one build.
	agg     atomic.Pointer[Aggregate]
	buildMu sync.Mutex
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithLogger sets the tracker logger.
func WithLogger(log zerolog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.log = log
	}
}

// NewTracker creates a tracker over the given cache.
func NewTracker(c *cache.Cache, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		cache: c,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transaction runs body inside a roots-index transaction. Transactions
// are reentrant: a nested call collapses into the outermost one, and
// only the outermost exit finalizes pending invalidation. This is what
// makes a burst of N applies trigger one rebuild, not N.
func (t *Tracker) Transaction(ctx context.Context, body func(ctx context.Context) error) error {
	if tx := txnFrom(ctx); tx != nil && tx.tracker == t {
		return body(ctx)
	}

	tx := &txn{tracker: t}
	err := body(context.WithValue(ctx, txnKey{}, tx))
	if tx.pending.Load() {
		t.Invalidate()
	}
	return err
}

// InTransaction reports whether ctx carries an active transaction for
// this tracker.
func (t *Tracker) InTransaction(ctx context.Context) bool {
	tx := txnFrom(ctx)
	return tx != nil && tx.tracker == t
}

// RequireTransaction returns ErrNoTransaction when ctx does not carry
// an active transaction. Wired into the cache as its applied-state
// guard.
func (t *Tracker) RequireTransaction(ctx context.Context) error {
	if !t.InTransaction(ctx) {
		return ErrNoTransaction
	}
	return nil
}

// MarkNewRoot records that a configuration introduces module roots and
// defers aggregate invalidation to transaction exit. Roots already
// indexed leave the aggregate untouched. Panics outside a transaction.
func (t *Tracker) MarkNewRoot(ctx context.Context, id script.FileID, cfg snapshot.Configuration) {
	tx := txnFrom(ctx)
	if tx == nil || tx.tracker != t {
		panic(ErrNoTransaction)
	}
	if tx.pending.Load() {
		return
	}
	cur := t.agg.Load()
	if cur == nil || !cur.ContainsFile(id) || !cur.hasAllRoots(cfg) {
		tx.pending.Store(true)
		t.log.Trace().Str("file", string(id)).Msg("new roots pending invalidation")
	}
}

// Invalidate discards the aggregate and advances the process-wide
// modification counter. The next read rebuilds.
func (t *Tracker) Invalidate() {
	t.agg.Store(nil)
	n := modCounter.Add(1)
	t.log.Debug().Int64("modcount", n).Msg("roots aggregate invalidated")
}

// aggregate returns the current aggregate, rebuilding it at most once
// per invalidation window regardless of concurrent readers
// (double-checked: check unlocked, lock, check again, build, publish).
func (t *Tracker) aggregate() *Aggregate {
	if a := t.agg.Load(); a != nil {
		return a
	}

	t.buildMu.Lock()
	defer t.buildMu.Unlock()
	if a := t.agg.Load(); a != nil {
		return a
	}
	a := buildAggregate(t.cache.AllApplied())
	t.agg.Store(a)
	t.log.Debug().Int("files", len(a.rootsByFile)).Msg("roots aggregate rebuilt")
	return a
}

// RootsFor returns the module roots indexed for one script.
func (t *Tracker) RootsFor(id script.FileID) []string {
	return t.aggregate().RootsFor(id)
}

// ContainsFile reports whether the script is indexed.
func (t *Tracker) ContainsFile(id script.FileID) bool {
	return t.aggregate().ContainsFile(id)
}

// RuntimeFor returns the runtime binding for one script.
func (t *Tracker) RuntimeFor(id script.FileID) (snapshot.Runtime, bool) {
	return t.aggregate().RuntimeFor(id)
}

// FirstRuntime returns the first runtime discovered across all scripts.
func (t *Tracker) FirstRuntime() (snapshot.Runtime, bool) {
	return t.aggregate().FirstRuntime()
}

// AllModuleRoots returns the union of every script's module roots.
func (t *Tracker) AllModuleRoots() []string {
	return t.aggregate().AllModuleRoots()
}

// AllSourceRoots returns the union of every script's source roots.
func (t *Tracker) AllSourceRoots() []string {
	return t.aggregate().AllSourceRoots()
}

// ClassScope returns the combined search scope for dependency modules.
func (t *Tracker) ClassScope() SearchScope {
	return t.aggregate().ClassScope()
}

// SourceScope returns the combined search scope for dependency sources.
func (t *Tracker) SourceScope() SearchScope {
	return t.aggregate().SourceScope()
}

func txnFrom(ctx context.Context) *txn {
	tx, _ := ctx.Value(txnKey{}).(*txn)
	return tx
}
