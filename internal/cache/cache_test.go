package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/scriptroots/internal/script"
	"github.com/dshills/scriptroots/internal/snapshot"
)

var errNoTxn = errors.New("no transaction")

type guardKey struct{}

// testGuard passes only for contexts marked by withTxn.
func testGuard(ctx context.Context) error {
	if ctx.Value(guardKey{}) == nil {
		return errNoTxn
	}
	return nil
}

func withTxn(ctx context.Context) context.Context {
	return context.WithValue(ctx, guardKey{}, true)
}

func handle(id, path string) script.Handle {
	return script.Handle{ID: script.FileID(id), Path: path}
}

func snap(roots ...string) *snapshot.Snapshot {
	return snapshot.New(snapshot.Configuration{ModuleRoots: roots}, nil)
}

func TestCache_GetMissing(t *testing.T) {
	c := New()
	st, ok := c.Get("nope")
	if ok {
		t.Fatal("expected miss for unknown file")
	}
	if st.Applied != nil || st.Loaded != nil {
		t.Error("miss must return empty state")
	}
}

func TestCache_SetLoadedDoesNotApply(t *testing.T) {
	persisted := 0
	c := New(WithPersister(persisterFunc(func(h script.Handle, s *snapshot.Snapshot) {
		persisted++
	})))

	h := handle("f1", "/ws/a.lua")
	c.SetLoaded(h, snap("/ws/lib"))

	st, ok := c.Get(h.ID)
	if !ok {
		t.Fatal("expected cached state after SetLoaded")
	}
	if st.Applied != nil {
		t.Error("SetLoaded must not change Applied")
	}
	if !st.Pending() {
		t.Error("loaded-but-not-applied state should be pending")
	}
	if persisted != 1 {
		t.Errorf("persister notified %d times, want 1", persisted)
	}
}

type persisterFunc func(h script.Handle, s *snapshot.Snapshot)

func (f persisterFunc) Persist(h script.Handle, s *snapshot.Snapshot) { f(h, s) }

func TestCache_SetAppliedRequiresTransaction(t *testing.T) {
	c := New(WithGuard(testGuard))
	h := handle("f1", "/ws/a.lua")

	defer func() {
		if r := recover(); r == nil {
			t.Error("SetApplied outside a transaction must panic")
		}
	}()
	c.SetApplied(context.Background(), h, snap("/ws/lib"))
}

func TestCache_SetAppliedOverwritesLoaded(t *testing.T) {
	c := New(WithGuard(testGuard))
	h := handle("f1", "/ws/a.lua")
	ctx := withTxn(context.Background())

	c.SetLoaded(h, snap("/pending"))
	applied := snap("/ws/lib")
	c.SetApplied(ctx, h, applied)

	st, _ := c.Get(h.ID)
	if !st.Applied.Equal(applied) {
		t.Error("Applied not recorded")
	}
	if !st.Loaded.Equal(applied) {
		t.Error("SetApplied must overwrite the pending loaded snapshot")
	}

	c.SetApplied(ctx, h, nil)
	st, _ = c.Get(h.ID)
	if st.Applied != nil {
		t.Error("nil snapshot must clear Applied")
	}
}

func TestCache_MarkOutOfDatePreservesApplied(t *testing.T) {
	c := New(WithGuard(testGuard))
	ctx := withTxn(context.Background())

	a := handle("f1", "/ws/a.lua")
	b := handle("f2", "/other/b.lua")
	c.SetApplied(ctx, a, snap("/ws/lib"))
	c.SetApplied(ctx, b, snap("/other/lib"))

	c.MarkOutOfDate(ScopePrefix("/ws"))

	st, _ := c.Get(a.ID)
	if !st.OutOfDate {
		t.Error("file in scope should be flagged out of date")
	}
	if st.Applied == nil {
		t.Error("MarkOutOfDate must never remove applied data")
	}

	st, _ = c.Get(b.ID)
	if st.OutOfDate {
		t.Error("file outside scope should be untouched")
	}
}

func TestCache_IsUpToDate(t *testing.T) {
	fresh := true
	c := New(
		WithGuard(testGuard),
		WithStaleness(func(h script.Handle) bool { return fresh }),
	)
	ctx := withTxn(context.Background())
	h := handle("f1", "/ws/a.lua")

	if c.IsUpToDate(h) {
		t.Error("file with no cached state is never up to date")
	}

	c.SetApplied(ctx, h, snap("/ws/lib"))
	if !c.IsUpToDate(h) {
		t.Error("applied and fresh should be up to date")
	}

	fresh = false
	if c.IsUpToDate(h) {
		t.Error("staleness predicate must be consulted")
	}

	fresh = true
	c.MarkOutOfDate(ScopeFiles(h.ID))
	if c.IsUpToDate(h) {
		t.Error("out-of-date flag must force a staleness failure")
	}

	c.SetApplied(ctx, h, snap("/ws/lib"))
	if !c.IsUpToDate(h) {
		t.Error("re-apply must clear the out-of-date flag")
	}
}

func TestCache_AllAppliedIsPointInTime(t *testing.T) {
	c := New(WithGuard(testGuard))
	ctx := withTxn(context.Background())

	c.SetApplied(ctx, handle("f1", "/ws/a.lua"), snap("/ws/lib"))
	c.SetLoaded(handle("f2", "/ws/b.lua"), snap("/pending"))

	all := c.AllApplied()
	if len(all) != 1 {
		t.Fatalf("AllApplied returned %d entries, want 1", len(all))
	}
	if all[0].Handle.ID != "f1" {
		t.Errorf("AllApplied returned %q, want f1", all[0].Handle.ID)
	}

	// Mutating the cache afterwards must not affect the returned view.
	c.SetApplied(ctx, handle("f3", "/ws/c.lua"), snap("/ws/x"))
	if len(all) != 1 {
		t.Error("returned view must be a snapshot of the mapping")
	}
}

func TestCache_ClearAndRemove(t *testing.T) {
	c := New(WithGuard(testGuard))
	ctx := withTxn(context.Background())

	c.SetApplied(ctx, handle("f1", "/ws/a.lua"), snap("/ws/lib"))
	c.SetApplied(ctx, handle("f2", "/ws/b.lua"), snap("/ws/lib"))

	c.Remove("f1")
	if _, ok := c.Get("f1"); ok {
		t.Error("Remove should drop the entry")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}

	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d, want 0", c.Len())
	}
}

func TestScope_Matches(t *testing.T) {
	cases := []struct {
		name  string
		scope Scope
		id    string
		path  string
		want  bool
	}{
		{"all", ScopeAll(), "f", "/anywhere", true},
		{"file hit", ScopeFiles("f1"), "f1", "/x", true},
		{"file miss", ScopeFiles("f1"), "f2", "/x", false},
		{"prefix hit", ScopePrefix("/ws"), "f", "/ws/a.lua", true},
		{"prefix miss", ScopePrefix("/ws"), "f", "/other/a.lua", false},
		{"zero scope", Scope{}, "f", "/ws/a.lua", false},
	}
	for _, tc := range cases {
		if got := tc.scope.Matches(script.FileID(tc.id), tc.path); got != tc.want {
			t.Errorf("%s: Matches = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestCache_RemoveByPath(t *testing.T) {
	c := New(WithGuard(testGuard))
	ctx := withTxn(context.Background())

	// Same path, identity changed between runs (stat-based IDs do that
	// after a delete/recreate cycle).
	c.SetApplied(ctx, handle("dev1:ino7", "/ws/a.lua"), snap("/ws/lib"))
	c.SetApplied(ctx, handle("other", "/ws/b.lua"), snap("/ws/lib"))

	c.RemoveByPath("/ws/a.lua")

	if _, ok := c.Get("dev1:ino7"); ok {
		t.Error("entry keyed by stale identity must be gone")
	}
	if _, ok := c.Get("other"); !ok {
		t.Error("unrelated path must survive")
	}

	// Unknown path is a no-op.
	c.RemoveByPath("/ws/nope.lua")
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}
