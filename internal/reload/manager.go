package reload

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dshills/scriptroots/internal/cache"
	"github.com/dshills/scriptroots/internal/roots"
	"github.com/dshills/scriptroots/internal/script"
	"github.com/dshills/scriptroots/internal/snapshot"
)

// Manager is the reload orchestrator and the entry point for
// configuration queries. It owns the decision procedure that keeps
// cached configurations synchronized without blocking interactive use.
type Manager struct {
	defs    *script.Registry
	cache   *cache.Cache
	tracker *roots.Tracker

	loaders  []Loader
	special  *SpecialRegistry
	provider Provider
	settings Settings
	notifier Notifier
	log      zerolog.Logger
}

// Manager is its own loader callback surface.
var _ LoaderAPI = (*Manager)(nil)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLoaders sets the ordered fast loader chain.
func WithLoaders(loaders ...Loader) ManagerOption {
	return func(m *Manager) {
		m.loaders = loaders
	}
}

// WithProvider sets the slow default reload provider.
func WithProvider(p Provider) ManagerOption {
	return func(m *Manager) {
		m.provider = p
	}
}

// WithSpecialRegistry sets the delegate manager registry.
func WithSpecialRegistry(r *SpecialRegistry) ManagerOption {
	return func(m *Manager) {
		m.special = r
	}
}

// WithSettings sets the settings collaborator.
func WithSettings(s Settings) ManagerOption {
	return func(m *Manager) {
		m.settings = s
	}
}

// WithNotifier sets the UI collaborator.
func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithLogger sets the manager logger.
func WithLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// NewManager creates the orchestrator over its cache and roots tracker.
func NewManager(defs *script.Registry, c *cache.Cache, t *roots.Tracker, opts ...ManagerOption) *Manager {
	m := &Manager{
		defs:     defs,
		cache:    c,
		tracker:  t,
		special:  NewSpecialRegistry(),
		settings: StaticSettings{},
		notifier: nopNotifier{},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Cache returns the underlying configuration cache.
func (m *Manager) Cache() *cache.Cache {
	return m.cache
}

// Tracker returns the roots tracker.
func (m *Manager) Tracker() *roots.Tracker {
	return m.tracker
}

// Configuration returns the applied snapshot for a script, triggering
// the first-load path on a cache miss. The second return is false when
// the file has no authoritative configuration (never resolved, not a
// script, or definitions not ready).
func (m *Manager) Configuration(ctx context.Context, h script.Handle) (*snapshot.Snapshot, bool) {
	if st, ok := m.cache.Get(h.ID); ok && st.Applied != nil {
		return st.Applied, true
	}

	_ = m.tracker.Transaction(ctx, func(ctx context.Context) error {
		m.reload(ctx, h, Trigger{FirstLoad: true, ForceSync: true})
		return nil
	})

	st, ok := m.cache.Get(h.ID)
	if !ok || st.Applied == nil {
		return nil, false
	}
	return st.Applied, true
}

// ScriptRoots returns the module roots indexed for a script. A file not
// yet indexed triggers an on-demand load before the aggregate is
// re-read.
func (m *Manager) ScriptRoots(ctx context.Context, h script.Handle) []string {
	if !m.tracker.ContainsFile(h.ID) {
		if _, ok := m.Configuration(ctx, h); !ok {
			return nil
		}
	}
	return m.tracker.RootsFor(h.ID)
}

// EnsureOptions tune a batch up-to-date check.
type EnsureOptions struct {
	// EvenIfNotApplied loads stale files even when the result will only
	// be staged.
	EvenIfNotApplied bool

	// Postponed defers stale files behind a notification.
	Postponed bool
}

// EnsureUpToDate checks a batch of files against the staleness
// predicate and reloads the stale or missing ones inside one
// roots-index transaction. It returns true iff every file was already
// up to date before any reload ran; callers use that to short-circuit
// expensive work when nothing changed.
func (m *Manager) EnsureUpToDate(ctx context.Context, files []script.Handle, opts EnsureOptions) bool {
	// Pre-check pass: the return value is decided here, before any
	// reload can change the answer.
	var stale []script.Handle
	for _, f := range files {
		if m.cache.IsUpToDate(f) {
			continue
		}
		stale = append(stale, f)
	}
	if len(stale) == 0 {
		return true
	}

	_ = m.tracker.Transaction(ctx, func(ctx context.Context) error {
		for _, f := range stale {
			st, ok := m.cache.Get(f.ID)
			first := !ok || st.Applied == nil
			m.reload(ctx, f, Trigger{
				FirstLoad:        first,
				EvenIfNotApplied: opts.EvenIfNotApplied,
				Postponed:        opts.Postponed,
			})
		}
		return nil
	})
	return false
}

// Reload runs the single-file decision procedure inside its own
// roots-index transaction.
func (m *Manager) Reload(ctx context.Context, h script.Handle, tr Trigger) {
	_ = m.tracker.Transaction(ctx, func(ctx context.Context) error {
		m.reload(ctx, h, tr)
		return nil
	})
}

// reload is the per-file decision procedure. Not-ready and
// not-applicable conditions abort silently; they are retried on the
// next trigger, never surfaced as user errors.
func (m *Manager) reload(ctx context.Context, h script.Handle, tr Trigger) {
	if h.Path == "" {
		// Caller-contract violation: the handle is not script-backed.
		panic(script.ErrNotScript)
	}

	if !m.defs.Ready() {
		m.log.Trace().Str("file", h.Path).Msg("definitions not ready, skipping")
		return
	}

	auto := m.settings.AutoReloadEnabled()
	shouldLoad := tr.FirstLoad || tr.EvenIfNotApplied || auto
	if !shouldLoad {
		// The applied configuration stays authoritative even if stale:
		// the user did not opt into silent reconfiguration.
		m.log.Trace().Str("file", h.Path).Msg("reload not requested, keeping applied configuration")
		return
	}

	tr.Postponed = tr.Postponed && !auto && !tr.FirstLoad

	def := m.defs.DefinitionFor(h.Path)
	if def == nil {
		m.log.Trace().Str("file", h.Path).Msg("no script definition, skipping")
		return
	}

	req := Request{Handle: h, Definition: def, Trigger: tr}
	for _, l := range m.loaders {
		if l.TryLoad(ctx, m, req) {
			m.log.Debug().Str("file", h.Path).Str("loader", l.Name()).Msg("load handled")
			return
		}
	}

	if sm := m.special.For(h); sm != nil {
		m.log.Debug().Str("file", h.Path).Msg("delegating to special manager")
		sm.Reload(h, tr)
		return
	}

	if m.provider != nil {
		m.provider.Reload(ctx, m, req)
	}
}

// SetLoaded implements LoaderAPI: stage a snapshot without applying it.
func (m *Manager) SetLoaded(h script.Handle, snap *snapshot.Snapshot) {
	m.cache.SetLoaded(h, snap)
}

// Apply implements LoaderAPI: make the snapshot authoritative, index
// any new roots, and dispatch UI refreshes. When the context does not
// carry a transaction (asynchronous callback from a slow loader) a
// fresh one is opened.
func (m *Manager) Apply(ctx context.Context, h script.Handle, snap *snapshot.Snapshot) {
	if !m.tracker.InTransaction(ctx) {
		_ = m.tracker.Transaction(ctx, func(ctx context.Context) error {
			m.apply(ctx, h, snap)
			return nil
		})
		return
	}
	m.apply(ctx, h, snap)
}

func (m *Manager) apply(ctx context.Context, h script.Handle, snap *snapshot.Snapshot) {
	prev, _ := m.cache.Get(h.ID)
	m.cache.SetApplied(ctx, h, snap)
	if snap == nil {
		return
	}

	m.tracker.MarkNewRoot(ctx, h.ID, snap.Config)
	m.notifier.RefreshDiagnostics(h, snap.Diagnostics)
	if !snap.Equal(prev.Applied) {
		m.notifier.RestartHighlighting([]script.Handle{h})
	}
}

// SuggestReload implements LoaderAPI.
func (m *Manager) SuggestReload(h script.Handle) {
	m.notifier.SuggestReload(h)
}

// ClearCachesAndRehighlight drops every cached configuration,
// invalidates the aggregate once, and restarts highlighting for the
// given open files.
func (m *Manager) ClearCachesAndRehighlight(openFiles []script.Handle) {
	m.cache.Clear()
	m.tracker.Invalidate()
	m.notifier.ForgetReported()
	m.notifier.RestartHighlighting(openFiles)
}
