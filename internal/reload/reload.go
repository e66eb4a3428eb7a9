// Package reload implements the reload orchestration protocol: given a
// script file and a triggering event, decide whether cached data is
// authoritative, offer the request to the fast loader chain, delegate
// to a special manager, or fall through to the slow default provider —
// all while batching root-affecting work inside one roots-index
// transaction.
package reload

import (
	"context"

	"github.com/dshills/scriptroots/internal/script"
	"github.com/dshills/scriptroots/internal/snapshot"
)

// Trigger describes why a reload was requested.
type Trigger struct {
	// FirstLoad is set when the file has never been resolved.
	FirstLoad bool

	// EvenIfNotApplied forces loading even when the result will only be
	// staged, not applied (explicit user request).
	EvenIfNotApplied bool

	// ForceSync requires the default provider to complete before
	// returning.
	ForceSync bool

	// Postponed defers the actual work behind a notification until the
	// user explicitly requests it. Only honored when auto-reload is off
	// and this is not the first resolution.
	Postponed bool
}

// Request is one load request offered to the loader chain.
type Request struct {
	Handle     script.Handle
	Definition *script.Definition
	Trigger    Trigger
}

// LoaderAPI exposes the callbacks loaders use to report results back
// into the core, possibly asynchronously and from another goroutine.
type LoaderAPI interface {
	// SetLoaded stages a computed snapshot without applying it. The
	// persistence collaborator is notified.
	SetLoaded(h script.Handle, snap *snapshot.Snapshot)

	// Apply makes the snapshot authoritative. Opens its own roots-index
	// transaction when the context does not already carry one.
	Apply(ctx context.Context, h script.Handle, snap *snapshot.Snapshot)

	// SuggestReload surfaces a deferred-reload notification.
	SuggestReload(h script.Handle)
}

// Loader is one link in the ordered load chain. TryLoad returns true
// when it handled the request synchronously; the chain stops there.
type Loader interface {
	Name() string
	TryLoad(ctx context.Context, api LoaderAPI, req Request) bool
}

// Provider is the slow default reload path. It may complete
// synchronously or call back into api at an arbitrary later time.
type Provider interface {
	Reload(ctx context.Context, api LoaderAPI, req Request)
}

// Settings is the settings collaborator.
type Settings interface {
	AutoReloadEnabled() bool
}

// Notifier is the UI collaborator. All methods are fire-and-forget.
type Notifier interface {
	RestartHighlighting(files []script.Handle)
	RefreshDiagnostics(h script.Handle, diags []snapshot.Diagnostic)
	SuggestReload(h script.Handle)
	ForgetReported()
}

type nopNotifier struct{}

func (nopNotifier) RestartHighlighting([]script.Handle)                       {}
func (nopNotifier) RefreshDiagnostics(script.Handle, []snapshot.Diagnostic)   {}
func (nopNotifier) SuggestReload(script.Handle)                               {}
func (nopNotifier) ForgetReported()                                           {}

// StaticSettings is a fixed-value Settings implementation.
type StaticSettings struct {
	AutoReload bool
}

// AutoReloadEnabled reports the fixed auto-reload flag.
func (s StaticSettings) AutoReloadEnabled() bool {
	return s.AutoReload
}
