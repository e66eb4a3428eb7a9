package reload

import (
	"sync"

	"github.com/dshills/scriptroots/internal/script"
)

// SpecialManager fully owns the reload lifecycle of the files it
// claims; the orchestrator delegates to it entirely.
type SpecialManager interface {
	Reload(h script.Handle, tr Trigger)
}

// SpecialProvider returns the manager owning a file, or nil.
type SpecialProvider func(h script.Handle) SpecialManager

// SpecialRegistry is the extension point for per-file delegate
// managers. At most one manager owns a file; providers are consulted in
// registration order.
type SpecialRegistry struct {
	mu        sync.RWMutex
	providers []SpecialProvider
}

// NewSpecialRegistry creates an empty registry.
func NewSpecialRegistry() *SpecialRegistry {
	return &SpecialRegistry{}
}

// Register adds a provider.
func (r *SpecialRegistry) Register(p SpecialProvider) {
	r.mu.Lock()
	r.providers = append(r.providers, p)
	r.mu.Unlock()
}

// For returns the first manager claiming the file, or nil.
func (r *SpecialRegistry) For(h script.Handle) SpecialManager {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.providers {
		if m := p(h); m != nil {
			return m
		}
	}
	return nil
}
