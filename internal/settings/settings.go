// Package settings loads the project-level settings that tune the
// configuration core, from a TOML file.
package settings

import (
	"fmt"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/scriptroots/internal/vfs"
)

// Settings are the tunables consulted by the reload orchestrator and
// the file watcher.
type Settings struct {
	// AutoReload makes stale configurations reload without an explicit
	// user request. Off by default: silent reconfiguration surprises.
	AutoReload bool `toml:"auto_reload"`

	// DebounceMillis is the watcher's event coalescing window.
	DebounceMillis int `toml:"debounce_ms"`

	// AttributeCache is the attribute store path, relative to the
	// workspace unless absolute. Empty disables persistence.
	AttributeCache string `toml:"attribute_cache"`

	// SearchPaths are extra module roots offered to every definition.
	SearchPaths []string `toml:"search_paths"`

	// Runtime overrides the default runtime binding.
	Runtime RuntimeSettings `toml:"runtime"`
}

// RuntimeSettings names the runtime scripts target.
type RuntimeSettings struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Path    string `toml:"path"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		AutoReload:     false,
		DebounceMillis: 100,
		AttributeCache: ".scriptroots/attributes",
		Runtime:        RuntimeSettings{Name: "lua", Version: "5.1"},
	}
}

// Load reads settings from path, layered over the defaults. A missing
// file yields the defaults; a malformed file is an error.
func Load(fsys vfs.FS, path string) (Settings, error) {
	s := Default()
	if !fsys.Exists(path) {
		return s, nil
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := toml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return s, nil
}

// AutoReloadEnabled satisfies the orchestrator's settings collaborator.
func (s Settings) AutoReloadEnabled() bool {
	return s.AutoReload
}

// Debounce returns the watcher coalescing window as a duration.
func (s Settings) Debounce() time.Duration {
	if s.DebounceMillis <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(s.DebounceMillis) * time.Millisecond
}
