// Package script provides script file identity, script definitions, and
// the definition registry that decides which files the configuration
// core is responsible for.
package script

import (
	"errors"
	"path/filepath"
)

// Common errors.
var (
	// ErrNotScript indicates a file handle that is not backed by a script file.
	ErrNotScript = errors.New("file is not a script")

	// ErrNoDefinition indicates no registered definition matches the file.
	ErrNoDefinition = errors.New("no script definition for file")
)

// FileID is a stable identity for a script file. It survives edits in
// place and, where the platform allows, renames; it is never a
// transient path string.
type FileID string

// Handle pairs a file's stable identity with its current path.
type Handle struct {
	ID   FileID
	Path string
}

// NewHandle resolves the stable identity for path and returns a handle.
// The path is cleaned and made absolute so prefix-scoped invalidation
// behaves predictably.
func NewHandle(path string) (Handle, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Handle{}, err
	}
	abs = filepath.Clean(abs)
	id, err := identify(abs)
	if err != nil {
		return Handle{}, err
	}
	return Handle{ID: id, Path: abs}, nil
}

// HandleForID builds a handle from a known identity and path. Used when
// replaying persisted state where the file may no longer exist.
func HandleForID(id FileID, path string) Handle {
	return Handle{ID: id, Path: filepath.Clean(path)}
}
