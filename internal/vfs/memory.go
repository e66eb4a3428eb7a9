package vfs

import (
	"errors"
	"io/fs"
	"path/filepath"
	"sync"
	"time"
)

// ErrNotExist indicates the path does not exist in the memory file system.
var ErrNotExist = errors.New("file does not exist")

// MemFS is an in-memory file system for testing.
type MemFS struct {
	mu    sync.RWMutex
	files map[string]*memFile
	dirs  map[string]bool
	clock func() time.Time
}

type memFile struct {
	data    []byte
	mode    fs.FileMode
	modTime time.Time
}

// NewMemFS creates an empty in-memory file system.
func NewMemFS() *MemFS {
	return &MemFS{
		files: make(map[string]*memFile),
		dirs:  make(map[string]bool),
		clock: time.Now,
	}
}

// Ensure MemFS implements FS.
var _ FS = (*MemFS)(nil)

func (m *MemFS) clean(path string) string {
	return filepath.Clean(path)
}

// ReadFile reads the entire file content.
func (m *MemFS) ReadFile(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[m.clean(path)]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: ErrNotExist}
	}
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out, nil
}

// WriteFile writes data to a file, creating it if necessary.
func (m *MemFS) WriteFile(path string, data []byte, perm fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	p := m.clean(path)
	m.files[p] = &memFile{data: stored, mode: perm, modTime: m.clock()}
	for dir := filepath.Dir(p); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		m.dirs[dir] = true
	}
	return nil
}

// Stat returns file information.
func (m *MemFS) Stat(path string) (FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p := m.clean(path)
	if f, ok := m.files[p]; ok {
		return FileInfo{
			Path:    p,
			Name:    filepath.Base(p),
			Size:    int64(len(f.data)),
			Mode:    f.mode,
			ModTime: f.modTime,
		}, nil
	}
	if m.dirs[p] {
		return FileInfo{Path: p, Name: filepath.Base(p), Mode: fs.ModeDir | 0o755, IsDir: true}, nil
	}
	return FileInfo{}, &fs.PathError{Op: "stat", Path: path, Err: ErrNotExist}
}

// MkdirAll creates a directory and all parent directories.
func (m *MemFS) MkdirAll(path string, perm fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for p := m.clean(path); p != "." && p != string(filepath.Separator); p = filepath.Dir(p) {
		m.dirs[p] = true
	}
	return nil
}

// Remove removes a file.
func (m *MemFS) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.clean(path)
	if _, ok := m.files[p]; !ok {
		return &fs.PathError{Op: "remove", Path: path, Err: ErrNotExist}
	}
	delete(m.files, p)
	return nil
}

// Exists returns true if the path exists.
func (m *MemFS) Exists(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p := m.clean(path)
	if _, ok := m.files[p]; ok {
		return true
	}
	return m.dirs[p]
}
