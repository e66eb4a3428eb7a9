package reload

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dshills/scriptroots/internal/persist"
	"github.com/dshills/scriptroots/internal/snapshot"
	"github.com/dshills/scriptroots/internal/vfs"
)

// OutsiderLoader handles scripts living outside the workspace. When the
// definition allows them, they get a synthetic minimal configuration
// (definition defaults only) instead of a full dependency resolution.
type OutsiderLoader struct {
	workspace string
	log       zerolog.Logger
}

// NewOutsiderLoader creates the loader for the given workspace root.
func NewOutsiderLoader(workspace string, log zerolog.Logger) *OutsiderLoader {
	return &OutsiderLoader{workspace: filepath.Clean(workspace), log: log}
}

// Name identifies the loader in logs.
func (l *OutsiderLoader) Name() string {
	return "outsider"
}

// TryLoad applies a synthetic configuration for out-of-workspace files.
func (l *OutsiderLoader) TryLoad(ctx context.Context, api LoaderAPI, req Request) bool {
	if underDir(l.workspace, req.Handle.Path) {
		return false
	}
	if !req.Definition.AllowOutsideWorkspace {
		return false
	}

	cfg := snapshot.Configuration{
		ModuleRoots: req.Definition.SearchPaths,
		Runtime:     req.Definition.Runtime,
	}
	api.Apply(ctx, req.Handle, snapshot.New(cfg, nil))
	l.log.Debug().Str("file", req.Handle.Path).Msg("outsider file, synthetic configuration applied")
	return true
}

// AttributeLoader serves first loads from the persisted attribute store
// when the stored fingerprint still matches the file content. It never
// answers non-first loads: a reload request means the caller already
// distrusts what was stored.
type AttributeLoader struct {
	store *persist.Store
	fs    vfs.FS
	log   zerolog.Logger
}

// NewAttributeLoader creates the loader over the given store.
func NewAttributeLoader(store *persist.Store, fsys vfs.FS, log zerolog.Logger) *AttributeLoader {
	return &AttributeLoader{store: store, fs: fsys, log: log}
}

// Name identifies the loader in logs.
func (l *AttributeLoader) Name() string {
	return "attributes"
}

// TryLoad answers a first load from the attribute store.
func (l *AttributeLoader) TryLoad(ctx context.Context, api LoaderAPI, req Request) bool {
	if !req.Trigger.FirstLoad {
		return false
	}
	rec, ok := l.store.Get(req.Handle.ID)
	if !ok {
		return false
	}
	data, err := l.fs.ReadFile(req.Handle.Path)
	if err != nil {
		return false
	}
	if persist.Fingerprint(data) != rec.Fingerprint {
		l.log.Debug().Str("file", req.Handle.Path).Msg("stored attributes stale, falling through")
		return false
	}

	api.Apply(ctx, req.Handle, rec.Snapshot)
	return true
}

// underDir reports whether path is dir or lives under it.
func underDir(dir, path string) bool {
	dir = filepath.Clean(dir)
	path = filepath.Clean(path)
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}
