package persist

import (
	"fmt"
	"sort"

	"github.com/tidwall/sjson"

	"github.com/dshills/scriptroots/internal/script"
)

// DumpJSON renders the store as a JSON document keyed by file identity,
// for the inspection CLI. Output order is stable.
func (s *Store) DumpJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	out := []byte(`{}`)
	var err error
	for i, id := range ids {
		rec := s.records[script.FileID(id)]
		base := fmt.Sprintf("files.%d", i)
		cfg := rec.Snapshot.Config

		set := func(path string, value any) {
			if err != nil {
				return
			}
			out, err = sjson.SetBytes(out, path, value)
		}

		set(base+".id", id)
		set(base+".path", rec.Path)
		set(base+".fingerprint", fmt.Sprintf("%016x", rec.Fingerprint))
		set(base+".runtime.name", cfg.Runtime.Name)
		set(base+".runtime.version", cfg.Runtime.Version)
		set(base+".moduleRoots", cfg.ModuleRoots)
		set(base+".sourceRoots", cfg.SourceRoots)
		set(base+".options", cfg.Options)
		for j, d := range rec.Snapshot.Diagnostics {
			dbase := fmt.Sprintf("%s.diagnostics.%d", base, j)
			set(dbase+".severity", d.Severity.String())
			set(dbase+".message", d.Message)
			set(dbase+".line", d.Pos.Line)
			set(dbase+".column", d.Pos.Column)
			set(dbase+".source", d.Source)
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
