// Package persist implements the attribute store: a durable,
// best-effort cache of loaded snapshots keyed by file identity plus a
// content fingerprint. It backs the fast persisted-attribute loader and
// serves as the cache's persistence collaborator.
package persist

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/dshills/scriptroots/internal/script"
	"github.com/dshills/scriptroots/internal/snapshot"
	"github.com/dshills/scriptroots/internal/vfs"
)

// Persistence errors.
var (
	ErrInvalidFormat   = errors.New("invalid attribute store format")
	ErrVersionMismatch = errors.New("attribute store version mismatch")
)

// Persistence format version.
const storeVersion = 1

// Magic bytes for file identification.
var storeMagic = []byte("SRAT") // ScriptRoots ATtributes

// Maximum string length in the persistence format.
const maxStringLength = 16 * 1024 * 1024

// Record is one stored snapshot with the content fingerprint of the
// source it was computed from.
type Record struct {
	Path        string
	Fingerprint uint64
	Snapshot    *snapshot.Snapshot
}

// Fingerprint hashes script content for staleness comparison.
func Fingerprint(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Store is the in-memory attribute store with explicit Save/load to a
// single file. Failures are the store's own to contain; callers treat
// it as best effort.
type Store struct {
	mu      sync.RWMutex
	records map[script.FileID]Record

	fs   vfs.FS
	path string
	log  zerolog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store logger.
func WithLogger(log zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.log = log
	}
}

// Open loads the attribute store at path, or starts empty when the file
// does not exist or cannot be decoded.
func Open(fsys vfs.FS, path string, opts ...StoreOption) *Store {
	s := &Store{
		records: make(map[script.FileID]Record),
		fs:      fsys,
		path:    path,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if data, err := fsys.ReadFile(path); err == nil {
		if err := s.decode(data); err != nil {
			s.log.Warn().Err(err).Str("path", path).Msg("attribute store unreadable, starting empty")
			s.records = make(map[script.FileID]Record)
		}
	}
	return s
}

// Get returns the stored record for a file identity.
func (s *Store) Get(id script.FileID) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Put stores a snapshot under the file identity with its fingerprint.
func (s *Store) Put(h script.Handle, fingerprint uint64, snap *snapshot.Snapshot) {
	if snap == nil {
		return
	}
	s.mu.Lock()
	s.records[h.ID] = Record{Path: h.Path, Fingerprint: fingerprint, Snapshot: snap}
	s.mu.Unlock()
}

// Persist implements the cache's persistence collaborator: it stores
// the snapshot fingerprinted against the file's current content. Errors
// reading the file are swallowed; persistence is best effort.
func (s *Store) Persist(h script.Handle, snap *snapshot.Snapshot) {
	data, err := s.fs.ReadFile(h.Path)
	if err != nil {
		s.log.Debug().Err(err).Str("file", h.Path).Msg("skip persist, source unreadable")
		return
	}
	s.Put(h, Fingerprint(data), snap)
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Save writes the store to its backing file.
func (s *Store) Save() error {
	s.mu.RLock()
	data, err := s.encode()
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	return s.fs.WriteFile(s.path, data, fs.FileMode(0o644))
}

// encode serializes all records. Caller holds at least the read lock.
//
// Format:
//
//	[4 bytes] Magic "SRAT"
//	[4 bytes] Version (little endian)
//	[4 bytes] Record count
//	[records...]
//	  [string] FileID
//	  [string] Path
//	  [8 bytes] Fingerprint
//	  [string] Runtime name, version, path
//	  [4 bytes] Module root count, [string] each
//	  [4 bytes] Source root count, [string] each
//	  [4 bytes] Option count, [string] each
//	  [4 bytes] Diagnostic count, each:
//	    [1 byte] Severity, [4+4 bytes] Line/Column, [string] Message, Source
func (s *Store) encode() ([]byte, error) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	if _, err := w.Write(storeMagic); err != nil {
		return nil, err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(storeVersion)); err != nil {
		return nil, err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s.records))); err != nil {
		return nil, err
	}
	for id, rec := range s.records {
		if err := writeRecord(w, id, rec); err != nil {
			return nil, err
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Store) decode(data []byte) error {
	r := bufio.NewReader(bytes.NewReader(data))

	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return err
	}
	if !bytes.Equal(magic, storeMagic) {
		return ErrInvalidFormat
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return err
	}
	if version != storeVersion {
		return ErrVersionMismatch
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return err
	}

	records := make(map[script.FileID]Record, count)
	for i := uint32(0); i < count; i++ {
		id, rec, err := readRecord(r)
		if err != nil {
			return err
		}
		records[id] = rec
	}
	s.records = records
	return nil
}

func writeRecord(w *bufio.Writer, id script.FileID, rec Record) error {
	if err := writeString(w, string(id)); err != nil {
		return err
	}
	if err := writeString(w, rec.Path); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, rec.Fingerprint); err != nil {
		return err
	}

	cfg := rec.Snapshot.Config
	for _, s := range []string{cfg.Runtime.Name, cfg.Runtime.Version, cfg.Runtime.Path} {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	for _, list := range [][]string{cfg.ModuleRoots, cfg.SourceRoots, cfg.Options} {
		if err := writeStrings(w, list); err != nil {
			return err
		}
	}

	diags := rec.Snapshot.Diagnostics
	if err := binary.Write(w, binary.LittleEndian, uint32(len(diags))); err != nil {
		return err
	}
	for _, d := range diags {
		if err := w.WriteByte(byte(d.Severity)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(d.Pos.Line)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(d.Pos.Column)); err != nil {
			return err
		}
		if err := writeString(w, d.Message); err != nil {
			return err
		}
		if err := writeString(w, d.Source); err != nil {
			return err
		}
	}
	return nil
}

func readRecord(r *bufio.Reader) (script.FileID, Record, error) {
	var rec Record

	idStr, err := readString(r)
	if err != nil {
		return "", rec, err
	}
	rec.Path, err = readString(r)
	if err != nil {
		return "", rec, err
	}
	if err := binary.Read(r, binary.LittleEndian, &rec.Fingerprint); err != nil {
		return "", rec, err
	}

	var cfg snapshot.Configuration
	if cfg.Runtime.Name, err = readString(r); err != nil {
		return "", rec, err
	}
	if cfg.Runtime.Version, err = readString(r); err != nil {
		return "", rec, err
	}
	if cfg.Runtime.Path, err = readString(r); err != nil {
		return "", rec, err
	}
	if cfg.ModuleRoots, err = readStrings(r); err != nil {
		return "", rec, err
	}
	if cfg.SourceRoots, err = readStrings(r); err != nil {
		return "", rec, err
	}
	if cfg.Options, err = readStrings(r); err != nil {
		return "", rec, err
	}

	var diagCount uint32
	if err := binary.Read(r, binary.LittleEndian, &diagCount); err != nil {
		return "", rec, err
	}
	if diagCount > maxStringLength {
		return "", rec, ErrInvalidFormat
	}
	var diags []snapshot.Diagnostic
	for i := uint32(0); i < diagCount; i++ {
		var d snapshot.Diagnostic
		sev, err := r.ReadByte()
		if err != nil {
			return "", rec, err
		}
		d.Severity = snapshot.Severity(sev)
		var line, col uint32
		if err := binary.Read(r, binary.LittleEndian, &line); err != nil {
			return "", rec, err
		}
		if err := binary.Read(r, binary.LittleEndian, &col); err != nil {
			return "", rec, err
		}
		d.Pos = snapshot.Position{Line: int(line), Column: int(col)}
		if d.Message, err = readString(r); err != nil {
			return "", rec, err
		}
		if d.Source, err = readString(r); err != nil {
			return "", rec, err
		}
		diags = append(diags, d)
	}

	rec.Snapshot = snapshot.New(cfg, diags)
	return script.FileID(idStr), rec, nil
}

func writeStrings(w *bufio.Writer, list []string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(list))); err != nil {
		return err
	}
	for _, s := range list {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func readStrings(r *bufio.Reader) ([]string, error) {
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	if count > maxStringLength {
		return nil, ErrInvalidFormat
	}
	var out []string
	for i := uint32(0); i < count; i++ {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func writeString(w *bufio.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}

func readString(r *bufio.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > maxStringLength {
		return "", ErrInvalidFormat
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
