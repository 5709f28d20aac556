// Package storage persists module configuration trees, one file per
// (module, datastore). Each file carries a fixed header naming the
// payload compression and the module's revision counter, followed by
// the compressed JSON document form of the tree. Writes are atomic per
// module; the revision counter is bumped on every persist and serves
// as the comparable revision used for conflict detection.
package storage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/INLOpen/nexusconf/compressors"
	"github.com/INLOpen/nexusconf/core"
	"github.com/INLOpen/nexusconf/schema"
	"github.com/INLOpen/nexusconf/sys"
	"github.com/INLOpen/nexusconf/tree"
)

// Store is a file-backed persistence layer rooted at one directory.
type Store struct {
	dir        string
	compressor core.Compressor
	logger     *slog.Logger
}

// NewStore creates the data directory if needed. The compressor is
// used for new writes; reads honor whatever codec the file header
// names.
func NewStore(dir string, compressor core.Compressor, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if compressor == nil {
		compressor = &compressors.NoCompression{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return &Store{dir: dir, compressor: compressor, logger: logger}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) dataPath(module string, ds core.Datastore) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s@%s.ncf", module, ds))
}

func (s *Store) lockPath(module string, ds core.Datastore) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s@%s.lck", module, ds))
}

// Load reads the persisted tree of a module. A missing file yields an
// empty tree with defaults applied and RevisionNone.
func (s *Store) Load(m *schema.Module, ds core.Datastore) (*tree.Tree, core.Revision, error) {
	path := s.dataPath(m.Name, ds)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		t := tree.New(m)
		t.ApplyDefaults()
		return t, core.RevisionNone, nil
	}
	if err != nil {
		return nil, 0, core.NewError(core.CodeInternal, "", "read %s: %v", path, err)
	}
	hdr, offset, err := core.DecodeFileHeader(data)
	if err != nil {
		return nil, 0, core.NewError(core.CodeInternal, "", "decode %s: %v", path, err)
	}
	codec, err := compressors.ForType(hdr.Compression)
	if err != nil {
		return nil, 0, core.NewError(core.CodeInternal, "", "decode %s: %v", path, err)
	}
	doc, err := codec.Decompress(data[offset:])
	if err != nil {
		return nil, 0, core.NewError(core.CodeInternal, "", "decompress %s: %v", path, err)
	}
	t, err := tree.Unmarshal(m, doc)
	if err != nil {
		return nil, 0, core.NewError(core.CodeInternal, "", "parse %s: %v", path, err)
	}
	t.ApplyDefaults()
	return t, core.Revision(hdr.Revision), nil
}

// Revision probes the on-disk revision of a module without loading its
// payload. A missing file reports RevisionNone.
func (s *Store) Revision(module string, ds core.Datastore) (core.Revision, error) {
	path := s.dataPath(module, ds)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return core.RevisionNone, nil
	}
	if err != nil {
		return 0, core.NewError(core.CodeInternal, "", "open %s: %v", path, err)
	}
	defer f.Close()
	buf := make([]byte, core.FileHeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return 0, core.NewError(core.CodeInternal, "", "read header of %s: %v", path, err)
	}
	hdr, _, err := core.DecodeFileHeader(buf)
	if err != nil {
		return 0, core.NewError(core.CodeInternal, "", "decode %s: %v", path, err)
	}
	return core.Revision(hdr.Revision), nil
}

// Persist durably replaces the module's file with the given tree,
// bumping the revision counter. The write is all-or-nothing for this
// module. Returns the new revision.
func (s *Store) Persist(module string, ds core.Datastore, t *tree.Tree) (core.Revision, error) {
	cur, err := s.Revision(module, ds)
	if err != nil {
		return 0, err
	}
	next := uint64(cur) + 1

	doc, err := t.MarshalJSON()
	if err != nil {
		return 0, core.NewError(core.CodeInternal, "", "marshal %s: %v", module, err)
	}
	payload, err := s.compressor.Compress(doc)
	if err != nil {
		return 0, core.NewError(core.CodeInternal, "", "compress %s: %v", module, err)
	}
	hdr := core.FileHeader{Version: core.FileFormatVersion, Compression: s.compressor.Type(), Revision: next}
	data := append(hdr.Encode(), payload...)

	path := s.dataPath(module, ds)
	if err := sys.AtomicWriteFile(path, data, 0o644); err != nil {
		return 0, core.NewError(core.CodeInternal, "", "persist %s: %v", module, err)
	}
	s.logger.Debug("Persisted module.", "module", module, "datastore", ds.String(), "revision", next, "bytes", len(data))
	return core.Revision(next), nil
}

// LockModule takes the per-module commit lock serializing the
// load..persist window of concurrent commits touching the module.
func (s *Store) LockModule(module string, ds core.Datastore, block bool) (*sys.FileLock, error) {
	l, err := sys.AcquireFileLock(s.lockPath(module, ds), block)
	if err == sys.ErrWouldBlock {
		return nil, core.NewError(core.CodeLocked, "", "module %q (%s) is locked by a concurrent commit", module, ds)
	}
	if err != nil {
		return nil, core.NewError(core.CodeInternal, "", "lock module %q (%s): %v", module, ds, err)
	}
	return l, nil
}

// Exists reports whether the module has a persisted file in the
// datastore.
func (s *Store) Exists(module string, ds core.Datastore) bool {
	_, err := os.Stat(s.dataPath(module, ds))
	return err == nil
}
