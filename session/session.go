// Package session implements user sessions over the configuration
// datastores. A session lazily loads per-module working trees, applies
// edits to them immediately, and records every edit in an operation
// log so the working state can be rebuilt on top of whatever other
// sessions have committed since.
package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/INLOpen/nexusconf/core"
	"github.com/INLOpen/nexusconf/dpath"
	"github.com/INLOpen/nexusconf/edit"
	"github.com/INLOpen/nexusconf/oplog"
	"github.com/INLOpen/nexusconf/schema"
	"github.com/INLOpen/nexusconf/tree"
)

// Loader supplies module schemas and per-datastore module content to
// sessions. The engine implements it on top of the store and cache.
type Loader interface {
	// LoadModule returns a private working copy of the module's content
	// in the datastore with the revision it was loaded at.
	LoadModule(module string, ds core.Datastore) (*tree.Tree, core.Revision, error)

	// Revision returns the current persisted revision of the module in
	// the datastore without loading it.
	Revision(module string, ds core.Datastore) (core.Revision, error)

	// Module resolves a schema module by name.
	Module(name string) (*schema.Module, error)
}

// DataInfo is one module's working state inside a session.
type DataInfo struct {
	Tree     *tree.Tree
	Revision core.Revision
	Modified bool
	LoadedAt time.Time
}

// Item is one node reported by GetItems.
type Item struct {
	Path string
	// Value is set for leaves and leaf-list instances; HasValue
	// distinguishes an empty value from a valueless node.
	Value    string
	HasValue bool
}

// Session is a single client's editing context against one datastore.
// All methods are safe for concurrent use.
type Session struct {
	id      string
	loader  Loader
	applier *edit.Applier
	log     *oplog.Log
	logger  *slog.Logger

	mu   sync.Mutex
	ds   core.Datastore
	data map[string]*DataInfo
}

// New creates a session against the datastore.
func New(ds core.Datastore, loader Loader, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	id := uuid.NewString()
	return &Session{
		id:      id,
		loader:  loader,
		applier: edit.NewApplier(logger),
		log:     oplog.NewLog(),
		logger:  logger.With("session", id),
		ds:      ds,
		data:    make(map[string]*DataInfo),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Datastore returns the datastore the session currently targets.
func (s *Session) Datastore() core.Datastore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ds
}

// IsModified reports whether the session has uncommitted changes for
// the module.
func (s *Session) IsModified(module string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.data[module]
	return ok && info.Modified
}

// Modified reports whether the session has any uncommitted changes.
func (s *Session) Modified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anyModifiedLocked()
}

func (s *Session) anyModifiedLocked() bool {
	for _, info := range s.data {
		if info.Modified {
			return true
		}
	}
	return false
}

// ModifiedModules returns the modules with uncommitted changes.
func (s *Session) ModifiedModules() []string {
	return s.log.Modules()
}

// Log exposes the session's pending operation log to the commit
// pipeline.
func (s *Session) Log() *oplog.Log { return s.log }

// ModuleData returns the session's working state for one module,
// loading it on first use.
func (s *Session) ModuleData(module string) (*DataInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moduleLocked(module)
}

func (s *Session) moduleLocked(module string) (*DataInfo, error) {
	if info, ok := s.data[module]; ok {
		return info, nil
	}
	t, rev, err := s.loader.LoadModule(module, s.ds)
	if err != nil {
		return nil, err
	}
	info := &DataInfo{Tree: t, Revision: rev, LoadedAt: time.Now()}
	s.data[module] = info
	return info, nil
}

// SetItem creates or updates the node at path. A nil value means the
// operation carries no value (lists, presence containers, predicated
// leaf-list instances).
func (s *Session) SetItem(path string, value *string, flags core.EditFlags) error {
	p, err := dpath.Parse(path)
	if err != nil {
		return core.NewError(core.CodeInvalidArgument, path, "%v", err)
	}
	op := core.Operation{Kind: core.OpSet, Module: p.Module, Path: path, Flags: flags}
	if value != nil {
		op.Value = *value
		op.HasValue = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := s.moduleLocked(p.Module)
	if err != nil {
		return err
	}
	if err := s.applier.Set(info.Tree, p, op.Value, op.HasValue, flags); err != nil {
		return err
	}
	info.Modified = true
	s.log.Append(op)
	return nil
}

// DeleteItem removes the node set at path.
func (s *Session) DeleteItem(path string, flags core.EditFlags) error {
	p, err := dpath.Parse(path)
	if err != nil {
		return core.NewError(core.CodeInvalidArgument, path, "%v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := s.moduleLocked(p.Module)
	if err != nil {
		return err
	}
	if err := s.applier.Delete(info.Tree, p, flags); err != nil {
		return err
	}
	info.Modified = true
	s.log.Append(core.Operation{Kind: core.OpDelete, Module: p.Module, Path: path, Flags: flags})
	return nil
}

// MoveItem repositions a user-ordered list or leaf-list instance.
// relative is required for MoveBefore and MoveAfter and ignored
// otherwise.
func (s *Session) MoveItem(path string, pos core.MovePosition, relative string) error {
	p, err := dpath.Parse(path)
	if err != nil {
		return core.NewError(core.CodeInvalidArgument, path, "%v", err)
	}
	var rel *dpath.Path
	if relative != "" {
		rel, err = dpath.Parse(relative)
		if err != nil {
			return core.NewError(core.CodeInvalidArgument, relative, "%v", err)
		}
		if rel.Module != p.Module {
			return core.NewError(core.CodeInvalidArgument, relative, "relative instance belongs to module %q, expected %q", rel.Module, p.Module)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := s.moduleLocked(p.Module)
	if err != nil {
		return err
	}
	if err := s.applier.Move(info.Tree, p, pos, rel); err != nil {
		return err
	}
	info.Modified = true
	s.log.Append(core.Operation{Kind: core.OpMove, Module: p.Module, Path: path, Position: pos, Relative: relative})
	return nil
}

// GetItems returns the nodes matching path in the session's working
// view, in document order.
func (s *Session) GetItems(path string) ([]Item, error) {
	p, err := dpath.Parse(path)
	if err != nil {
		return nil, core.NewError(core.CodeInvalidArgument, path, "%v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := s.moduleLocked(p.Module)
	if err != nil {
		return nil, err
	}
	matches, err := info.Tree.Find(p)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(matches))
	for _, m := range matches {
		item := Item{Path: info.Tree.Path(m)}
		switch info.Tree.Schema(m).Kind {
		case schema.KindLeaf, schema.KindLeafList:
			item.Value = info.Tree.Value(m)
			item.HasValue = true
		}
		items = append(items, item)
	}
	return items, nil
}

// Validate runs structural validation over every modified module.
func (s *Session) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var agg *core.OperationError
	for name, info := range s.data {
		if !info.Modified {
			continue
		}
		if err := info.Tree.Validate(); err != nil {
			oe, ok := err.(*core.OperationError)
			if !ok {
				return fmt.Errorf("validation of module %q failed: %w", name, err)
			}
			if agg == nil {
				agg = &core.OperationError{Code: core.CodeValidationFailed}
			}
			agg.Entries = append(agg.Entries, oe.Entries...)
		}
	}
	if agg != nil {
		return agg
	}
	return nil
}

// Discard drops all pending changes and working trees.
func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Discard()
	s.data = make(map[string]*DataInfo)
}

// DiscardModule drops the pending changes and working tree of one
// module.
func (s *Session) DiscardModule(module string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.DiscardModule(module)
	delete(s.data, module)
}

// SwitchDatastore retargets the session. Pending changes are recorded
// against the original datastore and cannot be carried over, so the
// session must be clean.
func (s *Session) SwitchDatastore(ds core.Datastore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ds == ds {
		return nil
	}
	if s.anyModifiedLocked() {
		return core.NewError(core.CodeOperationFailed, "",
			"session %s has uncommitted changes, commit or discard them before switching datastores", s.id)
	}
	s.ds = ds
	s.data = make(map[string]*DataInfo)
	return nil
}

// Refresh rebases the session onto the current datastore content.
// Modules whose persisted revision is unchanged since they were loaded
// keep their working tree; the rest are reloaded concurrently and the
// pending operation log is replayed onto them. Operations that no
// longer apply are dropped from the log and reported through the
// returned error, which carries one entry per dropped operation.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	skip := make(map[string]bool)
	stale := make([]string, 0, len(s.data))
	for name, info := range s.data {
		rev, err := s.loader.Revision(name, s.ds)
		if err != nil {
			return err
		}
		if rev == info.Revision {
			skip[name] = true
			continue
		}
		stale = append(stale, name)
	}
	if len(stale) == 0 {
		return nil
	}

	fresh := make(map[string]*DataInfo, len(stale))
	var freshMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range stale {
		name := name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, rev, err := s.loader.LoadModule(name, s.ds)
			if err != nil {
				return err
			}
			freshMu.Lock()
			fresh[name] = &DataInfo{Tree: t, Revision: rev, LoadedAt: time.Now()}
			freshMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for name, info := range fresh {
		s.data[name] = info
	}

	replayErr := oplog.Replay(ctx, s.log.All(), sessionTarget{s}, skip, oplog.ContinueOnError)
	if dropped := s.log.DropErrored(); dropped > 0 {
		s.logger.Info("Dropped operations that no longer apply after refresh.", "dropped", dropped)
	}

	// An operation log emptied of a module's entries leaves that module
	// pristine again.
	for name, info := range s.data {
		if !skip[name] {
			info.Modified = s.log.HasModule(name)
		}
	}
	return replayErr
}

// sessionTarget replays logged operations onto the session's working
// trees. Refresh holds the session mutex for the whole replay, so the
// target goes straight at the data map.
type sessionTarget struct{ s *Session }

func (t sessionTarget) Apply(ctx context.Context, op *core.Operation) error {
	info, err := t.s.moduleLocked(op.Module)
	if err != nil {
		return err
	}
	return t.s.applier.Apply(ctx, info.Tree, op)
}

// ReplaceModule swaps in externally produced module state. The commit
// pipeline uses it to install the post-commit tree so the session
// continues from what it just committed.
func (s *Session) ReplaceModule(module string, t *tree.Tree, rev core.Revision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[module] = &DataInfo{Tree: t, Revision: rev, LoadedAt: time.Now()}
}

var _ oplog.Target = sessionTarget{}
