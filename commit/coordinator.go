// Package commit drives the multi-phase pipeline turning a session's
// pending operation log into durable datastore state: validate, lock,
// load, replay, revalidate, persist, notify, finalize. A commit either
// persists every touched module or, before the persist phase, changes
// nothing.
package commit

import (
	"context"
	"io"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/INLOpen/nexusconf/cache"
	"github.com/INLOpen/nexusconf/core"
	"github.com/INLOpen/nexusconf/edit"
	"github.com/INLOpen/nexusconf/hooks"
	"github.com/INLOpen/nexusconf/oplog"
	"github.com/INLOpen/nexusconf/schema"
	"github.com/INLOpen/nexusconf/session"
	"github.com/INLOpen/nexusconf/storage"
	"github.com/INLOpen/nexusconf/sys"
	"github.com/INLOpen/nexusconf/tree"
)

// Coordinator runs commits and datastore copies against one store.
type Coordinator struct {
	store    *storage.Store
	registry *schema.Registry
	cache    *cache.ModuleCache
	hooks    *hooks.Manager
	applier  *edit.Applier
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewCoordinator wires a Coordinator. tracer may be nil for a no-op
// tracer.
func NewCoordinator(store *storage.Store, registry *schema.Registry, c *cache.ModuleCache, hookMgr *hooks.Manager, tracer trace.Tracer, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("nexusconf")
	}
	return &Coordinator{
		store:    store,
		registry: registry,
		cache:    c,
		hooks:    hookMgr,
		applier:  edit.NewApplier(logger),
		tracer:   tracer,
		logger:   logger,
	}
}

// treeTarget replays logged operations onto the commit's working
// trees.
type treeTarget struct {
	applier *edit.Applier
	trees   map[string]*tree.Tree
}

func (t treeTarget) Apply(ctx context.Context, op *core.Operation) error {
	tr, ok := t.trees[op.Module]
	if !ok {
		return core.NewError(core.CodeInternal, op.Path, "no working tree for module %q", op.Module)
	}
	return t.applier.Apply(ctx, tr, op)
}

// Commit persists the session's entire pending change set into its
// datastore. Modules whose on-disk revision is unchanged since the
// session loaded them are persisted from the session's working tree
// directly; the rest get the operation log replayed onto a fresh load,
// failing the commit on the first conflicting operation.
func (c *Coordinator) Commit(ctx context.Context, sess *session.Session) (retErr error) {
	ds := sess.Datastore()
	modules := sess.Log().Modules()
	if len(modules) == 0 {
		return nil
	}

	ctx, span := c.tracer.Start(ctx, "commit", trace.WithAttributes(
		attribute.String("session.id", sess.ID()),
		attribute.String("datastore", ds.String()),
		attribute.Int("modules", len(modules)),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
		c.hooks.Trigger(ctx, hooks.NewPostCommitEvent(hooks.PostCommitPayload{
			SessionID: sess.ID(),
			Datastore: ds,
			Modules:   modules,
			Error:     retErr,
		}))
	}()

	if err := c.hooks.Trigger(ctx, hooks.NewPreCommitEvent(hooks.PreCommitPayload{
		SessionID: sess.ID(),
		Datastore: ds,
		Modules:   modules,
	})); err != nil {
		return core.NewError(core.CodeOperationFailed, "", "commit rejected: %v", err)
	}

	if err := c.phaseValidateSession(ctx, sess); err != nil {
		return err
	}

	flocks, err := c.phaseLock(ctx, modules, ds)
	if err != nil {
		return err
	}
	defer func() {
		for _, fl := range flocks {
			if rerr := fl.Release(); rerr != nil {
				c.logger.Warn("Failed to release commit lock.", "path", fl.Path(), "error", rerr)
			}
		}
	}()

	old, work, skip, err := c.phaseLoad(ctx, sess, modules, ds)
	if err != nil {
		return err
	}

	if err := c.phaseReplay(ctx, sess, work, skip); err != nil {
		return err
	}

	if err := c.phaseRevalidate(ctx, modules, work); err != nil {
		return err
	}

	revs, err := c.phasePersist(ctx, modules, ds, work)
	if err != nil {
		return err
	}

	c.phaseNotify(ctx, sess.ID(), modules, ds, old, work, revs)

	sess.Log().Discard()
	for _, name := range modules {
		sess.ReplaceModule(name, work[name], revs[name])
	}
	c.logger.Info("Commit finished.", "session", sess.ID(), "datastore", ds.String(), "modules", modules)
	return nil
}

func (c *Coordinator) phaseValidateSession(ctx context.Context, sess *session.Session) error {
	_, span := c.tracer.Start(ctx, "commit.validate")
	defer span.End()
	return sess.Validate()
}

// phaseLock serializes the load..persist window against concurrent
// commits. Modules arrive sorted, which keeps lock acquisition
// deadlock-free across processes.
func (c *Coordinator) phaseLock(ctx context.Context, modules []string, ds core.Datastore) ([]*sys.FileLock, error) {
	_, span := c.tracer.Start(ctx, "commit.lock")
	defer span.End()

	flocks := make([]*sys.FileLock, 0, len(modules))
	for _, name := range modules {
		fl, err := c.store.LockModule(name, ds, true)
		if err != nil {
			for _, held := range flocks {
				held.Release()
			}
			return nil, err
		}
		flocks = append(flocks, fl)
	}
	return flocks, nil
}

// phaseLoad reads the authoritative disk state of every touched module
// and decides, per module, whether the session tree can be used as is
// (skip set) or the log must be replayed onto the fresh load.
func (c *Coordinator) phaseLoad(ctx context.Context, sess *session.Session, modules []string, ds core.Datastore) (old, work map[string]*tree.Tree, skip map[string]bool, err error) {
	_, span := c.tracer.Start(ctx, "commit.load")
	defer span.End()

	old = make(map[string]*tree.Tree, len(modules))
	work = make(map[string]*tree.Tree, len(modules))
	skip = make(map[string]bool)
	for _, name := range modules {
		mod, merr := c.registry.Module(name)
		if merr != nil {
			return nil, nil, nil, merr
		}
		diskTree, diskRev, lerr := c.store.Load(mod, ds)
		if lerr != nil {
			return nil, nil, nil, lerr
		}
		info, derr := sess.ModuleData(name)
		if derr != nil {
			return nil, nil, nil, derr
		}
		if info.Revision == diskRev {
			skip[name] = true
			old[name] = diskTree
			work[name] = info.Tree.Copy()
			continue
		}
		old[name] = diskTree.Copy()
		work[name] = diskTree
	}
	span.SetAttributes(attribute.Int("modules.up_to_date", len(skip)))
	return old, work, skip, nil
}

func (c *Coordinator) phaseReplay(ctx context.Context, sess *session.Session, work map[string]*tree.Tree, skip map[string]bool) error {
	ctx, span := c.tracer.Start(ctx, "commit.replay")
	defer span.End()
	return oplog.Replay(ctx, sess.Log().Operations(), treeTarget{applier: c.applier, trees: work}, skip, oplog.FailFast)
}

func (c *Coordinator) phaseRevalidate(ctx context.Context, modules []string, work map[string]*tree.Tree) error {
	_, span := c.tracer.Start(ctx, "commit.revalidate")
	defer span.End()
	for _, name := range modules {
		if err := work[name].Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) phasePersist(ctx context.Context, modules []string, ds core.Datastore, work map[string]*tree.Tree) (map[string]core.Revision, error) {
	_, span := c.tracer.Start(ctx, "commit.persist")
	defer span.End()

	revs := make(map[string]core.Revision, len(modules))
	for _, name := range modules {
		rev, err := c.store.Persist(name, ds, work[name])
		if err != nil {
			// Durability is per module. Modules persisted before the failure
			// stay persisted; the caller learns which via the error path.
			return nil, err
		}
		c.cache.Invalidate(name, ds)
		revs[name] = rev
	}
	return revs, nil
}

// phaseNotify publishes one change event per module that actually
// changed. For the running datastore the events carry a shared
// reference-counted commit context that stays alive until the last
// asynchronous subscriber finishes.
func (c *Coordinator) phaseNotify(ctx context.Context, sessionID string, modules []string, ds core.Datastore, old, work map[string]*tree.Tree, revs map[string]core.Revision) {
	ctx, span := c.tracer.Start(ctx, "commit.notify")
	defer span.End()

	var cctx *Context
	if ds == core.DatastoreRunning {
		cctx = NewContext(sessionID, modules, func() {
			c.logger.Debug("Commit context fully released.", "session", sessionID)
		})
		defer cctx.Release()
	}

	for _, name := range modules {
		changes := tree.Diff(old[name], work[name])
		if len(changes) == 0 {
			continue
		}
		payload := hooks.PostModuleChangePayload{
			Module:    name,
			Datastore: ds,
			Revision:  revs[name],
			Changes:   changes,
		}
		if cctx != nil {
			payload.Commit = cctx
			c.hooks.TriggerRetained(ctx, hooks.NewPostModuleChangeEvent(payload), cctx)
			continue
		}
		c.hooks.Trigger(ctx, hooks.NewPostModuleChangeEvent(payload))
	}
}

// CopyConfig replaces the target datastore's content for the given
// modules (all installed modules when nil) with the source datastore's
// current content. Used both for explicit copies and for promoting the
// candidate into running. Copying into running validates the source
// trees and publishes change events like a commit; other targets take
// the content as is.
func (c *Coordinator) CopyConfig(ctx context.Context, sess *session.Session, source, target core.Datastore, modules []string) (retErr error) {
	if source == target {
		return nil
	}
	if modules == nil {
		modules = c.registry.Names()
	} else {
		modules = append([]string(nil), modules...)
		sort.Strings(modules)
	}

	ctx, span := c.tracer.Start(ctx, "copy_config", trace.WithAttributes(
		attribute.String("source", source.String()),
		attribute.String("target", target.String()),
		attribute.Int("modules", len(modules)),
	))
	defer func() {
		if retErr != nil {
			span.RecordError(retErr)
			span.SetStatus(codes.Error, retErr.Error())
		}
		span.End()
	}()

	flocks, err := c.phaseLock(ctx, modules, target)
	if err != nil {
		return err
	}
	defer func() {
		for _, fl := range flocks {
			if rerr := fl.Release(); rerr != nil {
				c.logger.Warn("Failed to release commit lock.", "path", fl.Path(), "error", rerr)
			}
		}
	}()

	old := make(map[string]*tree.Tree, len(modules))
	work := make(map[string]*tree.Tree, len(modules))
	for _, name := range modules {
		mod, merr := c.registry.Module(name)
		if merr != nil {
			return merr
		}
		targetTree, _, lerr := c.store.Load(mod, target)
		if lerr != nil {
			return lerr
		}
		sourceTree, _, lerr := c.store.Load(mod, source)
		if lerr != nil {
			return lerr
		}
		old[name] = targetTree
		work[name] = sourceTree
	}

	if target == core.DatastoreRunning {
		if err := c.phaseRevalidate(ctx, modules, work); err != nil {
			return err
		}
	}

	revs, err := c.phasePersist(ctx, modules, target, work)
	if err != nil {
		return err
	}

	if target == core.DatastoreRunning {
		c.phaseNotify(ctx, sess.ID(), modules, target, old, work, revs)
	}

	c.hooks.Trigger(ctx, hooks.NewPostCopyConfigEvent(hooks.PostCopyConfigPayload{
		SessionID: sess.ID(),
		Source:    source,
		Target:    target,
		Modules:   modules,
	}))
	c.logger.Info("Copy-config finished.", "source", source.String(), "target", target.String(), "modules", modules)
	return nil
}
