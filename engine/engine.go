// Package engine assembles the configuration datastore: schema
// registry, persistent store, module cache, lock manager, hook manager
// and the commit pipeline, behind one facade that sessions connect to.
package engine

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/INLOpen/nexusconf/cache"
	"github.com/INLOpen/nexusconf/commit"
	"github.com/INLOpen/nexusconf/compressors"
	"github.com/INLOpen/nexusconf/core"
	"github.com/INLOpen/nexusconf/hooks"
	"github.com/INLOpen/nexusconf/locks"
	"github.com/INLOpen/nexusconf/schema"
	"github.com/INLOpen/nexusconf/session"
	"github.com/INLOpen/nexusconf/storage"
	"github.com/INLOpen/nexusconf/tree"
)

var (
	// ErrEngineClosed is returned by operations on a closed engine.
	ErrEngineClosed = errors.New("engine is closed")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("engine already started")
	// ErrNotStarted is returned when sessions connect before Start.
	ErrNotStarted = errors.New("engine not started")
)

// Options configures a ConfEngine.
type Options struct {
	// DataDir holds the persisted datastore files.
	DataDir string
	// SchemaDir holds the YAML module definitions loaded at Start.
	SchemaDir string
	// LockDir holds the session lock files. Defaults to DataDir.
	LockDir string
	// Compression names the codec for newly persisted files: none,
	// snappy, lz4 or zstd. Defaults to none.
	Compression string
	// CacheCapacity bounds the module tree cache. Zero disables caching.
	CacheCapacity int
	// TracerProvider supplies commit tracing. Nil means no tracing.
	TracerProvider trace.TracerProvider
	// Logger receives engine logs. Nil discards them.
	Logger *slog.Logger
}

// ConfEngine is the datastore facade. All methods are safe for
// concurrent use.
type ConfEngine struct {
	opts     Options
	logger   *slog.Logger
	registry *schema.Registry
	store    *storage.Store
	cache    *cache.ModuleCache
	locks    *locks.Manager
	hooks    *hooks.Manager
	commits  *commit.Coordinator
	tracer   trace.Tracer

	mu       sync.Mutex
	sessions map[string]*session.Session
	started  bool
	closed   bool
}

var (
	metricsOnce sync.Once
	cacheHits   *expvar.Int
	cacheMisses *expvar.Int
)

// cacheMetrics registers the process-wide cache counters once; expvar
// panics on duplicate names.
func cacheMetrics() (*expvar.Int, *expvar.Int) {
	metricsOnce.Do(func() {
		cacheHits = expvar.NewInt("nexusconf.cache.hits")
		cacheMisses = expvar.NewInt("nexusconf.cache.misses")
	})
	return cacheHits, cacheMisses
}

// NewConfEngine builds an engine from opts. Call Start before
// connecting sessions.
func NewConfEngine(opts Options) (*ConfEngine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctype, err := core.ParseCompression(opts.Compression)
	if err != nil {
		return nil, err
	}
	codec, err := compressors.ForType(ctype)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewStore(opts.DataDir, codec, logger)
	if err != nil {
		return nil, err
	}
	lockDir := opts.LockDir
	if lockDir == "" {
		lockDir = opts.DataDir
	}
	lockMgr, err := locks.NewManager(lockDir, logger)
	if err != nil {
		return nil, err
	}

	tracer := trace.Tracer(noop.NewTracerProvider().Tracer("nexusconf"))
	if opts.TracerProvider != nil {
		tracer = opts.TracerProvider.Tracer("nexusconf")
	}

	moduleCache := cache.New(opts.CacheCapacity)
	moduleCache.SetMetrics(cacheMetrics())
	registry := schema.NewRegistry(logger)
	hookMgr := hooks.NewManager(logger)

	return &ConfEngine{
		opts:     opts,
		logger:   logger,
		registry: registry,
		store:    store,
		cache:    moduleCache,
		locks:    lockMgr,
		hooks:    hookMgr,
		commits:  commit.NewCoordinator(store, registry, moduleCache, hookMgr, tracer, logger),
		tracer:   tracer,
		sessions: make(map[string]*session.Session),
	}, nil
}

// Start loads the schema modules and makes the engine ready for
// sessions.
func (e *ConfEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if e.started {
		return ErrAlreadyStarted
	}
	if e.opts.SchemaDir != "" {
		if err := e.registry.LoadDir(e.opts.SchemaDir); err != nil {
			return fmt.Errorf("load schemas: %w", err)
		}
	}
	e.started = true
	e.logger.Info("Engine started.", "data_dir", e.opts.DataDir, "modules", e.registry.Len())
	return nil
}

// Close shuts the engine down: closes every open session, waits for
// asynchronous hook listeners and drops all held locks.
func (e *ConfEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	e.closed = true
	open := make([]*session.Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		open = append(open, s)
	}
	e.sessions = make(map[string]*session.Session)
	e.mu.Unlock()

	for _, s := range open {
		e.locks.ReleaseSession(s.ID())
	}
	e.hooks.Stop()
	e.locks.Close()
	e.logger.Info("Engine closed.")
	return nil
}

// Registry exposes the schema registry, e.g. for module installation
// at provisioning time.
func (e *ConfEngine) Registry() *schema.Registry { return e.registry }

// GetHookManager exposes the hook manager for listener registration.
func (e *ConfEngine) GetHookManager() *hooks.Manager { return e.hooks }

// Connect opens a session against the datastore.
func (e *ConfEngine) Connect(ctx context.Context, ds core.Datastore) (*session.Session, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	if !e.started {
		e.mu.Unlock()
		return nil, ErrNotStarted
	}
	sess := session.New(ds, e, e.logger)
	e.sessions[sess.ID()] = sess
	e.mu.Unlock()

	e.hooks.Trigger(ctx, hooks.NewPostSessionStartEvent(hooks.SessionPayload{
		SessionID: sess.ID(),
		Datastore: ds,
	}))
	return sess, nil
}

// CloseSession ends a session, dropping its pending changes and every
// lock it holds.
func (e *ConfEngine) CloseSession(ctx context.Context, sess *session.Session) error {
	e.mu.Lock()
	if _, ok := e.sessions[sess.ID()]; !ok {
		e.mu.Unlock()
		return core.NewError(core.CodeNotFound, "", "session %s is not open", sess.ID())
	}
	delete(e.sessions, sess.ID())
	e.mu.Unlock()

	e.locks.ReleaseSession(sess.ID())
	sess.Discard()
	e.hooks.Trigger(ctx, hooks.NewPostSessionStopEvent(hooks.SessionPayload{
		SessionID: sess.ID(),
		Datastore: sess.Datastore(),
	}))
	return nil
}

// Commit persists the session's pending changes. Modules exclusively
// locked by another session cannot be committed into.
func (e *ConfEngine) Commit(ctx context.Context, sess *session.Session) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.locks.HeldByOther(sess, sess.Log().Modules(), sess.Datastore()); err != nil {
		return err
	}
	return e.commits.Commit(ctx, sess)
}

// CopyConfig replaces target datastore content with source content for
// the given modules (all when nil). Like Commit, it respects module
// locks held by other sessions on the target datastore.
func (e *ConfEngine) CopyConfig(ctx context.Context, sess *session.Session, source, target core.Datastore, modules []string) error {
	if err := e.ready(); err != nil {
		return err
	}
	guarded := modules
	if guarded == nil {
		guarded = e.registry.Names()
	}
	if err := e.locks.HeldByOther(sess, guarded, target); err != nil {
		return err
	}
	return e.commits.CopyConfig(ctx, sess, source, target, modules)
}

// LockModule takes the exclusive session lock on one module in the
// session's datastore.
func (e *ConfEngine) LockModule(ctx context.Context, sess *session.Session, module string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if _, err := e.registry.Module(module); err != nil {
		return err
	}
	ds := sess.Datastore()
	if err := e.locks.LockModule(sess, module, ds); err != nil {
		return err
	}
	e.hooks.Trigger(ctx, hooks.NewPostLockEvent(hooks.LockPayload{
		SessionID: sess.ID(),
		Datastore: ds,
		Module:    module,
	}))
	return nil
}

// UnlockModule releases a module lock held by the session.
func (e *ConfEngine) UnlockModule(ctx context.Context, sess *session.Session, module string) error {
	if err := e.ready(); err != nil {
		return err
	}
	ds := sess.Datastore()
	if err := e.locks.UnlockModule(sess, module, ds); err != nil {
		return err
	}
	e.hooks.Trigger(ctx, hooks.NewPostUnlockEvent(hooks.LockPayload{
		SessionID: sess.ID(),
		Datastore: ds,
		Module:    module,
	}))
	return nil
}

// LockDatastore locks every installed module in the session's
// datastore for the session.
func (e *ConfEngine) LockDatastore(ctx context.Context, sess *session.Session) error {
	if err := e.ready(); err != nil {
		return err
	}
	ds := sess.Datastore()
	if err := e.locks.LockDatastore(sess, e.registry.Names(), ds); err != nil {
		return err
	}
	e.hooks.Trigger(ctx, hooks.NewPostLockEvent(hooks.LockPayload{
		SessionID: sess.ID(),
		Datastore: ds,
	}))
	return nil
}

// UnlockDatastore releases the session's datastore-wide lock.
func (e *ConfEngine) UnlockDatastore(ctx context.Context, sess *session.Session) error {
	if err := e.ready(); err != nil {
		return err
	}
	ds := sess.Datastore()
	if err := e.locks.UnlockDatastore(sess, e.registry.Names(), ds); err != nil {
		return err
	}
	e.hooks.Trigger(ctx, hooks.NewPostUnlockEvent(hooks.LockPayload{
		SessionID: sess.ID(),
		Datastore: ds,
	}))
	return nil
}

func (e *ConfEngine) ready() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if !e.started {
		return ErrNotStarted
	}
	return nil
}

// LoadModule loads a private working copy of a module's content
// through the cache. It implements session.Loader.
func (e *ConfEngine) LoadModule(module string, ds core.Datastore) (*tree.Tree, core.Revision, error) {
	mod, err := e.registry.Module(module)
	if err != nil {
		return nil, 0, err
	}
	return e.cache.GetOrLoad(module, ds, func() (*tree.Tree, core.Revision, error) {
		return e.store.Load(mod, ds)
	})
}

// Revision reports the persisted revision of a module.
func (e *ConfEngine) Revision(module string, ds core.Datastore) (core.Revision, error) {
	return e.store.Revision(module, ds)
}

// Module resolves a schema module by name.
func (e *ConfEngine) Module(name string) (*schema.Module, error) {
	return e.registry.Module(name)
}

var _ session.Loader = (*ConfEngine)(nil)
