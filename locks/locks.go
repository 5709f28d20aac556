// Package locks arbitrates exclusive module and datastore locks
// between sessions. Every held lock is backed by an advisory OS file
// lock, so locks held by a crashed process evaporate with it instead
// of wedging the datastore.
package locks

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/INLOpen/nexusconf/core"
	"github.com/INLOpen/nexusconf/sys"
)

// Session is the view of a session the lock manager needs.
type Session interface {
	// ID identifies the session.
	ID() string
	// IsModified reports whether the session has uncommitted changes for
	// the module.
	IsModified(module string) bool
}

type entry struct {
	sessionID string
	flock     *sys.FileLock
}

// Manager tracks which session holds which (module, datastore) lock.
type Manager struct {
	dir    string
	logger *slog.Logger

	mu   sync.Mutex
	held map[string]*entry
}

// NewManager creates a lock manager rooted at dir. The directory is
// created if needed.
func NewManager(dir string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory %s: %w", dir, err)
	}
	return &Manager{dir: dir, logger: logger, held: make(map[string]*entry)}, nil
}

func lockKey(module string, ds core.Datastore) string {
	return module + "@" + ds.String()
}

func (m *Manager) lockFilePath(module string, ds core.Datastore) string {
	return filepath.Join(m.dir, fmt.Sprintf("%s@%s.lock", module, ds))
}

// LockModule acquires the exclusive lock on one module within a
// datastore for sess. The session must have no pending changes for the
// module; locking would otherwise freeze an inconsistent baseline
// under it.
func (m *Manager) LockModule(sess Session, module string, ds core.Datastore) error {
	if sess.IsModified(module) {
		return core.NewError(core.CodeOperationFailed, "",
			"session %s has pending changes for module %q, commit or discard them before locking", sess.ID(), module)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockLocked(sess, module, ds)
}

// lockLocked acquires one module lock with m.mu held.
func (m *Manager) lockLocked(sess Session, module string, ds core.Datastore) error {
	key := lockKey(module, ds)
	if e, ok := m.held[key]; ok {
		if e.sessionID == sess.ID() {
			return nil
		}
		return core.NewError(core.CodeLocked, "",
			"module %q in %s is locked by session %s", module, ds, e.sessionID)
	}

	flock, err := sys.AcquireFileLock(m.lockFilePath(module, ds), false)
	if err != nil {
		if errors.Is(err, sys.ErrWouldBlock) {
			return core.NewError(core.CodeLocked, "",
				"module %q in %s is locked by another process", module, ds)
		}
		return fmt.Errorf("failed to acquire lock file for %s: %w", key, err)
	}
	m.held[key] = &entry{sessionID: sess.ID(), flock: flock}
	m.logger.Debug("Module locked.", "module", module, "datastore", ds.String(), "session", sess.ID())
	return nil
}

// UnlockModule releases a module lock held by sess.
func (m *Manager) UnlockModule(sess Session, module string, ds core.Datastore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlockLocked(sess, module, ds)
}

func (m *Manager) unlockLocked(sess Session, module string, ds core.Datastore) error {
	key := lockKey(module, ds)
	e, ok := m.held[key]
	if !ok {
		return core.NewError(core.CodeInvalidArgument, "",
			"module %q in %s is not locked", module, ds)
	}
	if e.sessionID != sess.ID() {
		return core.NewError(core.CodeInvalidArgument, "",
			"module %q in %s is locked by session %s, not by session %s", module, ds, e.sessionID, sess.ID())
	}
	if err := e.flock.Release(); err != nil {
		m.logger.Warn("Failed to release lock file.", "module", module, "datastore", ds.String(), "error", err)
	}
	delete(m.held, key)
	m.logger.Debug("Module unlocked.", "module", module, "datastore", ds.String(), "session", sess.ID())
	return nil
}

// LockDatastore locks every named module in the datastore for sess.
// Modules are acquired in sorted name order so concurrent datastore
// locks cannot deadlock; on any failure the modules already acquired
// by this call are released again.
func (m *Manager) LockDatastore(sess Session, modules []string, ds core.Datastore) error {
	for _, module := range modules {
		if sess.IsModified(module) {
			return core.NewError(core.CodeOperationFailed, "",
				"session %s has pending changes for module %q, commit or discard them before locking", sess.ID(), module)
		}
	}

	sorted := make([]string, len(modules))
	copy(sorted, modules)
	sort.Strings(sorted)

	m.mu.Lock()
	defer m.mu.Unlock()

	acquired := make([]string, 0, len(sorted))
	for _, module := range sorted {
		if _, ok := m.held[lockKey(module, ds)]; ok && m.held[lockKey(module, ds)].sessionID == sess.ID() {
			// Already held from an earlier module lock; keep it held after a
			// failed datastore lock too.
			continue
		}
		if err := m.lockLocked(sess, module, ds); err != nil {
			for _, a := range acquired {
				if uerr := m.unlockLocked(sess, a, ds); uerr != nil {
					m.logger.Warn("Failed to roll back module lock.", "module", a, "datastore", ds.String(), "error", uerr)
				}
			}
			return err
		}
		acquired = append(acquired, module)
	}
	return nil
}

// UnlockDatastore releases every module lock sess holds in the
// datastore.
func (m *Manager) UnlockDatastore(sess Session, modules []string, ds core.Datastore) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for _, module := range modules {
		key := lockKey(module, ds)
		e, ok := m.held[key]
		if !ok || e.sessionID != sess.ID() {
			continue
		}
		if err := m.unlockLocked(sess, module, ds); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HeldByOther returns a Locked error when any of the named modules is
// locked by a session other than sess. The commit path uses it to deny
// writes into a module another session holds exclusively.
func (m *Manager) HeldByOther(sess Session, modules []string, ds core.Datastore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, module := range modules {
		if e, ok := m.held[lockKey(module, ds)]; ok && e.sessionID != sess.ID() {
			return core.NewError(core.CodeLocked, "",
				"module %q in %s is locked by session %s", module, ds, e.sessionID)
		}
	}
	return nil
}

// IsLockedBy reports whether sessionID holds the module lock.
func (m *Manager) IsLockedBy(sessionID, module string, ds core.Datastore) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.held[lockKey(module, ds)]
	return ok && e.sessionID == sessionID
}

// Holder returns the session holding the module lock, or "" when the
// module is unlocked.
func (m *Manager) Holder(module string, ds core.Datastore) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.held[lockKey(module, ds)]; ok {
		return e.sessionID
	}
	return ""
}

// ReleaseSession drops every lock held by the session. Called when a
// session is closed so its locks never outlive it.
func (m *Manager) ReleaseSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.held {
		if e.sessionID != sessionID {
			continue
		}
		if err := e.flock.Release(); err != nil {
			m.logger.Warn("Failed to release lock file.", "key", key, "error", err)
		}
		delete(m.held, key)
	}
}

// Close releases every held lock. Called at engine shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.held {
		if err := e.flock.Release(); err != nil {
			m.logger.Warn("Failed to release lock file.", "key", key, "error", err)
		}
		delete(m.held, key)
	}
}
