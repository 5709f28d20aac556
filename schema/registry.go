package schema

import (
	"io"
	"log/slog"
	"sync"

	"github.com/INLOpen/nexusconf/core"
)

// Registry holds the installed schema modules. Lookups proceed
// concurrently; Install and Remove take exclusive access, matching the
// reader-writer discipline required for structural schema mutation.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*Module
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		modules: make(map[string]*Module),
		logger:  logger,
	}
}

// Install adds a module. Installing over an existing name fails.
func (r *Registry) Install(m *Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[m.Name]; exists {
		return core.NewError(core.CodeInvalidArgument, "", "module %q is already installed", m.Name)
	}
	r.modules[m.Name] = m
	r.logger.Info("Installed schema module.", "module", m.Name, "revision", m.Revision)
	return nil
}

// Remove uninstalls a module.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[name]; !exists {
		return core.NewError(core.CodeNotFound, "", "module %q is not installed", name)
	}
	delete(r.modules, name)
	r.logger.Info("Removed schema module.", "module", name)
	return nil
}

// Module returns the named module.
func (r *Registry) Module(name string) (*Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[name]
	if !ok {
		return nil, core.NewError(core.CodeNotFound, "", "module %q is not installed", name)
	}
	return m, nil
}

// Names returns the installed module names in sorted order. The sort
// order is also the lock acquisition order for datastore-wide locks.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedNames(r.modules)
}

// Len returns the number of installed modules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}
