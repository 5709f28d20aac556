package commit

import (
	"sync/atomic"
)

// Context is the reference-counted record of one committed change set.
// For commits to the running datastore it is handed to change
// subscribers, each of which holds a reference while reacting; the
// registered finalizer runs when the last reference is dropped.
type Context struct {
	// SessionID is the committing session.
	SessionID string
	// Modules lists the committed modules in sorted order.
	Modules []string

	refs    atomic.Int32
	onFinal func()
}

// NewContext creates a Context holding one reference on behalf of the
// commit pipeline itself.
func NewContext(sessionID string, modules []string, onFinal func()) *Context {
	c := &Context{SessionID: sessionID, Modules: modules, onFinal: onFinal}
	c.refs.Store(1)
	return c
}

// Retain adds a reference.
func (c *Context) Retain() {
	c.refs.Add(1)
}

// Release drops a reference. The finalizer runs exactly once, when the
// count reaches zero.
func (c *Context) Release() {
	if c.refs.Add(-1) == 0 && c.onFinal != nil {
		c.onFinal()
	}
}

// Refs returns the current reference count.
func (c *Context) Refs() int32 {
	return c.refs.Load()
}
