// Package oplog holds a session's ordered record of pending edits and
// the replay engine that re-applies them onto freshly loaded trees.
package oplog

import (
	"sort"
	"sync"

	"github.com/INLOpen/nexusconf/core"
)

// Log is a session's append-only record of pending edits. Operations
// are never reordered; they are removed wholesale by Discard or
// individually by DropErrored after a continue-on-error replay.
type Log struct {
	mu  sync.Mutex
	ops []core.Operation
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append records one applied operation.
func (l *Log) Append(op core.Operation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

// Len returns the number of pending operations.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ops)
}

// Operations returns a copy of the pending operations in order.
func (l *Log) Operations() []core.Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.Operation, len(l.ops))
	copy(out, l.ops)
	return out
}

// All returns the underlying operation slice. Replay mutates the
// HasError flags in place through it; the caller must not retain it
// across other log mutations.
func (l *Log) All() []core.Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ops
}

// Modules returns the distinct module names touched by pending
// operations, sorted.
func (l *Log) Modules() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[string]bool)
	for i := range l.ops {
		seen[l.ops[i].Module] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasModule reports whether any pending operation touches the module.
func (l *Log) HasModule(module string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.ops {
		if l.ops[i].Module == module {
			return true
		}
	}
	return false
}

// Discard drops all pending operations.
func (l *Log) Discard() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = nil
}

// DiscardModule drops the pending operations of one module.
func (l *Log) DiscardModule(module string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.ops[:0]
	for i := range l.ops {
		if l.ops[i].Module != module {
			kept = append(kept, l.ops[i])
		}
	}
	l.ops = kept
}

// DropErrored removes the operations flagged by a continue-on-error
// replay and returns how many were dropped. Successful operations
// remain pending in their original order.
func (l *Log) DropErrored() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.ops[:0]
	dropped := 0
	for i := range l.ops {
		if l.ops[i].HasError {
			dropped++
			continue
		}
		kept = append(kept, l.ops[i])
	}
	l.ops = kept
	return dropped
}

// RemoveLast drops the most recently appended operation. Used to roll
// back the log when the paired live-tree mutation cannot be kept.
func (l *Log) RemoveLast() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.ops) > 0 {
		l.ops = l.ops[:len(l.ops)-1]
	}
}
