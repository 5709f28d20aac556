// Package hooks delivers datastore lifecycle events to registered
// listeners. Pre events run synchronously and may cancel the
// triggering operation; Post events run synchronously or
// asynchronously depending on the listener's preference.
package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/INLOpen/nexusconf/core"
)

// EventType defines the type of a hook event.
type EventType string

const (
	// Commit lifecycle. PreCommit listeners may veto the commit.
	EventPreCommit  EventType = "PreCommit"
	EventPostCommit EventType = "PostCommit"

	// Per-module change notification after a successful commit to any
	// datastore.
	EventPostModuleChange EventType = "PostModuleChange"

	// Datastore administration.
	EventPostCopyConfig EventType = "PostCopyConfig"
	EventPostLock       EventType = "PostLock"
	EventPostUnlock     EventType = "PostUnlock"

	// Session lifecycle.
	EventPostSessionStart EventType = "PostSessionStart"
	EventPostSessionStop  EventType = "PostSessionStop"
)

// HookEvent is the interface all event objects implement.
type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// PreCommitPayload describes a commit about to run. Returning an error
// from a PreCommit listener aborts the commit before anything is
// loaded or persisted.
type PreCommitPayload struct {
	SessionID string
	Datastore core.Datastore
	Modules   []string
}

func NewPreCommitEvent(payload PreCommitPayload) HookEvent {
	return &BaseEvent{eventType: EventPreCommit, payload: payload}
}

// PostCommitPayload describes a finished commit attempt.
type PostCommitPayload struct {
	SessionID string
	Datastore core.Datastore
	Modules   []string
	Error     error
}

func NewPostCommitEvent(payload PostCommitPayload) HookEvent {
	return &BaseEvent{eventType: EventPostCommit, payload: payload}
}

// Retained is a reference-counted handle a notification payload may
// carry. Asynchronous listeners hold a reference for the duration of
// their OnEvent call; the last release frees the underlying resource.
type Retained interface {
	Retain()
	Release()
}

// PostModuleChangePayload carries one committed module's change list.
// For running-datastore commits, Commit is the retained commit context
// that stays alive until every subscriber has finished reacting; it is
// nil for other datastores.
type PostModuleChangePayload struct {
	Module    string
	Datastore core.Datastore
	Revision  core.Revision
	Changes   core.ChangeList
	Commit    Retained
}

func NewPostModuleChangeEvent(payload PostModuleChangePayload) HookEvent {
	return &BaseEvent{eventType: EventPostModuleChange, payload: payload}
}

// PostCopyConfigPayload describes a completed copy-config.
type PostCopyConfigPayload struct {
	SessionID string
	Source    core.Datastore
	Target    core.Datastore
	Modules   []string
}

func NewPostCopyConfigEvent(payload PostCopyConfigPayload) HookEvent {
	return &BaseEvent{eventType: EventPostCopyConfig, payload: payload}
}

// LockPayload describes a lock or unlock. Module is empty for
// datastore-wide locks.
type LockPayload struct {
	SessionID string
	Datastore core.Datastore
	Module    string
}

func NewPostLockEvent(payload LockPayload) HookEvent {
	return &BaseEvent{eventType: EventPostLock, payload: payload}
}

func NewPostUnlockEvent(payload LockPayload) HookEvent {
	return &BaseEvent{eventType: EventPostUnlock, payload: payload}
}

// SessionPayload describes a session lifecycle event.
type SessionPayload struct {
	SessionID string
	Datastore core.Datastore
}

func NewPostSessionStartEvent(payload SessionPayload) HookEvent {
	return &BaseEvent{eventType: EventPostSessionStart, payload: payload}
}

func NewPostSessionStopEvent(payload SessionPayload) HookEvent {
	return &BaseEvent{eventType: EventPostSessionStop, payload: payload}
}

// HookListener is implemented by components that want to observe
// events.
type HookListener interface {
	// OnEvent is called when a registered event fires. An error from a
	// "Pre" event cancels the operation; errors from "Post" events are
	// logged and ignored.
	OnEvent(ctx context.Context, event HookEvent) error

	// Priority orders listeners; lower numbers run first.
	Priority() int

	// IsAsync requests asynchronous delivery for Post events.
	IsAsync() bool
}

type listenerWithPriority struct {
	listener HookListener
	priority int
}

// Manager registers listeners and dispatches events to them in
// priority order.
type Manager struct {
	mu        sync.RWMutex
	listeners map[EventType][]*listenerWithPriority
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewManager creates an event manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger,
	}
}

// Register adds a listener for an event type, keeping priority order.
func (m *Manager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{listener: listener, priority: listener.Priority()}
	l := m.listeners[eventType]
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority >= item.priority
	})
	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item
	m.listeners[eventType] = l
}

// ListenerCount returns the number of listeners for an event type.
func (m *Manager) ListenerCount(eventType EventType) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners[eventType])
}

// Trigger fires all registered listeners for the event in priority
// order.
func (m *Manager) Trigger(ctx context.Context, event HookEvent) error {
	return m.trigger(ctx, event, nil)
}

// TriggerRetained fires the event like Trigger, but wraps every
// asynchronous listener invocation with a retain/release pair on h, so
// h outlives the call until the last asynchronous listener finishes.
func (m *Manager) TriggerRetained(ctx context.Context, event HookEvent, h Retained) error {
	return m.trigger(ctx, event, h)
}

func (m *Manager) trigger(ctx context.Context, event HookEvent, retained Retained) error {
	m.mu.RLock()
	listeners := m.listeners[event.Type()]
	m.mu.RUnlock()

	if len(listeners) == 0 {
		return nil
	}

	isPre := strings.HasPrefix(string(event.Type()), "Pre")

	for _, item := range listeners {
		async := item.listener.IsAsync()

		// Pre events must run synchronously so they can cancel the
		// operation.
		if isPre || !async {
			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPre {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("Error from synchronous post-hook listener.", "event", event.Type(), "priority", item.priority, "error", err)
			}
			continue
		}

		if retained != nil {
			retained.Retain()
		}
		m.wg.Add(1)
		go func(item *listenerWithPriority) {
			defer m.wg.Done()
			if retained != nil {
				defer retained.Release()
			}
			if err := item.listener.OnEvent(ctx, event); err != nil {
				m.logger.Error("Error from asynchronous post-hook listener.", "event", event.Type(), "priority", item.priority, "error", err)
			}
		}(item)
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *Manager) Stop() {
	m.wg.Wait()
}
