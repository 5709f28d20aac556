package hooks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusconf/core"
)

type testListener struct {
	priority int
	async    bool
	err      error
	fn       func(HookEvent)
}

func (l *testListener) OnEvent(_ context.Context, e HookEvent) error {
	if l.fn != nil {
		l.fn(e)
	}
	return l.err
}

func (l *testListener) Priority() int { return l.priority }
func (l *testListener) IsAsync() bool { return l.async }

func TestTrigger_PriorityOrder(t *testing.T) {
	m := NewManager(nil)
	var mu sync.Mutex
	var order []int
	record := func(p int) func(HookEvent) {
		return func(HookEvent) {
			mu.Lock()
			order = append(order, p)
			mu.Unlock()
		}
	}

	m.Register(EventPostCommit, &testListener{priority: 20, fn: record(20)})
	m.Register(EventPostCommit, &testListener{priority: 5, fn: record(5)})
	m.Register(EventPostCommit, &testListener{priority: 10, fn: record(10)})
	require.Equal(t, 3, m.ListenerCount(EventPostCommit))

	err := m.Trigger(context.Background(), NewPostCommitEvent(PostCommitPayload{SessionID: "s"}))
	require.NoError(t, err)
	assert.Equal(t, []int{5, 10, 20}, order)
}

func TestTrigger_PreHookVeto(t *testing.T) {
	m := NewManager(nil)
	veto := errors.New("not today")
	var laterRan bool
	m.Register(EventPreCommit, &testListener{priority: 1, err: veto})
	m.Register(EventPreCommit, &testListener{priority: 2, fn: func(HookEvent) { laterRan = true }})

	err := m.Trigger(context.Background(), NewPreCommitEvent(PreCommitPayload{SessionID: "s"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, veto)
	assert.False(t, laterRan, "a veto stops the chain")
}

func TestTrigger_PreHooksRunSynchronously(t *testing.T) {
	m := NewManager(nil)
	veto := errors.New("no")
	// An async listener on a Pre event still runs inline so it can veto.
	m.Register(EventPreCommit, &testListener{priority: 1, async: true, err: veto})

	err := m.Trigger(context.Background(), NewPreCommitEvent(PreCommitPayload{}))
	assert.ErrorIs(t, err, veto)
}

func TestTrigger_SyncPostErrorsAreSwallowed(t *testing.T) {
	m := NewManager(nil)
	m.Register(EventPostCommit, &testListener{priority: 1, err: errors.New("logged only")})

	err := m.Trigger(context.Background(), NewPostCommitEvent(PostCommitPayload{}))
	assert.NoError(t, err)
}

func TestTrigger_AsyncDelivery(t *testing.T) {
	m := NewManager(nil)
	var calls atomic.Int32
	m.Register(EventPostModuleChange, &testListener{priority: 1, async: true, fn: func(HookEvent) {
		calls.Add(1)
	}})

	err := m.Trigger(context.Background(), NewPostModuleChangeEvent(PostModuleChangePayload{Module: "net"}))
	require.NoError(t, err)
	m.Stop()
	assert.Equal(t, int32(1), calls.Load())
}

// countedHandle tracks retain/release balance.
type countedHandle struct {
	refs  atomic.Int32
	freed atomic.Bool
}

func (h *countedHandle) Retain() { h.refs.Add(1) }
func (h *countedHandle) Release() {
	if h.refs.Add(-1) == 0 {
		h.freed.Store(true)
	}
}

func TestTriggerRetained(t *testing.T) {
	m := NewManager(nil)
	h := &countedHandle{}
	h.refs.Store(1) // caller's own reference

	started := make(chan struct{})
	proceed := make(chan struct{})
	var sawLiveHandle atomic.Bool
	m.Register(EventPostModuleChange, &testListener{priority: 1, async: true, fn: func(e HookEvent) {
		close(started)
		<-proceed
		sawLiveHandle.Store(!h.freed.Load())
	}})
	m.Register(EventPostModuleChange, &testListener{priority: 2, fn: func(HookEvent) {}})

	payload := PostModuleChangePayload{Module: "net", Datastore: core.DatastoreRunning, Commit: h}
	require.NoError(t, m.TriggerRetained(context.Background(), NewPostModuleChangeEvent(payload), h))

	<-started
	// The caller drops its reference while the async listener still runs.
	h.Release()
	assert.False(t, h.freed.Load(), "the async listener's reference keeps the handle alive")

	close(proceed)
	m.Stop()
	assert.True(t, h.freed.Load())
	assert.True(t, sawLiveHandle.Load())
}

func TestTrigger_NoListeners(t *testing.T) {
	m := NewManager(nil)
	assert.NoError(t, m.Trigger(context.Background(), NewPostLockEvent(LockPayload{SessionID: "s"})))
}
