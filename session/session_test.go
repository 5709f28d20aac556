package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusconf/core"
	"github.com/INLOpen/nexusconf/dpath"
	"github.com/INLOpen/nexusconf/internal/testutil"
	"github.com/INLOpen/nexusconf/schema"
	"github.com/INLOpen/nexusconf/tree"
)

// stubLoader serves module content from in-memory trees so tests can
// mutate "persisted" state and bump revisions between refreshes.
type stubLoader struct {
	mod *schema.Module

	mu    sync.Mutex
	trees map[string]*tree.Tree
	revs  map[string]core.Revision
	loads map[string]int
}

func newStubLoader(t *testing.T) *stubLoader {
	t.Helper()
	return &stubLoader{
		mod:   testutil.Module(t),
		trees: make(map[string]*tree.Tree),
		revs:  make(map[string]core.Revision),
		loads: make(map[string]int),
	}
}

func (l *stubLoader) key(module string, ds core.Datastore) string {
	return module + "@" + ds.String()
}

func (l *stubLoader) LoadModule(module string, ds core.Datastore) (*tree.Tree, core.Revision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := l.key(module, ds)
	l.loads[k]++
	if t, ok := l.trees[k]; ok {
		return t.Copy(), l.revs[k], nil
	}
	return tree.New(l.mod), core.RevisionNone, nil
}

func (l *stubLoader) Revision(module string, ds core.Datastore) (core.Revision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.revs[l.key(module, ds)], nil
}

func (l *stubLoader) Module(name string) (*schema.Module, error) {
	if name != l.mod.Name {
		return nil, core.NewError(core.CodeNotFound, "", "unknown module %q", name)
	}
	return l.mod, nil
}

// install replaces the persisted tree and bumps the revision.
func (l *stubLoader) install(module string, ds core.Datastore, t *tree.Tree) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := l.key(module, ds)
	l.trees[k] = t
	l.revs[k]++
}

func strp(s string) *string { return &s }

func newSession(t *testing.T) (*Session, *stubLoader) {
	t.Helper()
	l := newStubLoader(t)
	return New(core.DatastoreRunning, l, nil), l
}

func TestSession_SetAndGet(t *testing.T) {
	s, _ := newSession(t)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, core.DatastoreRunning, s.Datastore())

	require.NoError(t, s.SetItem("/net:system/location", strp("rack-1"), 0))
	require.NoError(t, s.SetItem("/net:interfaces/interface[name='eth0']", nil, 0))

	items, err := s.GetItems("/net:system/location")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "rack-1", items[0].Value)
	assert.True(t, items[0].HasValue)

	items, err = s.GetItems("/net:interfaces/interface")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "/net:interfaces/interface[name='eth0']", items[0].Path)
	assert.False(t, items[0].HasValue)

	assert.True(t, s.Modified())
	assert.True(t, s.IsModified("net"))
	assert.Equal(t, []string{"net"}, s.ModifiedModules())
	assert.Equal(t, 2, s.Log().Len())
}

func TestSession_PathErrors(t *testing.T) {
	s, _ := newSession(t)

	assert.True(t, core.IsCode(s.SetItem("bogus", strp("x"), 0), core.CodeInvalidArgument))
	assert.True(t, core.IsCode(s.DeleteItem("bogus", 0), core.CodeInvalidArgument))
	assert.True(t, core.IsCode(s.MoveItem("bogus", core.MoveFirst, ""), core.CodeInvalidArgument))

	// Failed edits leave the log untouched.
	assert.Equal(t, 0, s.Log().Len())
	assert.False(t, s.Modified())
}

func TestSession_DeleteItem(t *testing.T) {
	s, _ := newSession(t)
	require.NoError(t, s.SetItem("/net:system/location", strp("rack-1"), 0))
	require.NoError(t, s.DeleteItem("/net:system/location", 0))

	items, err := s.GetItems("/net:system")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 2, s.Log().Len(), "the delete is recorded, not cancelled against the set")
}

func TestSession_MoveItem(t *testing.T) {
	s, _ := newSession(t)
	for _, v := range []string{"10.0.0.1", "10.0.0.2"} {
		require.NoError(t, s.SetItem("/net:dns/server", strp(v), 0))
	}

	err := s.MoveItem("/net:dns/server[.='10.0.0.2']", core.MoveBefore, "/other:server[.='x']")
	assert.True(t, core.IsCode(err, core.CodeInvalidArgument), "relative must address the same module list")

	require.NoError(t, s.MoveItem("/net:dns/server[.='10.0.0.2']", core.MoveFirst, ""))
	items, err := s.GetItems("/net:dns/server")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "10.0.0.2", items[0].Value)
}

func TestSession_Validate(t *testing.T) {
	s, _ := newSession(t)
	require.NoError(t, s.SetItem("/net:interfaces/interface[name='eth0']/address[ip='10.0.0.1']", nil, 0))

	err := s.Validate()
	require.Error(t, err)
	assert.True(t, core.IsCode(err, core.CodeValidationFailed))

	require.NoError(t, s.SetItem("/net:interfaces/interface[name='eth0']/address[ip='10.0.0.1']/prefixlen", strp("24"), 0))
	assert.NoError(t, s.Validate())
}

func TestSession_Discard(t *testing.T) {
	s, _ := newSession(t)
	require.NoError(t, s.SetItem("/net:system/location", strp("rack-1"), 0))

	s.Discard()
	assert.False(t, s.Modified())
	assert.Equal(t, 0, s.Log().Len())

	items, err := s.GetItems("/net:system/location")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSession_DiscardModule(t *testing.T) {
	s, _ := newSession(t)
	require.NoError(t, s.SetItem("/net:system/location", strp("rack-1"), 0))

	s.DiscardModule("net")
	assert.False(t, s.IsModified("net"))
	assert.Equal(t, 0, s.Log().Len())
}

func TestSession_SwitchDatastore(t *testing.T) {
	s, _ := newSession(t)
	require.NoError(t, s.SwitchDatastore(core.DatastoreRunning), "switching to the current datastore is a no-op")

	require.NoError(t, s.SetItem("/net:system/location", strp("rack-1"), 0))
	err := s.SwitchDatastore(core.DatastoreCandidate)
	assert.True(t, core.IsCode(err, core.CodeOperationFailed))

	s.Discard()
	require.NoError(t, s.SwitchDatastore(core.DatastoreCandidate))
	assert.Equal(t, core.DatastoreCandidate, s.Datastore())

	items, err := s.GetItems("/net:system/location")
	require.NoError(t, err)
	assert.Empty(t, items, "working trees do not carry across datastores")
}

func TestRefresh_UnchangedModulesKeepTheirTrees(t *testing.T) {
	s, l := newSession(t)
	require.NoError(t, s.SetItem("/net:system/location", strp("rack-1"), 0))
	before := l.loads["net@running"]

	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, before, l.loads["net@running"], "an up-to-date module is not reloaded")

	items, err := s.GetItems("/net:system/location")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "rack-1", items[0].Value)
	assert.True(t, s.Modified())
}

func TestRefresh_RebasesOntoNewContent(t *testing.T) {
	s, l := newSession(t)
	require.NoError(t, s.SetItem("/net:system/location", strp("rack-1"), 0))

	// Another session committed mtu behind our back.
	committed := tree.New(l.mod)
	_, _, err := committed.Ensure(mustPath(t, "/net:system/mtu"), "9000", true)
	require.NoError(t, err)
	l.install("net", core.DatastoreRunning, committed)

	require.NoError(t, s.Refresh(context.Background()))

	items, err := s.GetItems("/net:system/location")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "rack-1", items[0].Value, "the pending edit was replayed")

	items, err = s.GetItems("/net:system/mtu")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "9000", items[0].Value, "the committed edit shows through")

	assert.True(t, s.IsModified("net"))
	assert.Equal(t, 1, s.Log().Len())
}

func TestRefresh_DropsOperationsThatNoLongerApply(t *testing.T) {
	s, l := newSession(t)
	base := tree.New(l.mod)
	for _, id := range []string{"10", "20"} {
		_, _, err := base.Ensure(mustPath(t, "/net:rule[id='"+id+"']/action"), "permit", true)
		require.NoError(t, err)
	}
	l.install("net", core.DatastoreRunning, base)

	require.NoError(t, s.SetItem("/net:system/location", strp("rack-1"), 0))
	require.NoError(t, s.MoveItem("/net:rule[id='20']", core.MoveFirst, ""))
	require.Equal(t, 2, s.Log().Len())

	// The committed state dropped rule 20, so the move cannot replay.
	committed := tree.New(l.mod)
	_, _, err := committed.Ensure(mustPath(t, "/net:rule[id='10']/action"), "permit", true)
	require.NoError(t, err)
	l.install("net", core.DatastoreRunning, committed)

	err = s.Refresh(context.Background())
	require.Error(t, err)
	oe, ok := err.(*core.OperationError)
	require.True(t, ok)
	assert.Equal(t, core.CodeOperationFailed, oe.Code)
	require.Len(t, oe.Entries, 1)

	assert.Equal(t, 1, s.Log().Len(), "the failed move was dropped, the set survives")
	assert.True(t, s.IsModified("net"))

	items, err := s.GetItems("/net:system/location")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "rack-1", items[0].Value)
}

func TestRefresh_ClearsModifiedWhenLogEmpties(t *testing.T) {
	s, l := newSession(t)
	base := tree.New(l.mod)
	for _, id := range []string{"10", "20"} {
		_, _, err := base.Ensure(mustPath(t, "/net:rule[id='"+id+"']/action"), "permit", true)
		require.NoError(t, err)
	}
	l.install("net", core.DatastoreRunning, base)

	require.NoError(t, s.MoveItem("/net:rule[id='20']", core.MoveFirst, ""))

	committed := tree.New(l.mod)
	l.install("net", core.DatastoreRunning, committed)

	err := s.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, s.Log().Len())
	assert.False(t, s.IsModified("net"), "a module with no surviving operations is pristine again")
}

func TestSession_ReplaceModule(t *testing.T) {
	s, l := newSession(t)
	require.NoError(t, s.SetItem("/net:system/location", strp("rack-1"), 0))

	fresh := tree.New(l.mod)
	_, _, err := fresh.Ensure(mustPath(t, "/net:system/location"), "rack-2", true)
	require.NoError(t, err)
	s.ReplaceModule("net", fresh, 7)

	info, err := s.ModuleData("net")
	require.NoError(t, err)
	assert.Equal(t, core.Revision(7), info.Revision)
	assert.False(t, info.Modified)
}

func mustPath(t *testing.T, s string) *dpath.Path {
	t.Helper()
	p, err := dpath.Parse(s)
	require.NoError(t, err)
	return p
}
