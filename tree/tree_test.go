package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusconf/dpath"
	"github.com/INLOpen/nexusconf/internal/testutil"
)

func mustPath(t *testing.T, s string) *dpath.Path {
	t.Helper()
	p, err := dpath.Parse(s)
	require.NoError(t, err)
	return p
}

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	return New(testutil.Module(t))
}

func TestEnsure_CreatesIntermediates(t *testing.T) {
	tr := newTestTree(t)

	n, existed, err := tr.Ensure(mustPath(t, "/net:interfaces/interface[name='eth0']/description"), "uplink", true)
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, "uplink", tr.Value(n))
	assert.Equal(t, "/net:interfaces/interface[name='eth0']/description", tr.Path(n))

	// Key leaves are created with the instance.
	keys, err := tr.Find(mustPath(t, "/net:interfaces/interface[name='eth0']/name"))
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "eth0", tr.Value(keys[0]))

	// Containers along the way were created implicitly.
	conts, err := tr.Find(mustPath(t, "/net:interfaces"))
	require.NoError(t, err)
	assert.Len(t, conts, 1)
}

func TestEnsure_ExistingLeafKeepsValue(t *testing.T) {
	tr := newTestTree(t)

	_, _, err := tr.Ensure(mustPath(t, "/net:system/location"), "rack-1", true)
	require.NoError(t, err)

	n, existed, err := tr.Ensure(mustPath(t, "/net:system/location"), "rack-2", true)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, "rack-1", tr.Value(n), "Ensure must not overwrite an existing leaf")
}

func TestEnsure_ListRequiresAllKeys(t *testing.T) {
	tr := newTestTree(t)
	_, _, err := tr.Ensure(mustPath(t, "/net:interfaces/interface/description"), "x", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing key")
}

func TestEnsure_LeafList(t *testing.T) {
	tr := newTestTree(t)

	n1, existed, err := tr.Ensure(mustPath(t, "/net:dns/server"), "10.0.0.1", true)
	require.NoError(t, err)
	assert.False(t, existed)

	// Same instance by value predicate.
	n2, existed, err := tr.Ensure(mustPath(t, "/net:dns/server[.='10.0.0.1']"), "", false)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, n1, n2)

	_, existed, err = tr.Ensure(mustPath(t, "/net:dns/server"), "10.0.0.2", true)
	require.NoError(t, err)
	assert.False(t, existed)

	insts, err := tr.Find(mustPath(t, "/net:dns/server"))
	require.NoError(t, err)
	assert.Len(t, insts, 2)
}

func TestFind_PredicatesAndWildcard(t *testing.T) {
	tr := newTestTree(t)
	for _, name := range []string{"eth0", "eth1"} {
		_, _, err := tr.Ensure(mustPath(t, "/net:interfaces/interface[name='"+name+"']/description"), "port "+name, true)
		require.NoError(t, err)
	}

	all, err := tr.Find(mustPath(t, "/net:interfaces/interface"))
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := tr.Find(mustPath(t, "/net:interfaces/interface[name='eth1']"))
	require.NoError(t, err)
	require.Len(t, one, 1)

	kids, err := tr.Find(mustPath(t, "/net:interfaces/interface[name='eth1']/*"))
	require.NoError(t, err)
	assert.Len(t, kids, 2, "name and description")

	none, err := tr.Find(mustPath(t, "/net:interfaces/interface[name='eth9']"))
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = tr.Find(mustPath(t, "/net:interfaces/interface[bogus='x']"))
	assert.Error(t, err, "predicate on a non-key leaf")
}

func TestUnlink_PruneUpward(t *testing.T) {
	tr := newTestTree(t)
	n, _, err := tr.Ensure(mustPath(t, "/net:system/location"), "rack-1", true)
	require.NoError(t, err)

	parent := tr.Parent(n)
	tr.Unlink(n)
	tr.PruneUpward(parent)

	conts, err := tr.Find(mustPath(t, "/net:system"))
	require.NoError(t, err)
	assert.Empty(t, conts, "emptied non-presence container is pruned")
	assert.Equal(t, 0, tr.Len())
}

func TestPruneUpward_KeepsPresenceContainer(t *testing.T) {
	tr := newTestTree(t)
	_, _, err := tr.Ensure(mustPath(t, "/net:debug"), "", false)
	require.NoError(t, err)
	n, _, err := tr.Ensure(mustPath(t, "/net:debug/level"), "2", true)
	require.NoError(t, err)

	parent := tr.Parent(n)
	tr.Unlink(n)
	tr.PruneUpward(parent)

	conts, err := tr.Find(mustPath(t, "/net:debug"))
	require.NoError(t, err)
	assert.Len(t, conts, 1, "presence container survives empty")
}

func TestMoveBeforeAfter(t *testing.T) {
	tr := newTestTree(t)
	for _, v := range []string{"a", "b", "c"} {
		_, _, err := tr.Ensure(mustPath(t, "/net:dns/server"), v, true)
		require.NoError(t, err)
	}
	order := func() []string {
		insts, err := tr.Find(mustPath(t, "/net:dns/server"))
		require.NoError(t, err)
		var out []string
		for _, n := range insts {
			out = append(out, tr.Value(n))
		}
		return out
	}
	require.Equal(t, []string{"a", "b", "c"}, order())

	find := func(v string) Node {
		n, err := tr.FindFirst(mustPath(t, "/net:dns/server[.='"+v+"']"))
		require.NoError(t, err)
		require.NotEqual(t, None, n)
		return n
	}

	tr.MoveBefore(find("c"), find("a"))
	assert.Equal(t, []string{"c", "a", "b"}, order())

	tr.MoveAfter(find("c"), find("b"))
	assert.Equal(t, []string{"a", "b", "c"}, order())

	tr.MoveAfter(find("a"), find("a"))
	assert.Equal(t, []string{"a", "b", "c"}, order(), "self move is a no-op")
}

func TestCopy_Independent(t *testing.T) {
	tr := newTestTree(t)
	_, _, err := tr.Ensure(mustPath(t, "/net:system/location"), "rack-1", true)
	require.NoError(t, err)

	dup := tr.Copy()
	n, err := dup.FindFirst(mustPath(t, "/net:system/location"))
	require.NoError(t, err)
	dup.SetValue(n, "rack-9")

	orig, err := tr.FindFirst(mustPath(t, "/net:system/location"))
	require.NoError(t, err)
	assert.Equal(t, "rack-1", tr.Value(orig))
	assert.Equal(t, "rack-9", dup.Value(n))
}

func TestArena_ReusesFreedSlots(t *testing.T) {
	tr := newTestTree(t)
	n, _, err := tr.Ensure(mustPath(t, "/net:system/location"), "rack-1", true)
	require.NoError(t, err)
	assert.True(t, tr.Valid(n))

	tr.Unlink(n)
	assert.False(t, tr.Valid(n))

	before := len(tr.nodes)
	_, _, err = tr.Ensure(mustPath(t, "/net:system/mtu"), "9000", true)
	require.NoError(t, err)
	assert.Equal(t, before, len(tr.nodes), "freed slot is recycled")
}
