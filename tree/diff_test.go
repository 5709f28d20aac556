package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusconf/core"
)

func kinds(changes core.ChangeList) []core.ChangeKind {
	out := make([]core.ChangeKind, len(changes))
	for i, c := range changes {
		out[i] = c.Kind
	}
	return out
}

func TestDiff_NoChanges(t *testing.T) {
	tr := newTestTree(t)
	_, _, err := tr.Ensure(mustPath(t, "/net:system/location"), "rack-1", true)
	require.NoError(t, err)

	assert.Empty(t, Diff(tr, tr.Copy()))
}

func TestDiff_CreatedTopmostOnly(t *testing.T) {
	old := newTestTree(t)
	new_ := old.Copy()
	_, _, err := new_.Ensure(mustPath(t, "/net:interfaces/interface[name='eth0']/description"), "uplink", true)
	require.NoError(t, err)

	changes := Diff(old, new_)
	require.Len(t, changes, 1, "a created subtree is reported by its topmost node")
	assert.Equal(t, core.ChangeCreated, changes[0].Kind)
	assert.Equal(t, "/net:interfaces", changes[0].Path)
}

func TestDiff_DeletedAndModified(t *testing.T) {
	old := newTestTree(t)
	_, _, err := old.Ensure(mustPath(t, "/net:system/location"), "rack-1", true)
	require.NoError(t, err)
	_, _, err = old.Ensure(mustPath(t, "/net:system/mtu"), "1500", true)
	require.NoError(t, err)

	new_ := old.Copy()
	loc, err := new_.FindFirst(mustPath(t, "/net:system/location"))
	require.NoError(t, err)
	new_.SetValue(loc, "rack-2")
	mtu, err := new_.FindFirst(mustPath(t, "/net:system/mtu"))
	require.NoError(t, err)
	new_.Unlink(mtu)

	changes := Diff(old, new_)
	require.Len(t, changes, 2)
	assert.ElementsMatch(t, []core.ChangeKind{core.ChangeModified, core.ChangeDeleted}, kinds(changes))
	for _, ch := range changes {
		switch ch.Kind {
		case core.ChangeModified:
			assert.Equal(t, "/net:system/location", ch.Path)
			assert.Equal(t, "rack-1", ch.OldValue)
			assert.Equal(t, "rack-2", ch.NewValue)
		case core.ChangeDeleted:
			assert.Equal(t, "/net:system/mtu", ch.Path)
			assert.Equal(t, "1500", ch.OldValue)
		}
	}
}

func TestDiff_DefaultToExplicitIsModified(t *testing.T) {
	old := newTestTree(t)
	_, _, err := old.Ensure(mustPath(t, "/net:system/location"), "rack-1", true)
	require.NoError(t, err)
	old.ApplyDefaults()

	new_ := old.Copy()
	host, err := new_.FindFirst(mustPath(t, "/net:system/hostname"))
	require.NoError(t, err)
	new_.SetValue(host, "router")

	changes := Diff(old, new_)
	require.Len(t, changes, 1, "losing the default tag is a modification even with an equal value")
	assert.Equal(t, core.ChangeModified, changes[0].Kind)
	assert.Equal(t, "/net:system/hostname", changes[0].Path)
}

func TestDiff_MovedUserOrdered(t *testing.T) {
	old := newTestTree(t)
	for _, v := range []string{"a", "b", "c"} {
		_, _, err := old.Ensure(mustPath(t, "/net:dns/server"), v, true)
		require.NoError(t, err)
	}

	new_ := old.Copy()
	c, err := new_.FindFirst(mustPath(t, "/net:dns/server[.='c']"))
	require.NoError(t, err)
	a, err := new_.FindFirst(mustPath(t, "/net:dns/server[.='a']"))
	require.NoError(t, err)
	new_.MoveBefore(c, a)

	changes := Diff(old, new_)
	require.NotEmpty(t, changes)
	for _, ch := range changes {
		assert.Equal(t, core.ChangeMoved, ch.Kind)
	}
}

func TestDiff_ListInstancesKeyedByTuple(t *testing.T) {
	old := newTestTree(t)
	_, _, err := old.Ensure(mustPath(t, "/net:interfaces/interface[name='eth0']/description"), "old", true)
	require.NoError(t, err)

	new_ := newTestTree(t)
	_, _, err = new_.Ensure(mustPath(t, "/net:interfaces/interface[name='eth1']/description"), "new", true)
	require.NoError(t, err)

	changes := Diff(old, new_)
	require.Len(t, changes, 2)
	assert.ElementsMatch(t, []core.ChangeKind{core.ChangeCreated, core.ChangeDeleted}, kinds(changes))
}
