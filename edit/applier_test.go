package edit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusconf/core"
	"github.com/INLOpen/nexusconf/dpath"
	"github.com/INLOpen/nexusconf/internal/testutil"
	"github.com/INLOpen/nexusconf/tree"
)

func mustPath(t *testing.T, s string) *dpath.Path {
	t.Helper()
	p, err := dpath.Parse(s)
	require.NoError(t, err)
	return p
}

func newTree(t *testing.T) *tree.Tree {
	t.Helper()
	return tree.New(testutil.Module(t))
}

func set(t *testing.T, a *Applier, tr *tree.Tree, path, value string, flags core.EditFlags) error {
	t.Helper()
	return a.Set(tr, mustPath(t, path), value, true, flags)
}

func setNoValue(t *testing.T, a *Applier, tr *tree.Tree, path string, flags core.EditFlags) error {
	t.Helper()
	return a.Set(tr, mustPath(t, path), "", false, flags)
}

func TestSet_CreateAndUpdateLeaf(t *testing.T) {
	a := NewApplier(nil)
	tr := newTree(t)

	require.NoError(t, set(t, a, tr, "/net:system/location", "rack-1", 0))
	n, err := tr.FindFirst(mustPath(t, "/net:system/location"))
	require.NoError(t, err)
	assert.Equal(t, "rack-1", tr.Value(n))

	// Plain set on an existing leaf updates it.
	require.NoError(t, set(t, a, tr, "/net:system/location", "rack-2", 0))
	assert.Equal(t, "rack-2", tr.Value(n))
}

func TestSet_StrictOnExisting(t *testing.T) {
	a := NewApplier(nil)
	tr := newTree(t)

	require.NoError(t, set(t, a, tr, "/net:system/location", "rack-1", 0))
	err := set(t, a, tr, "/net:system/location", "rack-2", core.EditStrict)
	assert.True(t, core.IsCode(err, core.CodeDataExists))
}

func TestSet_StrictOnDefaultLeafIsUpdate(t *testing.T) {
	a := NewApplier(nil)
	tr := newTree(t)

	require.NoError(t, set(t, a, tr, "/net:system/location", "rack-1", 0))
	tr.ApplyDefaults()

	// The hostname leaf exists only as a materialized default; a strict
	// set replaces it instead of failing.
	require.NoError(t, set(t, a, tr, "/net:system/hostname", "core-1", core.EditStrict))
	n, err := tr.FindFirst(mustPath(t, "/net:system/hostname"))
	require.NoError(t, err)
	assert.Equal(t, "core-1", tr.Value(n))
	assert.False(t, tr.IsDefault(n))
}

func TestSet_NonRecursiveRequiresParent(t *testing.T) {
	a := NewApplier(nil)
	tr := newTree(t)

	err := set(t, a, tr, "/net:system/location", "rack-1", core.EditNonRecursive)
	assert.True(t, core.IsCode(err, core.CodeDataMissing))

	require.NoError(t, setNoValue(t, a, tr, "/net:interfaces/interface[name='eth0']", 0))
	require.NoError(t, set(t, a, tr, "/net:interfaces/interface[name='eth0']/description", "uplink", core.EditNonRecursive))
}

func TestSet_KeyLeafRejected(t *testing.T) {
	a := NewApplier(nil)
	tr := newTree(t)

	require.NoError(t, setNoValue(t, a, tr, "/net:interfaces/interface[name='eth0']", 0))
	err := set(t, a, tr, "/net:interfaces/interface[name='eth0']/name", "eth1", 0)
	assert.True(t, core.IsCode(err, core.CodeInvalidArgument))
}

func TestSet_ValueShapeErrors(t *testing.T) {
	a := NewApplier(nil)
	tr := newTree(t)

	// Leaves need values, structural nodes must not carry one.
	assert.True(t, core.IsCode(setNoValue(t, a, tr, "/net:system/location", 0), core.CodeInvalidArgument))
	assert.True(t, core.IsCode(set(t, a, tr, "/net:interfaces/interface[name='eth0']", "v", 0), core.CodeInvalidArgument))
	assert.True(t, core.IsCode(set(t, a, tr, "/net:debug", "v", 0), core.CodeInvalidArgument))
	// Non-presence containers cannot be created explicitly.
	assert.True(t, core.IsCode(setNoValue(t, a, tr, "/net:system", 0), core.CodeInvalidArgument))
	// Predicated leaf-list instances carry their value in the predicate.
	assert.True(t, core.IsCode(set(t, a, tr, "/net:dns/server[.='10.0.0.1']", "x", 0), core.CodeInvalidArgument))
	assert.True(t, core.IsCode(setNoValue(t, a, tr, "/net:dns/server", 0), core.CodeInvalidArgument))
	// Wildcards address sets, not creation targets.
	assert.True(t, core.IsCode(setNoValue(t, a, tr, "/net:system/*", 0), core.CodeInvalidArgument))
}

func TestSet_LeafList(t *testing.T) {
	a := NewApplier(nil)
	tr := newTree(t)

	require.NoError(t, set(t, a, tr, "/net:dns/server", "10.0.0.1", 0))
	require.NoError(t, setNoValue(t, a, tr, "/net:dns/server[.='10.0.0.2']", 0))

	insts, err := tr.Find(mustPath(t, "/net:dns/server"))
	require.NoError(t, err)
	assert.Len(t, insts, 2)

	// Setting an existing instance is a no-op without strict...
	require.NoError(t, set(t, a, tr, "/net:dns/server", "10.0.0.1", 0))
	insts, err = tr.Find(mustPath(t, "/net:dns/server"))
	require.NoError(t, err)
	assert.Len(t, insts, 2)

	// ...and a conflict with it.
	err = setNoValue(t, a, tr, "/net:dns/server[.='10.0.0.1']", core.EditStrict)
	assert.True(t, core.IsCode(err, core.CodeDataExists))
}

func TestDelete_Basics(t *testing.T) {
	a := NewApplier(nil)
	tr := newTree(t)

	require.NoError(t, set(t, a, tr, "/net:system/location", "rack-1", 0))
	require.NoError(t, a.Delete(tr, mustPath(t, "/net:system/location"), 0))

	n, err := tr.FindFirst(mustPath(t, "/net:system/location"))
	require.NoError(t, err)
	assert.Equal(t, tree.None, n)

	// The emptied container was pruned with it.
	conts, err := tr.Find(mustPath(t, "/net:system"))
	require.NoError(t, err)
	assert.Empty(t, conts)

	// Deleting an absent node is a no-op, strict makes it an error.
	require.NoError(t, a.Delete(tr, mustPath(t, "/net:system/location"), 0))
	err = a.Delete(tr, mustPath(t, "/net:system/location"), core.EditStrict)
	assert.True(t, core.IsCode(err, core.CodeDataMissing))
}

func TestDelete_StrictOnDefaultOnly(t *testing.T) {
	a := NewApplier(nil)
	tr := newTree(t)

	require.NoError(t, set(t, a, tr, "/net:system/location", "rack-1", 0))
	tr.ApplyDefaults()

	err := a.Delete(tr, mustPath(t, "/net:system/hostname"), core.EditStrict)
	assert.True(t, core.IsCode(err, core.CodeDataMissing), "a lone default leaf does not satisfy strict delete")

	// Non-strict removes the materialized default.
	require.NoError(t, a.Delete(tr, mustPath(t, "/net:system/hostname"), 0))
}

func TestDelete_KeyLeafRule(t *testing.T) {
	a := NewApplier(nil)
	tr := newTree(t)

	require.NoError(t, set(t, a, tr, "/net:interfaces/interface[name='eth0']/description", "uplink", 0))

	// A key leaf cannot be deleted on its own.
	err := a.Delete(tr, mustPath(t, "/net:interfaces/interface[name='eth0']/name"), 0)
	assert.True(t, core.IsCode(err, core.CodeInvalidArgument))

	// It can go when the whole instance content is in the delete set.
	require.NoError(t, a.Delete(tr, mustPath(t, "/net:interfaces/interface[name='eth0']/*"), 0))
	insts, ferr := tr.Find(mustPath(t, "/net:interfaces/interface"))
	require.NoError(t, ferr)
	assert.Empty(t, insts, "emptied instance is pruned")
}

func TestDelete_WholeInstance(t *testing.T) {
	a := NewApplier(nil)
	tr := newTree(t)

	require.NoError(t, set(t, a, tr, "/net:interfaces/interface[name='eth0']/description", "uplink", 0))
	require.NoError(t, set(t, a, tr, "/net:interfaces/interface[name='eth1']/description", "downlink", 0))

	require.NoError(t, a.Delete(tr, mustPath(t, "/net:interfaces/interface[name='eth0']"), 0))
	insts, err := tr.Find(mustPath(t, "/net:interfaces/interface"))
	require.NoError(t, err)
	require.Len(t, insts, 1)
	assert.Equal(t, "/net:interfaces/interface[name='eth1']", tr.Path(insts[0]))
}

func TestDelete_NonRecursive(t *testing.T) {
	a := NewApplier(nil)
	tr := newTree(t)

	require.NoError(t, set(t, a, tr, "/net:interfaces/interface[name='eth0']/description", "uplink", 0))
	err := a.Delete(tr, mustPath(t, "/net:interfaces/interface[name='eth0']"), core.EditNonRecursive)
	assert.True(t, core.IsCode(err, core.CodeDataExists), "instance still carries non-key content")

	require.NoError(t, a.Delete(tr, mustPath(t, "/net:interfaces/interface[name='eth0']/description"), 0))
	require.NoError(t, a.Delete(tr, mustPath(t, "/net:interfaces/interface[name='eth0']"), core.EditNonRecursive))
}

func TestMove_UserOrderedList(t *testing.T) {
	a := NewApplier(nil)
	tr := newTree(t)

	for _, id := range []string{"10", "20", "30"} {
		require.NoError(t, set(t, a, tr, "/net:rule[id='"+id+"']/action", "permit", 0))
	}
	order := func() []string {
		insts, err := tr.Find(mustPath(t, "/net:rule"))
		require.NoError(t, err)
		var out []string
		for _, n := range insts {
			for _, c := range tr.Children(n) {
				if tr.Name(c) == "id" {
					out = append(out, tr.Value(c))
				}
			}
		}
		return out
	}
	require.Equal(t, []string{"10", "20", "30"}, order())

	require.NoError(t, a.Move(tr, mustPath(t, "/net:rule[id='30']"), core.MoveFirst, nil))
	assert.Equal(t, []string{"30", "10", "20"}, order())

	require.NoError(t, a.Move(tr, mustPath(t, "/net:rule[id='30']"), core.MoveAfter, mustPath(t, "/net:rule[id='10']")))
	assert.Equal(t, []string{"10", "30", "20"}, order())

	require.NoError(t, a.Move(tr, mustPath(t, "/net:rule[id='10']"), core.MoveLast, nil))
	assert.Equal(t, []string{"30", "20", "10"}, order())

	require.NoError(t, a.Move(tr, mustPath(t, "/net:rule[id='20']"), core.MoveBefore, mustPath(t, "/net:rule[id='30']")))
	assert.Equal(t, []string{"20", "30", "10"}, order())
}

func TestMove_Errors(t *testing.T) {
	a := NewApplier(nil)
	tr := newTree(t)

	require.NoError(t, set(t, a, tr, "/net:rule[id='10']/action", "permit", 0))
	require.NoError(t, set(t, a, tr, "/net:interfaces/interface[name='eth0']/description", "x", 0))

	// Absent target.
	err := a.Move(tr, mustPath(t, "/net:rule[id='99']"), core.MoveFirst, nil)
	assert.True(t, core.IsCode(err, core.CodeDataMissing))

	// Not user-ordered.
	err = a.Move(tr, mustPath(t, "/net:interfaces/interface[name='eth0']"), core.MoveFirst, nil)
	assert.True(t, core.IsCode(err, core.CodeInvalidArgument))

	// Relative required and must exist.
	err = a.Move(tr, mustPath(t, "/net:rule[id='10']"), core.MoveBefore, nil)
	assert.True(t, core.IsCode(err, core.CodeInvalidArgument))
	err = a.Move(tr, mustPath(t, "/net:rule[id='10']"), core.MoveBefore, mustPath(t, "/net:rule[id='99']"))
	assert.True(t, core.IsCode(err, core.CodeInvalidArgument))

	// Relative must be a sibling of the same schema node.
	err = a.Move(tr, mustPath(t, "/net:rule[id='10']"), core.MoveBefore, mustPath(t, "/net:interfaces/interface[name='eth0']"))
	assert.True(t, core.IsCode(err, core.CodeInvalidArgument))
}

func TestApply_DispatchesOperations(t *testing.T) {
	a := NewApplier(nil)
	tr := newTree(t)
	ctx := context.Background()

	ops := []core.Operation{
		{Kind: core.OpSet, Module: "net", Path: "/net:dns/server", Value: "10.0.0.1", HasValue: true},
		{Kind: core.OpSet, Module: "net", Path: "/net:dns/server", Value: "10.0.0.2", HasValue: true},
		{Kind: core.OpMove, Module: "net", Path: "/net:dns/server[.='10.0.0.2']", Position: core.MoveFirst},
		{Kind: core.OpDelete, Module: "net", Path: "/net:dns/server[.='10.0.0.1']"},
	}
	for i := range ops {
		require.NoError(t, a.Apply(ctx, tr, &ops[i]))
	}

	insts, err := tr.Find(mustPath(t, "/net:dns/server"))
	require.NoError(t, err)
	require.Len(t, insts, 1)
	assert.Equal(t, "10.0.0.2", tr.Value(insts[0]))

	err = a.Apply(ctx, tr, &core.Operation{Kind: core.OpSet, Module: "net", Path: "not-a-path"})
	assert.True(t, core.IsCode(err, core.CodeInvalidArgument))
}
