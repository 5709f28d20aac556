package oplog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/nexusconf/core"
)

func op(module, path string) core.Operation {
	return core.Operation{Kind: core.OpSet, Module: module, Path: path, Value: "v", HasValue: true}
}

func TestLog_AppendAndOperations(t *testing.T) {
	l := NewLog()
	assert.Equal(t, 0, l.Len())

	l.Append(op("net", "/net:a"))
	l.Append(op("net", "/net:b"))
	require.Equal(t, 2, l.Len())

	ops := l.Operations()
	require.Len(t, ops, 2)
	assert.Equal(t, "/net:a", ops[0].Path)
	assert.Equal(t, "/net:b", ops[1].Path)

	// Operations hands out a copy.
	ops[0].Path = "/net:mutated"
	assert.Equal(t, "/net:a", l.Operations()[0].Path)
}

func TestLog_Modules(t *testing.T) {
	l := NewLog()
	l.Append(op("zebra", "/zebra:a"))
	l.Append(op("alpha", "/alpha:a"))
	l.Append(op("zebra", "/zebra:b"))

	assert.Equal(t, []string{"alpha", "zebra"}, l.Modules())
	assert.True(t, l.HasModule("alpha"))
	assert.False(t, l.HasModule("net"))
}

func TestLog_Discard(t *testing.T) {
	l := NewLog()
	l.Append(op("net", "/net:a"))
	l.Append(op("sys", "/sys:a"))

	l.DiscardModule("net")
	require.Equal(t, 1, l.Len())
	assert.Equal(t, "/sys:a", l.Operations()[0].Path)

	l.Discard()
	assert.Equal(t, 0, l.Len())
}

func TestLog_DropErrored(t *testing.T) {
	l := NewLog()
	l.Append(op("net", "/net:a"))
	bad := op("net", "/net:b")
	bad.HasError = true
	l.Append(bad)
	l.Append(op("net", "/net:c"))

	assert.Equal(t, 1, l.DropErrored())
	ops := l.Operations()
	require.Len(t, ops, 2)
	assert.Equal(t, "/net:a", ops[0].Path)
	assert.Equal(t, "/net:c", ops[1].Path)
}

func TestLog_RemoveLast(t *testing.T) {
	l := NewLog()
	l.RemoveLast() // empty log is a no-op

	l.Append(op("net", "/net:a"))
	l.Append(op("net", "/net:b"))
	l.RemoveLast()
	require.Equal(t, 1, l.Len())
	assert.Equal(t, "/net:a", l.Operations()[0].Path)
}
