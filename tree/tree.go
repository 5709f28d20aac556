// Package tree implements the schema-aware configuration data tree the
// transactional core operates on. Nodes live in an owned arena and are
// addressed by stable indices; parent/child/sibling relations are index
// links, so unlink and reattach are index rewires rather than pointer
// surgery.
package tree

import (
	"github.com/INLOpen/nexusconf/schema"
)

// Node addresses one node in a Tree's arena. The root is always node 0.
type Node int32

// None is the null node index.
const None Node = -1

type node struct {
	parent Node
	first  Node // first child
	last   Node // last child
	next   Node // next sibling
	prev   Node // previous sibling

	schema    *schema.Node
	value     string
	isDefault bool
	freed     bool
}

// Tree is one module's configuration data tree.
type Tree struct {
	module   *schema.Module
	nodes    []node
	freeList []Node
}

// New creates an empty tree for the module, containing only the
// synthetic root.
func New(m *schema.Module) *Tree {
	t := &Tree{module: m}
	t.nodes = append(t.nodes, node{
		parent: None, first: None, last: None, next: None, prev: None,
		schema: m.Root(),
	})
	return t
}

// Module returns the schema module the tree belongs to.
func (t *Tree) Module() *schema.Module { return t.module }

// Root returns the synthetic root node.
func (t *Tree) Root() Node { return 0 }

func (t *Tree) at(n Node) *node { return &t.nodes[n] }

// Valid reports whether n addresses a live node.
func (t *Tree) Valid(n Node) bool {
	return n >= 0 && int(n) < len(t.nodes) && !t.nodes[n].freed
}

// Parent returns the parent of n, or None for the root.
func (t *Tree) Parent(n Node) Node { return t.at(n).parent }

// FirstChild returns the first child of n, or None.
func (t *Tree) FirstChild(n Node) Node { return t.at(n).first }

// LastChild returns the last child of n, or None.
func (t *Tree) LastChild(n Node) Node { return t.at(n).last }

// NextSibling returns the next sibling of n, or None.
func (t *Tree) NextSibling(n Node) Node { return t.at(n).next }

// PrevSibling returns the previous sibling of n, or None.
func (t *Tree) PrevSibling(n Node) Node { return t.at(n).prev }

// Schema returns the schema node of n.
func (t *Tree) Schema(n Node) *schema.Node { return t.at(n).schema }

// Name returns the schema name of n.
func (t *Tree) Name(n Node) string { return t.at(n).schema.Name }

// Value returns the value of a leaf or leaf-list instance.
func (t *Tree) Value(n Node) string { return t.at(n).value }

// SetValue updates the value of n and clears its default tag: an
// explicit value is now authoritative.
func (t *Tree) SetValue(n Node, v string) {
	nd := t.at(n)
	nd.value = v
	nd.isDefault = false
}

// IsDefault reports whether n carries a materialized default value.
func (t *Tree) IsDefault(n Node) bool { return t.at(n).isDefault }

// HasChildren reports whether n has at least one child.
func (t *Tree) HasChildren(n Node) bool { return t.at(n).first != None }

func (t *Tree) alloc(sc *schema.Node, value string, isDefault bool) Node {
	var n Node
	if len(t.freeList) > 0 {
		n = t.freeList[len(t.freeList)-1]
		t.freeList = t.freeList[:len(t.freeList)-1]
	} else {
		t.nodes = append(t.nodes, node{})
		n = Node(len(t.nodes) - 1)
	}
	*t.at(n) = node{
		parent: None, first: None, last: None, next: None, prev: None,
		schema: sc, value: value, isDefault: isDefault,
	}
	return n
}

// AppendChild allocates a new node under parent at the end of its
// sibling list.
func (t *Tree) AppendChild(parent Node, sc *schema.Node, value string) Node {
	n := t.alloc(sc, value, false)
	t.linkLast(parent, n)
	return n
}

func (t *Tree) appendDefault(parent Node, sc *schema.Node) Node {
	n := t.alloc(sc, sc.Default, true)
	t.linkLast(parent, n)
	return n
}

func (t *Tree) linkLast(parent, n Node) {
	nd, pd := t.at(n), t.at(parent)
	nd.parent = parent
	nd.prev = pd.last
	nd.next = None
	if pd.last != None {
		t.at(pd.last).next = n
	} else {
		pd.first = n
	}
	pd.last = n
}

// detach removes n from its sibling list without freeing it.
func (t *Tree) detach(n Node) {
	nd := t.at(n)
	if nd.prev != None {
		t.at(nd.prev).next = nd.next
	} else if nd.parent != None {
		t.at(nd.parent).first = nd.next
	}
	if nd.next != None {
		t.at(nd.next).prev = nd.prev
	} else if nd.parent != None {
		t.at(nd.parent).last = nd.prev
	}
	nd.parent, nd.prev, nd.next = None, None, None
}

// Unlink detaches n and recycles its whole subtree into the free list.
func (t *Tree) Unlink(n Node) {
	t.detach(n)
	t.release(n)
}

func (t *Tree) release(n Node) {
	for c := t.at(n).first; c != None; {
		next := t.at(c).next
		t.release(c)
		c = next
	}
	nd := t.at(n)
	*nd = node{parent: None, first: None, last: None, next: None, prev: None, freed: true}
	t.freeList = append(t.freeList, n)
}

// MoveBefore reattaches n immediately before ref within ref's sibling
// list.
func (t *Tree) MoveBefore(n, ref Node) {
	if n == ref {
		return
	}
	t.detach(n)
	rd := t.at(ref)
	nd := t.at(n)
	nd.parent = rd.parent
	nd.prev = rd.prev
	nd.next = ref
	if rd.prev != None {
		t.at(rd.prev).next = n
	} else {
		t.at(rd.parent).first = n
	}
	rd.prev = n
}

// MoveAfter reattaches n immediately after ref within ref's sibling
// list.
func (t *Tree) MoveAfter(n, ref Node) {
	if n == ref {
		return
	}
	t.detach(n)
	rd := t.at(ref)
	nd := t.at(n)
	nd.parent = rd.parent
	nd.next = rd.next
	nd.prev = ref
	if rd.next != None {
		t.at(rd.next).prev = n
	} else {
		t.at(rd.parent).last = n
	}
	rd.next = n
}

// PruneUpward removes emptied non-presence containers and list
// instances starting at n and walking toward the root. Presence
// containers are preserved empty.
func (t *Tree) PruneUpward(n Node) {
	for n != None && n != t.Root() {
		nd := t.at(n)
		if nd.first != None {
			return
		}
		sc := nd.schema
		prunable := sc.Kind == schema.KindList ||
			(sc.Kind == schema.KindContainer && !sc.Presence)
		if !prunable {
			return
		}
		parent := nd.parent
		t.Unlink(n)
		n = parent
	}
}

// Children returns the live children of n in sibling order.
func (t *Tree) Children(n Node) []Node {
	var out []Node
	for c := t.at(n).first; c != None; c = t.at(c).next {
		out = append(out, c)
	}
	return out
}

// ChildrenOf returns the children of n sharing the given schema node,
// in sibling order. For lists and leaf-lists these are the instances.
func (t *Tree) ChildrenOf(n Node, sc *schema.Node) []Node {
	var out []Node
	for c := t.at(n).first; c != None; c = t.at(c).next {
		if t.at(c).schema == sc {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of live nodes, excluding the root.
func (t *Tree) Len() int {
	count := 0
	for i := 1; i < len(t.nodes); i++ {
		if !t.nodes[i].freed {
			count++
		}
	}
	return count
}

// Copy returns a deep copy of the tree. Schema nodes are shared.
func (t *Tree) Copy() *Tree {
	dup := &Tree{
		module:   t.module,
		nodes:    make([]node, len(t.nodes)),
		freeList: make([]Node, len(t.freeList)),
	}
	copy(dup.nodes, t.nodes)
	copy(dup.freeList, t.freeList)
	return dup
}
