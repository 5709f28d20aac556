package tree

import (
	"strings"

	"github.com/INLOpen/nexusconf/core"
	"github.com/INLOpen/nexusconf/schema"
)

// Diff computes the change list transforming old into new. Created and
// deleted subtrees are reported by their topmost node; leaves whose
// value (or default tag) changed are reported as modified; user-ordered
// instances whose sibling position changed are reported as moved.
func Diff(old, new_ *Tree) core.ChangeList {
	var changes core.ChangeList
	diffChildren(old, new_, old.Root(), new_.Root(), &changes)
	return changes
}

// identity keys a node among its siblings: lists by key tuple,
// leaf-lists by value, everything else by name.
func identity(t *Tree, n Node) string {
	sc := t.Schema(n)
	switch sc.Kind {
	case schema.KindList:
		parts := []string{sc.Name}
		for _, key := range sc.Keys {
			if kn, ok := t.childLeaf(n, key); ok {
				parts = append(parts, t.Value(kn))
			}
		}
		return strings.Join(parts, "\x00")
	case schema.KindLeafList:
		return sc.Name + "\x00" + t.Value(n)
	default:
		return sc.Name
	}
}

func diffChildren(old, new_ *Tree, on, nn Node, changes *core.ChangeList) {
	oldByID := make(map[string]Node)
	var oldOrder []string
	for _, c := range old.Children(on) {
		id := identity(old, c)
		oldByID[id] = c
		oldOrder = append(oldOrder, id)
	}

	matched := make(map[string]bool)
	var newOrder []string
	for _, c := range new_.Children(nn) {
		id := identity(new_, c)
		newOrder = append(newOrder, id)
		oc, ok := oldByID[id]
		if !ok {
			*changes = append(*changes, core.Change{
				Kind:     core.ChangeCreated,
				Path:     new_.Path(c),
				NewValue: new_.Value(c),
			})
			continue
		}
		matched[id] = true
		sc := new_.Schema(c)
		switch sc.Kind {
		case schema.KindLeaf:
			if old.Value(oc) != new_.Value(c) || old.IsDefault(oc) != new_.IsDefault(c) {
				*changes = append(*changes, core.Change{
					Kind:     core.ChangeModified,
					Path:     new_.Path(c),
					OldValue: old.Value(oc),
					NewValue: new_.Value(c),
				})
			}
		case schema.KindContainer, schema.KindList:
			diffChildren(old, new_, oc, c, changes)
		}
	}

	for _, id := range oldOrder {
		if !matched[id] {
			oc := oldByID[id]
			*changes = append(*changes, core.Change{
				Kind:     core.ChangeDeleted,
				Path:     old.Path(oc),
				OldValue: old.Value(oc),
			})
		}
	}

	diffOrder(old, new_, on, nn, matched, changes)
}

// diffOrder reports moved user-ordered instances: matched instances
// whose position among their matched same-schema siblings changed.
func diffOrder(old, new_ *Tree, on, nn Node, matched map[string]bool, changes *core.ChangeList) {
	oldSeq := orderedSeq(old, on, matched)
	newSeq := orderedSeq(new_, nn, matched)
	newByID := make(map[string]Node)
	for _, c := range new_.Children(nn) {
		newByID[identity(new_, c)] = c
	}
	for i, id := range newSeq {
		if i < len(oldSeq) && oldSeq[i] != id {
			*changes = append(*changes, core.Change{
				Kind: core.ChangeMoved,
				Path: new_.Path(newByID[id]),
			})
		}
	}
}

func orderedSeq(t *Tree, parent Node, matched map[string]bool) []string {
	var seq []string
	for _, c := range t.Children(parent) {
		sc := t.Schema(c)
		if !sc.UserOrdered {
			continue
		}
		if id := identity(t, c); matched[id] {
			seq = append(seq, id)
		}
	}
	return seq
}
