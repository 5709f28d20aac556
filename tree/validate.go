package tree

import (
	"strings"

	"github.com/INLOpen/nexusconf/core"
	"github.com/INLOpen/nexusconf/schema"
)

// Validate checks the tree against its schema: mandatory leaves are
// present, list instances carry all their keys, and key tuples /
// leaf-list values are unique among siblings. All violations are
// reported in one OperationError.
func (t *Tree) Validate() error {
	verr := &core.OperationError{Code: core.CodeValidationFailed}
	t.validateNode(t.Root(), verr)
	if len(verr.Entries) > 0 {
		return verr
	}
	return nil
}

func (t *Tree) validateNode(n Node, verr *core.OperationError) {
	sc := t.Schema(n)

	if sc.Kind == schema.KindList {
		for _, key := range sc.Keys {
			if _, ok := t.childLeaf(n, key); !ok {
				verr.Append(t.Path(n), "list instance is missing key %q", key)
			}
		}
	}

	for _, child := range sc.Children() {
		switch child.Kind {
		case schema.KindLeaf:
			if child.Mandatory {
				if _, ok := t.childLeaf(n, child.Name); !ok {
					verr.Append(t.Path(n), "mandatory leaf %q is missing", child.Name)
				}
			}
		case schema.KindList:
			t.checkListUniqueness(n, child, verr)
		case schema.KindLeafList:
			t.checkLeafListUniqueness(n, child, verr)
		}
	}

	for c := t.at(n).first; c != None; c = t.at(c).next {
		kind := t.at(c).schema.Kind
		if kind == schema.KindContainer || kind == schema.KindList {
			t.validateNode(c, verr)
		}
	}
}

func (t *Tree) checkListUniqueness(parent Node, sc *schema.Node, verr *core.OperationError) {
	seen := make(map[string]bool)
	for _, inst := range t.ChildrenOf(parent, sc) {
		var parts []string
		for _, key := range sc.Keys {
			if kn, ok := t.childLeaf(inst, key); ok {
				parts = append(parts, t.Value(kn))
			}
		}
		tuple := strings.Join(parts, "\x00")
		if seen[tuple] {
			verr.Append(t.Path(inst), "duplicate list instance")
		}
		seen[tuple] = true
	}
}

func (t *Tree) checkLeafListUniqueness(parent Node, sc *schema.Node, verr *core.OperationError) {
	seen := make(map[string]bool)
	for _, inst := range t.ChildrenOf(parent, sc) {
		v := t.Value(inst)
		if seen[v] {
			verr.Append(t.Path(inst), "duplicate leaf-list value")
		}
		seen[v] = true
	}
}
