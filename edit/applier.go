// Package edit applies single edit operations (set, delete, move) to a
// configuration tree, enforcing the structural invariants of the data
// model: key immutability, strict and non-recursive flag semantics,
// default-value handling and user-ordered positioning.
package edit

import (
	"context"
	"io"
	"log/slog"

	"github.com/INLOpen/nexusconf/core"
	"github.com/INLOpen/nexusconf/dpath"
	"github.com/INLOpen/nexusconf/schema"
	"github.com/INLOpen/nexusconf/tree"
)

// Applier mutates configuration trees one operation at a time. It is
// stateless apart from its logger and safe for concurrent use on
// distinct trees.
type Applier struct {
	logger *slog.Logger
}

// NewApplier creates an Applier.
func NewApplier(logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Applier{logger: logger}
}

// Apply dispatches one recorded operation onto t. Used by replay.
func (a *Applier) Apply(ctx context.Context, t *tree.Tree, op *core.Operation) error {
	p, err := dpath.Parse(op.Path)
	if err != nil {
		return core.NewError(core.CodeInvalidArgument, op.Path, "%v", err)
	}
	switch op.Kind {
	case core.OpSet:
		return a.Set(t, p, op.Value, op.HasValue, op.Flags)
	case core.OpDelete:
		return a.Delete(t, p, op.Flags)
	case core.OpMove:
		var rel *dpath.Path
		if op.Relative != "" {
			rel, err = dpath.Parse(op.Relative)
			if err != nil {
				return core.NewError(core.CodeInvalidArgument, op.Relative, "%v", err)
			}
		}
		return a.Move(t, p, op.Position, rel)
	default:
		return core.NewError(core.CodeInvalidArgument, op.Path, "unknown operation kind %v", op.Kind)
	}
}

// Set creates or updates the node addressed by p. On failure the tree
// is left untouched.
func (a *Applier) Set(t *tree.Tree, p *dpath.Path, value string, hasValue bool, flags core.EditFlags) error {
	if p.LastStep().IsWildcard() {
		return core.NewError(core.CodeInvalidArgument, p.String(), "cannot set a wildcard path")
	}
	sn, err := t.Module().FindPath(p)
	if err != nil {
		return err
	}

	switch sn.Kind {
	case schema.KindContainer:
		if !sn.Presence {
			return core.NewError(core.CodeInvalidArgument, p.String(), "non-presence container %q cannot be created explicitly", sn.Name)
		}
		if hasValue {
			return core.NewError(core.CodeInvalidArgument, p.String(), "presence container %q takes no value", sn.Name)
		}
	case schema.KindList:
		if hasValue {
			return core.NewError(core.CodeInvalidArgument, p.String(), "list %q takes no value", sn.Name)
		}
	case schema.KindLeaf:
		if sn.IsKey() {
			return core.NewError(core.CodeInvalidArgument, p.String(), "key leaf %q is set only by creating its list instance", sn.Name)
		}
		if !hasValue {
			return core.NewError(core.CodeInvalidArgument, p.String(), "leaf %q requires a value", sn.Name)
		}
	case schema.KindLeafList:
		_, hasPred := p.LastStep().ValuePredicate()
		if hasPred && hasValue {
			return core.NewError(core.CodeInvalidArgument, p.String(), "predicated leaf-list instance takes no value")
		}
		if !hasPred && !hasValue {
			return core.NewError(core.CodeInvalidArgument, p.String(), "leaf-list %q requires a value", sn.Name)
		}
	}

	if flags.Has(core.EditNonRecursive) {
		if parent := p.Parent(); parent != nil {
			matches, err := t.Find(parent)
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				return core.NewError(core.CodeDataMissing, parent.String(), "parent of %q does not exist", p.String())
			}
		}
	}

	existing, err := a.findSetTarget(t, p, sn, value, hasValue)
	if err != nil {
		return err
	}

	if existing != tree.None {
		// Updating a materialized default leaf is an update, not a strict
		// conflict; the explicit value becomes authoritative.
		if flags.Has(core.EditStrict) && !(sn.Kind == schema.KindLeaf && t.IsDefault(existing)) {
			return core.NewError(core.CodeDataExists, p.String(), "node already exists")
		}
		if sn.Kind == schema.KindLeaf {
			t.SetValue(existing, value)
		}
		return nil
	}

	if _, _, err := t.Ensure(p, value, hasValue); err != nil {
		return err
	}
	return nil
}

// findSetTarget locates the exact instance a set would update, or
// tree.None when it does not exist yet.
func (a *Applier) findSetTarget(t *tree.Tree, p *dpath.Path, sn *schema.Node, value string, hasValue bool) (tree.Node, error) {
	matches, err := t.Find(p)
	if err != nil {
		return tree.None, err
	}
	if sn.Kind == schema.KindLeafList {
		instVal, hasPred := p.LastStep().ValuePredicate()
		if !hasPred {
			instVal = value
		}
		for _, m := range matches {
			if t.Value(m) == instVal {
				return m, nil
			}
		}
		return tree.None, nil
	}
	if len(matches) == 0 {
		return tree.None, nil
	}
	return matches[0], nil
}

// Delete removes the (possibly empty) node set addressed by p and
// prunes emptied non-presence ancestors. On failure the tree is left
// untouched.
func (a *Applier) Delete(t *tree.Tree, p *dpath.Path, flags core.EditFlags) error {
	matches, err := t.Find(p)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		if flags.Has(core.EditStrict) {
			return core.NewError(core.CodeDataMissing, p.String(), "node does not exist")
		}
		return nil
	}

	if flags.Has(core.EditStrict) && !anyNonDefault(t, matches) {
		return core.NewError(core.CodeDataMissing, p.String(), "only default values match")
	}

	inSet := make(map[tree.Node]bool, len(matches))
	for _, m := range matches {
		inSet[m] = true
	}

	for _, m := range matches {
		sc := t.Schema(m)
		if sc.IsKey() {
			owner := t.Parent(m)
			for _, sib := range t.Children(owner) {
				if !inSet[sib] {
					return core.NewError(core.CodeInvalidArgument, t.Path(m), "key leaf cannot be deleted unless its whole list instance is removed")
				}
			}
		}
		if flags.Has(core.EditNonRecursive) && (sc.Kind == schema.KindList || sc.Kind == schema.KindContainer) {
			for _, c := range t.Children(m) {
				if !t.Schema(c).IsKey() {
					return core.NewError(core.CodeDataExists, t.Path(m), "node has non-key content")
				}
			}
		}
	}

	parents := make([]tree.Node, 0, len(matches))
	for _, m := range matches {
		parents = append(parents, t.Parent(m))
		t.Unlink(m)
	}
	seen := make(map[tree.Node]bool)
	for _, parent := range parents {
		if seen[parent] || !t.Valid(parent) {
			continue
		}
		seen[parent] = true
		t.PruneUpward(parent)
	}
	return nil
}

func anyNonDefault(t *tree.Tree, matches []tree.Node) bool {
	for _, m := range matches {
		switch sc := t.Schema(m); sc.Kind {
		case schema.KindLeaf:
			if !t.IsDefault(m) {
				return true
			}
		case schema.KindList, schema.KindLeafList:
			return true
		case schema.KindContainer:
			if sc.Presence {
				return true
			}
		}
	}
	return false
}

// Move reattaches a user-ordered list or leaf-list instance relative
// to its siblings.
func (a *Applier) Move(t *tree.Tree, p *dpath.Path, pos core.MovePosition, rel *dpath.Path) error {
	matches, err := t.Find(p)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return core.NewError(core.CodeDataMissing, p.String(), "node does not exist")
	}
	if len(matches) > 1 {
		return core.NewError(core.CodeInvalidArgument, p.String(), "path matches %d nodes, expected one", len(matches))
	}
	target := matches[0]
	sc := t.Schema(target)
	if (sc.Kind != schema.KindList && sc.Kind != schema.KindLeafList) || !sc.UserOrdered {
		return core.NewError(core.CodeInvalidArgument, p.String(), "%q is not a user-ordered list or leaf-list", sc.Name)
	}

	switch pos {
	case core.MoveBefore, core.MoveAfter:
		if rel == nil {
			return core.NewError(core.CodeInvalidArgument, p.String(), "move %s requires a relative instance", pos)
		}
		refs, err := t.Find(rel)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			return core.NewError(core.CodeInvalidArgument, rel.String(), "relative instance does not exist")
		}
		ref := refs[0]
		if t.Schema(ref) != sc {
			return core.NewError(core.CodeInvalidArgument, rel.String(), "relative instance is not a sibling of the move target")
		}
		if pos == core.MoveBefore {
			t.MoveBefore(target, ref)
		} else {
			t.MoveAfter(target, ref)
		}
	case core.MoveFirst:
		insts := t.ChildrenOf(t.Parent(target), sc)
		t.MoveBefore(target, insts[0])
	case core.MoveLast:
		insts := t.ChildrenOf(t.Parent(target), sc)
		t.MoveAfter(target, insts[len(insts)-1])
	default:
		return core.NewError(core.CodeInvalidArgument, p.String(), "unknown move position %v", pos)
	}
	return nil
}
