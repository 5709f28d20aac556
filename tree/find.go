package tree

import (
	"fmt"
	"strings"

	"github.com/INLOpen/nexusconf/core"
	"github.com/INLOpen/nexusconf/dpath"
	"github.com/INLOpen/nexusconf/schema"
)

// Find resolves a data path to the (possibly empty) set of matching
// nodes. A list or leaf-list step without predicates matches every
// instance; a final wildcard step matches every child.
func (t *Tree) Find(p *dpath.Path) ([]Node, error) {
	if p.Module != t.module.Name {
		return nil, core.NewError(core.CodeInvalidArgument, p.String(), "path addresses module %q, not %q", p.Module, t.module.Name)
	}
	cur := []Node{t.Root()}
	curSchema := t.module.Root()
	for i := range p.Steps {
		step := &p.Steps[i]
		if step.IsWildcard() {
			if i != len(p.Steps)-1 {
				return nil, core.NewError(core.CodeInvalidArgument, p.String(), "wildcard is only allowed as the final step")
			}
			var all []Node
			for _, n := range cur {
				all = append(all, t.Children(n)...)
			}
			return all, nil
		}
		sc := curSchema.Child(step.Name)
		if sc == nil {
			return nil, core.NewError(core.CodeInvalidArgument, p.String(), "schema node %q not found under %q", step.Name, curSchema.Name)
		}
		if err := checkPredicates(sc, step, p); err != nil {
			return nil, err
		}
		var next []Node
		for _, n := range cur {
			for _, c := range t.ChildrenOf(n, sc) {
				if t.stepMatches(c, step) {
					next = append(next, c)
				}
			}
		}
		cur = next
		curSchema = sc
	}
	return cur, nil
}

// FindFirst resolves a path expected to address at most one node.
func (t *Tree) FindFirst(p *dpath.Path) (Node, error) {
	matches, err := t.Find(p)
	if err != nil {
		return None, err
	}
	if len(matches) == 0 {
		return None, nil
	}
	return matches[0], nil
}

func checkPredicates(sc *schema.Node, step *dpath.Step, p *dpath.Path) error {
	for _, pred := range step.Predicates {
		switch {
		case pred.Key == ".":
			if sc.Kind != schema.KindLeafList {
				return core.NewError(core.CodeInvalidArgument, p.String(), "value predicate on non-leaf-list node %q", sc.Name)
			}
		default:
			if sc.Kind != schema.KindList {
				return core.NewError(core.CodeInvalidArgument, p.String(), "key predicate on non-list node %q", sc.Name)
			}
			key := sc.Child(pred.Key)
			if key == nil || !key.IsKey() {
				return core.NewError(core.CodeInvalidArgument, p.String(), "%q is not a key of list %q", pred.Key, sc.Name)
			}
		}
	}
	return nil
}

func (t *Tree) stepMatches(c Node, step *dpath.Step) bool {
	for _, pred := range step.Predicates {
		if pred.Key == "." {
			if t.Value(c) != pred.Value {
				return false
			}
			continue
		}
		key, ok := t.childLeaf(c, pred.Key)
		if !ok || t.Value(key) != pred.Value {
			return false
		}
	}
	return true
}

func (t *Tree) childLeaf(n Node, name string) (Node, bool) {
	for c := t.at(n).first; c != None; c = t.at(c).next {
		if t.at(c).schema.Name == name {
			return c, true
		}
	}
	return None, false
}

// Ensure resolves a path, creating any missing nodes along it, and
// returns the final node together with whether it already existed.
// Intermediate containers are created implicitly; intermediate and
// final list steps must carry complete key predicates. For a leaf the
// provided value is used only when the node is created.
func (t *Tree) Ensure(p *dpath.Path, value string, hasValue bool) (Node, bool, error) {
	if p.Module != t.module.Name {
		return None, false, core.NewError(core.CodeInvalidArgument, p.String(), "path addresses module %q, not %q", p.Module, t.module.Name)
	}
	cur := t.Root()
	curSchema := t.module.Root()
	for i := range p.Steps {
		step := &p.Steps[i]
		if step.IsWildcard() {
			return None, false, core.NewError(core.CodeInvalidArgument, p.String(), "cannot create a wildcard path")
		}
		sc := curSchema.Child(step.Name)
		if sc == nil {
			return None, false, core.NewError(core.CodeInvalidArgument, p.String(), "schema node %q not found under %q", step.Name, curSchema.Name)
		}
		if err := checkPredicates(sc, step, p); err != nil {
			return None, false, err
		}
		last := i == len(p.Steps)-1
		n, existed, err := t.ensureStep(cur, sc, step, p, last, value, hasValue)
		if err != nil {
			return None, false, err
		}
		if last {
			return n, existed, nil
		}
		cur = n
		curSchema = sc
	}
	return None, false, core.NewError(core.CodeInvalidArgument, p.String(), "path has no steps")
}

func (t *Tree) ensureStep(parent Node, sc *schema.Node, step *dpath.Step, p *dpath.Path, last bool, value string, hasValue bool) (Node, bool, error) {
	switch sc.Kind {
	case schema.KindContainer:
		for _, c := range t.ChildrenOf(parent, sc) {
			return c, true, nil
		}
		return t.AppendChild(parent, sc, ""), false, nil

	case schema.KindList:
		for _, key := range sc.Keys {
			if _, ok := step.KeyValue(key); !ok {
				return None, false, core.NewError(core.CodeInvalidArgument, p.String(), "missing key %q for list %q", key, sc.Name)
			}
		}
		for _, c := range t.ChildrenOf(parent, sc) {
			if t.stepMatches(c, step) {
				return c, true, nil
			}
		}
		inst := t.AppendChild(parent, sc, "")
		for _, key := range sc.Keys {
			kv, _ := step.KeyValue(key)
			t.AppendChild(inst, sc.Child(key), kv)
		}
		return inst, false, nil

	case schema.KindLeafList:
		if !last {
			return None, false, core.NewError(core.CodeInvalidArgument, p.String(), "leaf-list %q cannot have descendants", sc.Name)
		}
		instVal, ok := step.ValuePredicate()
		if !ok {
			if !hasValue {
				return None, false, core.NewError(core.CodeInvalidArgument, p.String(), "leaf-list %q requires a value", sc.Name)
			}
			instVal = value
		}
		for _, c := range t.ChildrenOf(parent, sc) {
			if t.Value(c) == instVal {
				return c, true, nil
			}
		}
		return t.AppendChild(parent, sc, instVal), false, nil

	case schema.KindLeaf:
		if !last {
			return None, false, core.NewError(core.CodeInvalidArgument, p.String(), "leaf %q cannot have descendants", sc.Name)
		}
		for _, c := range t.ChildrenOf(parent, sc) {
			return c, true, nil
		}
		return t.AppendChild(parent, sc, value), false, nil
	}
	return None, false, core.NewError(core.CodeInternal, p.String(), "unhandled schema kind %v", sc.Kind)
}

// Path renders the canonical data path of n, including list key and
// leaf-list value predicates.
func (t *Tree) Path(n Node) string {
	if n == t.Root() {
		return "/" + t.module.Name + ":"
	}
	var segs []string
	for cur := n; cur != t.Root(); cur = t.Parent(cur) {
		segs = append(segs, t.segment(cur))
	}
	var b strings.Builder
	for i := len(segs) - 1; i >= 0; i-- {
		b.WriteByte('/')
		if i == len(segs)-1 {
			b.WriteString(t.module.Name)
			b.WriteByte(':')
		}
		b.WriteString(segs[i])
	}
	return b.String()
}

func (t *Tree) segment(n Node) string {
	sc := t.Schema(n)
	switch sc.Kind {
	case schema.KindList:
		var b strings.Builder
		b.WriteString(sc.Name)
		for _, key := range sc.Keys {
			if kn, ok := t.childLeaf(n, key); ok {
				fmt.Fprintf(&b, "[%s='%s']", key, t.Value(kn))
			}
		}
		return b.String()
	case schema.KindLeafList:
		return fmt.Sprintf("%s[.='%s']", sc.Name, t.Value(n))
	default:
		return sc.Name
	}
}
