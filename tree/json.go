package tree

import (
	"encoding/json"
	"fmt"

	"github.com/INLOpen/nexusconf/schema"
)

// The persisted document form is plain JSON mirroring the tree:
// containers are objects, lists are arrays of objects, leaf-lists are
// arrays of strings, leaves are strings. Default-tagged leaves are not
// persisted; defaults are re-injected on load.

// MarshalJSON renders the tree's document form.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.document(t.Root()))
}

func (t *Tree) document(n Node) map[string]any {
	doc := make(map[string]any)
	sc := t.Schema(n)
	for _, child := range sc.Children() {
		insts := t.ChildrenOf(n, child)
		switch child.Kind {
		case schema.KindLeaf:
			for _, c := range insts {
				if !t.IsDefault(c) {
					doc[child.Name] = t.Value(c)
				}
			}
		case schema.KindLeafList:
			var vals []string
			for _, c := range insts {
				vals = append(vals, t.Value(c))
			}
			if len(vals) > 0 {
				doc[child.Name] = vals
			}
		case schema.KindList:
			var objs []map[string]any
			for _, c := range insts {
				objs = append(objs, t.document(c))
			}
			if len(objs) > 0 {
				doc[child.Name] = objs
			}
		case schema.KindContainer:
			for _, c := range insts {
				sub := t.document(c)
				if len(sub) > 0 || child.Presence {
					doc[child.Name] = sub
				}
			}
		}
	}
	return doc
}

// Unmarshal builds a tree for the module from its document form.
// Defaults are not injected; callers apply them after loading.
func Unmarshal(m *schema.Module, data []byte) (*Tree, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("module %q document: %w", m.Name, err)
	}
	t := New(m)
	if err := t.buildChildren(t.Root(), doc); err != nil {
		return nil, fmt.Errorf("module %q document: %w", m.Name, err)
	}
	return t, nil
}

func (t *Tree) buildChildren(n Node, doc map[string]any) error {
	sc := t.Schema(n)
	// Iterate the schema's declared order so sibling order is stable for
	// non-user-ordered content; arrays preserve user order on their own.
	for _, child := range sc.Children() {
		raw, ok := doc[child.Name]
		if !ok {
			continue
		}
		switch child.Kind {
		case schema.KindLeaf:
			v, err := scalar(raw)
			if err != nil {
				return fmt.Errorf("leaf %q: %w", child.Name, err)
			}
			t.AppendChild(n, child, v)
		case schema.KindLeafList:
			items, ok := raw.([]any)
			if !ok {
				return fmt.Errorf("leaf-list %q: expected array", child.Name)
			}
			for _, item := range items {
				v, err := scalar(item)
				if err != nil {
					return fmt.Errorf("leaf-list %q: %w", child.Name, err)
				}
				t.AppendChild(n, child, v)
			}
		case schema.KindList:
			items, ok := raw.([]any)
			if !ok {
				return fmt.Errorf("list %q: expected array", child.Name)
			}
			for _, item := range items {
				obj, ok := item.(map[string]any)
				if !ok {
					return fmt.Errorf("list %q: expected object instances", child.Name)
				}
				inst := t.AppendChild(n, child, "")
				if err := t.buildChildren(inst, obj); err != nil {
					return err
				}
			}
		case schema.KindContainer:
			obj, ok := raw.(map[string]any)
			if !ok {
				return fmt.Errorf("container %q: expected object", child.Name)
			}
			cont := t.AppendChild(n, child, "")
			if err := t.buildChildren(cont, obj); err != nil {
				return err
			}
		}
	}
	for name := range doc {
		if sc.Child(name) == nil {
			return fmt.Errorf("unknown node %q under %q", name, sc.Name)
		}
	}
	return nil
}

func scalar(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	case float64:
		return trimFloat(v), nil
	default:
		return "", fmt.Errorf("unsupported scalar %T", raw)
	}
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
