// Package schema provides the module schema introspection consumed by
// the edit applier and validator: node kinds, list keys, user-ordered
// flags, default values and presence flags. Module definitions are
// parsed from YAML files and held in a process-wide Registry.
package schema

import (
	"fmt"
	"sort"

	"github.com/INLOpen/nexusconf/core"
	"github.com/INLOpen/nexusconf/dpath"
)

// Kind is the schema node kind.
type Kind uint8

const (
	KindLeaf Kind = iota
	KindLeafList
	KindList
	KindContainer
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindLeafList:
		return "leaf-list"
	case KindList:
		return "list"
	case KindContainer:
		return "container"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Node is one schema node of a module tree.
type Node struct {
	Name        string
	Kind        Kind
	Keys        []string // list key leaf names, in declared order
	UserOrdered bool     // list/leaf-list instance order is user-controlled
	Presence    bool     // presence container
	Default     string
	HasDefault  bool
	Mandatory   bool
	Parent      *Node
	children    map[string]*Node
	childNames  []string // declared order
}

// Child returns the named child schema node, or nil.
func (n *Node) Child(name string) *Node {
	return n.children[name]
}

// Children returns the child schema nodes in declared order.
func (n *Node) Children() []*Node {
	out := make([]*Node, 0, len(n.childNames))
	for _, name := range n.childNames {
		out = append(out, n.children[name])
	}
	return out
}

func (n *Node) addChild(c *Node) error {
	if n.children == nil {
		n.children = make(map[string]*Node)
	}
	if _, dup := n.children[c.Name]; dup {
		return fmt.Errorf("duplicate child %q under %q", c.Name, n.Name)
	}
	c.Parent = n
	n.children[c.Name] = c
	n.childNames = append(n.childNames, c.Name)
	return nil
}

// IsKey reports whether n is a key leaf of its owning list.
func (n *Node) IsKey() bool {
	if n.Parent == nil || n.Parent.Kind != KindList {
		return false
	}
	for _, k := range n.Parent.Keys {
		if k == n.Name {
			return true
		}
	}
	return false
}

// Module is one installed schema module.
type Module struct {
	Name     string
	Revision string
	root     *Node
}

// Root returns the synthetic root container holding the module's
// top-level nodes.
func (m *Module) Root() *Node { return m.root }

// FindPath resolves a data path against the schema and returns the
// schema node addressed by its final step. A wildcard final step
// resolves to the node owning the matched children.
func (m *Module) FindPath(p *dpath.Path) (*Node, error) {
	if p.Module != m.Name {
		return nil, core.NewError(core.CodeInvalidArgument, p.String(), "path addresses module %q, not %q", p.Module, m.Name)
	}
	cur := m.root
	for i := range p.Steps {
		step := &p.Steps[i]
		if step.IsWildcard() {
			if i != len(p.Steps)-1 {
				return nil, core.NewError(core.CodeInvalidArgument, p.String(), "wildcard is only allowed as the final step")
			}
			return cur, nil
		}
		next := cur.Child(step.Name)
		if next == nil {
			return nil, core.NewError(core.CodeInvalidArgument, p.String(), "schema node %q not found under %q", step.Name, cur.Name)
		}
		cur = next
	}
	return cur, nil
}

func (m *Module) validate() error {
	var walk func(n *Node) error
	walk = func(n *Node) error {
		switch n.Kind {
		case KindList:
			if len(n.Keys) == 0 {
				return fmt.Errorf("list %q has no keys", n.Name)
			}
			for _, k := range n.Keys {
				c := n.Child(k)
				if c == nil {
					return fmt.Errorf("list %q key %q is not a child", n.Name, k)
				}
				if c.Kind != KindLeaf {
					return fmt.Errorf("list %q key %q is not a leaf", n.Name, k)
				}
			}
		case KindLeaf, KindLeafList:
			if len(n.childNames) != 0 {
				return fmt.Errorf("%s %q cannot have children", n.Kind, n.Name)
			}
		}
		if n.HasDefault && n.Kind != KindLeaf {
			return fmt.Errorf("%s %q cannot carry a default", n.Kind, n.Name)
		}
		if n.HasDefault && n.Mandatory {
			return fmt.Errorf("leaf %q cannot be both mandatory and defaulted", n.Name)
		}
		for _, c := range n.Children() {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(m.root)
}

func sortedNames(m map[string]*Module) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
