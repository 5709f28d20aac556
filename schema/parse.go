package schema

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// yamlNode mirrors one node of a YAML module definition.
type yamlNode struct {
	Name          string     `yaml:"name"`
	Kind          string     `yaml:"kind"`
	Keys          []string   `yaml:"keys"`
	OrderedByUser bool       `yaml:"ordered-by-user"`
	Presence      bool       `yaml:"presence"`
	Default       *string    `yaml:"default"`
	Mandatory     bool       `yaml:"mandatory"`
	Children      []yamlNode `yaml:"children"`
}

// yamlModule mirrors a YAML module definition file.
type yamlModule struct {
	Module   string     `yaml:"module"`
	Revision string     `yaml:"revision"`
	Nodes    []yamlNode `yaml:"nodes"`
}

// Parse reads one module definition.
func Parse(r io.Reader) (*Module, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read module definition: %w", err)
	}
	var ym yamlModule
	if err := yaml.Unmarshal(data, &ym); err != nil {
		return nil, fmt.Errorf("unmarshal module definition: %w", err)
	}
	if ym.Module == "" {
		return nil, fmt.Errorf("module definition has no module name")
	}
	m := &Module{
		Name:     ym.Module,
		Revision: ym.Revision,
		root:     &Node{Name: ym.Module, Kind: KindContainer},
	}
	for i := range ym.Nodes {
		c, err := buildNode(&ym.Nodes[i])
		if err != nil {
			return nil, fmt.Errorf("module %q: %w", ym.Module, err)
		}
		if err := m.root.addChild(c); err != nil {
			return nil, fmt.Errorf("module %q: %w", ym.Module, err)
		}
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("module %q: %w", ym.Module, err)
	}
	return m, nil
}

func buildNode(y *yamlNode) (*Node, error) {
	if y.Name == "" {
		return nil, fmt.Errorf("node with empty name")
	}
	var kind Kind
	switch y.Kind {
	case "leaf":
		kind = KindLeaf
	case "leaf-list":
		kind = KindLeafList
	case "list":
		kind = KindList
	case "container":
		kind = KindContainer
	default:
		return nil, fmt.Errorf("node %q: unknown kind %q", y.Name, y.Kind)
	}
	n := &Node{
		Name:        y.Name,
		Kind:        kind,
		Keys:        y.Keys,
		UserOrdered: y.OrderedByUser,
		Presence:    y.Presence,
		Mandatory:   y.Mandatory,
	}
	if y.Default != nil {
		n.Default = *y.Default
		n.HasDefault = true
	}
	for i := range y.Children {
		c, err := buildNode(&y.Children[i])
		if err != nil {
			return nil, err
		}
		if err := n.addChild(c); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// ParseFile reads one module definition from a YAML file.
func ParseFile(path string) (*Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open module definition %s: %w", path, err)
	}
	defer f.Close()
	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// LoadDir installs every .yaml/.yml module definition found in dir
// into the registry.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read schema dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		m, err := ParseFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		if err := r.Install(m); err != nil {
			return err
		}
	}
	return nil
}
