package tree

import "github.com/INLOpen/nexusconf/schema"

// ApplyDefaults materializes default-valued leaves that are absent
// under every existing container and list instance (and the root).
// Materialized leaves carry the default tag until an explicit set
// clears it.
func (t *Tree) ApplyDefaults() {
	t.applyDefaults(t.Root())
}

func (t *Tree) applyDefaults(n Node) {
	sc := t.Schema(n)
	for _, child := range sc.Children() {
		if child.Kind == schema.KindLeaf && child.HasDefault {
			if _, ok := t.childLeaf(n, child.Name); !ok {
				t.appendDefault(n, child)
			}
		}
	}
	for c := t.at(n).first; c != None; c = t.at(c).next {
		kind := t.at(c).schema.Kind
		if kind == schema.KindContainer || kind == schema.KindList {
			t.applyDefaults(c)
		}
	}
}
