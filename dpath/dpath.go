// Package dpath parses the restricted instance-identifier paths used to
// address nodes in a configuration tree:
//
//	/module:container/list[key='value'][key2='value2']/leaf
//	/module:leaflist[.='value']
//	/module:container/*
//
// Full XPath evaluation is an external concern; this syntax is the
// subset the edit applier resolves itself.
package dpath

import (
	"fmt"
	"strings"
)

// Predicate filters list instances by key value, or leaf-list
// instances by value (Key == "." for the latter).
type Predicate struct {
	Key   string
	Value string
}

// Step is one path segment. Name "*" matches any child.
type Step struct {
	Name       string
	Predicates []Predicate
}

// IsWildcard reports whether the step matches any child name.
func (s *Step) IsWildcard() bool { return s.Name == "*" }

// ValuePredicate returns the leaf-list value predicate, if present.
func (s *Step) ValuePredicate() (string, bool) {
	for _, p := range s.Predicates {
		if p.Key == "." {
			return p.Value, true
		}
	}
	return "", false
}

// KeyValue returns the predicate value for a named list key.
func (s *Step) KeyValue(key string) (string, bool) {
	for _, p := range s.Predicates {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Path is an absolute data path rooted at a module.
type Path struct {
	Module string
	Steps  []Step
}

// Parse parses an absolute data path.
func Parse(s string) (*Path, error) {
	if s == "" || s[0] != '/' {
		return nil, fmt.Errorf("path %q must be absolute", s)
	}
	p := &Path{}
	rest := s[1:]
	first := true
	for rest != "" {
		seg, remainder, err := splitStep(rest)
		if err != nil {
			return nil, fmt.Errorf("path %q: %w", s, err)
		}
		rest = remainder
		step, err := parseStep(seg)
		if err != nil {
			return nil, fmt.Errorf("path %q: %w", s, err)
		}
		if first {
			mod, node, ok := strings.Cut(step.Name, ":")
			if !ok || mod == "" || node == "" {
				return nil, fmt.Errorf("path %q: first step must carry a module prefix", s)
			}
			p.Module = mod
			step.Name = node
			first = false
		}
		p.Steps = append(p.Steps, step)
	}
	if len(p.Steps) == 0 {
		return nil, fmt.Errorf("path %q has no steps", s)
	}
	return p, nil
}

// splitStep cuts the next step segment off rest, honoring quoted
// predicate values that may contain '/'.
func splitStep(rest string) (seg, remainder string, err error) {
	var quote byte
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '/':
			return rest[:i], rest[i+1:], nil
		}
	}
	if quote != 0 {
		return "", "", fmt.Errorf("unterminated quote")
	}
	return rest, "", nil
}

func parseStep(seg string) (Step, error) {
	name := seg
	var preds string
	if i := strings.IndexByte(seg, '['); i >= 0 {
		name, preds = seg[:i], seg[i:]
	}
	if name == "" {
		return Step{}, fmt.Errorf("empty step name")
	}
	step := Step{Name: name}
	for preds != "" {
		if preds[0] != '[' {
			return Step{}, fmt.Errorf("malformed predicate in %q", seg)
		}
		end, err := findPredicateEnd(preds)
		if err != nil {
			return Step{}, fmt.Errorf("step %q: %w", seg, err)
		}
		pred, err := parsePredicate(preds[1:end])
		if err != nil {
			return Step{}, fmt.Errorf("step %q: %w", seg, err)
		}
		step.Predicates = append(step.Predicates, pred)
		preds = preds[end+1:]
	}
	if step.IsWildcard() && len(step.Predicates) > 0 {
		return Step{}, fmt.Errorf("wildcard step cannot carry predicates")
	}
	return step, nil
}

func findPredicateEnd(s string) (int, error) {
	var quote byte
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ']':
			return i, nil
		}
	}
	return 0, fmt.Errorf("unterminated predicate")
}

func parsePredicate(s string) (Predicate, error) {
	key, val, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return Predicate{}, fmt.Errorf("malformed predicate %q", s)
	}
	if len(val) < 2 || (val[0] != '\'' && val[0] != '"') || val[len(val)-1] != val[0] {
		return Predicate{}, fmt.Errorf("predicate value in %q must be quoted", s)
	}
	return Predicate{Key: key, Value: val[1 : len(val)-1]}, nil
}

// String renders the path back to its canonical textual form.
func (p *Path) String() string {
	var b strings.Builder
	for i, step := range p.Steps {
		b.WriteByte('/')
		if i == 0 {
			b.WriteString(p.Module)
			b.WriteByte(':')
		}
		b.WriteString(step.Name)
		for _, pred := range step.Predicates {
			fmt.Fprintf(&b, "[%s='%s']", pred.Key, pred.Value)
		}
	}
	return b.String()
}

// Parent returns a copy of p without its last step, or nil when p has
// a single step.
func (p *Path) Parent() *Path {
	if len(p.Steps) <= 1 {
		return nil
	}
	return &Path{Module: p.Module, Steps: p.Steps[:len(p.Steps)-1]}
}

// LastStep returns the final step of the path.
func (p *Path) LastStep() *Step {
	return &p.Steps[len(p.Steps)-1]
}
