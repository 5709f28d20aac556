package core

import "fmt"

// EditFlags is a bitset modifying the behavior of edit operations.
type EditFlags uint8

const (
	// EditStrict requires set targets to be absent and delete targets to be
	// present (and non-default).
	EditStrict EditFlags = 1 << iota
	// EditNonRecursive forbids implicit creation of intermediate nodes on
	// set, and forbids deleting list/container nodes with non-key content.
	EditNonRecursive
)

// Has reports whether all bits of f2 are set in f.
func (f EditFlags) Has(f2 EditFlags) bool { return f&f2 == f2 }

// MovePosition selects the destination of a move operation.
type MovePosition uint8

const (
	MoveFirst MovePosition = iota
	MoveLast
	MoveBefore
	MoveAfter
)

func (p MovePosition) String() string {
	switch p {
	case MoveFirst:
		return "first"
	case MoveLast:
		return "last"
	case MoveBefore:
		return "before"
	case MoveAfter:
		return "after"
	default:
		return fmt.Sprintf("position(%d)", uint8(p))
	}
}

// OpKind is the kind of a pending edit operation.
type OpKind uint8

const (
	OpSet OpKind = iota
	OpDelete
	OpMove
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	case OpMove:
		return "move"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// Operation is a single pending edit recorded in a session's operation
// log. The full ordered sequence for a module must replay
// deterministically onto a freshly loaded tree.
type Operation struct {
	Kind   OpKind
	Module string
	Path   string
	// Value is the leaf/leaf-list value for OpSet. HasValue distinguishes
	// an absent value from an explicit empty string.
	Value    string
	HasValue bool
	Flags    EditFlags
	// Position and Relative apply to OpMove only.
	Position MovePosition
	Relative string
	// HasError is set when the operation failed during a
	// continue-on-error replay; such operations are dropped from the log
	// once the failure has been reported.
	HasError bool
}

func (o *Operation) String() string {
	switch o.Kind {
	case OpSet:
		if o.HasValue {
			return fmt.Sprintf("set %s = %q", o.Path, o.Value)
		}
		return fmt.Sprintf("set %s", o.Path)
	case OpDelete:
		return fmt.Sprintf("delete %s", o.Path)
	case OpMove:
		if o.Relative != "" {
			return fmt.Sprintf("move %s %s %s", o.Path, o.Position, o.Relative)
		}
		return fmt.Sprintf("move %s %s", o.Path, o.Position)
	default:
		return fmt.Sprintf("%s %s", o.Kind, o.Path)
	}
}
