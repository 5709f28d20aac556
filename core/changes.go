package core

import "fmt"

// Revision is the comparable commit counter of a persisted module
// tree, bumped on every persist. RevisionNone marks a
// module that has never been persisted.
type Revision int64

const RevisionNone Revision = 0

// ChangeKind classifies one entry of a committed change list.
type ChangeKind uint8

const (
	ChangeCreated ChangeKind = iota
	ChangeModified
	ChangeDeleted
	ChangeMoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreated:
		return "created"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	case ChangeMoved:
		return "moved"
	default:
		return fmt.Sprintf("change(%d)", uint8(k))
	}
}

// Change describes one difference between the previously persisted tree
// and the newly committed one, surfaced to notification subscribers.
type Change struct {
	Kind     ChangeKind
	Path     string
	OldValue string
	NewValue string
}

// ChangeList is an ordered list of changes for one module.
type ChangeList []Change
