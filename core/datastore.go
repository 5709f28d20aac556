package core

import "fmt"

// Datastore identifies one of the named configuration datastores.
type Datastore uint8

const (
	// DatastoreStartup holds the configuration applied at boot.
	DatastoreStartup Datastore = iota
	// DatastoreRunning holds the live operational configuration.
	DatastoreRunning
	// DatastoreCandidate is the scratch copy for staged edits.
	DatastoreCandidate
)

func (d Datastore) String() string {
	switch d {
	case DatastoreStartup:
		return "startup"
	case DatastoreRunning:
		return "running"
	case DatastoreCandidate:
		return "candidate"
	default:
		return fmt.Sprintf("datastore(%d)", uint8(d))
	}
}

// ParseDatastore converts a datastore name to its identifier.
func ParseDatastore(s string) (Datastore, error) {
	switch s {
	case "startup":
		return DatastoreStartup, nil
	case "running":
		return DatastoreRunning, nil
	case "candidate":
		return DatastoreCandidate, nil
	default:
		return 0, fmt.Errorf("unknown datastore %q", s)
	}
}

// Datastores lists all datastores in a stable order.
func Datastores() []Datastore {
	return []Datastore{DatastoreStartup, DatastoreRunning, DatastoreCandidate}
}
