package mongosvc

import "github.com/pkg/errors"

// Action identifies the operation the mongo service performs for a
// request. The wire form of an action is its symbolic name, never the
// ordinal.
type Action int

const (
	Create Action = iota + 1
	Retrieve
	Update
	Delete
	Count
	Index
	DropIndex
	DropCollection
	Bulk
	Pipeline
	Transaction
	RenameCollection
)

var actionNames = map[Action]string{
	Create:           "create",
	Retrieve:         "retrieve",
	Update:           "update",
	Delete:           "delete",
	Count:            "count",
	Index:            "index",
	DropIndex:        "dropIndex",
	DropCollection:   "dropCollection",
	Bulk:             "bulk",
	Pipeline:         "pipeline",
	Transaction:      "transaction",
	RenameCollection: "renameCollection",
}

// Actions returns every action the service understands, in declaration
// order.
func Actions() []Action {
	out := make([]Action, 0, len(actionNames))
	for a := Create; a <= RenameCollection; a++ {
		out = append(out, a)
	}
	return out
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}

	return "invalid"
}

// Validate returns an error for values outside of the enumeration.
func (a Action) Validate() error {
	if _, ok := actionNames[a]; !ok {
		return errors.Errorf("action %d is not defined", int(a))
	}
	return nil
}

// ParseAction converts a wire name (e.g. "dropIndex") into an Action.
func ParseAction(name string) (Action, error) {
	for a, n := range actionNames {
		if n == name {
			return a, nil
		}
	}

	return 0, errors.Errorf("unknown action %q", name)
}
