package shadow

import "time"

// Address is a stable entity identifier, unique within its Kind.
// Node and group addresses come straight from the controller
// (e.g. "16 2E 45 1"), program addresses are the controller's program
// IDs, and variable addresses combine type and ID (e.g. "2.14").
type Address string

// Kind classifies an entity in the shadow tree.
type Kind string

const (
	KindNode     Kind = "node"
	KindGroup    Kind = "group"
	KindProgram  Kind = "program"
	KindFolder   Kind = "folder"
	KindVariable Kind = "variable"
)

// StatusKey is the property key for an entity's primary status value.
// The controller reports it alongside arbitrary auxiliary keys.
const StatusKey = "ST"

// UOMNotSet marks a unit of measure that has never been reported.
// It is distinct from "" (this update did not carry a unit) and from
// an explicit zero unit code: some device classes never report a unit
// and must not look like devices that simply haven't reported yet.
const UOMNotSet = "uom-not-set"

// Property is one reported value with its presentation metadata.
type Property struct {
	Value     string
	Formatted string
	UOM       string
	Precision string
}

// merge folds an incoming report into the property. Empty incoming
// unit or precision means "not reported this time" and keeps the
// existing value. Returns the merged property and whether anything
// actually changed.
func (p Property) merge(in Property) (Property, bool) {
	next := p
	next.Value = in.Value
	if in.Formatted != "" {
		next.Formatted = in.Formatted
	}
	if in.UOM != "" {
		next.UOM = in.UOM
	}
	if in.Precision != "" {
		next.Precision = in.Precision
	}
	return next, next != p
}

// State is the mutable record held per entity. The tree owns it
// exclusively; external callers only ever see copies.
type State struct {
	Status      Property
	LastChanged time.Time
	Aux         map[string]Property
}

func (s State) clone() State {
	out := s
	if s.Aux != nil {
		out.Aux = make(map[string]Property, len(s.Aux))
		for k, v := range s.Aux {
			out.Aux[k] = v
		}
	}
	return out
}

// Entity is a read snapshot of one shadow tree entry.
type Entity struct {
	Address Address
	Kind    Kind
	Name    string
	Enabled bool
	State   State
}

// SeedEntry is one entity's initial state, produced by the snapshot
// fetch and consumed by Tree.Seed.
type SeedEntry struct {
	Address Address
	Kind    Kind
	Name    string
	Enabled bool
	State   State
}

// StatusChange is published on an entity's status feed when a
// property update actually changes a value.
type StatusChange struct {
	Address Address
	Kind    Kind
	Key     string
	Old     Property
	New     Property
	At      time.Time
}

// ControlEvent is published on an entity's control feed for every
// control message, whether or not it changes state.
type ControlEvent struct {
	Address Address
	Kind    Kind
	Code    string
	Value   Property
	At      time.Time
}

// ChangeKind classifies a tree membership change.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeUpdated ChangeKind = "updated"
)

// EntityChange is published on the tree-wide change feed when entities
// are added, removed or renamed.
type EntityChange struct {
	Address Address
	Change  ChangeKind
	At      time.Time
}
