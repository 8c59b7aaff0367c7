package events

import (
	"time"

	"github.com/nerrad567/isy-shadow/internal/shadow"
)

// Event is one decoded stream frame. Events are produced once per
// frame, never mutated after creation, and not retained after
// dispatch.
type Event interface {
	isEvent()
}

// PropertyUpdate reports a new value for one entity property.
type PropertyUpdate struct {
	Address shadow.Address
	Key     string
	Value   shadow.Property
}

// ControlMessage reports a control the controller executed or
// observed for an entity (a button press, a scene trigger).
type ControlMessage struct {
	Address shadow.Address
	Code    string
	Value   shadow.Property
}

// NodeChanged reports a node list membership or metadata change.
type NodeChanged struct {
	Address shadow.Address
	Action  string
	Change  shadow.ChangeKind
}

// ProgramUpdate reports a program's status fields.
type ProgramUpdate struct {
	Address      shadow.Address
	Status       string
	Enabled      *bool
	RunAtStartup *bool
	LastRun      time.Time
	LastFinish   time.Time
}

// VariableUpdate reports a variable's current or initial value.
type VariableUpdate struct {
	Address   shadow.Address
	Init      bool
	Value     string
	Precision string
	TS        string
}

// SystemStatus reports a controller-wide status change.
type SystemStatus struct {
	Action string
	Status string
}

// Heartbeat is the controller's periodic liveness signal. Action
// carries the interval in seconds until the next heartbeat.
type Heartbeat struct {
	Interval int
	Seqnum   int
}

// StreamID carries the subscription identifier assigned by the
// controller on the first frame of a new stream.
type StreamID struct {
	SID string
}

func (PropertyUpdate) isEvent() {}
func (ControlMessage) isEvent() {}
func (NodeChanged) isEvent()    {}
func (ProgramUpdate) isEvent()  {}
func (VariableUpdate) isEvent() {}
func (SystemStatus) isEvent()   {}
func (Heartbeat) isEvent()      {}
func (StreamID) isEvent()       {}

// System status actions, per the controller's event documentation.
const (
	SystemNotBusy  = "0"
	SystemBusy     = "1"
	SystemIdle     = "2"
	SystemSafeMode = "3"
)
