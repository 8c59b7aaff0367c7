package relay

import (
	"time"

	"github.com/nerrad567/isy-shadow/internal/shadow"
)

// MQTT message types exchanged between the relay and subscribers.
// All payloads are JSON with UTC ISO8601 timestamps.

// StatusMessage is published when an entity property changes.
// Topic: isyshadow/status/{kind}/{address}
// QoS: configured default, Retained: yes
type StatusMessage struct {
	// Address is the controller entity address (e.g. "16 2E 45 1").
	Address string `json:"address"`

	// Kind is the entity kind: node, group, program, folder, variable.
	Kind string `json:"kind"`

	// Key is the property that changed ("ST" for the main status,
	// otherwise an auxiliary key like "OL" or "init").
	Key string `json:"key"`

	// Value is the raw property value as reported by the controller.
	Value string `json:"value"`

	// Formatted is the controller's human-readable rendering.
	Formatted string `json:"formatted,omitempty"`

	// UOM is the unit of measure, omitted when never reported.
	UOM string `json:"uom,omitempty"`

	// Precision is the decimal precision for numeric values.
	Precision string `json:"precision,omitempty"`

	// Timestamp is when the change was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`
}

// ControlMessage is published for every control event, including
// repeats. Controls are transient and never retained.
// Topic: isyshadow/control/{kind}/{address}
type ControlMessage struct {
	Address   string    `json:"address"`
	Kind      string    `json:"kind"`
	Control   string    `json:"control"`
	Value     string    `json:"value,omitempty"`
	Formatted string    `json:"formatted,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectionMessage reflects the event stream connection state.
// Topic: isyshadow/connection
// QoS: configured default, Retained: yes
type ConnectionMessage struct {
	// Status is "connected", "disconnected", or "reconnecting".
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// CommandMessage is received from subscribers to execute a command.
// Topic: isyshadow/command/{kind}/{address}
//
// The address in the payload is authoritative; the topic address is
// only routing (topic levels fold spaces to underscores).
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acks.
	ID string `json:"id"`

	// Address is the target entity address.
	Address string `json:"address"`

	// Command is the command name: "on", "off", "cmd", "run",
	// "enable", "set".
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"level": 128}                for on
	//   {"code": "BRT"}               for cmd
	//   {"mode": "runThen"}           for run
	//   {"enabled": false}            for enable
	//   {"value": 72, "init": true}   for set
	Parameters map[string]any `json:"parameters,omitempty"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was sent to the controller.
	// The resulting state change arrives through the event stream like
	// any other update.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// Error codes for command failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeUnknownEntity     = "UNKNOWN_ENTITY"
	ErrCodeControllerError   = "CONTROLLER_ERROR"
)

// AckMessage is published in response to a command.
// Topic: isyshadow/ack/{kind}/{address}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	Address string    `json:"address"`
	Status  AckStatus `json:"status"`

	// Error contains details when status is "failed".
	Error *AckError `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// newStatusMessage converts a tree status change to its wire form.
// The unit is dropped while it carries the never-reported sentinel.
func newStatusMessage(change shadow.StatusChange) StatusMessage {
	uom := change.New.UOM
	if uom == shadow.UOMNotSet {
		uom = ""
	}
	return StatusMessage{
		Address:   string(change.Address),
		Kind:      string(change.Kind),
		Key:       change.Key,
		Value:     change.New.Value,
		Formatted: change.New.Formatted,
		UOM:       uom,
		Precision: change.New.Precision,
		Timestamp: change.At.UTC(),
	}
}

// newControlMessage converts a tree control event to its wire form.
func newControlMessage(ev shadow.ControlEvent) ControlMessage {
	return ControlMessage{
		Address:   string(ev.Address),
		Kind:      string(ev.Kind),
		Control:   ev.Code,
		Value:     ev.Value.Value,
		Formatted: ev.Value.Formatted,
		Timestamp: ev.At.UTC(),
	}
}

// newAck creates an accepted acknowledgment for a command.
func newAck(cmd CommandMessage) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Address:   cmd.Address,
		Status:    AckAccepted,
		Timestamp: time.Now().UTC(),
	}
}

// newAckError creates a failed acknowledgment with error details.
func newAckError(cmd CommandMessage, code, message string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Address:   cmd.Address,
		Status:    AckFailed,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}
}
