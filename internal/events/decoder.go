package events

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/isy-shadow/internal/shadow"
)

// Wire format of one event frame:
//
//	<Event seqnum="478" sid="uuid:74">
//	  <control>ST</control>
//	  <action uom="100" prec="0">255</action>
//	  <node>16 2E 45 1</node>
//	  <eventInfo></eventInfo>
//	  <fmtAct>On</fmtAct>
//	</Event>
//
// The control tag selects the category: "ST" is a property status
// update, other non-underscore codes are node control events, and
// underscore codes are platform events ("_0" heartbeat, "_1" trigger,
// "_3" node changed, "_5" system status).
type rawEvent struct {
	XMLName   xml.Name     `xml:"Event"`
	Seqnum    string       `xml:"seqnum,attr"`
	SID       string       `xml:"sid,attr"`
	Control   string       `xml:"control"`
	Action    rawAction    `xml:"action"`
	Node      string       `xml:"node"`
	EventInfo rawEventInfo `xml:"eventInfo"`
	FmtAct    string       `xml:"fmtAct"`
}

type rawAction struct {
	UOM       string `xml:"uom,attr"`
	Precision string `xml:"prec,attr"`
	Value     string `xml:",chardata"`
}

type rawEventInfo struct {
	ID         *string  `xml:"id"`
	Status     string   `xml:"s"`
	LastRun    string   `xml:"r"`
	LastFinish string   `xml:"f"`
	On         *xmlFlag `xml:"on"`
	Off        *xmlFlag `xml:"off"`
	RR         *xmlFlag `xml:"rr"`
	NR         *xmlFlag `xml:"nr"`
	Var        *rawVar  `xml:"var"`
}

type xmlFlag struct{}

type rawVar struct {
	Type      string  `xml:"type,attr"`
	ID        string  `xml:"id,attr"`
	Val       *string `xml:"val"`
	Init      *string `xml:"init"`
	Precision string  `xml:"prec"`
	TS        string  `xml:"ts"`
}

// programTimeLayout is the controller's program run-time format.
const programTimeLayout = "060102 15:04:05"

// Decode parses a raw event frame into a typed Event.
//
// Decoding is pure: no side effects, no I/O. Frames with an
// unrecognized category decode to (nil, nil) and are silently skipped;
// malformed frames return an error wrapping ErrDecodeFailed.
func Decode(frame []byte) (Event, error) {
	var raw rawEvent
	if err := xml.Unmarshal(frame, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}

	control := raw.Control
	if control == "" {
		if raw.SID != "" {
			return StreamID{SID: raw.SID}, nil
		}
		return nil, nil
	}

	switch {
	case control == "_0":
		return decodeHeartbeat(raw)
	case control == shadow.StatusKey:
		return decodePropertyUpdate(raw)
	case !strings.HasPrefix(control, "_"):
		return decodeControlMessage(raw)
	case control == "_1":
		return decodeTriggerUpdate(raw)
	case control == "_3":
		return decodeNodeChanged(raw)
	case control == "_5":
		return decodeSystemStatus(raw)
	default:
		// Driver, configuration and other platform categories are
		// not mirrored; ignore without error.
		return nil, nil
	}
}

func decodeHeartbeat(raw rawEvent) (Event, error) {
	interval, err := strconv.Atoi(strings.TrimSpace(raw.Action.Value))
	if err != nil {
		return nil, fmt.Errorf("%w: heartbeat interval %q: %w", ErrDecodeFailed, raw.Action.Value, err)
	}
	seqnum, _ := strconv.Atoi(raw.Seqnum)
	return Heartbeat{Interval: interval, Seqnum: seqnum}, nil
}

func decodePropertyUpdate(raw rawEvent) (Event, error) {
	if raw.Node == "" {
		return nil, fmt.Errorf("%w: status update without node address", ErrDecodeFailed)
	}
	return PropertyUpdate{
		Address: shadow.Address(raw.Node),
		Key:     shadow.StatusKey,
		Value:   actionProperty(raw),
	}, nil
}

func decodeControlMessage(raw rawEvent) (Event, error) {
	if raw.Node == "" {
		return nil, fmt.Errorf("%w: control event without node address", ErrDecodeFailed)
	}
	return ControlMessage{
		Address: shadow.Address(raw.Node),
		Code:    raw.Control,
		Value:   actionProperty(raw),
	}, nil
}

// actionProperty extracts the action value with its presentation
// metadata. An absent formatted value falls back to the raw value; an
// absent unit stays empty so the shadow tree keeps the existing one.
func actionProperty(raw rawEvent) shadow.Property {
	formatted := raw.FmtAct
	if formatted == "" {
		formatted = raw.Action.Value
	}
	return shadow.Property{
		Value:     raw.Action.Value,
		Formatted: formatted,
		UOM:       raw.Action.UOM,
		Precision: raw.Action.Precision,
	}
}

func decodeTriggerUpdate(raw rawEvent) (Event, error) {
	switch raw.Action.Value {
	case "0":
		return decodeProgramUpdate(raw)
	case "6":
		return decodeVariableUpdate(raw, false)
	case "7":
		return decodeVariableUpdate(raw, true)
	default:
		// Key exchange, schedule and info-string trigger actions are
		// not mirrored.
		return nil, nil
	}
}

// decodeProgramUpdate parses a program status trigger:
//
//	<eventInfo>
//	  <id>1A</id>
//	  <on/>       (or <off/>: program enabled state)
//	  <rr/>       (or <nr/>: run at reboot state)
//	  <r>230815 07:30:00</r>
//	  <f>230815 07:30:02</f>
//	  <s>21</s>
//	</eventInfo>
func decodeProgramUpdate(raw rawEvent) (Event, error) {
	info := raw.EventInfo
	if info.ID == nil || *info.ID == "" {
		return nil, fmt.Errorf("%w: program update without id", ErrDecodeFailed)
	}

	update := ProgramUpdate{
		Address: ProgramAddress(*info.ID),
		Status:  info.Status,
	}

	if info.On != nil {
		update.Enabled = boolPtr(true)
	} else if info.Off != nil {
		update.Enabled = boolPtr(false)
	}
	if info.RR != nil {
		update.RunAtStartup = boolPtr(true)
	} else if info.NR != nil {
		update.RunAtStartup = boolPtr(false)
	}
	if info.LastRun != "" {
		if t, err := time.ParseInLocation(programTimeLayout, info.LastRun, time.Local); err == nil {
			update.LastRun = t
		}
	}
	if info.LastFinish != "" {
		if t, err := time.ParseInLocation(programTimeLayout, info.LastFinish, time.Local); err == nil {
			update.LastFinish = t
		}
	}

	return update, nil
}

// decodeVariableUpdate parses a variable trigger:
//
//	<eventInfo>
//	  <var type="2" id="14">
//	    <val>5</val>
//	    <prec>0</prec>
//	    <ts>230815 07:30:00</ts>
//	  </var>
//	</eventInfo>
//
// Action "7" carries <init> instead of <val>.
func decodeVariableUpdate(raw rawEvent, init bool) (Event, error) {
	v := raw.EventInfo.Var
	if v == nil || v.Type == "" || v.ID == "" {
		return nil, fmt.Errorf("%w: variable update without var element", ErrDecodeFailed)
	}

	update := VariableUpdate{
		Address:   VariableAddress(v.Type, v.ID),
		Init:      init,
		Precision: v.Precision,
		TS:        v.TS,
	}
	switch {
	case init && v.Init != nil:
		update.Value = *v.Init
	case !init && v.Val != nil:
		update.Value = *v.Val
	default:
		return nil, fmt.Errorf("%w: variable update without value", ErrDecodeFailed)
	}

	return update, nil
}

func decodeNodeChanged(raw rawEvent) (Event, error) {
	action := raw.Action.Value
	if raw.Node == "" {
		return nil, fmt.Errorf("%w: node change without address", ErrDecodeFailed)
	}
	return NodeChanged{
		Address: shadow.Address(raw.Node),
		Action:  action,
		Change:  nodeChangeKind(action),
	}, nil
}

// nodeChangeKind maps controller node-change action codes onto tree
// membership changes. Codes not listed are metadata updates.
func nodeChangeKind(action string) shadow.ChangeKind {
	switch action {
	case "ND":
		return shadow.ChangeAdded
	case "NR", "GR", "FR":
		return shadow.ChangeRemoved
	default:
		return shadow.ChangeUpdated
	}
}

func decodeSystemStatus(raw rawEvent) (Event, error) {
	action := raw.Action.Value
	status := map[string]string{
		SystemNotBusy:  "not_busy",
		SystemBusy:     "busy",
		SystemIdle:     "idle",
		SystemSafeMode: "safe_mode",
	}[action]
	if status == "" {
		status = action
	}
	return SystemStatus{Action: action, Status: status}, nil
}

// ProgramAddress normalises a program ID into its shadow address.
// The controller zero-pads program IDs to four characters.
func ProgramAddress(id string) shadow.Address {
	id = strings.ToUpper(strings.TrimSpace(id))
	for len(id) < 4 {
		id = "0" + id
	}
	return shadow.Address(id)
}

// VariableAddress builds a variable's shadow address from its type
// and ID, e.g. type 2 id 14 -> "2.14".
func VariableAddress(varType, id string) shadow.Address {
	return shadow.Address(varType + "." + id)
}

func boolPtr(v bool) *bool { return &v }

// DecodeSubscriptionResponse extracts the subscription ID from the
// SOAP response returned by the TCP subscription handshake.
func DecodeSubscriptionResponse(data []byte) (string, error) {
	var resp struct {
		XMLName xml.Name
		Body    struct {
			SubscriptionResponse struct {
				SID string `xml:"SID"`
			} `xml:"SubscriptionResponse"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("%w: subscription response: %w", ErrDecodeFailed, err)
	}
	sid := resp.Body.SubscriptionResponse.SID
	if sid == "" {
		return "", fmt.Errorf("%w: subscription response without SID", ErrDecodeFailed)
	}
	return sid, nil
}
