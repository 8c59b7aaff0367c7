package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/isy-shadow/internal/command"
	"github.com/nerrad567/isy-shadow/internal/infrastructure/mqtt"
	"github.com/nerrad567/isy-shadow/internal/shadow"
)

type publishedMsg struct {
	topic    string
	payload  []byte
	retained bool
}

// fakeMQTT records publishes and captures subscription handlers so
// tests can inject inbound messages.
type fakeMQTT struct {
	mu           sync.Mutex
	published    []publishedMsg
	handlers     map[string]mqtt.MessageHandler
	subscribeErr error
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeMQTT) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMsg{topic: topic, payload: payload, retained: retained})
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

// deliver injects an inbound message through the handler registered
// for the command wildcard.
func (f *fakeMQTT) deliver(t *testing.T, topic string, payload []byte) error {
	t.Helper()
	f.mu.Lock()
	handler := f.handlers[mqtt.Topics{}.AllCommands()]
	f.mu.Unlock()
	if handler == nil {
		t.Fatal("no command handler subscribed")
	}
	return handler(topic, payload)
}

// byTopic returns all messages published to a topic.
func (f *fakeMQTT) byTopic(topic string) []publishedMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedMsg
	for _, m := range f.published {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeMQTT) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// fakeCommander records command invocations.
type fakeCommander struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeCommander) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeCommander) TurnOn(_ context.Context, addr shadow.Address, level int) error {
	return f.record(fmt.Sprintf("on %s %d", addr, level))
}

func (f *fakeCommander) TurnOff(_ context.Context, addr shadow.Address) error {
	return f.record(fmt.Sprintf("off %s", addr))
}

func (f *fakeCommander) SendNodeCommand(_ context.Context, addr shadow.Address, code string, args ...string) error {
	return f.record(fmt.Sprintf("cmd %s %s %s", addr, code, strings.Join(args, ",")))
}

func (f *fakeCommander) RunProgram(_ context.Context, addr shadow.Address, mode command.RunMode) error {
	return f.record(fmt.Sprintf("run %s %s", addr, mode))
}

func (f *fakeCommander) SetProgramEnabled(_ context.Context, addr shadow.Address, enabled bool) error {
	return f.record(fmt.Sprintf("enable %s %t", addr, enabled))
}

func (f *fakeCommander) SetVariable(_ context.Context, addr shadow.Address, value int, init bool) error {
	return f.record(fmt.Sprintf("set %s %d %t", addr, value, init))
}

func (f *fakeCommander) lastCall(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no command reached the commander")
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeCommander) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testRelay(t *testing.T) (*Relay, *fakeMQTT, *fakeCommander, *shadow.Tree) {
	t.Helper()

	tree := shadow.NewTree(nil)
	tree.Seed([]shadow.SeedEntry{
		{Address: "16 2E 45 1", Kind: shadow.KindNode, Name: "Kitchen Light"},
		{Address: "001A", Kind: shadow.KindProgram, Name: "Morning Scene"},
		{Address: "2.14", Kind: shadow.KindVariable, Name: "Setpoint"},
	})

	broker := newFakeMQTT()
	commander := &fakeCommander{}

	r, err := New(Options{MQTT: broker, Tree: tree, Commander: commander})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(r.Stop)

	return r, broker, commander, tree
}

func TestRelay_PublishesStatusChange(t *testing.T) {
	_, broker, _, tree := testRelay(t)

	at := time.Date(2023, 8, 15, 7, 30, 0, 0, time.UTC)
	if err := tree.ApplyPropertyUpdate("16 2E 45 1", "", shadow.Property{Value: "255", Formatted: "On"}, at); err != nil {
		t.Fatalf("ApplyPropertyUpdate() error = %v", err)
	}

	msgs := broker.byTopic("isyshadow/status/node/16_2E_45_1")
	if len(msgs) != 1 {
		t.Fatalf("got %d status publishes, want 1", len(msgs))
	}
	if !msgs[0].retained {
		t.Error("status message not retained")
	}

	var msg StatusMessage
	if err := json.Unmarshal(msgs[0].payload, &msg); err != nil {
		t.Fatalf("unmarshal status payload: %v", err)
	}
	if msg.Address != "16 2E 45 1" || msg.Key != shadow.StatusKey || msg.Value != "255" {
		t.Errorf("status message = %+v", msg)
	}
	if msg.UOM != "" {
		t.Errorf("UOM = %q for never-reported unit, want empty", msg.UOM)
	}
	if !msg.Timestamp.Equal(at) {
		t.Errorf("Timestamp = %v, want %v", msg.Timestamp, at)
	}
}

func TestRelay_IdenticalUpdatePublishesOnce(t *testing.T) {
	_, broker, _, tree := testRelay(t)

	prop := shadow.Property{Value: "255", Formatted: "On"}
	for i := 0; i < 2; i++ {
		if err := tree.ApplyPropertyUpdate("16 2E 45 1", "", prop, time.Now()); err != nil {
			t.Fatalf("ApplyPropertyUpdate() error = %v", err)
		}
	}

	if got := len(broker.byTopic("isyshadow/status/node/16_2E_45_1")); got != 1 {
		t.Errorf("got %d status publishes for identical updates, want 1", got)
	}
}

func TestRelay_PublishesControlEvent(t *testing.T) {
	_, broker, _, tree := testRelay(t)

	if err := tree.ApplyControlMessage("16 2E 45 1", "DON", shadow.Property{}, time.Now()); err != nil {
		t.Fatalf("ApplyControlMessage() error = %v", err)
	}

	msgs := broker.byTopic("isyshadow/control/node/16_2E_45_1")
	if len(msgs) != 1 {
		t.Fatalf("got %d control publishes, want 1", len(msgs))
	}
	if msgs[0].retained {
		t.Error("control message retained, controls are transient")
	}

	var msg ControlMessage
	if err := json.Unmarshal(msgs[0].payload, &msg); err != nil {
		t.Fatalf("unmarshal control payload: %v", err)
	}
	if msg.Control != "DON" {
		t.Errorf("Control = %q, want DON", msg.Control)
	}
}

func TestRelay_CommandTurnOn(t *testing.T) {
	_, broker, commander, _ := testRelay(t)

	payload := []byte(`{"id":"c1","address":"16 2E 45 1","command":"on","parameters":{"level":128}}`)
	if err := broker.deliver(t, "isyshadow/command/node/16_2E_45_1", payload); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}

	if got := commander.lastCall(t); got != "on 16 2E 45 1 128" {
		t.Errorf("commander call = %q", got)
	}

	acks := broker.byTopic("isyshadow/ack/node/16_2E_45_1")
	if len(acks) != 1 {
		t.Fatalf("got %d acks, want 1", len(acks))
	}
	var ack AckMessage
	if err := json.Unmarshal(acks[0].payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.CommandID != "c1" || ack.Status != AckAccepted {
		t.Errorf("ack = %+v, want accepted c1", ack)
	}
}

func TestRelay_CommandRunProgram(t *testing.T) {
	_, broker, commander, _ := testRelay(t)

	payload := []byte(`{"id":"c2","address":"001A","command":"run","parameters":{"mode":"runThen"}}`)
	if err := broker.deliver(t, "isyshadow/command/program/001A", payload); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}

	if got := commander.lastCall(t); got != "run 001A runThen" {
		t.Errorf("commander call = %q", got)
	}
}

func TestRelay_CommandSetVariable(t *testing.T) {
	_, broker, commander, _ := testRelay(t)

	payload := []byte(`{"id":"c3","address":"2.14","command":"set","parameters":{"value":72,"init":true}}`)
	if err := broker.deliver(t, "isyshadow/command/variable/2.14", payload); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}

	if got := commander.lastCall(t); got != "set 2.14 72 true" {
		t.Errorf("commander call = %q", got)
	}
}

func TestRelay_UnknownCommand(t *testing.T) {
	_, broker, commander, _ := testRelay(t)

	payload := []byte(`{"id":"c4","address":"16 2E 45 1","command":"explode"}`)
	if err := broker.deliver(t, "isyshadow/command/node/16_2E_45_1", payload); err == nil {
		t.Error("deliver() = nil for unknown command, want error")
	}

	if commander.callCount() != 0 {
		t.Error("unknown command reached the commander")
	}

	acks := broker.byTopic("isyshadow/ack/node/16_2E_45_1")
	if len(acks) != 1 {
		t.Fatalf("got %d acks, want 1", len(acks))
	}
	var ack AckMessage
	if err := json.Unmarshal(acks[0].payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != ErrCodeInvalidCommand {
		t.Errorf("ack = %+v, want failed INVALID_COMMAND", ack)
	}
}

func TestRelay_CommandFailureAck(t *testing.T) {
	_, broker, commander, _ := testRelay(t)
	commander.err = fmt.Errorf("lookup: %w", shadow.ErrEntityNotFound)

	payload := []byte(`{"id":"c5","address":"16 2E 45 1","command":"off"}`)
	if err := broker.deliver(t, "isyshadow/command/node/16_2E_45_1", payload); err == nil {
		t.Error("deliver() = nil for failing command, want error")
	}

	acks := broker.byTopic("isyshadow/ack/node/16_2E_45_1")
	if len(acks) != 1 {
		t.Fatalf("got %d acks, want 1", len(acks))
	}
	var ack AckMessage
	if err := json.Unmarshal(acks[0].payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.Status != AckFailed || ack.Error == nil || ack.Error.Code != ErrCodeUnknownEntity {
		t.Errorf("ack = %+v, want failed UNKNOWN_ENTITY", ack)
	}
}

func TestRelay_MalformedCommandPayload(t *testing.T) {
	_, broker, commander, _ := testRelay(t)

	before := broker.publishCount()
	if err := broker.deliver(t, "isyshadow/command/node/16_2E_45_1", []byte("not json")); err == nil {
		t.Error("deliver() = nil for malformed payload, want error")
	}

	if commander.callCount() != 0 {
		t.Error("malformed command reached the commander")
	}
	if broker.publishCount() != before {
		t.Error("malformed command produced publishes")
	}
}

func TestRelay_ConnectionStatus(t *testing.T) {
	r, broker, _, _ := testRelay(t)

	r.PublishConnectionStatus("connected")

	msgs := broker.byTopic("isyshadow/connection")
	if len(msgs) != 1 {
		t.Fatalf("got %d connection publishes, want 1", len(msgs))
	}
	if !msgs[0].retained {
		t.Error("connection message not retained")
	}

	var msg ConnectionMessage
	if err := json.Unmarshal(msgs[0].payload, &msg); err != nil {
		t.Fatalf("unmarshal connection payload: %v", err)
	}
	if msg.Status != "connected" {
		t.Errorf("Status = %q, want connected", msg.Status)
	}
}

func TestRelay_StopDetachesFromTree(t *testing.T) {
	r, broker, _, tree := testRelay(t)

	r.Stop()
	before := broker.publishCount()

	if err := tree.ApplyPropertyUpdate("16 2E 45 1", "", shadow.Property{Value: "255"}, time.Now()); err != nil {
		t.Fatalf("ApplyPropertyUpdate() error = %v", err)
	}

	if broker.publishCount() != before {
		t.Error("stopped relay still publishes tree changes")
	}
}

func TestRelay_MissingDependencies(t *testing.T) {
	tree := shadow.NewTree(nil)

	if _, err := New(Options{Tree: tree, Commander: &fakeCommander{}}); err == nil {
		t.Error("New() without MQTT client = nil error")
	}
	if _, err := New(Options{MQTT: newFakeMQTT(), Commander: &fakeCommander{}}); err == nil {
		t.Error("New() without tree = nil error")
	}
	if _, err := New(Options{MQTT: newFakeMQTT(), Tree: tree}); err == nil {
		t.Error("New() without commander = nil error")
	}
}
