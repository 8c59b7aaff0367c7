package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/isy-shadow/internal/command"
	"github.com/nerrad567/isy-shadow/internal/feed"
	"github.com/nerrad567/isy-shadow/internal/infrastructure/mqtt"
	"github.com/nerrad567/isy-shadow/internal/shadow"
)

// Relay operation constants.
const (
	// minTopicParts is the minimum number of levels in a command topic.
	minTopicParts = 4

	// commandTimeout bounds a single command round-trip to the controller.
	commandTimeout = 5 * time.Second
)

// ErrRelayConfig indicates the relay was constructed with missing dependencies.
var ErrRelayConfig = errors.New("relay: invalid configuration")

// MQTTClient is the broker surface the relay needs.
// Satisfied by *mqtt.Client; narrowed for tests.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// CommandExecutor issues validated commands to the controller.
// Satisfied by *command.Commander.
type CommandExecutor interface {
	TurnOn(ctx context.Context, addr shadow.Address, level int) error
	TurnOff(ctx context.Context, addr shadow.Address) error
	SendNodeCommand(ctx context.Context, addr shadow.Address, code string, args ...string) error
	RunProgram(ctx context.Context, addr shadow.Address, mode command.RunMode) error
	SetProgramEnabled(ctx context.Context, addr shadow.Address, enabled bool) error
	SetVariable(ctx context.Context, addr shadow.Address, value int, init bool) error
}

// Logger is the minimal logging interface the relay requires.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Relay bridges the shadow tree and the MQTT broker.
//
// Outbound, it mirrors every status change, control event, and stream
// connection transition onto the topic hierarchy. Inbound, it turns
// command messages into controller REST calls; the resulting state
// change comes back through the event stream and is published like any
// other update, so subscribers never see an optimistic echo.
type Relay struct {
	mqtt      MQTTClient
	tree      *shadow.Tree
	commander CommandExecutor
	logger    Logger
	qos       byte
	topics    mqtt.Topics

	statusSub  *feed.Listener[shadow.StatusChange]
	controlSub *feed.Listener[shadow.ControlEvent]

	ctx       context.Context
	ctxCancel context.CancelFunc
	stopOnce  sync.Once
}

// Options holds dependencies for creating a relay.
type Options struct {
	MQTT      MQTTClient
	Tree      *shadow.Tree
	Commander CommandExecutor

	// Logger is optional; nil disables logging.
	Logger Logger

	// QoS for all published messages. Defaults to 1.
	QoS int
}

// New creates a relay. Call Start to begin mirroring.
func New(opts Options) (*Relay, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("%w: MQTT client is required", ErrRelayConfig)
	}
	if opts.Tree == nil {
		return nil, fmt.Errorf("%w: shadow tree is required", ErrRelayConfig)
	}
	if opts.Commander == nil {
		return nil, fmt.Errorf("%w: command executor is required", ErrRelayConfig)
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	qos := opts.QoS
	if qos == 0 {
		qos = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		mqtt:      opts.MQTT,
		tree:      opts.Tree,
		commander: opts.Commander,
		logger:    logger,
		qos:       byte(qos),
		ctx:       ctx,
		ctxCancel: cancel,
	}, nil
}

// Start attaches the relay to the shadow tree feeds and subscribes to
// the inbound command topics.
func (r *Relay) Start() error {
	r.statusSub = r.tree.SubscribeAllStatus(r.handleStatus)
	r.controlSub = r.tree.SubscribeAllControl(r.handleControl)

	commandTopic := r.topics.AllCommands()
	if err := r.mqtt.Subscribe(commandTopic, r.qos, r.handleCommand); err != nil {
		r.statusSub.Unsubscribe()
		r.controlSub.Unsubscribe()
		return fmt.Errorf("relay: subscribe to commands: %w", err)
	}

	r.logger.Info("relay started", "command_topic", commandTopic)
	return nil
}

// Stop detaches the relay from the tree and aborts in-flight commands.
// Broker disconnection is the MQTT client's concern, not the relay's.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		r.ctxCancel()
		if r.statusSub != nil {
			r.statusSub.Unsubscribe()
		}
		if r.controlSub != nil {
			r.controlSub.Unsubscribe()
		}
		r.logger.Info("relay stopped")
	})
}

// PublishConnectionStatus mirrors a stream connection transition to the
// retained connection topic.
func (r *Relay) PublishConnectionStatus(status string) {
	msg := ConnectionMessage{Status: status, Timestamp: time.Now().UTC()}
	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("failed to marshal connection status", "error", err)
		return
	}
	if err := r.mqtt.Publish(r.topics.Connection(), payload, r.qos, true); err != nil {
		r.logger.Warn("failed to publish connection status", "status", status, "error", err)
	}
}

// handleStatus mirrors one status change to its retained topic.
func (r *Relay) handleStatus(change shadow.StatusChange) {
	msg := newStatusMessage(change)
	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("failed to marshal status message", "address", msg.Address, "error", err)
		return
	}

	topic := r.topics.EntityStatus(msg.Kind, msg.Address)
	if err := r.mqtt.Publish(topic, payload, r.qos, true); err != nil {
		r.logger.Warn("failed to publish status", "topic", topic, "error", err)
	}
}

// handleControl mirrors one control event, never retained.
func (r *Relay) handleControl(ev shadow.ControlEvent) {
	msg := newControlMessage(ev)
	payload, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("failed to marshal control message", "address", msg.Address, "error", err)
		return
	}

	topic := r.topics.EntityControl(msg.Kind, msg.Address)
	if err := r.mqtt.Publish(topic, payload, r.qos, false); err != nil {
		r.logger.Warn("failed to publish control event", "topic", topic, "error", err)
	}
}

// handleCommand processes one inbound command message.
func (r *Relay) handleCommand(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		return fmt.Errorf("relay: invalid command topic %q", topic)
	}
	topicKind := parts[2]

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("relay: parse command: %w", err)
	}
	if cmd.Address == "" {
		return fmt.Errorf("relay: command %q missing address", cmd.ID)
	}

	r.logger.Info("received command",
		"command_id", cmd.ID,
		"address", cmd.Address,
		"command", cmd.Command)

	// The payload address is authoritative; the topic only routes.
	// Resolve the kind from the tree for the ack topic, falling back
	// to the topic level when the entity is unknown.
	kind := topicKind
	if entity, err := r.tree.Lookup(shadow.Address(cmd.Address)); err == nil {
		kind = string(entity.Kind)
	}

	ctx, cancel := context.WithTimeout(r.ctx, commandTimeout)
	defer cancel()

	if err := r.execute(ctx, cmd); err != nil {
		r.publishAck(kind, newAckError(cmd, errorCode(err), err.Error()))
		return err
	}

	r.publishAck(kind, newAck(cmd))
	return nil
}

// execute dispatches a command to the controller.
func (r *Relay) execute(ctx context.Context, cmd CommandMessage) error {
	addr := shadow.Address(cmd.Address)
	params := cmd.Parameters

	switch cmd.Command {
	case "on":
		return r.commander.TurnOn(ctx, addr, intParam(params, "level", -1))
	case "off":
		return r.commander.TurnOff(ctx, addr)
	case "cmd":
		code := stringParam(params, "code", "")
		if code == "" {
			return fmt.Errorf("%w: cmd requires a code parameter", command.ErrUnsupportedEntity)
		}
		return r.commander.SendNodeCommand(ctx, addr, code, stringSliceParam(params, "args")...)
	case "run":
		mode := command.RunMode(stringParam(params, "mode", string(command.RunIf)))
		switch mode {
		case command.RunIf, command.RunThen, command.RunElse, command.Stop:
		default:
			return fmt.Errorf("%w: unknown run mode %q", command.ErrUnsupportedEntity, mode)
		}
		return r.commander.RunProgram(ctx, addr, mode)
	case "enable":
		return r.commander.SetProgramEnabled(ctx, addr, boolParam(params, "enabled", true))
	case "set":
		value, ok := lookupIntParam(params, "value")
		if !ok {
			return fmt.Errorf("%w: set requires a value parameter", command.ErrUnsupportedEntity)
		}
		return r.commander.SetVariable(ctx, addr, value, boolParam(params, "init", false))
	default:
		return fmt.Errorf("%w: %q", errUnknownCommand, cmd.Command)
	}
}

var errUnknownCommand = errors.New("relay: unknown command")

// errorCode maps an execution error to an ack error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, shadow.ErrEntityNotFound):
		return ErrCodeUnknownEntity
	case errors.Is(err, command.ErrUnsupportedEntity):
		return ErrCodeInvalidParameters
	default:
		return ErrCodeControllerError
	}
}

func (r *Relay) publishAck(kind string, ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		r.logger.Error("failed to marshal ack", "command_id", ack.CommandID, "error", err)
		return
	}
	topic := r.topics.EntityAck(kind, ack.Address)
	if err := r.mqtt.Publish(topic, payload, r.qos, false); err != nil {
		r.logger.Warn("failed to publish ack", "topic", topic, "error", err)
	}
}

// Parameter extraction helpers. JSON numbers decode as float64.

func intParam(params map[string]any, key string, def int) int {
	if v, ok := lookupIntParam(params, key); ok {
		return v
	}
	return def
}

func lookupIntParam(params map[string]any, key string) (int, bool) {
	if f, ok := params[key].(float64); ok {
		return int(f), true
	}
	return 0, false
}

func stringParam(params map[string]any, key, def string) string {
	if s, ok := params[key].(string); ok {
		return s
	}
	return def
}

func boolParam(params map[string]any, key string, def bool) bool {
	if b, ok := params[key].(bool); ok {
		return b
	}
	return def
}

func stringSliceParam(params map[string]any, key string) []string {
	raw, ok := params[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
