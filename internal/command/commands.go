package command

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/nerrad567/isy-shadow/internal/rest"
	"github.com/nerrad567/isy-shadow/internal/shadow"
)

// ErrUnsupportedEntity indicates a command was issued against an
// entity kind that cannot execute it.
var ErrUnsupportedEntity = errors.New("command: unsupported entity kind")

// RunMode selects which branch of a program to execute.
type RunMode string

const (
	RunIf   RunMode = "run"
	RunThen RunMode = "runThen"
	RunElse RunMode = "runElse"
	Stop    RunMode = "stop"
)

// Logger is the minimal logging interface the commander requires.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// Commander issues commands to the controller over REST.
//
// It validates targets against the shadow tree before sending, and
// subscribes to nothing: command acknowledgements arrive back through
// the event stream like any other state change, with no special
// privilege.
type Commander struct {
	client *rest.Client
	tree   *shadow.Tree
	logger Logger
}

// NewCommander creates a commander. A nil logger disables logging.
func NewCommander(client *rest.Client, tree *shadow.Tree, logger Logger) *Commander {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Commander{client: client, tree: tree, logger: logger}
}

// TurnOn switches a node or group on. A level of 0-255 dims
// dimmable devices; -1 means full on.
func (c *Commander) TurnOn(ctx context.Context, addr shadow.Address, level int) error {
	entity, err := c.lookupKinds(addr, shadow.KindNode, shadow.KindGroup)
	if err != nil {
		return err
	}

	path := "/rest/nodes/" + url.PathEscape(string(entity.Address)) + "/cmd/DON"
	if level >= 0 {
		path += "/" + strconv.Itoa(level)
	}
	return c.send(ctx, path)
}

// TurnOff switches a node or group off.
func (c *Commander) TurnOff(ctx context.Context, addr shadow.Address) error {
	entity, err := c.lookupKinds(addr, shadow.KindNode, shadow.KindGroup)
	if err != nil {
		return err
	}
	return c.send(ctx, "/rest/nodes/"+url.PathEscape(string(entity.Address))+"/cmd/DOF")
}

// SendNodeCommand issues an arbitrary control code to a node or
// group, with optional value arguments appended to the path.
func (c *Commander) SendNodeCommand(ctx context.Context, addr shadow.Address, code string, args ...string) error {
	entity, err := c.lookupKinds(addr, shadow.KindNode, shadow.KindGroup)
	if err != nil {
		return err
	}

	path := "/rest/nodes/" + url.PathEscape(string(entity.Address)) + "/cmd/" + url.PathEscape(code)
	for _, arg := range args {
		path += "/" + url.PathEscape(arg)
	}
	return c.send(ctx, path)
}

// RunProgram executes a program branch: the full if evaluation, the
// then branch, the else branch, or a stop.
func (c *Commander) RunProgram(ctx context.Context, addr shadow.Address, mode RunMode) error {
	entity, err := c.lookupKinds(addr, shadow.KindProgram, shadow.KindFolder)
	if err != nil {
		return err
	}

	id := strings.ToUpper(string(entity.Address))
	return c.send(ctx, "/rest/programs/"+url.PathEscape(id)+"/"+string(mode))
}

// SetProgramEnabled enables or disables a program.
func (c *Commander) SetProgramEnabled(ctx context.Context, addr shadow.Address, enabled bool) error {
	entity, err := c.lookupKinds(addr, shadow.KindProgram)
	if err != nil {
		return err
	}

	action := "disable"
	if enabled {
		action = "enable"
	}
	return c.send(ctx, "/rest/programs/"+url.PathEscape(string(entity.Address))+"/"+action)
}

// SetVariable sets a variable's current value, or its initial value
// when init is true.
func (c *Commander) SetVariable(ctx context.Context, addr shadow.Address, value int, init bool) error {
	entity, err := c.lookupKinds(addr, shadow.KindVariable)
	if err != nil {
		return err
	}

	varType, id, ok := strings.Cut(string(entity.Address), ".")
	if !ok {
		return fmt.Errorf("%w: malformed variable address %q", shadow.ErrEntityNotFound, addr)
	}

	base := "/rest/vars/set/"
	if init {
		base = "/rest/vars/init/"
	}
	return c.send(ctx, base+varType+"/"+id+"/"+strconv.Itoa(value))
}

func (c *Commander) lookupKinds(addr shadow.Address, kinds ...shadow.Kind) (shadow.Entity, error) {
	entity, err := c.tree.Lookup(addr)
	if err != nil {
		return shadow.Entity{}, err
	}
	for _, k := range kinds {
		if entity.Kind == k {
			return entity, nil
		}
	}
	return shadow.Entity{}, fmt.Errorf("%w: %s is a %s", ErrUnsupportedEntity, addr, entity.Kind)
}

func (c *Commander) send(ctx context.Context, path string) error {
	c.logger.Debug("sending command", "path", path)
	if _, err := c.client.Get(ctx, path); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}
