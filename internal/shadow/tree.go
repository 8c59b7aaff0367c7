package shadow

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/isy-shadow/internal/feed"
)

// Logger is the minimal logging interface the tree requires.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// statusBearingControls maps control codes that also carry a status or
// auxiliary value onto the property key they update. Other control
// codes are transient and only raise control notifications.
var statusBearingControls = map[string]string{
	"ST": StatusKey,
	"OL": "OL", // on level
	"RR": "RR", // ramp rate
	"BL": "BL", // battery level
	"CV": "CV", // current voltage
}

// Tree is the in-memory mirror of the controller's entities.
//
// All mutation entry points (Seed, ApplyPropertyUpdate,
// ApplyControlMessage, ApplyEntityChange) are intended to be called
// from the single event dispatch goroutine. Read entry points (Lookup,
// Addresses) are safe from any goroutine.
//
// Notifications are published after the internal lock is released, so
// listeners may call Lookup from their callbacks.
type Tree struct {
	logger Logger

	mu       sync.RWMutex
	entities map[Address]*Entity
	seeded   bool

	feedMu       sync.Mutex
	statusFeeds  map[Address]*feed.Feed[StatusChange]
	controlFeeds map[Address]*feed.Feed[ControlEvent]
	allStatus    *feed.Feed[StatusChange]
	allControl   *feed.Feed[ControlEvent]
	changes      *feed.Feed[EntityChange]
}

// NewTree creates an empty shadow tree. A nil logger disables logging.
func NewTree(logger Logger) *Tree {
	if logger == nil {
		logger = noopLogger{}
	}
	t := &Tree{
		logger:       logger,
		entities:     make(map[Address]*Entity),
		statusFeeds:  make(map[Address]*feed.Feed[StatusChange]),
		controlFeeds: make(map[Address]*feed.Feed[ControlEvent]),
		allStatus:    feed.New[StatusChange](),
		allControl:   feed.New[ControlEvent](),
		changes:      feed.New[EntityChange](),
	}
	t.allStatus.OnPanic(t.listenerPanicked)
	t.allControl.OnPanic(t.listenerPanicked)
	t.changes.OnPanic(t.listenerPanicked)
	return t
}

// Seed loads the initial entity set from a snapshot fetch. It replaces
// any previous contents. Entities seeded without a unit get the
// UOMNotSet sentinel so a later empty unit report is distinguishable.
func (t *Tree) Seed(entries []SeedEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entities = make(map[Address]*Entity, len(entries))
	for _, e := range entries {
		state := e.State.clone()
		if state.Status.UOM == "" {
			state.Status.UOM = UOMNotSet
		}
		if state.Aux == nil {
			state.Aux = make(map[string]Property)
		}
		t.entities[e.Address] = &Entity{
			Address: e.Address,
			Kind:    e.Kind,
			Name:    e.Name,
			Enabled: e.Enabled,
			State:   state,
		}
	}
	t.seeded = true

	t.logger.Info("shadow tree seeded", "entities", len(entries))
}

// Seeded reports whether the tree has received its initial snapshot.
func (t *Tree) Seeded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seeded
}

// ApplyPropertyUpdate applies one property report to the entity at
// addr. Updates for unknown addresses return ErrEntityNotFound and
// mutate nothing; callers treat this as a benign race against the
// initial snapshot.
//
// A status-changed notification fires only when the merged property
// differs from the previous value. Applying the identical update twice
// notifies once.
func (t *Tree) ApplyPropertyUpdate(addr Address, key string, prop Property, at time.Time) error {
	if key == "" {
		key = StatusKey
	}
	if at.IsZero() {
		at = time.Now()
	}

	t.mu.Lock()
	entity, ok := t.entities[addr]
	if !ok {
		t.mu.Unlock()
		t.logger.Debug("property update for unknown entity dropped", "address", addr, "key", key)
		return fmt.Errorf("%w: %s", ErrEntityNotFound, addr)
	}

	var change *StatusChange
	if key == StatusKey {
		merged, changed := entity.State.Status.merge(prop)
		if changed {
			change = &StatusChange{
				Address: addr,
				Kind:    entity.Kind,
				Key:     key,
				Old:     entity.State.Status,
				New:     merged,
				At:      at,
			}
			entity.State.Status = merged
			entity.State.LastChanged = at
		}
	} else {
		prev := entity.State.Aux[key]
		merged, changed := prev.merge(prop)
		if changed {
			change = &StatusChange{
				Address: addr,
				Kind:    entity.Kind,
				Key:     key,
				Old:     prev,
				New:     merged,
				At:      at,
			}
			entity.State.Aux[key] = merged
			entity.State.LastChanged = at
		}
	}
	t.mu.Unlock()

	if change != nil {
		t.publishStatus(*change)
	}
	return nil
}

// ApplyControlMessage records a control event for the entity at addr.
// Controls are transient: a control notification always fires, even
// for a repeated identical code. Codes that also carry a status value
// additionally run the property-update path.
func (t *Tree) ApplyControlMessage(addr Address, code string, prop Property, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}

	t.mu.RLock()
	entity, ok := t.entities[addr]
	var kind Kind
	if ok {
		kind = entity.Kind
	}
	t.mu.RUnlock()

	if !ok {
		t.logger.Debug("control message for unknown entity dropped", "address", addr, "code", code)
		return fmt.Errorf("%w: %s", ErrEntityNotFound, addr)
	}

	t.publishControl(ControlEvent{
		Address: addr,
		Kind:    kind,
		Code:    code,
		Value:   prop,
		At:      at,
	})

	if key, bearing := statusBearingControls[code]; bearing {
		return t.ApplyPropertyUpdate(addr, key, prop, at)
	}
	return nil
}

// ApplyEntityChange records a tree membership change. Removed entities
// are dropped from the tree; added entities appear on the next seed or
// snapshot refresh, so only the notification fires here.
func (t *Tree) ApplyEntityChange(addr Address, change ChangeKind, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}

	if change == ChangeRemoved {
		t.mu.Lock()
		delete(t.entities, addr)
		t.mu.Unlock()
	}

	t.changes.Publish(EntityChange{Address: addr, Change: change, At: at})
}

// Lookup returns a read snapshot of the entity at addr.
func (t *Tree) Lookup(addr Address) (Entity, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entity, ok := t.entities[addr]
	if !ok {
		return Entity{}, fmt.Errorf("%w: %s", ErrEntityNotFound, addr)
	}

	out := *entity
	out.State = entity.State.clone()
	return out, nil
}

// Addresses returns all known entity addresses, sorted.
func (t *Tree) Addresses() []Address {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Address, 0, len(t.entities))
	for addr := range t.entities {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of entities in the tree.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entities)
}

// SubscribeStatus attaches a listener to one entity's status feed.
// Subscribing to an address before it is seeded is allowed; the
// subscription fires once the entity exists and changes.
func (t *Tree) SubscribeStatus(addr Address, handler func(StatusChange)) *feed.Listener[StatusChange] {
	t.feedMu.Lock()
	defer t.feedMu.Unlock()

	f, ok := t.statusFeeds[addr]
	if !ok {
		f = feed.New[StatusChange]()
		f.OnPanic(t.listenerPanicked)
		t.statusFeeds[addr] = f
	}
	return f.Subscribe(handler)
}

// SubscribeControl attaches a listener to one entity's control feed.
func (t *Tree) SubscribeControl(addr Address, handler func(ControlEvent)) *feed.Listener[ControlEvent] {
	t.feedMu.Lock()
	defer t.feedMu.Unlock()

	f, ok := t.controlFeeds[addr]
	if !ok {
		f = feed.New[ControlEvent]()
		f.OnPanic(t.listenerPanicked)
		t.controlFeeds[addr] = f
	}
	return f.Subscribe(handler)
}

// SubscribeAllStatus attaches a listener to the tree-wide status feed,
// which receives every status change for every entity.
func (t *Tree) SubscribeAllStatus(handler func(StatusChange)) *feed.Listener[StatusChange] {
	return t.allStatus.Subscribe(handler)
}

// SubscribeAllControl attaches a listener to the tree-wide control
// feed, which receives every control event for every entity.
func (t *Tree) SubscribeAllControl(handler func(ControlEvent)) *feed.Listener[ControlEvent] {
	return t.allControl.Subscribe(handler)
}

// SubscribeChanges attaches a listener to the tree membership feed.
func (t *Tree) SubscribeChanges(handler func(EntityChange)) *feed.Listener[EntityChange] {
	return t.changes.Subscribe(handler)
}

func (t *Tree) publishStatus(change StatusChange) {
	t.feedMu.Lock()
	f := t.statusFeeds[change.Address]
	t.feedMu.Unlock()

	if f != nil {
		f.Publish(change)
	}
	t.allStatus.Publish(change)
}

func (t *Tree) publishControl(event ControlEvent) {
	t.feedMu.Lock()
	f := t.controlFeeds[event.Address]
	t.feedMu.Unlock()

	if f != nil {
		f.Publish(event)
	}
	t.allControl.Publish(event)
}

func (t *Tree) listenerPanicked(id string, recovered any) {
	t.logger.Error("listener panicked", "listener_id", id, "panic", recovered)
}
