package feed

import (
	"sync"

	"github.com/google/uuid"
)

// Handler receives published values. Handlers run synchronously on the
// publisher's goroutine, one at a time, in subscription order.
type Handler[T any] func(T)

// Listener is a handle returned by Subscribe. Use it to unsubscribe.
type Listener[T any] struct {
	id      string
	handler Handler[T]
	feed    *Feed[T]
}

// ID returns the listener's unique identifier.
func (l *Listener[T]) ID() string {
	return l.id
}

// Unsubscribe removes the listener from its feed.
//
// Safe to call from inside the listener's own handler: removal takes
// effect on the next publish, never mid-delivery.
func (l *Listener[T]) Unsubscribe() {
	l.feed.remove(l.id)
}

// Feed is an in-process publish/subscribe channel for values of type T.
//
// Delivery guarantees:
//   - Listeners are invoked in subscription order.
//   - A panic in one handler is recovered and does not prevent delivery
//     to the remaining listeners.
//   - Subscribing or unsubscribing during a publish affects the next
//     publish, not the one in flight.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Feed[T any] struct {
	mu        sync.RWMutex
	listeners []*Listener[T]

	// onPanic, if set, is called with the recovered value when a
	// handler panics. Used to route panics to a logger.
	onPanic func(listenerID string, recovered any)
}

// New creates an empty Feed.
func New[T any]() *Feed[T] {
	return &Feed[T]{}
}

// OnPanic registers a callback invoked when a handler panics during
// publish. Passing nil clears it.
func (f *Feed[T]) OnPanic(fn func(listenerID string, recovered any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPanic = fn
}

// Subscribe registers a handler and returns its listener handle.
// A nil handler returns a listener that delivers nothing.
func (f *Feed[T]) Subscribe(handler Handler[T]) *Listener[T] {
	l := &Listener[T]{
		id:      uuid.New().String(),
		handler: handler,
		feed:    f,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)

	return l
}

// Unsubscribe removes the listener with the given ID. Unknown IDs are
// ignored.
func (f *Feed[T]) Unsubscribe(id string) {
	f.remove(id)
}

// Publish delivers value to every current listener in subscription order.
//
// The listener set is snapshotted before delivery, so handlers may
// subscribe or unsubscribe (including themselves) without deadlocking
// or disturbing the in-flight delivery.
func (f *Feed[T]) Publish(value T) {
	f.mu.RLock()
	snapshot := make([]*Listener[T], len(f.listeners))
	copy(snapshot, f.listeners)
	onPanic := f.onPanic
	f.mu.RUnlock()

	for _, l := range snapshot {
		f.deliver(l, value, onPanic)
	}
}

// Len returns the current number of listeners.
func (f *Feed[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.listeners)
}

func (f *Feed[T]) deliver(l *Listener[T], value T, onPanic func(string, any)) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(l.id, r)
		}
	}()

	if l.handler != nil {
		l.handler(value)
	}
}

func (f *Feed[T]) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, l := range f.listeners {
		if l.id == id {
			f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
			return
		}
	}
}
