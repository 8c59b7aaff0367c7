package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/isy-shadow/internal/shadow"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Logger interface for optional logging.
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

// SessionStats holds operational statistics for one session instance.
type SessionStats struct {
	FramesRx     uint64
	DecodeErrors uint64
	LastActivity time.Time
	StreamID     string
}

// Session owns one streaming connection to the controller.
//
// It reads frames in a loop, decodes each, and applies decoded events
// to the shadow tree. A distinguished heartbeat frame only refreshes
// the liveness timestamp. Any transport read failure is fatal to the
// session: it surfaces a single error on Errors() and never retries
// itself. The supervisor owns retry policy.
//
// Sessions are single-use. After Close (or a fatal error) a new
// session instance is built for the next connection.
type Session struct {
	transport Transport
	tree      *shadow.Tree
	logger    Logger

	lastActivity      atomic.Int64 // unix nanoseconds
	heartbeatInterval atomic.Int64 // seconds, as reported by the controller
	framesRx          atomic.Uint64
	decodeErrors      atomic.Uint64

	streamMu sync.Mutex
	streamID string

	systemMu       sync.RWMutex
	onSystemStatus func(SystemStatus)

	errc chan error
	done *closeOnce
	wg   sync.WaitGroup
}

// NewSession creates a session over the given transport. The
// transport must be unconnected; Start connects it. A nil logger
// disables logging.
func NewSession(transport Transport, tree *shadow.Tree, logger Logger) *Session {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Session{
		transport: transport,
		tree:      tree,
		logger:    logger,
		errc:      make(chan error, 1),
		done:      newCloseOnce(),
	}
}

// SetOnSystemStatus registers a callback for controller-wide status
// events. Must be set before Start.
func (s *Session) SetOnSystemStatus(fn func(SystemStatus)) {
	s.systemMu.Lock()
	s.onSystemStatus = fn
	s.systemMu.Unlock()
}

// Start connects the transport and begins the read loop.
func (s *Session) Start(ctx context.Context) error {
	if err := s.transport.Connect(ctx); err != nil {
		return err
	}

	s.lastActivity.Store(time.Now().UnixNano())

	if t, ok := s.transport.(*TCPTransport); ok {
		s.setStreamID(t.SID())
	}

	s.wg.Add(1)
	go s.readLoop()
	return nil
}

// Errors surfaces the session's fatal error. At most one error is
// ever sent; a clean Close sends nothing.
func (s *Session) Errors() <-chan error {
	return s.errc
}

// SinceLastFrame returns the time elapsed since any frame was
// observed. The supervisor's watchdog compares this against the
// heartbeat interval plus grace.
func (s *Session) SinceLastFrame() time.Duration {
	return time.Since(time.Unix(0, s.lastActivity.Load()))
}

// HeartbeatInterval returns the heartbeat period the controller
// announced, or zero if no heartbeat has arrived yet.
func (s *Session) HeartbeatInterval() time.Duration {
	return time.Duration(s.heartbeatInterval.Load()) * time.Second
}

// StreamID returns the subscription identifier for this session.
func (s *Session) StreamID() string {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	return s.streamID
}

// Stats returns current operational statistics.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		FramesRx:     s.framesRx.Load(),
		DecodeErrors: s.decodeErrors.Load(),
		LastActivity: time.Unix(0, s.lastActivity.Load()),
		StreamID:     s.StreamID(),
	}
}

// Close tears down the session. Idempotent and safe from any state;
// unblocks the read loop and waits for it to exit.
func (s *Session) Close() error {
	s.done.Close()
	err := s.transport.Close()
	s.wg.Wait()
	return err
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done.Done():
		return true
	default:
		return false
	}
}

func (s *Session) readLoop() {
	defer s.wg.Done()

	for {
		if s.isClosed() {
			return
		}

		frame, err := s.transport.ReadFrame()
		if err != nil {
			if s.isClosed() {
				return
			}
			s.logger.Error("stream read failed", "error", err)
			// Surface exactly one fatal error to the owner.
			select {
			case s.errc <- fmt.Errorf("session: %w", err):
			default:
			}
			return
		}

		s.framesRx.Add(1)
		s.lastActivity.Store(time.Now().UnixNano())

		event, err := Decode(frame)
		if err != nil {
			s.decodeErrors.Add(1)
			s.logger.Warn("malformed frame dropped", "error", err)
			continue
		}
		if event == nil {
			continue
		}

		s.dispatch(event)
	}
}

func (s *Session) dispatch(event Event) {
	now := time.Now()

	switch e := event.(type) {
	case Heartbeat:
		s.heartbeatInterval.Store(int64(e.Interval))
		s.logger.Debug("heartbeat", "interval", e.Interval, "seqnum", e.Seqnum)

	case StreamID:
		s.setStreamID(e.SID)
		s.logger.Debug("stream id assigned", "sid", e.SID)

	case PropertyUpdate:
		s.applyProperty(e.Address, e.Key, e.Value, now)

	case ControlMessage:
		if err := s.tree.ApplyControlMessage(e.Address, e.Code, e.Value, now); err != nil {
			s.logger.Debug("control ignored", "address", e.Address, "code", e.Code, "error", err)
		}

	case NodeChanged:
		s.tree.ApplyEntityChange(e.Address, e.Change, now)

	case ProgramUpdate:
		s.applyProgram(e, now)

	case VariableUpdate:
		s.applyVariable(e, now)

	case SystemStatus:
		s.systemMu.RLock()
		fn := s.onSystemStatus
		s.systemMu.RUnlock()
		if fn != nil {
			fn(e)
		}
	}
}

func (s *Session) applyProperty(addr shadow.Address, key string, prop shadow.Property, at time.Time) {
	if err := s.tree.ApplyPropertyUpdate(addr, key, prop, at); err != nil {
		s.logger.Debug("update ignored", "address", addr, "key", key, "error", err)
	}
}

// applyProgram fans a program trigger out into the program entity's
// status and auxiliary properties.
func (s *Session) applyProgram(e ProgramUpdate, at time.Time) {
	if e.Status != "" {
		s.applyProperty(e.Address, shadow.StatusKey, shadow.Property{
			Value:     e.Status,
			Formatted: e.Status,
		}, at)
	}
	if e.Enabled != nil {
		s.applyProperty(e.Address, "enabled", boolProperty(*e.Enabled), at)
	}
	if e.RunAtStartup != nil {
		s.applyProperty(e.Address, "runAtStartup", boolProperty(*e.RunAtStartup), at)
	}
	if !e.LastRun.IsZero() {
		s.applyProperty(e.Address, "lastRunTime", timeProperty(e.LastRun), at)
	}
	if !e.LastFinish.IsZero() {
		s.applyProperty(e.Address, "lastFinishTime", timeProperty(e.LastFinish), at)
	}
}

// applyVariable routes a variable trigger to its entity: current
// values update the status, init values update the "init" property.
func (s *Session) applyVariable(e VariableUpdate, at time.Time) {
	prop := shadow.Property{
		Value:     e.Value,
		Formatted: e.Value,
		Precision: e.Precision,
	}
	key := shadow.StatusKey
	if e.Init {
		key = "init"
	}
	s.applyProperty(e.Address, key, prop, at)
}

func (s *Session) setStreamID(sid string) {
	if sid == "" {
		return
	}
	s.streamMu.Lock()
	s.streamID = sid
	s.streamMu.Unlock()
}

func boolProperty(v bool) shadow.Property {
	if v {
		return shadow.Property{Value: "1", Formatted: "true"}
	}
	return shadow.Property{Value: "0", Formatted: "false"}
}

func timeProperty(t time.Time) shadow.Property {
	s := t.Format(time.RFC3339)
	return shadow.Property{Value: s, Formatted: s}
}
