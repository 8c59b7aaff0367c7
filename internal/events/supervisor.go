package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/isy-shadow/internal/feed"
)

// SessionState is the supervisor's view of the stream lifecycle.
type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateLive         SessionState = "live"
	StateDegraded     SessionState = "degraded"
	StateClosing      SessionState = "closing"
)

// ConnectionStatus is published on the supervisor's status feed so
// dependents can decide whether to trust the shadow state as fresh.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

// StreamSession is the supervisor's view of one session instance.
type StreamSession interface {
	Start(ctx context.Context) error
	Errors() <-chan error
	SinceLastFrame() time.Duration
	HeartbeatInterval() time.Duration
	Close() error
}

var _ StreamSession = (*Session)(nil)

// SessionFactory builds a fresh session for each connection attempt.
// Sessions are recreated wholesale on every reconnect; nothing is
// carried over except subscriber registrations, which live outside
// the session's lifetime.
type SessionFactory func() StreamSession

// SupervisorConfig holds reconnection and watchdog settings.
type SupervisorConfig struct {
	// HeartbeatInterval is the expected heartbeat period. The
	// controller's announced interval takes precedence once known.
	HeartbeatInterval time.Duration

	// HeartbeatGrace is the slack added before the watchdog declares
	// the stream dead.
	HeartbeatGrace time.Duration

	// InitialDelay is the first backoff delay after a failure.
	InitialDelay time.Duration

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration

	// MaxAttempts limits consecutive failed attempts before Run gives
	// up. 0 means retry forever.
	MaxAttempts int

	// WatchdogTick is how often the watchdog samples liveness.
	// Defaults to 1 second.
	WatchdogTick time.Duration
}

func (c SupervisorConfig) watchdogTick() time.Duration {
	if c.WatchdogTick > 0 {
		return c.WatchdogTick
	}
	return time.Second
}

// Supervisor is the state machine layered above the stream session.
//
// It opens sessions, watches each one for transport errors and
// heartbeat silence, tears down dead sessions, applies capped
// exponential backoff, and opens replacements. Every state transition
// is published on the connection-status feed.
type Supervisor struct {
	cfg     SupervisorConfig
	factory SessionFactory
	logger  Logger

	status *feed.Feed[ConnectionStatus]

	// reseed, when set, refreshes the shadow tree from a new snapshot
	// after each reconnect.
	reseed func(ctx context.Context) error

	mu         sync.Mutex
	state      SessionState
	lastStatus ConnectionStatus
	session    StreamSession

	autoReconnect atomic.Bool
	kick          chan struct{}
	done          *closeOnce

	reconnects atomic.Uint64
}

// NewSupervisor creates a supervisor. A nil logger disables logging.
func NewSupervisor(cfg SupervisorConfig, factory SessionFactory, logger Logger) *Supervisor {
	if logger == nil {
		logger = noopLogger{}
	}
	s := &Supervisor{
		cfg:     cfg,
		factory: factory,
		logger:  logger,
		status:  feed.New[ConnectionStatus](),
		state:   StateDisconnected,
		kick:    make(chan struct{}, 1),
		done:    newCloseOnce(),
	}
	s.autoReconnect.Store(true)
	s.status.OnPanic(func(id string, r any) {
		logger.Error("status listener panicked", "listener_id", id, "panic", r)
	})
	return s
}

// SetReseeder registers a snapshot refresh invoked after each
// successful reconnect. Must be set before Run.
func (s *Supervisor) SetReseeder(fn func(ctx context.Context) error) {
	s.reseed = fn
}

// SubscribeStatus attaches a listener to the connection-status feed.
func (s *Supervisor) SubscribeStatus(handler func(ConnectionStatus)) *feed.Listener[ConnectionStatus] {
	return s.status.Subscribe(handler)
}

// State returns the supervisor's current state.
func (s *Supervisor) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reconnects returns the number of successful reconnections.
func (s *Supervisor) Reconnects() uint64 {
	return s.reconnects.Load()
}

// SetAutoReconnect enables or disables automatic reconnection.
// Disabling freezes the supervisor in its current degraded state;
// re-enabling wakes it for an immediate attempt.
func (s *Supervisor) SetAutoReconnect(enabled bool) {
	s.autoReconnect.Store(enabled)
	if enabled {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// Stop shuts the supervisor down: the current session is closed and
// no further connection attempts are scheduled. Idempotent.
func (s *Supervisor) Stop() {
	s.done.Close()

	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session != nil {
		session.Close()
	}
}

// Run drives the connect/supervise/backoff cycle until the context is
// cancelled or Stop is called. It returns ErrRetriesExhausted if a
// configured attempt ceiling is hit.
func (s *Supervisor) Run(ctx context.Context) error {
	backoff := s.cfg.InitialDelay
	attempts := 0
	everLive := false

	defer func() {
		s.setState(StateClosing)
		s.publishStatus(StatusDisconnected)
		s.setState(StateDisconnected)
	}()

	for {
		if s.stopping(ctx) {
			return nil
		}

		if !s.autoReconnect.Load() {
			if !s.waitForKick(ctx) {
				return nil
			}
			continue
		}

		s.setState(StateConnecting)
		session := s.factory()
		if err := session.Start(ctx); err != nil {
			session.Close()
			attempts++
			s.logger.Warn("stream connect failed", "attempt", attempts, "error", err)

			if s.cfg.MaxAttempts > 0 && attempts >= s.cfg.MaxAttempts {
				s.logger.Error("reconnect attempts exhausted", "attempts", attempts)
				s.setState(StateDegraded)
				return ErrRetriesExhausted
			}

			s.setState(StateDegraded)
			s.publishStatus(StatusReconnecting)
			if !s.sleep(ctx, backoff) {
				return nil
			}
			backoff = s.nextBackoff(backoff)
			continue
		}

		// Session is live.
		attempts = 0
		backoff = s.cfg.InitialDelay
		s.setSession(session)
		s.setState(StateLive)
		s.publishStatus(StatusConnected)
		if everLive {
			s.reconnects.Add(1)
			s.runReseed(ctx)
		}
		everLive = true
		s.logger.Info("stream live")

		err := s.superviseLive(ctx, session)
		session.Close()
		s.setSession(nil)

		if err == nil {
			// Shutdown requested.
			return nil
		}

		s.logger.Warn("stream lost", "error", err)
		s.setState(StateDegraded)
		s.publishStatus(StatusReconnecting)
		if !s.sleep(ctx, backoff) {
			return nil
		}
		backoff = s.nextBackoff(backoff)
	}
}

// superviseLive watches one live session. It returns the session's
// fatal error, ErrHeartbeatTimeout when the watchdog fires, or nil on
// shutdown.
func (s *Supervisor) superviseLive(ctx context.Context, session StreamSession) error {
	ticker := time.NewTicker(s.cfg.watchdogTick())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done.Done():
			return nil
		case err := <-session.Errors():
			return err
		case <-ticker.C:
			window := s.watchdogWindow(session)
			if since := session.SinceLastFrame(); since > window {
				s.logger.Warn("heartbeat watchdog fired", "silence", since.String(), "window", window.String())
				return ErrHeartbeatTimeout
			}
		}
	}
}

// watchdogWindow prefers the heartbeat interval the controller
// announced over the configured expectation.
func (s *Supervisor) watchdogWindow(session StreamSession) time.Duration {
	interval := s.cfg.HeartbeatInterval
	if announced := session.HeartbeatInterval(); announced > 0 {
		interval = announced
	}
	return interval + s.cfg.HeartbeatGrace
}

func (s *Supervisor) runReseed(ctx context.Context) {
	if s.reseed == nil {
		return
	}
	if err := s.reseed(ctx); err != nil {
		s.logger.Error("reseed after reconnect failed", "error", err)
	}
}

// sleep waits for the backoff delay. Returns false if shutdown was
// signalled; the timer is always stopped so no reconnect fires after
// Stop.
func (s *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-s.done.Done():
		return false
	case <-timer.C:
		return true
	}
}

// nextBackoff grows the delay by half, capped at MaxDelay.
func (s *Supervisor) nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * 1.5)
	if next > s.cfg.MaxDelay {
		next = s.cfg.MaxDelay
	}
	return next
}

// waitForKick blocks while auto-reconnect is disabled. Returns false
// on shutdown.
func (s *Supervisor) waitForKick(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.done.Done():
		return false
	case <-s.kick:
		return true
	}
}

func (s *Supervisor) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-s.done.Done():
		return true
	default:
		return false
	}
}

func (s *Supervisor) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Supervisor) setSession(session StreamSession) {
	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
}

// publishStatus emits a status only when it differs from the last one
// published, so a cycle of failed attempts produces a single
// "reconnecting" rather than one per attempt.
func (s *Supervisor) publishStatus(status ConnectionStatus) {
	s.mu.Lock()
	if s.lastStatus == status {
		s.mu.Unlock()
		return
	}
	s.lastStatus = status
	s.mu.Unlock()

	s.status.Publish(status)
}
