package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSession is a scripted session for supervisor tests.
type fakeSession struct {
	startErr error
	errc     chan error
	since    atomic.Int64 // nanoseconds reported by SinceLastFrame

	closed     chan struct{}
	closeOnce  sync.Once
	closeCount atomic.Int32
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		errc:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeSession) Start(context.Context) error { return f.startErr }

func (f *fakeSession) Errors() <-chan error { return f.errc }

func (f *fakeSession) SinceLastFrame() time.Duration { return time.Duration(f.since.Load()) }

func (f *fakeSession) HeartbeatInterval() time.Duration { return 0 }

func (f *fakeSession) Close() error {
	f.closeCount.Add(1)
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func testSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		HeartbeatInterval: 50 * time.Millisecond,
		HeartbeatGrace:    20 * time.Millisecond,
		InitialDelay:      time.Millisecond,
		MaxDelay:          10 * time.Millisecond,
		WatchdogTick:      2 * time.Millisecond,
	}
}

// collectStatuses subscribes to the status feed and returns a channel
// receiving every published status.
func collectStatuses(s *Supervisor) <-chan ConnectionStatus {
	ch := make(chan ConnectionStatus, 32)
	s.SubscribeStatus(func(st ConnectionStatus) { ch <- st })
	return ch
}

func nextStatus(t *testing.T, ch <-chan ConnectionStatus) ConnectionStatus {
	t.Helper()
	select {
	case st := <-ch:
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection status")
		return ""
	}
}

func TestSupervisor_ReconnectCycle(t *testing.T) {
	first := newFakeSession()
	second := newFakeSession()
	sessions := []*fakeSession{first, second}
	var created atomic.Int32

	sup := NewSupervisor(testSupervisorConfig(), func() StreamSession {
		n := created.Add(1)
		return sessions[n-1]
	}, nil)

	statuses := collectStatuses(sup)

	runDone := make(chan error, 1)
	go func() { runDone <- sup.Run(context.Background()) }()

	if st := nextStatus(t, statuses); st != StatusConnected {
		t.Fatalf("first status = %q, want connected", st)
	}

	// Session dies while live.
	first.errc <- errors.New("stream reset")

	if st := nextStatus(t, statuses); st != StatusReconnecting {
		t.Fatalf("status after failure = %q, want reconnecting", st)
	}
	if st := nextStatus(t, statuses); st != StatusConnected {
		t.Fatalf("status after recovery = %q, want connected", st)
	}

	if got := created.Load(); got != 2 {
		t.Errorf("sessions created = %d, want 2", got)
	}
	if first.closeCount.Load() == 0 {
		t.Error("dead session was never closed")
	}
	if sup.Reconnects() != 1 {
		t.Errorf("Reconnects() = %d, want 1", sup.Reconnects())
	}

	sup.Stop()
	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestSupervisor_HeartbeatWatchdog(t *testing.T) {
	silent := newFakeSession()
	silent.since.Store(int64(time.Hour)) // silent forever
	replacement := newFakeSession()
	sessions := []*fakeSession{silent, replacement}
	var created atomic.Int32

	sup := NewSupervisor(testSupervisorConfig(), func() StreamSession {
		n := created.Add(1)
		return sessions[n-1]
	}, nil)

	statuses := collectStatuses(sup)

	go sup.Run(context.Background())
	defer sup.Stop()

	if st := nextStatus(t, statuses); st != StatusConnected {
		t.Fatalf("first status = %q, want connected", st)
	}

	// No explicit transport error, only silence: the watchdog must
	// force-close the session and reconnect.
	if st := nextStatus(t, statuses); st != StatusReconnecting {
		t.Fatalf("status = %q, want reconnecting from watchdog", st)
	}
	if st := nextStatus(t, statuses); st != StatusConnected {
		t.Fatalf("status = %q, want connected after watchdog recovery", st)
	}

	select {
	case <-silent.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("silent session was never force-closed")
	}
}

func TestSupervisor_RetriesExhausted(t *testing.T) {
	cfg := testSupervisorConfig()
	cfg.MaxAttempts = 3
	var created atomic.Int32

	sup := NewSupervisor(cfg, func() StreamSession {
		created.Add(1)
		s := newFakeSession()
		s.startErr = errors.New("connection refused")
		return s
	}, nil)

	err := sup.Run(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Errorf("Run() error = %v, want ErrRetriesExhausted", err)
	}
	if got := created.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestSupervisor_StopDuringBackoff(t *testing.T) {
	cfg := testSupervisorConfig()
	cfg.InitialDelay = time.Hour // Stop must interrupt this wait
	var created atomic.Int32

	sup := NewSupervisor(cfg, func() StreamSession {
		created.Add(1)
		s := newFakeSession()
		s.startErr = errors.New("connection refused")
		return s
	}, nil)

	runDone := make(chan error, 1)
	go func() { runDone <- sup.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for created.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("factory never called")
		}
		time.Sleep(time.Millisecond)
	}

	sup.Stop()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop during backoff")
	}

	// No orphaned timer may trigger another attempt.
	attempts := created.Load()
	time.Sleep(20 * time.Millisecond)
	if created.Load() != attempts {
		t.Error("connection attempt scheduled after Stop")
	}
}

func TestSupervisor_ContextCancellation(t *testing.T) {
	session := newFakeSession()
	sup := NewSupervisor(testSupervisorConfig(), func() StreamSession { return session }, nil)

	ctx, cancel := context.WithCancel(context.Background())

	runDone := make(chan error, 1)
	go func() { runDone <- sup.Run(ctx) }()

	statuses := collectStatuses(sup)
	_ = statuses

	deadline := time.Now().Add(2 * time.Second)
	for sup.State() != StateLive {
		if time.Now().After(deadline) {
			t.Fatal("supervisor never reached live")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	if sup.State() != StateDisconnected {
		t.Errorf("State() = %q after shutdown, want disconnected", sup.State())
	}
}

func TestSupervisor_SetAutoReconnectFreezes(t *testing.T) {
	first := newFakeSession()
	second := newFakeSession()
	sessions := []*fakeSession{first, second}
	var created atomic.Int32

	sup := NewSupervisor(testSupervisorConfig(), func() StreamSession {
		n := created.Add(1)
		return sessions[n-1]
	}, nil)

	statuses := collectStatuses(sup)

	go sup.Run(context.Background())
	defer sup.Stop()

	if st := nextStatus(t, statuses); st != StatusConnected {
		t.Fatalf("first status = %q, want connected", st)
	}

	sup.SetAutoReconnect(false)
	first.errc <- errors.New("stream reset")

	if st := nextStatus(t, statuses); st != StatusReconnecting {
		t.Fatalf("status = %q, want reconnecting", st)
	}

	// Frozen: no new session while auto-reconnect is off.
	time.Sleep(30 * time.Millisecond)
	if created.Load() != 1 {
		t.Fatalf("sessions created = %d while frozen, want 1", created.Load())
	}

	sup.SetAutoReconnect(true)

	if st := nextStatus(t, statuses); st != StatusConnected {
		t.Fatalf("status = %q after re-enable, want connected", st)
	}
	if created.Load() != 2 {
		t.Errorf("sessions created = %d after re-enable, want 2", created.Load())
	}
}

func TestSupervisor_ReseedRunsOnReconnectOnly(t *testing.T) {
	first := newFakeSession()
	second := newFakeSession()
	sessions := []*fakeSession{first, second}
	var created atomic.Int32

	sup := NewSupervisor(testSupervisorConfig(), func() StreamSession {
		n := created.Add(1)
		return sessions[n-1]
	}, nil)

	var reseeds atomic.Int32
	sup.SetReseeder(func(context.Context) error {
		reseeds.Add(1)
		return nil
	})

	statuses := collectStatuses(sup)

	go sup.Run(context.Background())
	defer sup.Stop()

	if st := nextStatus(t, statuses); st != StatusConnected {
		t.Fatalf("first status = %q, want connected", st)
	}
	if reseeds.Load() != 0 {
		t.Error("reseed ran on initial connect")
	}

	first.errc <- errors.New("stream reset")
	nextStatus(t, statuses) // reconnecting
	if st := nextStatus(t, statuses); st != StatusConnected {
		t.Fatalf("status = %q, want connected", st)
	}

	if reseeds.Load() != 1 {
		t.Errorf("reseeds = %d after reconnect, want 1", reseeds.Load())
	}
}
