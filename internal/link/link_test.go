package link

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/thermo-node/internal/timer"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// startMachine runs a Machine against a FakeDriver and delivers EventStarted.
func startMachine(t *testing.T, delay time.Duration) (*Machine, *FakeDriver) {
	t.Helper()
	drv := NewFakeDriver()
	m := New(drv, delay, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	eventually(t, "driver start", drv.Started)
	drv.Emit(Event{Kind: EventStarted})
	eventually(t, "first connect", func() bool { return drv.Connects() == 1 })
	return m, drv
}

func waitState(t *testing.T, m *Machine, want State) {
	t.Helper()
	eventually(t, "state "+want.String(), func() bool { return m.State() == want })
}

func TestStartupConnected(t *testing.T) {
	m, drv := startMachine(t, time.Hour)
	if m.State() != Connecting {
		t.Errorf("state: got %s, want CONNECTING", m.State())
	}

	drv.Emit(Event{Kind: EventUp, Addr: "192.168.1.20"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ok, err := m.WaitStartup(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected startup to report connected")
	}
	waitState(t, m, Connected)
	if m.Addr() != "192.168.1.20" {
		t.Errorf("addr: got %q", m.Addr())
	}
}

func TestStartupFailed(t *testing.T) {
	m, drv := startMachine(t, time.Hour)
	drv.Emit(Event{Kind: EventDown, Reason: "auth failed"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ok, err := m.WaitStartup(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected startup to report failure")
	}
	waitState(t, m, Backoff)
	if m.TimerState() != timer.Armed {
		t.Errorf("timer: got %s, want ARMED", m.TimerState())
	}
}

func TestWaitStartupOnlyBlocksOnce(t *testing.T) {
	m, drv := startMachine(t, time.Hour)
	drv.Emit(Event{Kind: EventUp, Addr: "10.0.0.2"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := m.WaitStartup(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	// Later events no longer touch the released flags.
	drv.Emit(Event{Kind: EventDown, Reason: "beacon timeout"})
	waitState(t, m, Backoff)

	ok, err := m.WaitStartup(ctx)
	if err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if ok {
		t.Error("second wait should report the current (down) state")
	}
}

func TestWaitStartupCancel(t *testing.T) {
	m := New(NewFakeDriver(), time.Hour, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.WaitStartup(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDownWhileConnectedArmsOneTimer(t *testing.T) {
	const delay = 50 * time.Millisecond
	m, drv := startMachine(t, delay)

	drv.Emit(Event{Kind: EventUp, Addr: "10.0.0.2"})
	waitState(t, m, Connected)

	drv.Emit(Event{Kind: EventDown, Reason: "beacon timeout"})
	drv.Emit(Event{Kind: EventDown, Reason: "beacon timeout"})
	drv.Emit(Event{Kind: EventDown, Reason: "beacon timeout"})
	waitState(t, m, Backoff)

	// One retry fires, then nothing else is pending.
	eventually(t, "retry", func() bool { return drv.Connects() == 2 })
	time.Sleep(4 * delay)
	if n := drv.Connects(); n != 2 {
		t.Errorf("connect attempts: got %d, want 2", n)
	}
	if m.State() != Connecting {
		t.Errorf("state: got %s, want CONNECTING", m.State())
	}
	if m.TimerState() == timer.Armed {
		t.Error("no timer should be pending while connecting")
	}
}

func TestUpCancelsPendingReconnect(t *testing.T) {
	const delay = 100 * time.Millisecond
	m, drv := startMachine(t, delay)

	drv.Emit(Event{Kind: EventUp, Addr: "10.0.0.2"})
	drv.Emit(Event{Kind: EventDown, Reason: "roaming"})
	waitState(t, m, Backoff)
	if m.TimerState() != timer.Armed {
		t.Fatalf("timer: got %s, want ARMED", m.TimerState())
	}

	drv.Emit(Event{Kind: EventUp, Addr: "10.0.0.3"})
	waitState(t, m, Connected)
	if m.TimerState() == timer.Armed {
		t.Error("link-up should cancel the reconnect timer")
	}

	time.Sleep(2 * delay)
	if n := drv.Connects(); n != 1 {
		t.Errorf("connect attempts: got %d, want 1", n)
	}
	if m.State() != Connected {
		t.Errorf("state: got %s, want CONNECTED", m.State())
	}
}

func TestRetryLoopUntilUp(t *testing.T) {
	const delay = 20 * time.Millisecond
	m, drv := startMachine(t, delay)

	for i := 2; i <= 4; i++ {
		drv.Emit(Event{Kind: EventDown, Reason: "no ap"})
		want := i
		eventually(t, "retry", func() bool { return drv.Connects() == want })
	}

	drv.Emit(Event{Kind: EventUp, Addr: "10.0.0.9"})
	waitState(t, m, Connected)
}

func TestConnectErrorBacksOff(t *testing.T) {
	drv := NewFakeDriver()
	drv.ConnectError = errors.New("radio off")
	m := New(drv, time.Hour, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	eventually(t, "driver start", drv.Started)
	drv.Emit(Event{Kind: EventStarted})

	waitState(t, m, Backoff)
	if m.TimerState() != timer.Armed {
		t.Errorf("timer: got %s, want ARMED", m.TimerState())
	}
}

func TestRunStartError(t *testing.T) {
	drv := NewFakeDriver()
	drv.StartError = errors.New("no such device")
	m := New(drv, 0, quietLogger())

	if err := m.Run(context.Background()); err == nil {
		t.Error("expected error")
	}
	if m.delay != DefaultReconnectDelay {
		t.Errorf("delay: got %v, want default", m.delay)
	}
}

func TestSubscribe(t *testing.T) {
	drv := NewFakeDriver()
	m := New(drv, time.Hour, quietLogger())

	var mu sync.Mutex
	var seen []State
	m.Subscribe(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	eventually(t, "driver start", drv.Started)
	drv.Emit(Event{Kind: EventStarted})
	drv.Emit(Event{Kind: EventUp, Addr: "10.0.0.2"})
	drv.Emit(Event{Kind: EventDown, Reason: "gone"})
	waitState(t, m, Backoff)

	mu.Lock()
	defer mu.Unlock()
	want := []State{Connecting, Connected, Backoff}
	if len(seen) != len(want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d: got %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Disconnected, "DISCONNECTED"},
		{Connecting, "CONNECTING"},
		{Connected, "CONNECTED"},
		{Backoff, "BACKOFF"},
		{State(9), "State(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}
