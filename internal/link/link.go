// Package link tracks network connectivity and retries lost links.
//
// A Machine consumes events from a Driver on a single goroutine. Losing the
// link arms one fixed-delay reconnect timer; regaining it cancels the timer.
// Startup callers may block once on WaitStartup until the first outcome is
// known.
package link

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sweeney/thermo-node/internal/flagset"
	"github.com/sweeney/thermo-node/internal/timer"
)

// DefaultReconnectDelay is the fixed back-off between reconnect attempts.
const DefaultReconnectDelay = 5 * time.Second

// State is the connectivity state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	// Backoff means the link is down and a reconnect timer is pending.
	Backoff
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Backoff:
		return "BACKOFF"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EventKind identifies a driver event.
type EventKind int

const (
	EventStarted EventKind = iota
	EventUp
	EventDown

	// eventRetry is posted by the reconnect timer, never by drivers.
	eventRetry
)

// Event is reported by a Driver.
type Event struct {
	Kind   EventKind
	Addr   string // EventUp: the acquired address
	Reason string // EventDown: why the link dropped
}

// Driver is the network interface the Machine controls.
type Driver interface {
	// Start begins delivering events. It must send EventStarted once the
	// interface is ready for Connect.
	Start(events chan<- Event) error

	// Connect requests a connection attempt. The outcome arrives as an
	// EventUp or EventDown.
	Connect() error

	// Close stops event delivery.
	Close() error
}

// Startup outcome bits.
const (
	startupConnected flagset.Bits = 1 << iota
	startupFailed
)

// Machine is the connectivity state machine.
type Machine struct {
	driver Driver
	delay  time.Duration
	logger *slog.Logger

	events    chan Event
	retry     chan struct{}
	reconnect *timer.OneShot

	mu        sync.Mutex
	state     State
	addr      string
	startup   *flagset.Set // nil once WaitStartup has returned
	observers []func(State)
}

// New creates a Machine in the Disconnected state. A non-positive delay
// selects DefaultReconnectDelay.
func New(driver Driver, delay time.Duration, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	m := &Machine{
		driver:  driver,
		delay:   delay,
		logger:  logger,
		events:  make(chan Event, 16),
		retry:   make(chan struct{}, 1),
		startup: flagset.New(),
	}
	m.reconnect = timer.New("link reconnect", m.onReconnectTimer)
	return m
}

// Subscribe registers fn to be called on every state change. Callbacks run
// on the Machine goroutine and must not block.
func (m *Machine) Subscribe(fn func(State)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Addr returns the address acquired on the last link-up, or "".
func (m *Machine) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addr
}

// TimerState reports the reconnect timer state.
func (m *Machine) TimerState() timer.State {
	return m.reconnect.State()
}

// WaitStartup blocks until the first link-up or link-down after start.
// It reports whether the link came up. The startup flags are released on
// return; later events are handled autonomously. Only the first call waits.
func (m *Machine) WaitStartup(ctx context.Context) (bool, error) {
	m.mu.Lock()
	flags := m.startup
	m.mu.Unlock()
	if flags == nil {
		return m.State() == Connected, nil
	}

	bits, err := flags.WaitAny(ctx, startupConnected|startupFailed, false)

	m.mu.Lock()
	m.startup = nil
	m.mu.Unlock()

	if err != nil {
		return false, err
	}
	return bits.Has(startupConnected), nil
}

// Run starts the driver and processes its events until ctx is cancelled.
func (m *Machine) Run(ctx context.Context) error {
	if err := m.driver.Start(m.events); err != nil {
		return fmt.Errorf("start link driver: %w", err)
	}
	defer m.reconnect.Cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.events:
			m.handle(ev)
		case <-m.retry:
			m.handle(Event{Kind: eventRetry})
		}
	}
}

func (m *Machine) handle(ev Event) {
	switch ev.Kind {
	case EventStarted:
		m.logger.Info("link started, connecting")
		m.connect()

	case EventUp:
		m.reconnect.Cancel()
		m.mu.Lock()
		m.addr = ev.Addr
		m.mu.Unlock()
		m.logger.Info("link up", "addr", ev.Addr)
		m.signalStartup(startupConnected)
		m.transition(Connected)

	case EventDown:
		m.logger.Warn("link down", "reason", ev.Reason)
		m.signalStartup(startupFailed)
		m.lost()

	case eventRetry:
		if m.State() != Backoff {
			return
		}
		m.logger.Warn("retrying link connection")
		m.connect()
	}
}

func (m *Machine) connect() {
	m.transition(Connecting)
	if err := m.driver.Connect(); err != nil {
		m.logger.Warn("link connect", "error", err)
		m.lost()
	}
}

// lost enters Backoff with exactly one reconnect timer pending.
func (m *Machine) lost() {
	m.mu.Lock()
	m.addr = ""
	m.mu.Unlock()

	if m.reconnect.State() != timer.Armed {
		if err := m.reconnect.Arm(m.delay); err != nil {
			m.logger.Error("arm timer failed", "timer", m.reconnect.Name(), "error", err)
		}
	}
	m.transition(Backoff)
}

func (m *Machine) onReconnectTimer() {
	select {
	case m.retry <- struct{}{}:
	default:
	}
}

func (m *Machine) signalStartup(bit flagset.Bits) {
	m.mu.Lock()
	flags := m.startup
	m.mu.Unlock()
	if flags != nil {
		flags.Set(bit)
	}
}

func (m *Machine) transition(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	from := m.state
	m.state = s
	observers := append([]func(State){}, m.observers...)
	m.mu.Unlock()

	m.logger.Info("link state", "from", from.String(), "to", s.String())
	for _, fn := range observers {
		fn(s)
	}
}
