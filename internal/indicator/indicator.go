// Package indicator drives the status LED from signal flags.
//
// A single worker drains the On, Off and Blink flags. On and Off give a
// steady output; Blink starts an asymmetric attention pattern (long off,
// short on) driven by a one-shot timer that re-arms itself.
package indicator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sweeney/thermo-node/internal/flagset"
	"github.com/sweeney/thermo-node/internal/gpio"
	"github.com/sweeney/thermo-node/internal/timer"
)

// Flags understood by the indicator worker.
const (
	FlagOn flagset.Bits = 1 << iota
	FlagOff
	FlagBlink

	allFlags = FlagOn | FlagOff | FlagBlink
)

// Signal makes bit the pending command on flags, discarding any command
// the worker has not picked up yet. The newest command wins.
func Signal(flags *flagset.Set, bit flagset.Bits) {
	flags.Replace(allFlags, bit&allFlags)
}

// Default blink phases: 10% duty cycle.
const (
	DefaultOnPhase  = 100 * time.Millisecond
	DefaultOffPhase = 900 * time.Millisecond
)

// State is the output mode of the indicator.
type State string

const (
	StateOff      State = "OFF"
	StateOn       State = "ON"
	StateBlinking State = "BLINKING"
)

// Config holds the blink phase lengths.
type Config struct {
	OnPhase  time.Duration
	OffPhase time.Duration
}

// DefaultConfig returns the 100 ms on / 900 ms off pattern.
func DefaultConfig() Config {
	return Config{OnPhase: DefaultOnPhase, OffPhase: DefaultOffPhase}
}

// Indicator owns the LED pin and its flag set.
type Indicator struct {
	pin    gpio.Pin
	cfg    Config
	logger *slog.Logger
	flags  *flagset.Set

	mu      sync.Mutex
	state   State
	steady  State
	phaseOn bool
	blink   *timer.OneShot // nil unless blinking
	notify  func(State)
}

// New drives the pin low and returns an indicator in the Off state.
func New(pin gpio.Pin, cfg Config, logger *slog.Logger) (*Indicator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OnPhase <= 0 {
		cfg.OnPhase = DefaultOnPhase
	}
	if cfg.OffPhase <= 0 {
		cfg.OffPhase = DefaultOffPhase
	}
	if err := pin.Set(false); err != nil {
		return nil, fmt.Errorf("init led: %w", err)
	}
	return &Indicator{
		pin:    pin,
		cfg:    cfg,
		logger: logger,
		flags:  flagset.New(),
		state:  StateOff,
		steady: StateOff,
	}, nil
}

// Flags returns the set producers signal the indicator through.
func (ind *Indicator) Flags() *flagset.Set {
	return ind.flags
}

// OnChange installs a callback invoked (under the indicator lock) on every
// state change. Call before Run.
func (ind *Indicator) OnChange(fn func(State)) {
	ind.mu.Lock()
	ind.notify = fn
	ind.mu.Unlock()
}

// State returns the current output mode.
func (ind *Indicator) State() State {
	ind.mu.Lock()
	defer ind.mu.Unlock()
	return ind.state
}

// Steady returns the last steady mode (On or Off) that was commanded.
func (ind *Indicator) Steady() State {
	ind.mu.Lock()
	defer ind.mu.Unlock()
	return ind.steady
}

// Signal replaces any pending command with bit.
func (ind *Indicator) Signal(bit flagset.Bits) {
	Signal(ind.flags, bit)
}

// Restore re-signals the last steady mode, ending any blinking.
func (ind *Indicator) Restore() {
	if ind.Steady() == StateOn {
		ind.Signal(FlagOn)
		return
	}
	ind.Signal(FlagOff)
}

// Run drains the flag set until ctx is cancelled. It is the only consumer
// of Flags. Producers going through Signal leave one command pending; bits
// latched together with a plain Set are resolved On, then Off, then Blink.
func (ind *Indicator) Run(ctx context.Context) error {
	defer ind.stopBlink()

	for {
		bits, err := ind.flags.WaitAny(ctx, allFlags, true)
		if err != nil {
			return nil
		}

		switch {
		case bits.Has(FlagOn):
			ind.setSteady(StateOn)
		case bits.Has(FlagOff):
			ind.setSteady(StateOff)
		case bits.Has(FlagBlink):
			ind.startBlink()
		}
	}
}

func (ind *Indicator) setSteady(s State) {
	ind.mu.Lock()
	defer ind.mu.Unlock()

	ind.cancelBlinkLocked()
	ind.steady = s
	ind.write(s == StateOn)
	ind.transitionLocked(s)
}

func (ind *Indicator) startBlink() {
	ind.mu.Lock()
	defer ind.mu.Unlock()

	ind.cancelBlinkLocked()
	// The first tick toggles into the long-off phase.
	ind.phaseOn = true
	var t *timer.OneShot
	t = timer.New("led blink", func() { ind.onBlinkTimer(t) })
	ind.blink = t
	if err := t.Arm(0); err != nil {
		ind.logger.Error("start timer failed", "timer", t.Name(), "error", err)
		return
	}
	ind.transitionLocked(StateBlinking)
}

func (ind *Indicator) stopBlink() {
	ind.mu.Lock()
	defer ind.mu.Unlock()
	ind.cancelBlinkLocked()
}

func (ind *Indicator) cancelBlinkLocked() {
	if ind.blink != nil {
		ind.blink.Cancel()
		ind.blink = nil
	}
}

// onBlinkTimer runs on the timer goroutine. Ticks from a timer that has
// since been cancelled are ignored.
func (ind *Indicator) onBlinkTimer(t *timer.OneShot) {
	ind.mu.Lock()
	defer ind.mu.Unlock()

	if ind.state != StateBlinking || ind.blink != t {
		return
	}

	ind.phaseOn = !ind.phaseOn
	next := ind.cfg.OffPhase
	if ind.phaseOn {
		next = ind.cfg.OnPhase
	}
	ind.write(ind.phaseOn)
	if err := t.Arm(next); err != nil {
		ind.logger.Warn("re-arm timer failed", "timer", t.Name(), "error", err)
	}
}

func (ind *Indicator) write(on bool) {
	if err := ind.pin.Set(on); err != nil {
		ind.logger.Warn("set led", "on", on, "error", err)
	}
}

func (ind *Indicator) transitionLocked(s State) {
	if ind.state == s {
		return
	}
	ind.logger.Info("led state", "from", string(ind.state), "to", string(s))
	ind.state = s
	if ind.notify != nil {
		ind.notify(s)
	}
}
