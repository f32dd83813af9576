// Package timer provides a cancellable, re-armable one-shot deferred call.
package timer

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrArmed is returned by Arm when a countdown is already pending.
var ErrArmed = errors.New("timer: already armed")

// State describes the lifecycle of a OneShot.
type State int

const (
	// Absent means no countdown exists (never armed, or released by Cancel).
	Absent State = iota
	// Idle means the last countdown fired and nothing is pending.
	Idle
	// Armed means a countdown is pending and will fire at most once.
	Armed
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// OneShot runs fn once per Arm after the requested delay, on its own
// goroutine. fn must not block for long; it may call Arm again.
type OneShot struct {
	name string
	fn   func()

	mu    sync.Mutex
	t     *time.Timer
	armed bool
	gen   uint64 // identifies the current arming; stale fires compare unequal
}

// New creates a OneShot in the Absent state.
func New(name string, fn func()) *OneShot {
	return &OneShot{name: name, fn: fn}
}

// Name returns the name given at construction.
func (o *OneShot) Name() string {
	return o.name
}

// Arm starts a countdown of d. A pending countdown must be cancelled first.
func (o *OneShot) Arm(d time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.armed {
		return fmt.Errorf("%w: %s", ErrArmed, o.name)
	}
	if d < 0 {
		d = 0
	}

	o.gen++
	gen := o.gen
	o.armed = true
	o.t = time.AfterFunc(d, func() { o.fire(gen) })
	return nil
}

// Cancel stops any pending countdown and releases the timer. Safe in every
// state; a callback already past its deadline but not yet started is dropped.
func (o *OneShot) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.t != nil {
		o.t.Stop()
		o.t = nil
	}
	o.armed = false
	o.gen++
}

// State returns the current lifecycle state.
func (o *OneShot) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case o.armed:
		return Armed
	case o.t != nil:
		return Idle
	default:
		return Absent
	}
}

func (o *OneShot) fire(gen uint64) {
	o.mu.Lock()
	if !o.armed || gen != o.gen {
		o.mu.Unlock()
		return
	}
	o.armed = false
	o.mu.Unlock()

	o.fn()
}
