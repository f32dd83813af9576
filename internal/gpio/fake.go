package gpio

import (
	"sync"
	"time"
)

// Level is one recorded output change.
type Level struct {
	On   bool
	Time time.Time
}

// FakePin is a test double that records every level written to it.
// Safe for concurrent use: the indicator writes from timer goroutines.
type FakePin struct {
	mu sync.Mutex

	levels []Level
	closed bool

	// SetError, if set, will be returned by Set (and the level not recorded).
	SetError error
}

// NewFakePin creates a FakePin.
func NewFakePin() *FakePin {
	return &FakePin{}
}

// Set records the level.
func (f *FakePin) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.levels = append(f.levels, Level{On: on, Time: time.Now()})
	return nil
}

// Levels returns a copy of every recorded level.
func (f *FakePin) Levels() []Level {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Level, len(f.levels))
	copy(out, f.levels)
	return out
}

// Current returns the last level written and whether any was written.
func (f *FakePin) Current() (on bool, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.levels) == 0 {
		return false, false
	}
	return f.levels[len(f.levels)-1].On, true
}

// Close marks the pin as closed.
func (f *FakePin) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakePin) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Fail makes subsequent Set calls return err. A nil err clears the failure.
func (f *FakePin) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SetError = err
}

// Reset clears recorded levels.
func (f *FakePin) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels = nil
	f.closed = false
	f.SetError = nil
}
