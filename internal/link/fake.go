package link

import "sync"

// FakeDriver is a Driver whose events are injected by tests.
type FakeDriver struct {
	mu       sync.Mutex
	events   chan<- Event
	connects int
	closed   bool

	// StartError, if set, will be returned by Start.
	StartError error

	// ConnectError, if set, will be returned by Connect.
	ConnectError error
}

// NewFakeDriver creates a FakeDriver.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{}
}

// Start records the event channel.
func (f *FakeDriver) Start(events chan<- Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartError != nil {
		return f.StartError
	}
	f.events = events
	return nil
}

// Connect counts the attempt.
func (f *FakeDriver) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.ConnectError
}

// Close marks the driver as closed.
func (f *FakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Connects returns the number of Connect calls.
func (f *FakeDriver) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// Closed reports whether Close was called.
func (f *FakeDriver) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Started reports whether Start succeeded.
func (f *FakeDriver) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events != nil
}

// Emit delivers ev to the Machine. Start must have been called.
func (f *FakeDriver) Emit(ev Event) {
	f.mu.Lock()
	events := f.events
	f.mu.Unlock()
	events <- ev
}
