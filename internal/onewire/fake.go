package onewire

import (
	"fmt"
	"sync"
)

// FakeBus is a test double that returns scripted temperatures.
type FakeBus struct {
	mu sync.Mutex

	// Devices is the list returned by Discover, in order.
	Devices []Address

	// Samples holds scripted values per device. Each Read consumes the next
	// value; once exhausted the last value repeats.
	Samples map[Address][]float64

	// ReadErrors, if set for a device, is returned by Read for that device.
	ReadErrors map[Address]error

	// DiscoverError, ConvertError and ResolutionError are returned by the
	// matching methods when set.
	DiscoverError   error
	ConvertError    error
	ResolutionError error

	// Converts counts ConvertAll calls.
	Converts int

	// Resolution is the last value passed to SetResolution.
	Resolution int

	// Closed tracks if Close was called.
	Closed bool

	index map[Address]int
}

// NewFakeBus creates a FakeBus with the given devices.
func NewFakeBus(devices ...Address) *FakeBus {
	return &FakeBus{
		Devices:    devices,
		Samples:    make(map[Address][]float64),
		ReadErrors: make(map[Address]error),
		index:      make(map[Address]int),
	}
}

// Discover returns the scripted device list.
func (f *FakeBus) Discover() ([]Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DiscoverError != nil {
		return nil, f.DiscoverError
	}
	out := make([]Address, len(f.Devices))
	copy(out, f.Devices)
	return out, nil
}

// SetResolution records bits.
func (f *FakeBus) SetResolution(bits int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ResolutionError != nil {
		return f.ResolutionError
	}
	f.Resolution = bits
	return nil
}

// ConvertAll counts the call.
func (f *FakeBus) ConvertAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConvertError != nil {
		return f.ConvertError
	}
	f.Converts++
	return nil
}

// Read returns the next scripted sample for addr.
func (f *FakeBus) Read(addr Address) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ReadErrors[addr]; err != nil {
		return 0, err
	}
	samples := f.Samples[addr]
	if len(samples) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownDevice, addr)
	}

	i := f.index[addr]
	v := samples[i]
	if i < len(samples)-1 {
		f.index[addr] = i + 1
	}
	return v, nil
}

// SetSamples replaces the scripted samples of one device and rewinds it.
func (f *FakeBus) SetSamples(addr Address, values ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Samples[addr] = values
	f.index[addr] = 0
}

// SetReadError makes Read fail for addr until cleared with a nil error.
func (f *FakeBus) SetReadError(addr Address, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ReadErrors[addr] = err
}

// ConvertCount returns the number of ConvertAll calls so far.
func (f *FakeBus) ConvertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Converts
}

// IsClosed reports whether Close was called.
func (f *FakeBus) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Closed
}

// Close marks the bus as closed.
func (f *FakeBus) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

var _ Bus = (*FakeBus)(nil)
