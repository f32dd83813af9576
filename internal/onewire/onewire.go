// Package onewire provides temperature sensor bus access with hardware abstraction.
// The real implementation talks to DS18B20 sensors through the Linux w1 netlink
// interface. The fake implementation allows testing without hardware.
package onewire

import (
	"errors"
	"fmt"
	"time"
)

// FamilyDS18B20 is the 1-wire family code of the DS18B20 thermometer.
const FamilyDS18B20 = 0x28

// DefaultResolution is the conversion resolution in bits.
const DefaultResolution = 12

var (
	// ErrNoDevices is returned when a bus scan finds no sensors.
	ErrNoDevices = errors.New("onewire: no devices found")

	// ErrUnknownDevice is returned by Read for an address not found by Discover.
	ErrUnknownDevice = errors.New("onewire: unknown device")

	// ErrNotSupported is returned on platforms without a 1-wire driver.
	ErrNotSupported = errors.New("onewire: not supported on this platform (requires Linux)")
)

// Address is a 64-bit 1-wire ROM code. The low byte is the family code.
type Address uint64

// Family returns the device family code.
func (a Address) Family() byte {
	return byte(a)
}

// String formats the address the way the kernel w1 subsystem names devices.
func (a Address) String() string {
	serial := (uint64(a) >> 8) & 0xffffffffffff
	return fmt.Sprintf("%02x-%012x", a.Family(), serial)
}

// Bus is a 1-wire bus with temperature sensors attached.
type Bus interface {
	// Discover scans the bus and returns sensors in a stable order.
	Discover() ([]Address, error)

	// SetResolution sets the conversion resolution of every discovered sensor.
	SetResolution(bits int) error

	// ConvertAll starts a conversion on every sensor at once (skip ROM).
	ConvertAll() error

	// Read returns the last converted temperature of one sensor in °C.
	Read(addr Address) (float64, error)

	// Close releases the bus.
	Close() error
}

// ConversionTime returns the worst-case DS18B20 conversion time for a
// resolution. A settle delay shorter than this reads stale values.
func ConversionTime(bits int) time.Duration {
	switch {
	case bits <= 9:
		return 94 * time.Millisecond
	case bits == 10:
		return 188 * time.Millisecond
	case bits == 11:
		return 375 * time.Millisecond
	default:
		return 750 * time.Millisecond
	}
}
