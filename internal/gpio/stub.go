//go:build !linux

package gpio

import "errors"

var errNotSupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealPin is not available on non-Linux platforms.
type RealPin struct{}

// NewRealPin returns an error on non-Linux platforms.
func NewRealPin(chip string, line int) (*RealPin, error) {
	return nil, errNotSupported
}

// Set is not implemented on non-Linux platforms.
func (p *RealPin) Set(on bool) error {
	return errNotSupported
}

// Close is not implemented on non-Linux platforms.
func (p *RealPin) Close() error {
	return nil
}
