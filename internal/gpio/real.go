//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealPin drives an output line through the Linux GPIO character device.
type RealPin struct {
	line *gpiocdev.Line
}

// NewRealPin requests line on chip as an output, initially low.
func NewRealPin(chip string, line int) (*RealPin, error) {
	l, err := gpiocdev.RequestLine(chip, line, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request output %s:%d: %w", chip, line, err)
	}
	return &RealPin{line: l}, nil
}

// Set drives the line high or low.
func (p *RealPin) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := p.line.SetValue(v); err != nil {
		return fmt.Errorf("set line: %w", err)
	}
	return nil
}

// Close drives the line low and reconfigures it as an input with pull-down
// (matching Pi boot defaults) before releasing it.
func (p *RealPin) Close() error {
	var errs []error

	if err := p.line.SetValue(0); err != nil {
		errs = append(errs, fmt.Errorf("drive low: %w", err))
	}
	if err := p.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure line: %w", err))
	}
	if err := p.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close line: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
