// Package gpio provides GPIO output driving with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Pin drives a single output line.
type Pin interface {
	// Set drives the line: true = high (LED on), false = low (LED off).
	Set(on bool) error

	// Close releases the line.
	Close() error
}

// Defaults for the on-board indicator LED.
const (
	DefaultChip = "gpiochip0"
	DefaultLine = 2
)
