// Package logic contains pure business logic for temperature sampling.
// This package has NO external dependencies (no bus, MQTT, OS, or time.Sleep).
package logic

// WindowSize is the number of raw values averaged per sensor.
const WindowSize = 3

// Threshold is the minimum change (in °C) of the averaged value that is
// reported. A change exactly equal to Threshold is not reported.
const Threshold = 0.09

// Reading is a filtered value ready to be published.
type Reading struct {
	// Source is the zero-based discovery index of the sensor.
	Source int
	// Value is the moving average in °C.
	Value float64
}
