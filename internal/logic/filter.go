package logic

import "math"

// Gate remembers the last reported value per source and decides whether a
// new value differs enough to be reported.
type Gate struct {
	threshold float64
	last      map[int]float64
}

// NewGate creates a gate. Every source starts with a last reported value of 0.
func NewGate(threshold float64) *Gate {
	return &Gate{
		threshold: threshold,
		last:      make(map[int]float64),
	}
}

// Changed reports whether |v - last| > threshold for source. When it does,
// v becomes the new last reported value. NaN never passes.
func (g *Gate) Changed(source int, v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	// Compared at float32, the sensor's precision: 20.09 - 20.0 must not pass.
	if float32(math.Abs(v-g.last[source])) <= float32(g.threshold) {
		return false
	}
	g.last[source] = v
	return true
}

// Last returns the last reported value for source.
func (g *Gate) Last(source int) float64 {
	return g.last[source]
}

// Filter owns one Window per source plus a shared Gate. It is not safe for
// concurrent use; the sampling worker is its only user.
type Filter struct {
	windows []*Window
	gate    *Gate
}

// NewFilter creates a filter for n sources using WindowSize and Threshold.
func NewFilter(n int) *Filter {
	f := &Filter{
		windows: make([]*Window, n),
		gate:    NewGate(Threshold),
	}
	for i := range f.windows {
		f.windows[i] = NewWindow(WindowSize)
	}
	return f
}

// Process pushes a raw value for source and returns a Reading if the
// averaged value changed past the threshold.
func (f *Filter) Process(source int, raw float64) (Reading, bool) {
	if source < 0 || source >= len(f.windows) {
		return Reading{}, false
	}
	avg := f.windows[source].Push(raw)
	if !f.gate.Changed(source, avg) {
		return Reading{}, false
	}
	return Reading{Source: source, Value: avg}, true
}
