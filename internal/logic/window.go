package logic

import "math"

// Window is a fixed-capacity ring of the most recent raw values.
// Slots that were never written are NaN and ignored by Average.
type Window struct {
	slots []float64
	next  int
}

// NewWindow creates a window of the given capacity with every slot empty.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	w := &Window{slots: make([]float64, capacity)}
	for i := range w.slots {
		w.slots[i] = math.NaN()
	}
	return w
}

// Push stores v, overwriting the oldest slot once full, and returns the
// new average.
func (w *Window) Push(v float64) float64 {
	w.slots[w.next] = v
	w.next = (w.next + 1) % len(w.slots)
	return w.Average()
}

// Average returns the mean of the set slots, or NaN if none are set.
func (w *Window) Average() float64 {
	sum := 0.0
	n := 0
	for _, v := range w.slots {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// Count returns how many slots hold a value.
func (w *Window) Count() int {
	n := 0
	for _, v := range w.slots {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}
