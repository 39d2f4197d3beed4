// internal/beat/history.go
package beat

// History is a fixed-capacity rolling window of recent scalar feature values.
// Appending past capacity evicts the oldest value. It exists only to supply a
// trailing mean and variance; nothing inspects individual entries.
type History struct {
	values []float64
	head   int // index of the oldest value once full
	count  int
}

// NewHistory creates a history with the given capacity. Capacity must be
// positive; the caller validates it (see NewEngine).
func NewHistory(capacity int) *History {
	return &History{values: make([]float64, capacity)}
}

// Append adds a value, evicting the oldest once the window is full.
func (h *History) Append(v float64) {
	if h.count < len(h.values) {
		h.values[(h.head+h.count)%len(h.values)] = v
		h.count++
		return
	}
	h.values[h.head] = v
	h.head = (h.head + 1) % len(h.values)
}

// Full reports whether the window has reached capacity.
func (h *History) Full() bool {
	return h.count == len(h.values)
}

// Len returns the number of values currently held.
func (h *History) Len() int {
	return h.count
}

// Cap returns the window capacity.
func (h *History) Cap() int {
	return len(h.values)
}

// Mean returns the arithmetic mean of the window, or 0 when empty.
func (h *History) Mean() float64 {
	if h.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < h.count; i++ {
		sum += h.values[(h.head+i)%len(h.values)]
	}
	return sum / float64(h.count)
}

// Variance returns the population variance of the window, or 0 when empty.
func (h *History) Variance() float64 {
	if h.count == 0 {
		return 0
	}
	mean := h.Mean()
	var sum float64
	for i := 0; i < h.count; i++ {
		d := h.values[(h.head+i)%len(h.values)] - mean
		sum += d * d
	}
	return sum / float64(h.count)
}
