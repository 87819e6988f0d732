package stats

// Window keeps the last N positive samples.
type Window struct {
	samples []float64
	next    int
	full    bool
}

func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{samples: make([]float64, size)}
}

// Add records v; non-positive values are ignored.
func (w *Window) Add(v float64) {
	if v <= 0 {
		return
	}
	w.samples[w.next] = v
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
}

func (w *Window) Len() int {
	if w.full {
		return len(w.samples)
	}
	return w.next
}

// Mean is the arithmetic mean of the held samples, 0 when empty.
func (w *Window) Mean() float64 {
	n := w.Len()
	if n == 0 {
		return 0
	}
	var sum float64
	for _, v := range w.samples[:n] {
		sum += v
	}
	return sum / float64(n)
}

func (w *Window) Reset() {
	clear(w.samples)
	w.next = 0
	w.full = false
}
