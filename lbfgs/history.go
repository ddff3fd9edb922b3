package lbfgs

// pairHistory is a fixed-capacity ring buffer of accepted curvature pairs
// (s, y). The oldest pair is evicted when a push exceeds capacity, without
// reallocating the backing storage.
type pairHistory struct {
	s, y [][]float64
	head int // index of the oldest pair
	size int
}

func newPairHistory(capacity int) *pairHistory {
	return &pairHistory{
		s: make([][]float64, capacity),
		y: make([][]float64, capacity),
	}
}

func (h *pairHistory) len() int {
	return h.size
}

// push stores copies of s and y, evicting the oldest pair when full.
func (h *pairHistory) push(s, y []float64) {
	pos := (h.head + h.size) % len(h.s)
	if h.size == len(h.s) {
		pos = h.head
		h.head = (h.head + 1) % len(h.s)
	} else {
		h.size++
	}
	if h.s[pos] == nil {
		h.s[pos] = make([]float64, len(s))
		h.y[pos] = make([]float64, len(y))
	}
	copy(h.s[pos], s)
	copy(h.y[pos], y)
}

// at returns the i-th stored pair, oldest first.
func (h *pairHistory) at(i int) (s, y []float64) {
	pos := (h.head + i) % len(h.s)
	return h.s[pos], h.y[pos]
}

func (h *pairHistory) reset() {
	h.head = 0
	h.size = 0
}
