package lbfgs

import (
	"fmt"
	"math"
)

// Trace is the ordered sequence of points visited by an optimizer while
// maximizing a log-density, together with the log-density value and its
// gradient at each point. Index 0 is the start point. A Trace is built once
// per optimization run and read-only afterwards.
type Trace struct {
	X     [][]float64 // iterates
	Value []float64   // log-density values
	Grad  [][]float64 // log-density gradients
}

// NewTrace returns an empty trace with capacity hints for n entries of
// dimension dim.
func NewTrace(n, dim int) *Trace {
	return &Trace{
		X:     make([][]float64, 0, n),
		Value: make([]float64, 0, n),
		Grad:  make([][]float64, 0, n),
	}
}

// Append records one (iterate, value, gradient) triple. The slices are
// copied, so callers may reuse their buffers.
func (t *Trace) Append(x []float64, v float64, g []float64) error {
	if len(x) != len(g) {
		return fmt.Errorf("lbfgs: iterate dimension %d does not match gradient dimension %d", len(x), len(g))
	}
	if len(t.X) > 0 && len(x) != len(t.X[0]) {
		return fmt.Errorf("lbfgs: iterate dimension %d does not match trace dimension %d", len(x), len(t.X[0]))
	}
	xc := make([]float64, len(x))
	copy(xc, x)
	gc := make([]float64, len(g))
	copy(gc, g)
	t.X = append(t.X, xc)
	t.Value = append(t.Value, v)
	t.Grad = append(t.Grad, gc)
	return nil
}

// Len returns the number of recorded points (L+1 for L optimizer steps).
func (t *Trace) Len() int {
	return len(t.X)
}

// Dim returns the dimension of the iterates, or 0 for an empty trace.
func (t *Trace) Dim() int {
	if len(t.X) == 0 {
		return 0
	}
	return len(t.X[0])
}

// Truncate drops every entry from the first non-finite iterate, value or
// gradient onward and returns the new length. A fully finite trace is left
// unchanged.
func (t *Trace) Truncate() int {
	cut := len(t.X)
	for l := 0; l < len(t.X); l++ {
		if !t.finiteAt(l) {
			cut = l
			break
		}
	}
	t.X = t.X[:cut]
	t.Value = t.Value[:cut]
	t.Grad = t.Grad[:cut]
	return cut
}

func (t *Trace) finiteAt(l int) bool {
	if math.IsNaN(t.Value[l]) || math.IsInf(t.Value[l], 0) {
		return false
	}
	for _, v := range t.X[l] {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	for _, v := range t.Grad[l] {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
