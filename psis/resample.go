package psis

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Resample draws n indices with replacement, with probability proportional
// to exp(logWeights). The weights do not need to be normalized. A poor
// tail-shape diagnostic never blocks resampling; only malformed input is an
// error.
func Resample(logWeights []float64, n int, src rand.Source) ([]int, error) {
	if len(logWeights) == 0 {
		return nil, errors.New("psis: empty weight slice")
	}
	if n <= 0 {
		return nil, fmt.Errorf("psis: resample count must be positive, got %d", n)
	}

	// Shift before exponentiating so the largest weight is exactly 1.
	maxLW := floats.Max(logWeights)
	if math.IsNaN(maxLW) || math.IsInf(maxLW, 0) {
		return nil, errors.New("psis: degenerate log-weights")
	}
	w := make([]float64, len(logWeights))
	for i, lw := range logWeights {
		w[i] = math.Exp(lw - maxLW)
	}

	cat := distuv.NewCategorical(w, src)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = int(cat.Rand())
	}
	return idx, nil
}
