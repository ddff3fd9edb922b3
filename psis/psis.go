// Package psis implements Pareto-smoothed importance sampling: the largest
// importance ratios are regularized by the quantiles of a generalized Pareto
// distribution fitted to them, and the fitted tail-shape parameter is
// reported as a reliability diagnostic.
package psis

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// BadShapeThreshold is the tail-shape value above which the importance
// sampling estimate is conventionally considered unreliable. Smoothing and
// resampling still proceed; callers decide whether to warn.
const BadShapeThreshold = 0.7

// Smooth regularizes raw log-importance-ratios and returns self-normalized
// log-weights together with the fitted tail-shape diagnostic kHat.
//
// The ceil(min(S/5, 3*sqrt(S))) largest ratios form the tail. When the tail
// holds four or fewer points no generalized Pareto fit is attempted, kHat is
// +Inf and the raw weights are normalized unchanged.
func Smooth(logRatios []float64) ([]float64, float64, error) {
	s := len(logRatios)
	if s == 0 {
		return nil, 0, errors.New("psis: empty log-ratio slice")
	}
	for i, r := range logRatios {
		if math.IsNaN(r) {
			return nil, 0, fmt.Errorf("psis: log-ratio %d is NaN", i)
		}
	}

	x := make([]float64, s)
	maxLR := floats.Max(logRatios)
	for i, r := range logRatios {
		x[i] = r - maxLR
	}

	tailLen := int(math.Ceil(math.Min(float64(s)/5, 3*math.Sqrt(float64(s)))))
	kHat := math.Inf(1)

	if tailLen >= 5 && tailLen < s {
		order := make([]int, s)
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool { return x[order[a]] < x[order[b]] })

		cutoff := x[order[s-tailLen-1]]
		if minCut := math.Log(math.SmallestNonzeroFloat64); cutoff < minCut {
			cutoff = minCut
		}
		expCutoff := math.Exp(cutoff)

		var tail []int
		for _, i := range order {
			if x[i] > cutoff {
				tail = append(tail, i)
			}
		}
		if len(tail) > 4 {
			// Exceedances over the cutoff, ascending by construction.
			exc := make([]float64, len(tail))
			for i, idx := range tail {
				exc[i] = math.Exp(x[idx]) - expCutoff
			}
			k, sigma := gpdFit(exc)
			if !math.IsNaN(k) && !math.IsInf(k, 0) && sigma > 0 {
				nt := float64(len(tail))
				for i, idx := range tail {
					p := (float64(i) + 0.5) / nt
					x[idx] = math.Log(gpInv(p, k, sigma) + expCutoff)
				}
				kHat = k
			}
		}
	}

	// Clip at the largest raw weight and self-normalize.
	for i := range x {
		if x[i] > 0 {
			x[i] = 0
		}
	}
	lse := floats.LogSumExp(x)
	for i := range x {
		x[i] -= lse
	}
	return x, kHat, nil
}

// gpdFit estimates the shape k and scale sigma of a generalized Pareto
// distribution over the ascending exceedances x, using the Zhang-Stephens
// empirical Bayes profile with a weak prior on the shape.
func gpdFit(x []float64) (k, sigma float64) {
	n := len(x)
	const (
		priorBs = 3.0
		priorK  = 10.0
	)
	m := 30 + int(math.Sqrt(float64(n)))

	quart := x[int(float64(n)/4+0.5)-1]
	xMax := x[n-1]

	bs := make([]float64, m)
	ks := make([]float64, m)
	ls := make([]float64, m)
	for j := 0; j < m; j++ {
		bs[j] = (1-math.Sqrt(float64(m)/(float64(j)+0.5)))/(priorBs*quart) + 1/xMax
		sum := 0.0
		for _, xi := range x {
			sum += math.Log1p(-bs[j] * xi)
		}
		ks[j] = sum / float64(n)
		if ks[j] == 0 {
			ls[j] = math.Inf(-1)
			continue
		}
		ls[j] = float64(n) * (math.Log(-(bs[j] / ks[j])) - ks[j] - 1)
	}

	// Normalized profile weights for each candidate b.
	weights := make([]float64, m)
	var wSum float64
	for j := 0; j < m; j++ {
		inv := 0.0
		for i := 0; i < m; i++ {
			inv += math.Exp(ls[i] - ls[j])
		}
		if inv > 0 && !math.IsInf(inv, 0) {
			weights[j] = 1 / inv
		}
		wSum += weights[j]
	}
	if wSum == 0 {
		return math.NaN(), math.NaN()
	}

	bPost := 0.0
	for j := 0; j < m; j++ {
		bPost += bs[j] * weights[j] / wSum
	}
	kPost := 0.0
	for _, xi := range x {
		kPost += math.Log1p(-bPost * xi)
	}
	kPost /= float64(n)
	kPost = (float64(n)*kPost + priorK*0.5) / (float64(n) + priorK)
	return kPost, -kPost / bPost
}

// gpInv is the generalized Pareto quantile function for probability p.
func gpInv(p, k, sigma float64) float64 {
	if sigma <= 0 {
		return math.NaN()
	}
	switch {
	case p <= 0:
		return 0
	case p >= 1:
		if k >= 0 {
			return math.Inf(1)
		}
		return -sigma / k
	}
	if math.Abs(k) < 1e-15 {
		return -sigma * math.Log1p(-p)
	}
	return sigma * math.Expm1(-k*math.Log1p(-p)) / k
}
