package lbfgs

import (
	"math/rand/v2"
	"testing"
)

// randomWalkTrace builds a trace on the quadratic log-density -0.5*|x|²
// with randomized ascent steps, so every curvature pair is accepted.
func randomWalkTrace(dim, steps int) *Trace {
	rng := rand.New(rand.NewPCG(42, 0))
	tr := NewTrace(steps+1, dim)
	x := make([]float64, dim)
	for i := range x {
		x[i] = rng.NormFloat64() * 5
	}
	g := make([]float64, dim)
	for l := 0; l <= steps; l++ {
		v := 0.0
		for i := range x {
			g[i] = -x[i]
			v -= 0.5 * x[i] * x[i]
		}
		if err := tr.Append(x, v, g); err != nil {
			panic(err)
		}
		step := 0.05 + 0.2*rng.Float64()
		for i := range x {
			x[i] += step * g[i]
		}
	}
	return tr
}

// BenchmarkEstimateAll measures the full factorization recurrence over a
// medium-dimension trace.
func BenchmarkEstimateAll(b *testing.B) {
	tr := randomWalkTrace(50, 30)
	est, err := NewEstimator(6, 1e-8)
	if err != nil {
		b.Fatalf("NewEstimator failed: %v", err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, _, err := est.EstimateAll(tr); err != nil {
			b.Fatalf("EstimateAll failed: %v", err)
		}
	}
}

// BenchmarkEstimateAllHighDim stresses the O(N·J²) per-iteration rebuild.
func BenchmarkEstimateAllHighDim(b *testing.B) {
	tr := randomWalkTrace(500, 20)
	est, err := NewEstimator(10, 1e-8)
	if err != nil {
		b.Fatalf("NewEstimator failed: %v", err)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, _, err := est.EstimateAll(tr); err != nil {
			b.Fatalf("EstimateAll failed: %v", err)
		}
	}
}
