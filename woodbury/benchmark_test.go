package woodbury

import (
	"math/rand/v2"
	"testing"

	"github.com/n0madic/go-pathfinder/lbfgs"
)

func benchmarkNormal(b *testing.B, dim, steps int) *Normal {
	b.Helper()
	rng := rand.New(rand.NewPCG(42, 0))
	tr := lbfgs.NewTrace(steps+1, dim)
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
			b.Fatalf("Append failed: %v", err)
		}
		step := 0.05 + 0.2*rng.Float64()
		for i := range x {
			x[i] += step * g[i]
		}
	}

	est, err := lbfgs.NewEstimator(6, 1e-8)
	if err != nil {
		b.Fatalf("NewEstimator failed: %v", err)
	}
	facts, _, err := est.EstimateAll(tr)
	if err != nil {
		b.Fatalf("EstimateAll failed: %v", err)
	}
	last := tr.Len() - 1
	d, err := NewNormal(tr.X[last], tr.Grad[last], facts[last])
	if err != nil {
		b.Fatalf("NewNormal failed: %v", err)
	}
	return d
}

// BenchmarkRand measures one draw with its log-density at moderate rank.
func BenchmarkRand(b *testing.B) {
	d := benchmarkNormal(b, 100, 20)
	rng := rand.New(rand.NewPCG(7, 0))

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		d.Rand(rng)
	}
}

// BenchmarkNewNormal measures the construction cost (thin QR plus the small
// Cholesky), which dominates per-iteration ELBO scoring.
func BenchmarkNewNormal(b *testing.B) {
	d := benchmarkNormal(b, 100, 20)
	theta := d.Mean()
	grad := make([]float64, d.Dim())
	f := lbfgs.Factorization{Alpha: d.alpha, Beta: d.beta, Gamma: d.gamma}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if _, err := NewNormal(theta, grad, f); err != nil {
			b.Fatalf("NewNormal failed: %v", err)
		}
	}
}
