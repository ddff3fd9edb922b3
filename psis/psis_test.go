package psis

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestSmoothValidation(t *testing.T) {
	_, _, err := Smooth(nil)
	require.Error(t, err)

	_, _, err = Smooth([]float64{0, math.NaN()})
	require.Error(t, err)
}

func TestSmoothNormalizes(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 0))
	lr := make([]float64, 500)
	for i := range lr {
		lr[i] = rng.NormFloat64()
	}
	lw, _, err := Smooth(lr)
	require.NoError(t, err)
	require.Len(t, lw, len(lr))

	assert.InDelta(t, 0, floats.LogSumExp(lw), 1e-10, "smoothed log-weights must be self-normalized")
	for i, w := range lw {
		assert.False(t, math.IsNaN(w), "log-weight %d is NaN", i)
		assert.LessOrEqual(t, w, 1e-12, "normalized log-weight %d above zero", i)
	}
}

func TestSmoothSmallSampleSkipsFit(t *testing.T) {
	lr := []float64{0.1, -0.2, 0.3, 0.05, -0.4, 0.2}
	lw, kHat, err := Smooth(lr)
	require.NoError(t, err)
	assert.True(t, math.IsInf(kHat, 1), "tiny tails must report kHat = +Inf, got %v", kHat)
	assert.InDelta(t, 0, floats.LogSumExp(lw), 1e-10)
}

func TestSmoothPreservesOrder(t *testing.T) {
	// Smoothing regularizes the tail but must keep the weight ranking of the
	// underlying ratios.
	rng := rand.New(rand.NewPCG(2, 0))
	lr := make([]float64, 400)
	for i := range lr {
		lr[i] = 2 * rng.NormFloat64()
	}
	lw, _, err := Smooth(lr)
	require.NoError(t, err)
	for i := range lr {
		for j := range lr {
			if lr[i] < lr[j] {
				assert.LessOrEqual(t, lw[i], lw[j]+1e-12,
					"weight order inverted between %d and %d", i, j)
			}
		}
	}
}

func TestSmoothHeavyTailDiagnostic(t *testing.T) {
	// Log-ratios with an exponential right tail correspond to importance
	// weights with a power-law tail; the fitted shape must be finite and
	// clearly positive.
	rng := rand.New(rand.NewPCG(3, 0))
	lr := make([]float64, 2000)
	for i := range lr {
		lr[i] = rng.ExpFloat64()
	}
	_, kHat, err := Smooth(lr)
	require.NoError(t, err)
	require.False(t, math.IsNaN(kHat))
	require.False(t, math.IsInf(kHat, 0), "expected a generalized Pareto fit on this tail size")
	assert.Greater(t, kHat, 0.0)
}

func TestGPInv(t *testing.T) {
	assert.Equal(t, 0.0, gpInv(0, 0.5, 1))
	assert.True(t, math.IsInf(gpInv(1, 0.5, 1), 1))
	assert.InDelta(t, 2.0, gpInv(1, -0.5, 1), 1e-12, "bounded support endpoint for negative shape")

	// Shape zero reduces to the exponential quantile function.
	for _, p := range []float64{0.1, 0.5, 0.9} {
		assert.InDelta(t, -2*math.Log1p(-p), gpInv(p, 0, 2), 1e-9)
	}

	// Monotone in p.
	prev := 0.0
	for _, p := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		q := gpInv(p, 0.3, 1.5)
		assert.Greater(t, q, prev)
		prev = q
	}

	assert.True(t, math.IsNaN(gpInv(0.5, 0.3, -1)), "non-positive scale must yield NaN")
}

func TestResample(t *testing.T) {
	lw := []float64{math.Log(0.1), math.Log(0.6), math.Log(0.3)}
	idx, err := Resample(lw, 3000, rand.NewPCG(4, 0))
	require.NoError(t, err)
	require.Len(t, idx, 3000)

	counts := make([]int, 3)
	for _, i := range idx {
		require.GreaterOrEqual(t, i, 0)
		require.Less(t, i, 3)
		counts[i]++
	}
	assert.InDelta(t, 0.1, float64(counts[0])/3000, 0.03)
	assert.InDelta(t, 0.6, float64(counts[1])/3000, 0.03)
	assert.InDelta(t, 0.3, float64(counts[2])/3000, 0.03)
}

func TestResampleValidation(t *testing.T) {
	_, err := Resample(nil, 5, rand.NewPCG(1, 0))
	require.Error(t, err)

	_, err = Resample([]float64{0}, 0, rand.NewPCG(1, 0))
	require.Error(t, err)

	_, err = Resample([]float64{math.NaN()}, 5, rand.NewPCG(1, 0))
	require.Error(t, err)
}
