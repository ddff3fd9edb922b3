// Package lbfgs turns the iterate/gradient trace of a quasi-Newton
// optimization run into a sequence of structured inverse-Hessian estimates
// H = diag(alpha) + beta*gamma*beta^T, using the limited-memory BFGS compact
// representation with a curvature-skip safeguard. No N×N matrix is ever
// formed; all dense algebra is on 2J×2J blocks with J bounded by the history
// length.
package lbfgs

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Default estimator parameters.
const (
	DefaultHistoryLength = 6
	DefaultEpsilon       = 1e-8
)

// Factorization is the inverse-Hessian estimate for one trace index,
// H = diag(Alpha) + Beta*Gamma*Beta^T. Beta (N×2J) and Gamma (2J×2J) are nil
// when no curvature pair has been accepted yet, in which case H is purely
// diagonal.
type Factorization struct {
	Alpha []float64
	Beta  *mat.Dense
	Gamma *mat.Dense
}

// Rank returns the width 2J of the low-rank part.
func (f Factorization) Rank() int {
	if f.Beta == nil {
		return 0
	}
	_, c := f.Beta.Dims()
	return c
}

// Estimator computes per-iteration inverse-Hessian factorizations from a
// trace. HistoryLength bounds the number of retained curvature pairs and
// Epsilon scales the curvature acceptance test s·y > Epsilon*|y|².
type Estimator struct {
	HistoryLength int
	Epsilon       float64
}

// NewEstimator returns an estimator with the given history length, or the
// package defaults for non-positive arguments.
func NewEstimator(historyLength int, epsilon float64) (*Estimator, error) {
	if historyLength < 0 {
		return nil, fmt.Errorf("lbfgs: history length must be positive, got %d", historyLength)
	}
	if historyLength == 0 {
		historyLength = DefaultHistoryLength
	}
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return &Estimator{HistoryLength: historyLength, Epsilon: epsilon}, nil
}

// errSingularR reports a triangular factor that could not be inverted even
// though every stored pair passed the curvature test.
var errSingularR = errors.New("lbfgs: singular curvature triangular factor")

// EstimateAll runs the recurrence over the whole trace and returns one
// factorization per trace index, plus the indices where the curvature test
// failed (or the triangular factor was singular) and the estimate degraded to
// the previous diagonal. The recurrence is deterministic given the trace and
// history length; no step fails on non-positive curvature.
func (e *Estimator) EstimateAll(t *Trace) ([]Factorization, []int, error) {
	if t == nil || t.Len() == 0 {
		return nil, nil, errors.New("lbfgs: empty trace")
	}
	n := t.Dim()
	facts := make([]Factorization, t.Len())
	var skipped []int

	// Unit diagonal, empty history at the start point.
	alpha := make([]float64, n)
	for i := range alpha {
		alpha[i] = 1
	}
	facts[0] = Factorization{Alpha: alpha}

	hist := newPairHistory(e.HistoryLength)
	s := make([]float64, n)
	y := make([]float64, n)

	for l := 1; l < t.Len(); l++ {
		floats.SubTo(s, t.X[l], t.X[l-1])
		floats.SubTo(y, t.Grad[l-1], t.Grad[l])

		b := floats.Dot(y, s)
		if b > e.Epsilon*floats.Dot(y, y) {
			alpha = updateDiagonal(alpha, s, y, b)
			hist.push(s, y)
		} else {
			skipped = append(skipped, l)
		}

		f := Factorization{Alpha: alpha}
		if hist.len() > 0 {
			beta, gamma, err := buildLowRank(alpha, hist)
			if err != nil {
				// Degrade to the diagonal part for this iteration.
				if len(skipped) == 0 || skipped[len(skipped)-1] != l {
					skipped = append(skipped, l)
				}
			} else {
				f.Beta = beta
				f.Gamma = gamma
			}
		}
		facts[l] = f
	}
	return facts, skipped, nil
}

// updateDiagonal applies the Gilbert-Lemaréchal diagonal update
// alpha'_i = b / (a/alpha_i + y_i² - (a/c)*(s_i/alpha_i)²) and returns the
// new diagonal. b = y·s must be positive, which the caller has verified.
func updateDiagonal(alpha, s, y []float64, b float64) []float64 {
	var a, c float64
	for i := range alpha {
		a += y[i] * y[i] * alpha[i]
		c += s[i] * s[i] / alpha[i]
	}
	out := make([]float64, len(alpha))
	for i := range out {
		sa := s[i] / alpha[i]
		out[i] = b / (a/alpha[i] + y[i]*y[i] - (a/c)*sa*sa)
	}
	return out
}

// buildLowRank rebuilds beta (N×2J) and gamma (2J×2J) from the current
// history, oldest pair first. The first J columns of beta are alpha⊙y_j, the
// last J are s_j. Gamma has zero top-left block, -R^{-1} off-diagonal blocks
// and R^{-T}(diag(η) + sym(Y^T diag(alpha) Y))R^{-1} in the bottom-right,
// where R is the upper triangle of S^T Y and η its diagonal. This is the
// compact Woodbury form of J successive BFGS updates of the diagonal.
func buildLowRank(alpha []float64, hist *pairHistory) (*mat.Dense, *mat.Dense, error) {
	n := len(alpha)
	j := hist.len()

	beta := mat.NewDense(n, 2*j, nil)
	for c := 0; c < j; c++ {
		s, y := hist.at(c)
		for i := 0; i < n; i++ {
			beta.Set(i, c, alpha[i]*y[i])
			beta.Set(i, j+c, s[i])
		}
	}

	// R[i,c] = s_i · y_c on and above the diagonal.
	r := mat.NewDense(j, j, nil)
	for i := 0; i < j; i++ {
		si, _ := hist.at(i)
		for c := i; c < j; c++ {
			_, yc := hist.at(c)
			r.Set(i, c, floats.Dot(si, yc))
		}
	}

	negEye := mat.NewDense(j, j, nil)
	for i := 0; i < j; i++ {
		negEye.Set(i, i, -1)
	}
	var minusRInv mat.Dense
	if err := minusRInv.Solve(r, negEye); err != nil {
		return nil, nil, errSingularR
	}

	// inner = diag(η) + sym(Y^T diag(alpha) Y), computed from the alpha*y
	// columns of beta.
	inner := mat.NewDense(j, j, nil)
	for i := 0; i < j; i++ {
		_, yi := hist.at(i)
		for c := 0; c < j; c++ {
			dot := 0.0
			for k := 0; k < n; k++ {
				dot += yi[k] * beta.At(k, c)
			}
			inner.Set(i, c, dot)
		}
	}
	symmetrize(inner)
	for i := 0; i < j; i++ {
		inner.Set(i, i, inner.At(i, i)+r.At(i, i))
	}

	var tmp, lower mat.Dense
	tmp.Mul(inner, &minusRInv)
	lower.Mul(minusRInv.T(), &tmp)

	gamma := mat.NewDense(2*j, 2*j, nil)
	for i := 0; i < j; i++ {
		for c := 0; c < j; c++ {
			gamma.Set(i, j+c, minusRInv.At(i, c))
			gamma.Set(j+i, c, minusRInv.At(c, i))
			gamma.Set(j+i, j+c, lower.At(i, c))
		}
	}
	return beta, gamma, nil
}

// symmetrize replaces m with (m+m^T)/2 in place.
func symmetrize(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		for c := i + 1; c < r; c++ {
			v := (m.At(i, c) + m.At(c, i)) / 2
			m.Set(i, c, v)
			m.Set(c, i, v)
		}
	}
}
