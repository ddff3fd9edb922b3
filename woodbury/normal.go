// Package woodbury implements sampling from, and exact log-density
// evaluation under, a multivariate normal whose covariance has the
// low-rank-plus-diagonal form Sigma = diag(alpha) + Beta*Gamma*Beta^T. The
// full N×N covariance is never formed: construction and each draw cost
// O(N·J²) where 2J is the rank of the low-rank part.
package woodbury

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-pathfinder/lbfgs"
)

const log2Pi = 1.8378770664093454835606594728112353

// Normal is the Gaussian N(mu, Sigma) implied by an inverse-Hessian
// factorization anchored at a point theta with gradient g:
//
//	Sigma = diag(alpha) + Beta*Gamma*Beta^T
//	mu    = theta + alpha⊙g + Beta*Gamma*Beta^T*g
type Normal struct {
	mu        []float64
	alpha     []float64
	sqrtAlpha []float64
	beta      *mat.Dense
	gamma     *mat.Dense
	q         *mat.Dense // N×2J, orthonormal columns of diag(1/√alpha)*Beta
	l         *mat.Dense // 2J×2J lower Cholesky factor of I + R*Gamma*R^T
	logDet    float64
	dim       int
	rank      int

	// scratch buffers reused across draws; Rand is not safe for
	// concurrent use on a single Normal.
	u, w, t []float64
}

// NewNormal builds the Gaussian approximation for anchor theta, gradient
// grad and factorization f. A zero-rank factorization yields the pure
// diagonal Gaussian N(theta+alpha⊙grad, diag(alpha)).
func NewNormal(theta, grad []float64, f lbfgs.Factorization) (*Normal, error) {
	n := len(theta)
	if len(grad) != n {
		return nil, fmt.Errorf("woodbury: gradient dimension %d does not match anchor dimension %d", len(grad), n)
	}
	if len(f.Alpha) != n {
		return nil, fmt.Errorf("woodbury: diagonal dimension %d does not match anchor dimension %d", len(f.Alpha), n)
	}
	for i, a := range f.Alpha {
		if !(a > 0) || math.IsInf(a, 0) {
			return nil, fmt.Errorf("woodbury: diagonal entry %d is not strictly positive: %v", i, a)
		}
	}

	d := &Normal{
		alpha:     append([]float64(nil), f.Alpha...),
		sqrtAlpha: make([]float64, n),
		beta:      f.Beta,
		gamma:     f.Gamma,
		dim:       n,
		rank:      f.Rank(),
		u:         make([]float64, n),
	}
	for i, a := range f.Alpha {
		d.sqrtAlpha[i] = math.Sqrt(a)
	}

	d.mu = meanShift(theta, grad, f)

	if d.rank == 0 {
		d.logDet = 0
		for _, a := range d.alpha {
			d.logDet += math.Log(a)
		}
		return d, nil
	}

	k := d.rank
	// Thin QR of diag(1/√alpha)*Beta.
	scaled := mat.NewDense(n, k, nil)
	for c := 0; c < k; c++ {
		for i := 0; i < n; i++ {
			scaled.Set(i, c, f.Beta.At(i, c)/d.sqrtAlpha[i])
		}
	}
	q, r := thinQR(scaled)

	// M = I + R*Gamma*R^T, factorized with a jitter fallback for borderline
	// curvature.
	var rg, m mat.Dense
	rg.Mul(r, f.Gamma)
	m.Mul(&rg, r.T())
	sym := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for c := i; c < k; c++ {
			v := (m.At(i, c) + m.At(c, i)) / 2
			if i == c {
				v++
			}
			sym.SetSym(i, c, v)
		}
	}
	l, err := factorizeSPD(sym)
	if err != nil {
		return nil, err
	}

	d.q = q
	d.l = l
	d.logDet = 0
	for _, a := range d.alpha {
		d.logDet += math.Log(a)
	}
	for i := 0; i < k; i++ {
		d.logDet += 2 * math.Log(l.At(i, i))
	}
	d.w = make([]float64, k)
	d.t = make([]float64, k)
	return d, nil
}

// meanShift computes theta + alpha⊙g + Beta*(Gamma*(Beta^T*g)).
func meanShift(theta, grad []float64, f lbfgs.Factorization) []float64 {
	n := len(theta)
	mu := make([]float64, n)
	for i := range mu {
		mu[i] = theta[i] + f.Alpha[i]*grad[i]
	}
	if f.Rank() == 0 {
		return mu
	}
	g := mat.NewVecDense(n, append([]float64(nil), grad...))
	var bg, gbg, shift mat.VecDense
	bg.MulVec(f.Beta.T(), g)
	gbg.MulVec(f.Gamma, &bg)
	shift.MulVec(f.Beta, &gbg)
	for i := range mu {
		mu[i] += shift.AtVec(i)
	}
	return mu
}

// Dim returns the dimension N.
func (d *Normal) Dim() int { return d.dim }

// Rank returns the width 2J of the low-rank covariance part.
func (d *Normal) Rank() int { return d.rank }

// Mean returns a copy of mu.
func (d *Normal) Mean() []float64 {
	return append([]float64(nil), d.mu...)
}

// LogDet returns log|Sigma|.
func (d *Normal) LogDet() float64 { return d.logDet }

// Rand draws one sample and returns it together with its exact log-density
// under the distribution. The log-density comes from the whitening residual
// of the construction, so it matches the closed-form multivariate normal
// density of the returned point.
func (d *Normal) Rand(rng *rand.Rand) ([]float64, float64) {
	for i := range d.u {
		d.u[i] = rng.NormFloat64()
	}
	x := make([]float64, d.dim)

	if d.rank == 0 {
		for i := range x {
			x[i] = d.mu[i] + d.sqrtAlpha[i]*d.u[i]
		}
		return x, d.logProbResidual()
	}

	k := d.rank
	// w = Q^T u
	for c := 0; c < k; c++ {
		dot := 0.0
		for i := 0; i < d.dim; i++ {
			dot += d.q.At(i, c) * d.u[i]
		}
		d.w[c] = dot
	}
	// t = (L - I) w
	for i := 0; i < k; i++ {
		dot := 0.0
		for c := 0; c <= i; c++ {
			dot += d.l.At(i, c) * d.w[c]
		}
		d.t[i] = dot - d.w[i]
	}
	// x = mu + √alpha ⊙ (Q t + u)
	for i := 0; i < d.dim; i++ {
		dot := 0.0
		for c := 0; c < k; c++ {
			dot += d.q.At(i, c) * d.t[c]
		}
		x[i] = d.mu[i] + d.sqrtAlpha[i]*(dot+d.u[i])
	}
	return x, d.logProbResidual()
}

func (d *Normal) logProbResidual() float64 {
	return -(d.logDet + float64(d.dim)*log2Pi + floats.Dot(d.u, d.u)) / 2
}

// CovarianceTo materializes Sigma into dst, which must be nil or N×N. This
// is intended for returning the selected approximation to a caller; sampling
// never uses it.
func (d *Normal) CovarianceTo(dst *mat.SymDense) *mat.SymDense {
	if dst == nil {
		dst = mat.NewSymDense(d.dim, nil)
	}
	if dst.SymmetricDim() != d.dim {
		panic("woodbury: covariance destination dimension mismatch")
	}
	if d.rank == 0 {
		for i := 0; i < d.dim; i++ {
			for c := i; c < d.dim; c++ {
				if i == c {
					dst.SetSym(i, i, d.alpha[i])
				} else {
					dst.SetSym(i, c, 0)
				}
			}
		}
		return dst
	}
	var bg, full mat.Dense
	bg.Mul(d.beta, d.gamma)
	full.Mul(&bg, d.beta.T())
	for i := 0; i < d.dim; i++ {
		for c := i; c < d.dim; c++ {
			v := (full.At(i, c) + full.At(c, i)) / 2
			if i == c {
				v += d.alpha[i]
			}
			dst.SetSym(i, c, v)
		}
	}
	return dst
}

// thinQR computes a reduced orthonormal factorization a = q*r with q N×k and
// r k×k upper triangular, by modified Gram-Schmidt. gonum's mat.QR only
// exposes the full N×N orthogonal factor, which would break the O(N·J²)
// cost bound. Near-dependent columns yield a zero q column and a zero row of
// r; the jitter fallback in factorizeSPD absorbs the resulting slack.
func thinQR(a *mat.Dense) (*mat.Dense, *mat.Dense) {
	n, k := a.Dims()
	q := mat.NewDense(n, k, nil)
	r := mat.NewDense(k, k, nil)
	v := make([]float64, n)

	for c := 0; c < k; c++ {
		for i := 0; i < n; i++ {
			v[i] = a.At(i, c)
		}
		for p := 0; p < c; p++ {
			dot := 0.0
			for i := 0; i < n; i++ {
				dot += q.At(i, p) * v[i]
			}
			r.Set(p, c, dot)
			for i := 0; i < n; i++ {
				v[i] -= dot * q.At(i, p)
			}
		}
		norm := floats.Norm(v, 2)
		if norm > 1e-12 {
			r.Set(c, c, norm)
			for i := 0; i < n; i++ {
				q.Set(i, c, v[i]/norm)
			}
		}
	}
	return q, r
}

// factorizeSPD returns the lower Cholesky factor of sym, retrying once with
// an adaptive trace-scaled jitter on the diagonal.
func factorizeSPD(sym *mat.SymDense) (*mat.Dense, error) {
	k := sym.SymmetricDim()
	var chol mat.Cholesky
	if chol.Factorize(sym) {
		return lowerTo(&chol, k), nil
	}

	trace := 0.0
	for i := 0; i < k; i++ {
		trace += sym.At(i, i)
	}
	eps := 1e-8 * math.Abs(trace) / float64(k)
	if eps == 0 {
		eps = 1e-10
	}
	jittered := mat.NewSymDense(k, nil)
	jittered.CopySym(sym)
	for i := 0; i < k; i++ {
		jittered.SetSym(i, i, jittered.At(i, i)+eps)
	}
	if chol.Factorize(jittered) {
		return lowerTo(&chol, k), nil
	}
	return nil, errors.New("woodbury: cholesky factorization failed even with jitter")
}

func lowerTo(chol *mat.Cholesky, k int) *mat.Dense {
	tri := mat.NewTriDense(k, mat.Lower, nil)
	chol.LTo(tri)
	l := mat.NewDense(k, k, nil)
	l.Copy(tri)
	return l
}
