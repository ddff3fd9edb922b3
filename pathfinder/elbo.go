package pathfinder

import (
	"errors"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"

	"github.com/n0madic/go-pathfinder/lbfgs"
	"github.com/n0madic/go-pathfinder/woodbury"
)

// iterationApprox holds the winning per-iteration approximation together
// with the evaluation draws that scored it.
type iterationApprox struct {
	index int
	dist  *woodbury.Normal
	draws [][]float64
	logQ  []float64
	logP  []float64
	elbo  float64
}

// selectBest scores every iteration l = 1..L of the trace by a Monte Carlo
// ELBO over ndraws evaluation samples and returns the argmax together with
// the full ELBO sequence (index 0 carries no curvature and is fixed at
// -Inf). Iterations whose approximation cannot be built, or whose ELBO is
// not finite, score -Inf and are never selected.
func selectBest(t *lbfgs.Trace, facts []lbfgs.Factorization, logp LogDensityFunc, ndraws int, rng *rand.Rand) (*iterationApprox, []float64, error) {
	elbos := make([]float64, t.Len())
	elbos[0] = math.Inf(-1)

	var best *iterationApprox
	for l := 1; l < t.Len(); l++ {
		elbos[l] = math.Inf(-1)

		dist, err := woodbury.NewNormal(t.X[l], t.Grad[l], facts[l])
		if err != nil {
			continue
		}

		draws := make([][]float64, ndraws)
		logQ := make([]float64, ndraws)
		logP := make([]float64, ndraws)
		for k := 0; k < ndraws; k++ {
			draws[k], logQ[k] = dist.Rand(rng)
			logP[k] = logp(draws[k])
		}

		elbo := stat.Mean(logP, nil) - stat.Mean(logQ, nil)
		if math.IsNaN(elbo) || math.IsInf(elbo, 0) {
			continue
		}
		elbos[l] = elbo

		if best == nil || elbo > best.elbo {
			best = &iterationApprox{
				index: l,
				dist:  dist,
				draws: draws,
				logQ:  logQ,
				logP:  logP,
				elbo:  elbo,
			}
		}
	}
	if best == nil {
		return nil, elbos, errors.New("pathfinder: no iteration produced a finite ELBO")
	}
	return best, elbos, nil
}
