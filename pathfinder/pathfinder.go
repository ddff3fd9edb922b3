// Package pathfinder approximates a target log-density by following the
// trace of a quasi-Newton optimizer: every visited point yields a
// low-rank-plus-diagonal Gaussian built from the optimizer's implicit
// inverse-Hessian estimate, the candidates are scored by a Monte Carlo ELBO,
// and the best one is returned. The multi-path variant pools draws from
// several independent runs and resamples them with Pareto-smoothed
// importance weights.
package pathfinder

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-pathfinder/lbfgs"
)

// Result is the outcome of a single-path run.
//
// Draws are the best iteration's ELBO evaluation draws, reused as the
// returned sample rather than redrawn, so len(Draws) equals the requested
// evaluation draw count (see Run and WithELBODraws).
type Result struct {
	// Mean and Covariance describe the selected Gaussian approximation. The
	// covariance is materialized only here; sampling never forms it.
	Mean       []float64
	Covariance *mat.SymDense

	Draws [][]float64
	LogQ  []float64 // approximation log-density at each draw
	LogP  []float64 // target log-density at each draw

	// ELBO holds the per-iteration estimates; index 0 is -Inf since the
	// start point carries no curvature information.
	ELBO          []float64
	BestIteration int

	// CurvatureSkips lists the trace iterations where the curvature pair was
	// rejected (or the triangular factor was singular) and the estimate fell
	// back to the previous diagonal.
	CurvatureSkips []int
	TraceLength    int
}

// Run executes a single pathfinder path from x0 and returns the selected
// approximation together with its evaluation draws. ndraws is the number of
// evaluation draws per trace iteration; unless overridden by WithELBODraws
// it is also the number of returned draws.
func Run(logp LogDensityFunc, grad GradientFunc, x0 []float64, ndraws int, opts ...Option) (*Result, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validateRun(logp, grad, x0, ndraws); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(cfg.seed, 0))
	return runPath(logp, grad, x0, ndraws, &cfg, rng)
}

func validateRun(logp LogDensityFunc, grad GradientFunc, x0 []float64, ndraws int) error {
	if logp == nil || grad == nil {
		return errors.New("pathfinder: nil log-density or gradient function")
	}
	if len(x0) == 0 {
		return errors.New("pathfinder: empty start point")
	}
	if ndraws <= 0 {
		return fmt.Errorf("pathfinder: draw count must be positive, got %d", ndraws)
	}
	return nil
}

// runPath is the single-path pipeline shared by Run and RunMulti:
// trace -> factorizations -> ELBO selection.
func runPath(logp LogDensityFunc, grad GradientFunc, x0 []float64, ndraws int, cfg *config, rng *rand.Rand) (*Result, error) {
	provider := cfg.provider
	if provider == nil {
		provider = &LBFGSProvider{
			MaxIterations:     cfg.maxIterations,
			GradientTolerance: cfg.gradientTolerance,
			HistoryLength:     cfg.historyLength,
		}
	}
	trace, err := provider.Trace(logp, grad, x0)
	if err != nil {
		return nil, err
	}
	if trace.Len() < 2 {
		return nil, errors.New("pathfinder: optimizer made no progress from the start point")
	}

	est, err := lbfgs.NewEstimator(cfg.historyLength, cfg.epsilon)
	if err != nil {
		return nil, err
	}
	facts, skipped, err := est.EstimateAll(trace)
	if err != nil {
		return nil, err
	}

	evalDraws := ndraws
	if cfg.elboDraws > 0 {
		evalDraws = cfg.elboDraws
	}
	best, elbos, err := selectBest(trace, facts, logp, evalDraws, rng)
	if err != nil {
		return nil, err
	}

	return &Result{
		Mean:           best.dist.Mean(),
		Covariance:     best.dist.CovarianceTo(nil),
		Draws:          best.draws,
		LogQ:           best.logQ,
		LogP:           best.logP,
		ELBO:           elbos,
		BestIteration:  best.index,
		CurvatureSkips: skipped,
		TraceLength:    trace.Len(),
	}, nil
}
