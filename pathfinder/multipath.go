package pathfinder

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/n0madic/go-pathfinder/psis"
)

// MultiResult is the outcome of a multi-path run.
type MultiResult struct {
	// Draws are the ndraws points resampled with replacement from the pooled
	// per-path draws, weighted by Pareto-smoothed importance ratios.
	Draws [][]float64

	// KHat is the fitted Pareto tail-shape diagnostic. Values above
	// psis.BadShapeThreshold indicate an unreliable importance-sampling
	// estimate; resampling proceeds regardless.
	KHat float64

	// Paths holds the per-start results in input order; a nil entry marks a
	// path that failed, with the cause in Errors at the same index.
	Paths  []*Result
	Errors []error
}

// RunMulti runs one pathfinder path per start point, pools every path's
// draws with their raw log-importance-ratios logp-logq, and resamples ndraws
// points with Pareto-smoothed weights. Paths are independent and run in
// parallel, each on its own random stream derived from the seed and the path
// index. Individual path failures (including truncated traces) are tolerated
// as long as at least one path succeeds.
func RunMulti(logp LogDensityFunc, grad GradientFunc, starts [][]float64, ndraws int, opts ...Option) (*MultiResult, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(starts) == 0 {
		return nil, errors.New("pathfinder: no start points")
	}
	for r, x0 := range starts {
		if len(x0) != len(starts[0]) {
			return nil, fmt.Errorf("pathfinder: start %d has dimension %d, want %d", r, len(x0), len(starts[0]))
		}
	}
	if err := validateRun(logp, grad, starts[0], ndraws); err != nil {
		return nil, err
	}

	perRun := ndraws
	if cfg.drawsPerRun > 0 {
		perRun = cfg.drawsPerRun
	}

	results := make([]*Result, len(starts))
	errs := make([]error, len(starts))

	var wg sync.WaitGroup
	sem := make(chan struct{}, cfg.workers())
	for r := range starts {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			// Independent, reproducible stream per path.
			rng := rand.New(rand.NewPCG(cfg.seed, uint64(r)+1))
			results[r], errs[r] = runPath(logp, grad, starts[r], perRun, &cfg, rng)
		}(r)
	}
	wg.Wait()

	var pool [][]float64
	var ratios []float64
	for _, res := range results {
		if res == nil {
			continue
		}
		for i, draw := range res.Draws {
			pool = append(pool, draw)
			ratios = append(ratios, res.LogP[i]-res.LogQ[i])
		}
	}
	if len(pool) == 0 {
		return nil, fmt.Errorf("pathfinder: all %d paths failed: %w", len(starts), errors.Join(errs...))
	}

	logW, kHat, err := psis.Smooth(ratios)
	if err != nil {
		return nil, err
	}
	idx, err := psis.Resample(logW, ndraws, rand.NewPCG(cfg.seed, uint64(len(starts))+1))
	if err != nil {
		return nil, err
	}

	draws := make([][]float64, len(idx))
	for i, j := range idx {
		draws[i] = append([]float64(nil), pool[j]...)
	}
	return &MultiResult{
		Draws:  draws,
		KHat:   kHat,
		Paths:  results,
		Errors: errs,
	}, nil
}
