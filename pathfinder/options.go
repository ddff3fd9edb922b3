package pathfinder

import (
	"runtime"

	"github.com/n0madic/go-pathfinder/lbfgs"
)

// Default orchestration parameters.
const (
	DefaultMaxIterations     = 1000
	DefaultGradientTolerance = 1e-8
	DefaultConcurrency       = 0 // 0 means one worker per CPU
)

type config struct {
	maxIterations     int
	gradientTolerance float64
	historyLength     int
	epsilon           float64
	elboDraws         int // 0 means follow the requested draw count
	drawsPerRun       int // 0 means follow the multi-path resample count
	seed              uint64
	concurrency       int
	provider          TraceProvider
}

func defaultConfig() config {
	return config{
		maxIterations:     DefaultMaxIterations,
		gradientTolerance: DefaultGradientTolerance,
		historyLength:     lbfgs.DefaultHistoryLength,
		epsilon:           lbfgs.DefaultEpsilon,
	}
}

func (c *config) workers() int {
	if c.concurrency > 0 {
		return c.concurrency
	}
	return runtime.NumCPU()
}

// Option configures a pathfinder run.
type Option func(*config)

// WithMaxIterations bounds the optimizer's major iterations.
func WithMaxIterations(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithGradientTolerance sets the optimizer's gradient-norm stopping
// threshold.
func WithGradientTolerance(tol float64) Option {
	return func(c *config) {
		if tol > 0 {
			c.gradientTolerance = tol
		}
	}
}

// WithHistoryLength sets the number of retained curvature pairs.
func WithHistoryLength(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.historyLength = n
		}
	}
}

// WithEpsilon sets the relative curvature acceptance tolerance.
func WithEpsilon(eps float64) Option {
	return func(c *config) {
		if eps > 0 {
			c.epsilon = eps
		}
	}
}

// WithELBODraws overrides the number of evaluation draws per trace iteration.
// The draws returned by Run are the best iteration's evaluation draws, so
// this also determines the returned draw count.
func WithELBODraws(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.elboDraws = n
		}
	}
}

// WithDrawsPerRun sets how many draws each path contributes to the
// multi-path pool. By default each path contributes as many draws as the
// final resample size.
func WithDrawsPerRun(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.drawsPerRun = n
		}
	}
}

// WithSeed sets the random seed. Multi-path runs derive an independent
// stream per path from this seed and the path index.
func WithSeed(seed uint64) Option {
	return func(c *config) {
		c.seed = seed
	}
}

// WithConcurrency bounds the number of paths optimized in parallel by
// RunMulti. Zero or negative selects one worker per CPU.
func WithConcurrency(n int) Option {
	return func(c *config) {
		c.concurrency = n
	}
}

// WithTraceProvider replaces the default L-BFGS trace provider.
func WithTraceProvider(p TraceProvider) Option {
	return func(c *config) {
		if p != nil {
			c.provider = p
		}
	}
}
