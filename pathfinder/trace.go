package pathfinder

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/n0madic/go-pathfinder/lbfgs"
)

// LogDensityFunc evaluates the (unnormalized) target log-density. It must be
// pure: deterministic and free of observable side effects.
type LogDensityFunc func(x []float64) float64

// GradientFunc writes the gradient of the log-density at x into grad.
type GradientFunc func(grad, x []float64)

// TraceProvider produces the ordered (iterate, log-density, gradient) trace
// of an optimization run started at x0. Index 0 of the returned trace is the
// start point. A provider must return a trace containing only finite
// entries, truncating at the first non-finite one.
type TraceProvider interface {
	Trace(logp LogDensityFunc, grad GradientFunc, x0 []float64) (*lbfgs.Trace, error)
}

// LBFGSProvider runs gonum's L-BFGS minimizer on the negated log-density and
// records every accepted iterate. The zero value uses the package defaults.
type LBFGSProvider struct {
	MaxIterations     int
	GradientTolerance float64
	HistoryLength     int
}

// Trace maximizes logp from x0 and returns the visited trace. Optimizer
// failures after at least the start point was evaluated yield the partial
// trace rather than an error; the caller sees a shorter run, matching the
// non-finite early-stop policy.
func (p *LBFGSProvider) Trace(logp LogDensityFunc, grad GradientFunc, x0 []float64) (*lbfgs.Trace, error) {
	if logp == nil || grad == nil {
		return nil, errors.New("pathfinder: nil log-density or gradient function")
	}
	if len(x0) == 0 {
		return nil, errors.New("pathfinder: empty start point")
	}

	maxIter := p.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	gradTol := p.GradientTolerance
	if gradTol <= 0 {
		gradTol = DefaultGradientTolerance
	}
	store := p.HistoryLength
	if store <= 0 {
		store = lbfgs.DefaultHistoryLength
	}

	trace := lbfgs.NewTrace(maxIter+1, len(x0))

	// Record the start point directly so index 0 always exists, independent
	// of the recorder's first callback.
	v0 := logp(x0)
	g0 := make([]float64, len(x0))
	grad(g0, x0)
	if err := trace.Append(x0, v0, g0); err != nil {
		return nil, err
	}
	if trace.Truncate() == 0 {
		return nil, fmt.Errorf("pathfinder: log-density is not finite at the start point (value %v)", v0)
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			f := -logp(x)
			if math.IsNaN(f) {
				// Non-finite objective: present it to the minimizer as an
				// unacceptable point instead of poisoning the line search.
				return math.Inf(1)
			}
			return f
		},
		Grad: func(g, x []float64) {
			grad(g, x)
			floats.Scale(-1, g)
		},
	}
	settings := &optimize.Settings{
		Recorder:          &traceRecorder{trace: trace},
		GradientThreshold: gradTol,
		MajorIterations:   maxIter,
	}

	// The recorder has already captured everything useful when Minimize
	// errors out mid-run, so optimizer failures only matter if nothing
	// beyond the start point was accepted.
	_, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{Store: store})
	trace.Truncate()
	if trace.Len() == 0 {
		if err != nil {
			return nil, fmt.Errorf("pathfinder: optimization failed: %w", err)
		}
		return nil, errors.New("pathfinder: optimization produced no finite iterates")
	}
	return trace, nil
}

// traceRecorder captures every major-iteration location, undoing the
// maximization-as-minimization sign flip.
type traceRecorder struct {
	trace *lbfgs.Trace
}

func (r *traceRecorder) Init() error { return nil }

func (r *traceRecorder) Record(loc *optimize.Location, op optimize.Operation, _ *optimize.Stats) error {
	if op != optimize.MajorIteration || loc == nil || len(loc.Gradient) != len(loc.X) {
		return nil
	}
	last := r.trace.Len() - 1
	if last >= 0 && floats.Equal(r.trace.X[last], loc.X) {
		return nil
	}
	g := make([]float64, len(loc.Gradient))
	for i, v := range loc.Gradient {
		g[i] = -v
	}
	return r.trace.Append(loc.X, -loc.F, g)
}
