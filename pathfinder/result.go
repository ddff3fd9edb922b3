package pathfinder

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"
)

// resultState is the serializable form of a Result. The covariance is
// stored as its packed lower triangle.
type resultState struct {
	Version        int
	Dim            int
	Mean           []float64
	CovLower       []float64
	Draws          [][]float64
	LogQ           []float64
	LogP           []float64
	ELBO           []float64
	BestIteration  int
	CurvatureSkips []int
	TraceLength    int
}

const resultStateVersion = 1

// Save serializes the result in gob format.
func (r *Result) Save(w io.Writer) error {
	dim := len(r.Mean)
	state := resultState{
		Version:        resultStateVersion,
		Dim:            dim,
		Mean:           r.Mean,
		Draws:          r.Draws,
		LogQ:           r.LogQ,
		LogP:           r.LogP,
		ELBO:           r.ELBO,
		BestIteration:  r.BestIteration,
		CurvatureSkips: r.CurvatureSkips,
		TraceLength:    r.TraceLength,
	}
	if r.Covariance != nil {
		state.CovLower = make([]float64, 0, dim*(dim+1)/2)
		for i := 0; i < dim; i++ {
			for c := 0; c <= i; c++ {
				state.CovLower = append(state.CovLower, r.Covariance.At(i, c))
			}
		}
	}
	return gob.NewEncoder(w).Encode(state)
}

// LoadResult deserializes a result previously written by Save.
func LoadResult(rd io.Reader) (*Result, error) {
	var state resultState
	if err := gob.NewDecoder(rd).Decode(&state); err != nil {
		return nil, err
	}
	if state.Version != resultStateVersion {
		return nil, fmt.Errorf("pathfinder: unsupported result version %d", state.Version)
	}
	if len(state.Mean) != state.Dim {
		return nil, errors.New("pathfinder: corrupt result state: mean length mismatch")
	}

	res := &Result{
		Mean:           state.Mean,
		Draws:          state.Draws,
		LogQ:           state.LogQ,
		LogP:           state.LogP,
		ELBO:           state.ELBO,
		BestIteration:  state.BestIteration,
		CurvatureSkips: state.CurvatureSkips,
		TraceLength:    state.TraceLength,
	}
	if len(state.CovLower) > 0 {
		if len(state.CovLower) != state.Dim*(state.Dim+1)/2 {
			return nil, errors.New("pathfinder: corrupt result state: covariance length mismatch")
		}
		cov := mat.NewSymDense(state.Dim, nil)
		k := 0
		for i := 0; i < state.Dim; i++ {
			for c := 0; c <= i; c++ {
				cov.SetSym(i, c, state.CovLower[k])
				k++
			}
		}
		res.Covariance = cov
	}
	return res, nil
}
