package trainer

import (
	"fmt"
	"math"
)

// TensorStats summarizes the tensor that tripped a divergence check.
type TensorStats struct {
	Count     int
	NonFinite int
	Min       float64
	Max       float64
	Mean      float64
}

// DivergenceError reports non-finite values detected at one of the loop's
// checkpoints. The run policy decides abort versus skip.
type DivergenceError struct {
	Iter  int
	Stage string // "inputs", "embeddings" or "loss"
	Stats TensorStats
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("trainer: non-finite values at iteration %d stage %s (%d/%d bad, min=%g max=%g mean=%g)",
		e.Iter, e.Stage, e.Stats.NonFinite, e.Stats.Count, e.Stats.Min, e.Stats.Max, e.Stats.Mean)
}

func summarize(values ...[]float64) TensorStats {
	st := TensorStats{Min: math.Inf(1), Max: math.Inf(-1)}
	sum := 0.0
	for _, vs := range values {
		for _, v := range vs {
			st.Count++
			if math.IsNaN(v) || math.IsInf(v, 0) {
				st.NonFinite++
				continue
			}
			sum += v
			if v < st.Min {
				st.Min = v
			}
			if v > st.Max {
				st.Max = v
			}
		}
	}
	if n := st.Count - st.NonFinite; n > 0 {
		st.Mean = sum / float64(n)
	}
	return st
}

func checkFinite3(iter int, stage string, tensors ...[][][]float64) *DivergenceError {
	var rows [][]float64
	bad := false
	for _, t := range tensors {
		for _, sample := range t {
			for _, row := range sample {
				rows = append(rows, row)
				if !bad {
					for _, v := range row {
						if math.IsNaN(v) || math.IsInf(v, 0) {
							bad = true
							break
						}
					}
				}
			}
		}
	}
	if !bad {
		return nil
	}
	return &DivergenceError{Iter: iter, Stage: stage, Stats: summarize(rows...)}
}

func checkFiniteScalar(iter int, stage string, v float64) *DivergenceError {
	if !math.IsNaN(v) && !math.IsInf(v, 0) {
		return nil
	}
	return &DivergenceError{Iter: iter, Stage: stage, Stats: summarize([]float64{v})}
}
