package nn

import (
	"math"
	"sync"
)

// BatchNorm1D normalizes per channel over batch and length: biased variance
// for normalization, unbiased variance folded into the running estimate.
type BatchNorm1D struct {
	Channels int
	Eps      float64
	Momentum float64

	Gamma *Param
	Beta  *Param

	RunningMean []float64
	RunningVar  []float64

	mu sync.Mutex // guards running stats when views run concurrently
}

// BatchNorm1DCache holds normalized activations for the training-mode
// backward pass. Eval-mode forwards return a nil cache.
type BatchNorm1DCache struct {
	xhat   [][][]float64
	invStd []float64
}

func NewBatchNorm1D(name string, channels int) *BatchNorm1D {
	bn := &BatchNorm1D{
		Channels:    channels,
		Eps:         1e-5,
		Momentum:    0.1,
		Gamma:       newParam(name+".gamma", channels),
		Beta:        newParam(name+".beta", channels),
		RunningMean: make([]float64, channels),
		RunningVar:  make([]float64, channels),
	}
	for c := range bn.Gamma.Data {
		bn.Gamma.Data[c] = 1
		bn.RunningVar[c] = 1
	}
	return bn
}

func (bn *BatchNorm1D) Forward(x [][][]float64, training bool) ([][][]float64, *BatchNorm1DCache) {
	batch := len(x)
	length := len(x[0][0])
	m := float64(batch * length)

	out := make([][][]float64, batch)
	for b := range out {
		out[b] = make([][]float64, bn.Channels)
		for c := range out[b] {
			out[b][c] = make([]float64, length)
		}
	}

	if !training {
		for c := 0; c < bn.Channels; c++ {
			invStd := 1 / math.Sqrt(bn.RunningVar[c]+bn.Eps)
			for b := 0; b < batch; b++ {
				for t := 0; t < length; t++ {
					out[b][c][t] = bn.Gamma.Data[c]*(x[b][c][t]-bn.RunningMean[c])*invStd + bn.Beta.Data[c]
				}
			}
		}
		return out, nil
	}

	cache := &BatchNorm1DCache{
		xhat:   make([][][]float64, batch),
		invStd: make([]float64, bn.Channels),
	}
	for b := range cache.xhat {
		cache.xhat[b] = make([][]float64, bn.Channels)
		for c := range cache.xhat[b] {
			cache.xhat[b][c] = make([]float64, length)
		}
	}

	for c := 0; c < bn.Channels; c++ {
		mean := 0.0
		for b := 0; b < batch; b++ {
			for t := 0; t < length; t++ {
				mean += x[b][c][t]
			}
		}
		mean /= m

		variance := 0.0
		for b := 0; b < batch; b++ {
			for t := 0; t < length; t++ {
				d := x[b][c][t] - mean
				variance += d * d
			}
		}
		variance /= m

		invStd := 1 / math.Sqrt(variance+bn.Eps)
		cache.invStd[c] = invStd
		for b := 0; b < batch; b++ {
			for t := 0; t < length; t++ {
				xh := (x[b][c][t] - mean) * invStd
				cache.xhat[b][c][t] = xh
				out[b][c][t] = bn.Gamma.Data[c]*xh + bn.Beta.Data[c]
			}
		}

		bn.mu.Lock()
		bn.RunningMean[c] = (1-bn.Momentum)*bn.RunningMean[c] + bn.Momentum*mean
		if m > 1 {
			unbiased := variance * m / (m - 1)
			bn.RunningVar[c] = (1-bn.Momentum)*bn.RunningVar[c] + bn.Momentum*unbiased
		}
		bn.mu.Unlock()
	}
	return out, cache
}

// Backward requires a training-mode cache.
func (bn *BatchNorm1D) Backward(cache *BatchNorm1DCache, grad [][][]float64) [][][]float64 {
	batch := len(grad)
	length := len(grad[0][0])
	m := float64(batch * length)

	dx := make([][][]float64, batch)
	for b := range dx {
		dx[b] = make([][]float64, bn.Channels)
		for c := range dx[b] {
			dx[b][c] = make([]float64, length)
		}
	}

	for c := 0; c < bn.Channels; c++ {
		sumDy := 0.0
		sumDyXhat := 0.0
		for b := 0; b < batch; b++ {
			for t := 0; t < length; t++ {
				sumDy += grad[b][c][t]
				sumDyXhat += grad[b][c][t] * cache.xhat[b][c][t]
			}
		}
		bn.Beta.Grad[c] += sumDy
		bn.Gamma.Grad[c] += sumDyXhat

		scale := bn.Gamma.Data[c] * cache.invStd[c] / m
		for b := 0; b < batch; b++ {
			for t := 0; t < length; t++ {
				dx[b][c][t] = scale * (m*grad[b][c][t] - sumDy - cache.xhat[b][c][t]*sumDyXhat)
			}
		}
	}
	return dx
}

func (bn *BatchNorm1D) Params() []*Param {
	return []*Param{bn.Gamma, bn.Beta}
}
