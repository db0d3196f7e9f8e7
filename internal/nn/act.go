package nn

import "math"

// LeakyReLU applies max(x, slope*x) elementwise.
type LeakyReLU struct {
	Slope float64
}

// LeakyReLUCache keeps the forward input signs.
type LeakyReLUCache struct {
	input [][][]float64
}

func (a LeakyReLU) Forward(x [][][]float64) ([][][]float64, *LeakyReLUCache) {
	out := make([][][]float64, len(x))
	for b := range x {
		out[b] = make([][]float64, len(x[b]))
		for c := range x[b] {
			row := make([]float64, len(x[b][c]))
			for t, v := range x[b][c] {
				if v > 0 {
					row[t] = v
				} else {
					row[t] = a.Slope * v
				}
			}
			out[b][c] = row
		}
	}
	return out, &LeakyReLUCache{input: x}
}

func (a LeakyReLU) Backward(cache *LeakyReLUCache, grad [][][]float64) [][][]float64 {
	dx := make([][][]float64, len(grad))
	for b := range grad {
		dx[b] = make([][]float64, len(grad[b]))
		for c := range grad[b] {
			row := make([]float64, len(grad[b][c]))
			for t, g := range grad[b][c] {
				if cache.input[b][c][t] > 0 {
					row[t] = g
				} else {
					row[t] = a.Slope * g
				}
			}
			dx[b][c] = row
		}
	}
	return dx
}

// Sigmoid squashes a (batch, features) matrix elementwise.
type Sigmoid struct{}

// SigmoidCache keeps the forward output.
type SigmoidCache struct {
	output [][]float64
}

func (Sigmoid) Forward(x [][]float64) ([][]float64, *SigmoidCache) {
	out := make([][]float64, len(x))
	for b := range x {
		row := make([]float64, len(x[b]))
		for j, v := range x[b] {
			row[j] = 1 / (1 + math.Exp(-v))
		}
		out[b] = row
	}
	return out, &SigmoidCache{output: out}
}

func (Sigmoid) Backward(cache *SigmoidCache, grad [][]float64) [][]float64 {
	dx := make([][]float64, len(grad))
	for b := range grad {
		row := make([]float64, len(grad[b]))
		for j, g := range grad[b] {
			y := cache.output[b][j]
			row[j] = g * y * (1 - y)
		}
		dx[b] = row
	}
	return dx
}
