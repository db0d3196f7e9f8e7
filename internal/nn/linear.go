package nn

import "math/rand"

// Linear is a fully connected layer over (batch, features) matrices.
type Linear struct {
	In  int
	Out int

	Weight *Param // (out, in), row-major
	Bias   *Param // (out)
}

// LinearCache holds the forward input.
type LinearCache struct {
	input [][]float64
}

func NewLinear(name string, in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		In:     in,
		Out:    out,
		Weight: newParam(name+".weight", out*in),
		Bias:   newParam(name+".bias", out),
	}
	uniformInit(l.Weight.Data, in, rng)
	uniformInit(l.Bias.Data, in, rng)
	return l
}

func (l *Linear) Forward(x [][]float64) ([][]float64, *LinearCache) {
	out := make([][]float64, len(x))
	for b := range x {
		row := make([]float64, l.Out)
		for o := 0; o < l.Out; o++ {
			sum := l.Bias.Data[o]
			w := l.Weight.Data[o*l.In:]
			for j := 0; j < l.In; j++ {
				sum += w[j] * x[b][j]
			}
			row[o] = sum
		}
		out[b] = row
	}
	return out, &LinearCache{input: x}
}

func (l *Linear) Backward(cache *LinearCache, grad [][]float64) [][]float64 {
	x := cache.input
	dx := make([][]float64, len(x))
	for b := range x {
		dx[b] = make([]float64, l.In)
		for o := 0; o < l.Out; o++ {
			g := grad[b][o]
			if g == 0 {
				continue
			}
			l.Bias.Grad[o] += g
			wOff := o * l.In
			for j := 0; j < l.In; j++ {
				l.Weight.Grad[wOff+j] += g * x[b][j]
				dx[b][j] += g * l.Weight.Data[wOff+j]
			}
		}
	}
	return dx
}

func (l *Linear) Params() []*Param {
	return []*Param{l.Weight, l.Bias}
}
