package nn

import (
	"math"
	"math/rand"
)

// Param is a named, flat parameter slice with its accumulated gradient.
// Gradients accumulate across backward calls until ZeroGrad; shared-weight
// reuse (e.g. one encoder applied per lead) sums naturally.
type Param struct {
	Name string
	Data []float64
	Grad []float64
}

func newParam(name string, size int) *Param {
	return &Param{
		Name: name,
		Data: make([]float64, size),
		Grad: make([]float64, size),
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// ZeroGrads clears gradients on every param.
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// uniformInit fills data with U(-bound, bound) where bound = 1/sqrt(fanIn).
func uniformInit(data []float64, fanIn int, rng *rand.Rand) {
	bound := 1.0
	if fanIn > 0 {
		bound = 1.0 / math.Sqrt(float64(fanIn))
	}
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * bound
	}
}
