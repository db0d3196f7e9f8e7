// Package optim provides the optimizer, gradient clipping and learning-rate
// schedule used for contrastive pretraining.
package optim

import (
	"fmt"
	"math"

	"github.com/Deekshith-Reddy/ecg-contrastive/internal/nn"
)

// Adam implements the Adam update over a fixed parameter list.
type Adam struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	params []*nn.Param
	step   int
	m      [][]float64
	v      [][]float64
}

// State is the serializable optimizer snapshot, ordered like the parameter
// list the optimizer was built with.
type State struct {
	Step int
	M    [][]float64
	V    [][]float64
}

func NewAdam(params []*nn.Param, lr float64) *Adam {
	a := &Adam{
		LR:     lr,
		Beta1:  0.9,
		Beta2:  0.999,
		Eps:    1e-8,
		params: params,
		m:      make([][]float64, len(params)),
		v:      make([][]float64, len(params)),
	}
	for i, p := range params {
		a.m[i] = make([]float64, len(p.Data))
		a.v[i] = make([]float64, len(p.Data))
	}
	return a
}

// Step applies one Adam update from the accumulated gradients.
func (a *Adam) Step() {
	a.step++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.step))
	for i, p := range a.params {
		m, v := a.m[i], a.v[i]
		for j, g := range p.Grad {
			if a.WeightDecay != 0 {
				g += a.WeightDecay * p.Data[j]
			}
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*g
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*g*g
			mHat := m[j] / bc1
			vHat := v[j] / bc2
			p.Data[j] -= a.LR * mHat / (math.Sqrt(vHat) + a.Eps)
		}
	}
}

// ZeroGrad clears all parameter gradients.
func (a *Adam) ZeroGrad() {
	nn.ZeroGrads(a.params)
}

// State copies the moment estimates for checkpointing.
func (a *Adam) State() State {
	st := State{Step: a.step, M: make([][]float64, len(a.m)), V: make([][]float64, len(a.v))}
	for i := range a.m {
		st.M[i] = append([]float64(nil), a.m[i]...)
		st.V[i] = append([]float64(nil), a.v[i]...)
	}
	return st
}

// LoadState restores moment estimates saved from an identically shaped
// parameter list.
func (a *Adam) LoadState(st State) error {
	if len(st.M) != len(a.m) || len(st.V) != len(a.v) {
		return fmt.Errorf("optim: state has %d/%d moment slices, want %d", len(st.M), len(st.V), len(a.m))
	}
	for i := range a.m {
		if len(st.M[i]) != len(a.m[i]) || len(st.V[i]) != len(a.v[i]) {
			return fmt.Errorf("optim: state slice %d has wrong length", i)
		}
		copy(a.m[i], st.M[i])
		copy(a.v[i], st.V[i])
	}
	a.step = st.Step
	return nil
}

// ClipGradNorm scales all gradients so their global L2 norm does not exceed
// maxNorm, returning the pre-clip norm.
func ClipGradNorm(params []*nn.Param, maxNorm float64) float64 {
	total := 0.0
	for _, p := range params {
		for _, g := range p.Grad {
			total += g * g
		}
	}
	norm := math.Sqrt(total)
	if norm > maxNorm && norm > 0 {
		scale := maxNorm / norm
		for _, p := range params {
			for j := range p.Grad {
				p.Grad[j] *= scale
			}
		}
	}
	return norm
}

// CosineSchedule anneals the learning rate from Base to Min over TMax steps.
// The training loop advances it once per epoch after warmup.
type CosineSchedule struct {
	Base float64
	Min  float64
	TMax int

	t int
}

// Step advances the schedule by one epoch.
func (s *CosineSchedule) Step() {
	if s.t < s.TMax {
		s.t++
	}
}

// LR reports the current learning rate.
func (s *CosineSchedule) LR() float64 {
	if s.TMax <= 0 {
		return s.Base
	}
	return s.Min + (s.Base-s.Min)*(1+math.Cos(math.Pi*float64(s.t)/float64(s.TMax)))/2
}
