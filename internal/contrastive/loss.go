// Package contrastive computes the multi-view InfoNCE-style loss over
// per-lead embeddings, treating same-sample cross-view diagonals and
// same-patient off-diagonal cells as positives.
package contrastive

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/Deekshith-Reddy/ecg-contrastive/internal/pairing"
)

// DefaultTemperature is the softmax temperature used when none is set.
const DefaultTemperature = 0.1

var errTooFewViews = errors.New("contrastive: need at least two views")

// Engine evaluates the loss for one batch of embeddings.
type Engine struct {
	Temperature float64
}

// Result carries the scalar loss, the analytic gradient with respect to the
// input embeddings, and the diagnostics the training loop reports from:
// the exponentiated similarity matrix of the last view pair and a matching
// diagonal mask marking the true-positive positions.
type Result struct {
	Loss     float64
	Grad     [][][]float64
	LastExp  *mat.Dense
	DiagMask *mat.Dense

	// LastTerms is the number of loss terms contributed by the last view
	// pair; Pairs is the number of view pairs evaluated. The final loss is
	// the accumulated term sum divided by LastTerms*Pairs, even though
	// LastTerms reflects only the last pair.
	LastTerms int
	Pairs     int
}

// Loss consumes embeddings shaped (batch, views, dim) and the positive-pair
// index for the batch. A batch of one sample is accepted and contributes
// zero loss. Degenerate denominators are not guarded; non-finite results
// propagate to the caller's divergence checks.
func (e Engine) Loss(features [][][]float64, idx pairing.Index) (*Result, error) {
	n := len(features)
	if n == 0 {
		return nil, errors.New("contrastive: empty batch")
	}
	views := len(features[0])
	if views < 2 {
		return nil, fmt.Errorf("%w, got %d", errTooFewViews, views)
	}
	dim := len(features[0][0])
	temp := e.Temperature
	if temp == 0 {
		temp = DefaultTemperature
	}

	grad := make([][][]float64, n)
	for b := range grad {
		grad[b] = make([][]float64, views)
		for v := range grad[b] {
			grad[b][v] = make([]float64, dim)
		}
	}

	res := &Result{Grad: grad}
	sum := 0.0

	for v1 := 0; v1 < views; v1++ {
		for v2 := v1 + 1; v2 < views; v2++ {
			terms, pairLoss := e.viewPair(features, idx, v1, v2, dim, temp, res, grad)
			sum += pairLoss
			res.LastTerms = terms
			res.Pairs++
		}
	}

	divisor := float64(res.LastTerms * res.Pairs)
	res.Loss = sum / divisor
	scale := 1 / divisor
	for b := range grad {
		for v := range grad[b] {
			floats.Scale(scale, grad[b][v])
		}
	}
	return res, nil
}

// viewPair accumulates the unscaled loss terms and gradients for one pair of
// views and returns the term count alongside the unscaled loss contribution.
func (e Engine) viewPair(features [][][]float64, idx pairing.Index, v1, v2, dim int, temp float64, res *Result, grad [][][]float64) (int, float64) {
	n := len(features)

	a := mat.NewDense(n, dim, nil)
	b := mat.NewDense(n, dim, nil)
	na := make([]float64, n)
	nb := make([]float64, n)
	for i := 0; i < n; i++ {
		a.SetRow(i, features[i][v1])
		b.SetRow(i, features[i][v2])
		na[i] = floats.Norm(features[i][v1], 2)
		nb[i] = floats.Norm(features[i][v2], 2)
	}

	var dots mat.Dense
	dots.Mul(a, b.T())

	// expSim[i,j] = exp(dot(a_i, b_j) / (|a_i| |b_j| temp))
	expSim := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			expSim.Set(i, j, math.Exp(dots.At(i, j)/(na[i]*nb[j]*temp)))
		}
	}

	rowSum := make([]float64, n)
	colSum := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := expSim.At(i, j)
			rowSum[i] += v
			colSum[j] += v
		}
	}

	// Gradient of the term sum with respect to the pre-exp logits.
	g := mat.NewDense(n, n, nil)
	invN := 1 / float64(n)

	lossDiag1 := 0.0
	lossDiag2 := 0.0
	for i := 0; i < n; i++ {
		d := expSim.At(i, i)
		lossDiag1 -= math.Log(d / rowSum[i])
		lossDiag2 -= math.Log(d / colSum[i])
		for j := 0; j < n; j++ {
			g.Set(i, j, g.At(i, j)+invN*(expSim.At(i, j)/rowSum[i]+expSim.At(i, j)/colSum[j]))
		}
		g.Set(i, i, g.At(i, i)-2*invN)
	}
	pairLoss := lossDiag1*invN + lossDiag2*invN
	terms := 2

	if len(idx.Upper) > 0 {
		invU := 1 / float64(len(idx.Upper))
		rowHits := make([]float64, n)
		lossTriu := 0.0
		for _, p := range idx.Upper {
			lossTriu -= math.Log(expSim.At(p.Row, p.Col) / rowSum[p.Row])
			rowHits[p.Row]++
			g.Set(p.Row, p.Col, g.At(p.Row, p.Col)-invU)
		}
		for i := 0; i < n; i++ {
			if rowHits[i] == 0 {
				continue
			}
			for j := 0; j < n; j++ {
				g.Set(i, j, g.At(i, j)+invU*rowHits[i]*expSim.At(i, j)/rowSum[i])
			}
		}
		pairLoss += lossTriu * invU
		terms++
	}

	if len(idx.Lower) > 0 {
		invL := 1 / float64(len(idx.Lower))
		colHits := make([]float64, n)
		lossTril := 0.0
		for _, p := range idx.Lower {
			lossTril -= math.Log(expSim.At(p.Row, p.Col) / colSum[p.Col])
			colHits[p.Col]++
			g.Set(p.Row, p.Col, g.At(p.Row, p.Col)-invL)
		}
		for j := 0; j < n; j++ {
			if colHits[j] == 0 {
				continue
			}
			for i := 0; i < n; i++ {
				g.Set(i, j, g.At(i, j)+invL*colHits[j]*expSim.At(i, j)/colSum[j])
			}
		}
		pairLoss += lossTril * invL
		terms++
	}

	// Chain through the cosine logits into the two view slices:
	//   z_ij = s_ij / (|a_i| |b_j| temp)
	//   dz/da_i = (b_j - (s_ij/|a_i|^2) a_i) / (|a_i| |b_j| temp)
	for i := 0; i < n; i++ {
		ga := grad[i][v1]
		for j := 0; j < n; j++ {
			gij := g.At(i, j)
			if gij == 0 {
				continue
			}
			denom := na[i] * nb[j] * temp
			sij := dots.At(i, j)
			gb := grad[j][v2]
			for d := 0; d < dim; d++ {
				ga[d] += gij * (b.At(j, d) - sij/(na[i]*na[i])*a.At(i, d)) / denom
				gb[d] += gij * (a.At(i, d) - sij/(nb[j]*nb[j])*b.At(j, d)) / denom
			}
		}
	}

	res.LastExp = expSim
	diag := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		diag.Set(i, i, 1)
	}
	res.DiagMask = diag

	return terms, pairLoss
}
