package contrastive

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"

	"github.com/Deekshith-Reddy/ecg-contrastive/internal/pairing"
)

func randFeatures(rng *rand.Rand, batch, views, dim int) [][][]float64 {
	f := make([][][]float64, batch)
	for b := range f {
		f[b] = make([][]float64, views)
		for v := range f[b] {
			row := make([]float64, dim)
			norm := 0.0
			for d := range row {
				row[d] = rng.NormFloat64()
				norm += row[d] * row[d]
			}
			norm = math.Sqrt(norm)
			for d := range row {
				row[d] /= norm
			}
			f[b][v] = row
		}
	}
	return f
}

func TestLossRejectsDegenerateShapes(t *testing.T) {
	e := Engine{Temperature: 0.1}

	_, err := e.Loss(nil, pairing.Index{})
	assert.Error(t, err)

	_, err = e.Loss([][][]float64{{{1, 0}}}, pairing.Index{})
	assert.ErrorIs(t, err, errTooFewViews)
}

func TestLossUniqueIdentitiesUsesOnlyDiagonalTerms(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	f := randFeatures(rng, 4, 2, 8)
	idx := pairing.Build([]string{"a", "b", "c", "d"})

	e := Engine{Temperature: 0.1}
	res, err := e.Loss(f, idx)
	require.NoError(t, err)

	assert.Equal(t, 2, res.LastTerms)
	assert.Equal(t, 1, res.Pairs)
	assert.False(t, math.IsNaN(res.Loss))
	assert.False(t, math.IsInf(res.Loss, 0))
}

func TestLossAllSharedIdentityUsesFourTerms(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	f := randFeatures(rng, 4, 2, 8)
	idx := pairing.Build([]string{"p", "p", "p", "p"})
	require.Len(t, idx.Upper, 6)

	res, err := Engine{Temperature: 0.1}.Loss(f, idx)
	require.NoError(t, err)

	assert.Equal(t, 4, res.LastTerms)
	assert.False(t, math.IsNaN(res.Loss))
}

func TestLossIdenticalViewsDiagonalIsMaximal(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	f := randFeatures(rng, 5, 2, 8)
	for b := range f {
		copy(f[b][1], f[b][0])
	}

	res, err := Engine{Temperature: 0.1}.Loss(f, pairing.Build([]string{"a", "b", "c", "d", "e"}))
	require.NoError(t, err)

	// cosine of a vector with itself is 1, so each diagonal entry is
	// exp(1/temperature)
	want := math.Exp(1 / 0.1)
	for i := 0; i < 5; i++ {
		assert.InDelta(t, want, res.LastExp.At(i, i), want*1e-9)
	}
}

func TestLossSingleSampleBatchIsZero(t *testing.T) {
	f := [][][]float64{{{1, 0, 0}, {0, 1, 0}}}

	res, err := Engine{Temperature: 0.1}.Loss(f, pairing.Build([]string{"p1"}))
	require.NoError(t, err)

	assert.Equal(t, 0.0, res.Loss)
	assert.Equal(t, 2, res.LastTerms)
}

func TestLossKnownValueTwoSamples(t *testing.T) {
	// Orthogonal unit embeddings make the logits trivial to compute by hand:
	// z = cos/temp with cos(i,j) in {0, 1}.
	f := [][][]float64{
		{{1, 0}, {1, 0}},
		{{0, 1}, {0, 1}},
	}
	res, err := Engine{Temperature: 0.1}.Loss(f, pairing.Build([]string{"a", "b"}))
	require.NoError(t, err)

	e10 := math.Exp(10.0)
	e0 := 1.0
	// per row: diag e10, off-diag e0; rowsums and colsums are e10+e0
	term := -math.Log(e10 / (e10 + e0)) // identical for both rows, both terms
	want := (term + term) / (2 * 1)
	assert.InDelta(t, want, res.Loss, 1e-12)
}

func TestLossDiagMaskShape(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	f := randFeatures(rng, 3, 2, 4)

	res, err := Engine{Temperature: 0.1}.Loss(f, pairing.Build([]string{"x", "y", "z"}))
	require.NoError(t, err)

	r, c := res.DiagMask.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 3, c)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if i == j {
				assert.Equal(t, 1.0, res.DiagMask.At(i, j))
			} else {
				assert.Equal(t, 0.0, res.DiagMask.At(i, j))
			}
		}
	}
}

func TestLossMultiViewPairCount(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	f := randFeatures(rng, 3, 4, 6)

	res, err := Engine{Temperature: 0.1}.Loss(f, pairing.Build([]string{"x", "y", "z"}))
	require.NoError(t, err)

	assert.Equal(t, 6, res.Pairs) // C(4,2)
}

func TestLossGradientMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	batch, views, dim := 3, 2, 4
	f := randFeatures(rng, batch, views, dim)
	idx := pairing.Build([]string{"p1", "p1", "p2"})
	e := Engine{Temperature: 0.1}

	res, err := e.Loss(f, idx)
	require.NoError(t, err)

	flat := make([]float64, 0, batch*views*dim)
	for b := range f {
		for v := range f[b] {
			flat = append(flat, f[b][v]...)
		}
	}

	lossAt := func(x []float64) float64 {
		g := make([][][]float64, batch)
		i := 0
		for b := range g {
			g[b] = make([][]float64, views)
			for v := range g[b] {
				g[b][v] = append([]float64(nil), x[i:i+dim]...)
				i += dim
			}
		}
		r, err := e.Loss(g, idx)
		if err != nil {
			t.Fatalf("loss: %v", err)
		}
		return r.Loss
	}

	num := make([]float64, len(flat))
	fd.Gradient(num, lossAt, flat, &fd.Settings{Formula: fd.Central})

	got := make([]float64, 0, len(flat))
	for b := range res.Grad {
		for v := range res.Grad[b] {
			got = append(got, res.Grad[b][v]...)
		}
	}
	assert.InDeltaSlice(t, num, got, 1e-6)
}

func TestLossGradientFiniteDifferenceThreeViews(t *testing.T) {
	// three views exercises gradient accumulation across view pairs and the
	// last-pair normalization
	rng := rand.New(rand.NewSource(7))
	batch, views, dim := 4, 3, 3
	f := randFeatures(rng, batch, views, dim)
	idx := pairing.Build([]string{"a", "a", "b", "c"})
	e := Engine{Temperature: 0.1}

	res, err := e.Loss(f, idx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pairs)

	flat := make([]float64, 0, batch*views*dim)
	for b := range f {
		for v := range f[b] {
			flat = append(flat, f[b][v]...)
		}
	}
	lossAt := func(x []float64) float64 {
		g := make([][][]float64, batch)
		i := 0
		for b := range g {
			g[b] = make([][]float64, views)
			for v := range g[b] {
				g[b][v] = append([]float64(nil), x[i:i+dim]...)
				i += dim
			}
		}
		r, _ := e.Loss(g, idx)
		return r.Loss
	}
	num := make([]float64, len(flat))
	fd.Gradient(num, lossAt, flat, &fd.Settings{Formula: fd.Central})

	got := make([]float64, 0, len(flat))
	for b := range res.Grad {
		for v := range res.Grad[b] {
			got = append(got, res.Grad[b][v]...)
		}
	}
	assert.InDeltaSlice(t, num, got, 1e-6)
}
