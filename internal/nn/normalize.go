package nn

import "gonum.org/v1/gonum/floats"

// normEps clamps near-zero norms the way F.normalize does.
const normEps = 1e-12

// NormalizeCache keeps the normalized rows and their pre-clamp norms.
type NormalizeCache struct {
	unit  [][]float64
	norms []float64
}

// L2NormalizeRows scales every row to unit L2 norm. Rows with a vanishing
// norm are divided by normEps rather than zero.
func L2NormalizeRows(x [][]float64) ([][]float64, *NormalizeCache) {
	out := make([][]float64, len(x))
	cache := &NormalizeCache{
		unit:  out,
		norms: make([]float64, len(x)),
	}
	for i, row := range x {
		n := floats.Norm(row, 2)
		if n < normEps {
			n = normEps
		}
		cache.norms[i] = n
		u := make([]float64, len(row))
		for j, v := range row {
			u[j] = v / n
		}
		out[i] = u
	}
	return out, cache
}

// L2NormalizeRowsBackward maps gradients with respect to the normalized rows
// back to the unnormalized input: dx = (dy - (dy . u) u) / norm.
func L2NormalizeRowsBackward(cache *NormalizeCache, grad [][]float64) [][]float64 {
	dx := make([][]float64, len(grad))
	for i, g := range grad {
		u := cache.unit[i]
		dot := floats.Dot(g, u)
		row := make([]float64, len(g))
		for j := range g {
			row[j] = (g[j] - dot*u[j]) / cache.norms[i]
		}
		dx[i] = row
	}
	return dx
}
