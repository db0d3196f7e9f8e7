package nn

// GlobalAvgPool1D averages each channel to a single value, the adaptive
// average pool with target length 1 followed by flatten.
type GlobalAvgPool1D struct{}

// GlobalAvgPool1DCache keeps the pooled input length.
type GlobalAvgPool1DCache struct {
	length int
}

func (GlobalAvgPool1D) Forward(x [][][]float64) ([][]float64, *GlobalAvgPool1DCache) {
	out := make([][]float64, len(x))
	length := len(x[0][0])
	inv := 1 / float64(length)
	for b := range x {
		row := make([]float64, len(x[b]))
		for c := range x[b] {
			sum := 0.0
			for _, v := range x[b][c] {
				sum += v
			}
			row[c] = sum * inv
		}
		out[b] = row
	}
	return out, &GlobalAvgPool1DCache{length: length}
}

func (GlobalAvgPool1D) Backward(cache *GlobalAvgPool1DCache, grad [][]float64) [][][]float64 {
	inv := 1 / float64(cache.length)
	dx := make([][][]float64, len(grad))
	for b := range grad {
		dx[b] = make([][]float64, len(grad[b]))
		for c := range grad[b] {
			row := make([]float64, cache.length)
			g := grad[b][c] * inv
			for t := range row {
				row[t] = g
			}
			dx[b][c] = row
		}
	}
	return dx
}
