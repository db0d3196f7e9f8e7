package metrics

import "gonum.org/v1/gonum/mat"

// TopK scores the batch similarity matrix as a retrieval problem: row i is
// correct at k when its diagonal entry ranks among the k largest values of
// the row. Returns one percentage per requested k; k larger than the matrix
// is clamped.
func TopK(logits mat.Matrix, ks ...int) []float64 {
	n, cols := logits.Dims()
	out := make([]float64, len(ks))
	if n == 0 {
		return out
	}
	for ki, k := range ks {
		if k > cols {
			k = cols
		}
		correct := 0
		for i := 0; i < n; i++ {
			target := logits.At(i, i)
			better := 0
			for j := 0; j < cols; j++ {
				if logits.At(i, j) > target {
					better++
				}
			}
			if better < k {
				correct++
			}
		}
		out[ki] = 100 * float64(correct) / float64(n)
	}
	return out
}
