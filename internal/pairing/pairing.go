// Package pairing derives the positive-pair coordinates for a batch from its
// identity labels. Two batch rows form a positive pair when they carry the
// same identity; the diagonal is excluded.
package pairing

// Pair is a (row, col) coordinate in the batch similarity matrix.
type Pair struct {
	Row int
	Col int
}

// Index holds the strictly-upper and strictly-lower triangular positive
// coordinates, each in row-major order.
type Index struct {
	Upper []Pair
	Lower []Pair
}

// Build scans the identity vector and returns the positive-pair index.
// It is deterministic: equal inputs yield equal indices, in equal order.
func Build(ids []string) Index {
	var idx Index
	for i := 0; i < len(ids); i++ {
		for j := 0; j < i; j++ {
			if ids[i] == ids[j] {
				idx.Lower = append(idx.Lower, Pair{Row: i, Col: j})
			}
		}
		for j := i + 1; j < len(ids); j++ {
			if ids[i] == ids[j] {
				idx.Upper = append(idx.Upper, Pair{Row: i, Col: j})
			}
		}
	}
	return idx
}
