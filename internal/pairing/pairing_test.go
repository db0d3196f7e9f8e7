package pairing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSharedIdentityPair(t *testing.T) {
	idx := Build([]string{"p1", "p1", "p2", "p3"})

	assert.Equal(t, []Pair{{Row: 0, Col: 1}}, idx.Upper)
	assert.Equal(t, []Pair{{Row: 1, Col: 0}}, idx.Lower)
}

func TestBuildAllUniqueIsEmpty(t *testing.T) {
	idx := Build([]string{"a", "b", "c", "d"})

	assert.Empty(t, idx.Upper)
	assert.Empty(t, idx.Lower)
}

func TestBuildAllIdenticalIsFullTriangles(t *testing.T) {
	idx := Build([]string{"p", "p", "p", "p"})

	assert.Len(t, idx.Upper, 6)
	assert.Len(t, idx.Lower, 6)
	assert.Equal(t,
		[]Pair{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}},
		idx.Upper)
	assert.Equal(t,
		[]Pair{{1, 0}, {2, 0}, {2, 1}, {3, 0}, {3, 1}, {3, 2}},
		idx.Lower)
}

func TestBuildExcludesDiagonalAndKeepsTrianglesDisjoint(t *testing.T) {
	idx := Build([]string{"x", "y", "x", "y", "x"})

	seen := map[Pair]bool{}
	for _, p := range idx.Upper {
		assert.Less(t, p.Row, p.Col)
		seen[p] = true
	}
	for _, p := range idx.Lower {
		assert.Greater(t, p.Row, p.Col)
		assert.False(t, seen[p])
	}
	// mirrored cardinality
	assert.Equal(t, len(idx.Upper), len(idx.Lower))
}

func TestBuildIsIdempotent(t *testing.T) {
	ids := []string{"p1", "p2", "p1", "p2", "p1"}
	first := Build(ids)
	second := Build(ids)

	assert.Equal(t, first, second)
}

func TestBuildSwapCardinalityInvariance(t *testing.T) {
	a := Build([]string{"p1", "p1", "p2", "p3"})
	b := Build([]string{"p1", "p2", "p1", "p3"})

	assert.Equal(t, len(a.Upper), len(b.Upper))
	assert.Equal(t, len(a.Lower), len(b.Lower))
}

func TestBuildEmptyAndSingleton(t *testing.T) {
	assert.Empty(t, Build(nil).Upper)
	idx := Build([]string{"only"})
	assert.Empty(t, idx.Upper)
	assert.Empty(t, idx.Lower)
}
