package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchSimilarRanksCloserTextHigher(t *testing.T) {
	idx := NewSimilarity(DefaultDimension)
	idx.Index("exact", "the quick brown fox")
	idx.Index("partial", "the quick cat")
	idx.Index("unrelated", "completely different words entirely")

	results := idx.SearchSimilar("the quick brown fox", 10)
	require.NotEmpty(t, results)
	assert.Equal(t, "exact", results[0].Key)
}

func TestSearchSimilarRespectsTopK(t *testing.T) {
	idx := NewSimilarity(DefaultDimension)
	for _, k := range []string{"a", "b", "c", "d"} {
		idx.Index(k, "shared words here")
	}

	results := idx.SearchSimilar("shared words", 2)
	assert.Len(t, results, 2)
}

func TestSearchSimilarTieBreaksByKey(t *testing.T) {
	idx := NewSimilarity(DefaultDimension)
	idx.Index("b", "same text")
	idx.Index("a", "same text")

	results := idx.SearchSimilar("same text", 10)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Key)
	assert.Equal(t, "b", results[1].Key)
}

func TestNewSimilarityFallsBackToDefaultDimension(t *testing.T) {
	idx := NewSimilarity(0)
	assert.Equal(t, DefaultDimension, idx.dim)
}

func TestForgetRemovesVector(t *testing.T) {
	idx := NewSimilarity(DefaultDimension)
	idx.Index("a", "hello")
	idx.Forget("a")

	results := idx.SearchSimilar("hello", 10)
	assert.Empty(t, results)
}
