package index

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFullTextSearchRequiresAllTokens(t *testing.T) {
	idx := NewFullText()
	idx.Index("a", "the quick brown fox")
	idx.Index("b", "the lazy dog")
	idx.Index("c", "quick fox jumps")

	got := idx.Search("quick fox")
	sort.Strings(got)
	assert.Equal(t, []string{"a", "c"}, got)
}

func TestFullTextForgetRemovesFromPostings(t *testing.T) {
	idx := NewFullText()
	idx.Index("a", "hello world")
	idx.Forget("a")

	assert.Empty(t, idx.Search("hello"))
}

func TestFullTextReindexReplacesOldPostings(t *testing.T) {
	idx := NewFullText()
	idx.Index("a", "hello world")
	idx.Index("a", "goodbye")

	assert.Empty(t, idx.Search("hello"))
	assert.Equal(t, []string{"a"}, idx.Search("goodbye"))
}

func TestFullTextSearchIsCaseInsensitive(t *testing.T) {
	idx := NewFullText()
	idx.Index("a", "Hello World")

	assert.Equal(t, []string{"a"}, idx.Search("hello"))
}
