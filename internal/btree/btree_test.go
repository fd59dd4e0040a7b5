package btree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertAndFind(t *testing.T) {
	tree := New(4)
	tree.Insert("a", "doc1")
	tree.Insert("b", "doc2")
	tree.Insert("a", "doc3")

	assert.ElementsMatch(t, []string{"doc1", "doc3"}, tree.Find("a"))
	assert.Equal(t, []string{"doc2"}, tree.Find("b"))
	assert.Nil(t, tree.Find("missing"))
}

func TestSplitsAcrossManyKeys(t *testing.T) {
	tree := New(4)
	keys := []string{"m", "d", "z", "a", "p", "f", "x", "q", "b", "y", "c", "n"}
	for i, k := range keys {
		tree.Insert(k, k+"-doc")
		_ = i
	}
	for _, k := range keys {
		got := tree.Find(k)
		require.Len(t, got, 1)
		assert.Equal(t, k+"-doc", got[0])
	}

	entries := tree.All()
	for i := 1; i < len(entries); i++ {
		assert.True(t, less(entries[i-1].Key, entries[i].Key), "leaf chain must stay sorted")
	}
}

func TestRemove(t *testing.T) {
	tree := New(4)
	tree.Insert("a", "doc1")
	tree.Insert("a", "doc2")

	tree.Remove("a", "doc1")
	assert.Equal(t, []string{"doc2"}, tree.Find("a"))

	tree.Remove("a", "doc2")
	assert.Nil(t, tree.Find("a"))
}

func TestDumpAndLoadRoundTrip(t *testing.T) {
	tree := New(4)
	for _, k := range []string{"m", "d", "z", "a", "p", "f"} {
		tree.Insert(k, k+"-doc")
	}

	entries := tree.Dump()
	reloaded := LoadEntries(4, entries)
	for _, k := range []string{"m", "d", "z", "a", "p", "f"} {
		assert.Equal(t, tree.Find(k), reloaded.Find(k))
	}
}

func TestNumericKeys(t *testing.T) {
	tree := New(4)
	tree.Insert(float64(3), "doc3")
	tree.Insert(float64(1), "doc1")
	tree.Insert(float64(2), "doc2")

	assert.Equal(t, []string{"doc1"}, tree.Find(float64(1)))
	assert.Equal(t, []string{"doc2"}, tree.Find(float64(2)))
	assert.Equal(t, []string{"doc3"}, tree.Find(float64(3)))
}
