package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/memstore/document"
)

func TestPut_CachesEmbeddingVector(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ref := document.NewEmbeddingRef("the quick brown fox", "embed-1", []float64{1, 0, 0})
	id, err := s.Put(ctx, ref)
	require.NoError(t, err)

	matches, err := s.SimilaritySearch(ctx, []float64{1, 0, 0}, 5, "")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, id, matches[0].Document.ID)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
}

func TestSimilaritySearch_RanksByCosine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	vectors := map[string][]float64{
		"exact":      {1, 0, 0},
		"close":      {0.9, 0.1, 0},
		"orthogonal": {0, 1, 0},
	}
	ids := make(map[string]string)
	for name, v := range vectors {
		id, err := s.Put(ctx, document.NewEmbeddingRef(name, "embed-1", v))
		require.NoError(t, err)
		ids[name] = id
	}

	matches, err := s.SimilaritySearch(ctx, []float64{1, 0, 0}, 2, "")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, ids["exact"], matches[0].Document.ID)
	assert.Equal(t, ids["close"], matches[1].Document.ID)
	assert.Greater(t, matches[0].Similarity, matches[1].Similarity)
}

func TestSimilaritySearch_TypeFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, document.NewEmbeddingRef("ref", "embed-1", []float64{1, 0}))
	require.NoError(t, err)

	mem := document.NewMemory("a memory", "semantic")
	memID, err := s.Put(ctx, mem)
	require.NoError(t, err)
	require.NoError(t, s.StoreEmbedding(ctx, memID, document.HashText("a memory"), []float64{0.5, 0.5}, "embed-1"))

	matches, err := s.SimilaritySearch(ctx, []float64{1, 0}, 5, document.TypeMemory)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, memID, matches[0].Document.ID)
}

func TestStoreEmbedding_SkipsOversizedVectors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Put(ctx, document.NewMemory("big", "semantic"))
	require.NoError(t, err)

	big := make([]float64, document.VectorCacheThresholdBytes/8+1)
	big[0] = 1
	require.NoError(t, s.StoreEmbedding(ctx, id, "hash", big, "embed-1"))

	matches, err := s.SimilaritySearch(ctx, []float64{1}, 5, "")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestDelete_RemovesCachedVector(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Put(ctx, document.NewEmbeddingRef("doomed", "embed-1", []float64{1}))
	require.NoError(t, err)

	deleted, err := s.Delete(ctx, id)
	require.NoError(t, err)
	require.True(t, deleted)

	matches, err := s.SimilaritySearch(ctx, []float64{1}, 5, "")
	require.NoError(t, err)
	assert.Empty(t, matches, "the vector cascades with its document")
}

func TestDisableVectorCache(t *testing.T) {
	s, err := Open(Config{DisableVectorCache: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	id, err := s.Put(ctx, document.NewEmbeddingRef("not cached", "embed-1", []float64{1, 0}))
	require.NoError(t, err)
	require.NoError(t, s.StoreEmbedding(ctx, id, "hash", []float64{1, 0}, "embed-1"))

	matches, err := s.SimilaritySearch(ctx, []float64{1, 0}, 5, "")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestVectorRoundTrip(t *testing.T) {
	v := []float64{0.25, -1.5, 3.14159, 0}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
}
