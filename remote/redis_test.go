package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/memstore/document"
)

func newTestRedisRemote(t *testing.T) (*RedisRemote, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	remote, err := NewRedisRemote(fmt.Sprintf("redis://%s", mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { remote.Close() })
	return remote, mr
}

func TestRedisRemote_PushBatch(t *testing.T) {
	remote, mr := newTestRedisRemote(t)
	ctx := context.Background()

	bead := document.NewBead("push me", "user", 0.7)
	embed := document.NewEmbeddingRef("vectorized", "embed-1", []float64{1, 0})

	result, err := remote.PushBatch(ctx, []document.Document{bead, embed})
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Zero(t, result.FailedCount)

	data := mr.HGet("memstore:doc:"+bead.ID, "data")
	var stored document.Document
	require.NoError(t, json.Unmarshal([]byte(data), &stored))
	assert.Equal(t, bead.ID, stored.ID)
	assert.Equal(t, "push me", stored.Content)

	inType, err := mr.IsMember("memstore:type:bead", bead.ID)
	require.NoError(t, err)
	assert.True(t, inType)

	inVectors, err := mr.IsMember("memstore:vectors", embed.ID)
	require.NoError(t, err)
	assert.True(t, inVectors)

	beadInVectors, err := mr.IsMember("memstore:vectors", bead.ID)
	require.NoError(t, err)
	assert.False(t, beadInVectors, "docs without vectors stay out of the vector set")
}

func TestRedisRemote_PushBatchUnreachable(t *testing.T) {
	remote, mr := newTestRedisRemote(t)
	mr.Close()

	_, err := remote.PushBatch(context.Background(), []document.Document{
		document.NewBead("x", "user", 0.5),
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestRedisRemote_Search(t *testing.T) {
	remote, _ := newTestRedisRemote(t)
	ctx := context.Background()

	exact := document.NewEmbeddingRef("exact", "embed-1", []float64{1, 0, 0})
	near := document.NewEmbeddingRef("near", "embed-1", []float64{0.9, 0.1, 0})
	far := document.NewEmbeddingRef("far", "embed-1", []float64{0, 0, 1})

	_, err := remote.PushBatch(ctx, []document.Document{far, near, exact})
	require.NoError(t, err)

	matches, err := remote.Search(ctx, []float64{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, exact.ID, matches[0].Document.ID)
	assert.Equal(t, near.ID, matches[1].Document.ID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
}

func TestRedisRemote_SearchDefaultLimit(t *testing.T) {
	remote, _ := newTestRedisRemote(t)
	ctx := context.Background()

	var docs []document.Document
	for i := 0; i < 8; i++ {
		docs = append(docs, document.NewEmbeddingRef(
			fmt.Sprintf("doc %d", i), "embed-1", []float64{1, float64(i)}))
	}
	_, err := remote.PushBatch(ctx, docs)
	require.NoError(t, err)

	matches, err := remote.Search(ctx, []float64{1, 0}, 0)
	require.NoError(t, err)
	assert.Len(t, matches, 5)
}

func TestRedisRemote_Fetch(t *testing.T) {
	remote, _ := newTestRedisRemote(t)
	ctx := context.Background()

	doc := document.NewMemory("stored fact", "semantic")
	_, err := remote.PushBatch(ctx, []document.Document{doc})
	require.NoError(t, err)

	got, err := remote.Fetch(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	require.NotNil(t, got.Memory)
	assert.Equal(t, "stored fact", got.Content)

	_, err = remote.Fetch(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, ClassPermanent, Classify(err))
}

func TestRedisRemote_CustomPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	remote, err := NewRedisRemote(fmt.Sprintf("redis://%s", mr.Addr()), WithRedisPrefix("agent7"))
	require.NoError(t, err)
	t.Cleanup(func() { remote.Close() })

	doc := document.NewBead("prefixed", "user", 0.5)
	_, err = remote.PushBatch(context.Background(), []document.Document{doc})
	require.NoError(t, err)

	assert.True(t, mr.Exists("agent7:doc:"+doc.ID))
	assert.False(t, mr.Exists("memstore:doc:"+doc.ID))
}
