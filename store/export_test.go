package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/memstore/document"
)

func TestExportImport(t *testing.T) {
	src := newTestStore(t)
	ctx := context.Background()

	ids := make([]string, 3)
	for i := range ids {
		doc := document.NewBead("bead", "user", 0.5)
		id, err := src.Put(ctx, doc)
		require.NoError(t, err)
		ids[i] = id
	}
	// mark one synced so the import has something to re-queue
	doc, err := src.Get(ctx, ids[0])
	require.NoError(t, err)
	_, err = src.MarkSynced(ctx, []document.Document{doc})
	require.NoError(t, err)

	backup, err := src.Export(ctx)
	require.NoError(t, err)
	require.Len(t, backup, 3)

	dst := newTestStore(t)
	n, err := dst.Import(ctx, backup, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stats, err := dst.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(3), stats.Pending, "import re-queues every document for sync")
}

func TestImport_MergesWithExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := document.NewBead("local copy", "user", 0.3)
	doc.Tags = []string{"local"}
	id, err := s.Put(ctx, doc)
	require.NoError(t, err)

	restored := document.NewBead("backup copy", "user", 0.8)
	restored.ID = id
	restored.Tags = []string{"backup"}
	n, err := s.Import(ctx, []document.Document{restored}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.8, got.Importance)
	assert.Equal(t, []string{"backup", "local"}, got.Tags)
}
