package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/memstore/document"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(Config{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPut_NewDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := document.NewBead("hello", "user", 0.5)
	id, err := s.Put(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, document.StatusPending, got.SyncStatus)
	assert.Equal(t, int64(1), got.Version)
}

func TestPut_GeneratesID(t *testing.T) {
	s := newTestStore(t)

	doc := document.NewMemory("fact", "semantic")
	doc.ID = ""
	id, err := s.Put(context.Background(), doc)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestPut_MergesOnExistingID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := document.NewBead("note", "user", 0.5)
	first.Tags = []string{"alpha"}
	id, err := s.Put(ctx, first)
	require.NoError(t, err)

	second := document.NewBead("note", "user", 0.8)
	second.ID = id
	second.Tags = []string{"beta"}
	_, err = s.Put(ctx, second)
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.8, got.Importance, "importance takes the max")
	assert.Equal(t, []string{"alpha", "beta"}, got.Tags, "tags union")
	assert.Equal(t, int64(2), got.Version, "exactly one bump per write")

	// A lower importance on a later write never lowers the stored value.
	third := document.NewBead("note", "user", 0.1)
	third.ID = id
	_, err = s.Put(ctx, third)
	require.NoError(t, err)

	got, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.8, got.Importance)
	assert.Equal(t, int64(3), got.Version)
}

func TestPut_RejectsInvalidDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := document.NewBead("x", "user", 0.5)
	doc.Importance = 2.0
	_, err := s.Put(ctx, doc)
	require.ErrorIs(t, err, document.ErrScoreRange)

	// nothing was persisted
	_, err = s.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Put(ctx, document.NewBead("gone soon", "user", 0.5))
	require.NoError(t, err)

	deleted, err := s.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err = s.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMarkSynced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Put(ctx, document.NewBead("b", "user", 0.5))
	require.NoError(t, err)
	doc, err := s.Get(ctx, id)
	require.NoError(t, err)

	marked, err := s.MarkSynced(ctx, []document.Document{doc})
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, document.StatusSynced, got.SyncStatus)
}

func TestMarkSynced_SkipsRewrittenDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Put(ctx, document.NewBead("b", "user", 0.5))
	require.NoError(t, err)
	snapshot, err := s.Get(ctx, id)
	require.NoError(t, err)

	// Another write lands between drain and push completion.
	update := document.NewBead("b updated", "user", 0.5)
	update.ID = id
	_, err = s.Put(ctx, update)
	require.NoError(t, err)

	marked, err := s.MarkSynced(ctx, []document.Document{snapshot})
	require.NoError(t, err)
	assert.Zero(t, marked)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, document.StatusPending, got.SyncStatus,
		"the newer write stays queued for the next cycle")
}

func TestCountAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Put(ctx, document.NewBead(fmt.Sprintf("b%d", i), "user", 0.5))
		require.NoError(t, err)
	}
	id, err := s.Put(ctx, document.NewMemory("m", "episodic"))
	require.NoError(t, err)
	doc, err := s.Get(ctx, id)
	require.NoError(t, err)
	_, err = s.MarkSynced(ctx, []document.Document{doc})
	require.NoError(t, err)

	total, err := s.Count(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)

	beads, err := s.Count(ctx, document.TypeBead)
	require.NoError(t, err)
	assert.Equal(t, int64(3), beads)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(3), stats.Pending)
	assert.Equal(t, int64(1), stats.Synced)
	assert.Equal(t, int64(3), stats.ByType[document.TypeBead])
	assert.Equal(t, int64(1), stats.ByType[document.TypeMemory])
}

func TestSubscribe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var (
		mu   sync.Mutex
		seen []document.Document
	)
	unsubscribe := s.Subscribe(document.TypeBead, func(doc document.Document) {
		mu.Lock()
		seen = append(seen, doc)
		mu.Unlock()
	})

	id, err := s.Put(ctx, document.NewBead("first", "user", 0.5))
	require.NoError(t, err)

	// other types do not notify this subscriber
	_, err = s.Put(ctx, document.NewMemory("m", "working"))
	require.NoError(t, err)

	update := document.NewBead("first", "user", 0.9)
	update.ID = id
	_, err = s.Put(ctx, update)
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, seen, 2)
	assert.Equal(t, 0.9, seen[1].Importance, "subscriber sees the post-merge document")
	mu.Unlock()

	unsubscribe()
	_, err = s.Put(ctx, document.NewBead("after", "user", 0.5))
	require.NoError(t, err)

	mu.Lock()
	assert.Len(t, seen, 2)
	mu.Unlock()
}

func TestSubscribe_PanicContained(t *testing.T) {
	s := newTestStore(t)

	s.Subscribe(document.TypeBead, func(document.Document) {
		panic("subscriber bug")
	})

	id, err := s.Put(context.Background(), document.NewBead("b", "user", 0.5))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestConcurrentPut_NewDocumentsGetDistinctIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc := document.NewBead("concurrent", "user", 0.5)
			doc.ID = ""
			id, err := s.Put(ctx, doc)
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	unique := make(map[string]struct{}, n)
	for _, id := range ids {
		unique[id] = struct{}{}
	}
	assert.Len(t, unique, n)
}

func TestConcurrentPut_SameIDLosesNoUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seed := document.NewBead("seed", "user", 0.1)
	id, err := s.Put(ctx, seed)
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc := document.NewBead("seed", "user", 0.1)
			doc.ID = id
			doc.Tags = []string{fmt.Sprintf("tag-%02d", i)}
			_, err := s.Put(ctx, doc)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got.Tags, n, "every concurrent writer's tag survives")
	assert.Equal(t, int64(n+1), got.Version)
}

func TestClosedStore(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	ctx := context.Background()
	_, err := s.Put(ctx, document.NewBead("b", "user", 0.5))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Query(ctx, "type", Options{})
	assert.ErrorIs(t, err, ErrClosed)
}
