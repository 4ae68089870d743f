package memstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/zero-day-ai/memstore/breaker"
	"github.com/zero-day-ai/memstore/config"
	"github.com/zero-day-ai/memstore/document"
	"github.com/zero-day-ai/memstore/remote"
	"github.com/zero-day-ai/memstore/store"
	"github.com/zero-day-ai/memstore/syncer"
)

// Memstore is the top-level handle: a local-first document store with
// optional background sync to a remote. Writes always land locally and
// never wait on the network; the sync loop drains them afterward.
//
// Example:
//
//	ms, err := memstore.Open(
//	    memstore.WithLogger(logger),
//	    memstore.WithConfigFile("/etc/memstore.yaml"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ms.Close(context.Background())
type Memstore struct {
	cfg     config.Config
	log     *slog.Logger
	store   *store.Store
	breaker *breaker.Breaker
	remote  remote.Remote
	syncer  *syncer.Syncer
	closed  atomic.Bool
}

// Stats aggregates local storage counts, sync activity, and breaker
// state into one snapshot.
type Stats struct {
	Store   store.Stats
	Sync    syncer.Stats
	Breaker breaker.Metrics
	State   breaker.State
}

// Open wires a Memstore from options. Without WithConfig or
// WithConfigFile, configuration comes from defaults plus environment
// variables.
func Open(opts ...Option) (*Memstore, error) {
	oc := &openConfig{}
	for _, opt := range opts {
		opt(oc)
	}

	cfg, err := resolveConfig(oc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	log := oc.logger
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	st, err := store.Open(store.Config{
		Path:               cfg.DBPath,
		Logger:             log,
		DisableVectorCache: !cfg.LocalVectorCache,
	})
	if err != nil {
		return nil, NewStorageError("Open", err)
	}

	brkOpts := []breaker.Option{breaker.WithLogger(log)}
	if oc.meter != nil {
		brkOpts = append(brkOpts, breaker.WithMeter(oc.meter))
	}
	brk := breaker.New("remote", breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          cfg.Breaker.GetTimeout(),
	}, brkOpts...)

	m := &Memstore{
		cfg:     cfg,
		log:     log,
		store:   st,
		breaker: brk,
		remote:  oc.remote,
	}

	if m.remote == nil && cfg.Sync.Enabled {
		m.remote = remote.NewHTTPRemote(cfg.Sync.Gateway, cfg.Sync.APIToken,
			remote.WithHTTPTimeout(cfg.Sync.GetPushTimeout()),
			remote.WithHTTPLogger(log))
	}

	if cfg.Sync.Enabled && m.remote != nil {
		syncOpts := []syncer.Option{syncer.WithLogger(log)}
		if oc.embedder != nil {
			syncOpts = append(syncOpts, syncer.WithEmbedder(oc.embedder))
		}
		if oc.tracer != nil {
			syncOpts = append(syncOpts, syncer.WithTracer(oc.tracer))
		}
		m.syncer = syncer.New(st, m.remote, brk, cfg.Sync, syncOpts...)
		m.syncer.Start()
	} else {
		log.Info("running local-only, documents accumulate pending status")
	}

	return m, nil
}

func resolveConfig(oc *openConfig) (config.Config, error) {
	if oc.cfg != nil {
		cfg := *oc.cfg
		return cfg, cfg.Validate()
	}
	if oc.configPath != "" {
		return config.Load(oc.configPath)
	}
	return config.FromEnv()
}

// Store writes a document locally and queues it for sync. Existing
// documents with the same ID are merged field by field, so concurrent
// writers lose no tags or counters. Returns the document ID.
func (m *Memstore) Store(ctx context.Context, doc document.Document) (string, error) {
	if m.closed.Load() {
		return "", ErrClosed
	}
	id, err := m.store.Put(ctx, doc)
	if err != nil {
		return "", m.wrap("Store", err)
	}
	return id, nil
}

// Retrieve reads a document by ID from local storage. Retrieval never
// touches the network.
func (m *Memstore) Retrieve(ctx context.Context, id string) (document.Document, error) {
	if m.closed.Load() {
		return document.Document{}, ErrClosed
	}
	doc, err := m.store.Get(ctx, id)
	if err != nil {
		return document.Document{}, m.wrap("Retrieve", err)
	}
	return doc, nil
}

// Update reads a document, applies mutate, and writes it back through
// the merge path. The write gets a fresh timestamp, so mutated scalars
// win last-writer-wins against the stored copy.
func (m *Memstore) Update(ctx context.Context, id string, mutate func(*document.Document) error) (document.Document, error) {
	if m.closed.Load() {
		return document.Document{}, ErrClosed
	}

	doc, err := m.store.Get(ctx, id)
	if err != nil {
		return document.Document{}, m.wrap("Update", err)
	}
	if err := mutate(&doc); err != nil {
		return document.Document{}, NewValidationError("Update", err)
	}
	doc.ID = id

	if _, err := m.store.Put(ctx, doc); err != nil {
		return document.Document{}, m.wrap("Update", err)
	}
	return m.store.Get(ctx, id)
}

// Delete removes a document locally. Returns false when no document had
// that ID.
func (m *Memstore) Delete(ctx context.Context, id string) (bool, error) {
	if m.closed.Load() {
		return false, ErrClosed
	}
	ok, err := m.store.Delete(ctx, id)
	if err != nil {
		return false, m.wrap("Delete", err)
	}
	return ok, nil
}

// Query runs an indexed query against local storage. Field names are
// checked against an allow-list; see the store package for the list.
func (m *Memstore) Query(ctx context.Context, field string, opts store.Options) ([]document.Document, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	docs, err := m.store.Query(ctx, field, opts)
	if err != nil {
		return nil, m.wrap("Query", err)
	}
	return docs, nil
}

// Search finds the k most similar documents to the query embedding.
// With sync enabled it asks the remote through the circuit breaker and
// falls back to locally cached vectors when the remote is unavailable,
// so search keeps working offline with reduced recall.
func (m *Memstore) Search(ctx context.Context, embedding []float64, k int) ([]remote.Match, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	if m.remote != nil {
		var matches []remote.Match
		err := m.breaker.Do(ctx, func(ctx context.Context) error {
			var searchErr error
			matches, searchErr = m.remote.Search(ctx, embedding, k)
			return searchErr
		})
		if err == nil {
			return matches, nil
		}
		m.log.Warn("remote search unavailable, serving local vectors", "error", err)
	}

	local, err := m.store.SimilaritySearch(ctx, embedding, k, "")
	if err != nil {
		return nil, m.wrap("Search", err)
	}
	matches := make([]remote.Match, len(local))
	for i, sm := range local {
		matches[i] = remote.Match{Document: sm.Document, Score: sm.Similarity}
	}
	return matches, nil
}

// SyncNow triggers one sync cycle immediately and waits for it.
func (m *Memstore) SyncNow(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if m.syncer == nil {
		return ErrSyncDisabled
	}
	if err := m.syncer.SyncNow(ctx); err != nil {
		return m.wrap("SyncNow", err)
	}
	return nil
}

// Prune applies the configured retention rules: TTL expiry and capacity
// eviction, both touching only synced documents.
func (m *Memstore) Prune(ctx context.Context) (store.PruneResult, error) {
	if m.closed.Load() {
		return store.PruneResult{}, ErrClosed
	}
	result, err := m.store.Prune(ctx, store.PruneRules{
		TTL:          m.cfg.Retention.GetTTL(),
		MaxDocuments: m.cfg.Retention.MaxDocuments,
	})
	if err != nil {
		return store.PruneResult{}, m.wrap("Prune", err)
	}
	return result, nil
}

// Export returns every local document, for backup or migration.
func (m *Memstore) Export(ctx context.Context) ([]document.Document, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	docs, err := m.store.Export(ctx)
	if err != nil {
		return nil, m.wrap("Export", err)
	}
	return docs, nil
}

// Import merges docs into local storage. With markPending true the
// imported documents re-enter the sync queue.
func (m *Memstore) Import(ctx context.Context, docs []document.Document, markPending bool) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	n, err := m.store.Import(ctx, docs, markPending)
	if err != nil {
		return n, m.wrap("Import", err)
	}
	return n, nil
}

// Subscribe registers fn for merged writes of the given document type.
// The returned function unsubscribes.
func (m *Memstore) Subscribe(t document.Type, fn store.Subscriber) func() {
	return m.store.Subscribe(t, fn)
}

// Stats returns a combined snapshot of storage, sync, and breaker state.
func (m *Memstore) Stats(ctx context.Context) (Stats, error) {
	if m.closed.Load() {
		return Stats{}, ErrClosed
	}
	storeStats, err := m.store.Stats(ctx)
	if err != nil {
		return Stats{}, m.wrap("Stats", err)
	}
	stats := Stats{
		Store:   storeStats,
		Breaker: m.breaker.Snapshot(),
		State:   m.breaker.State(),
	}
	if m.syncer != nil {
		stats.Sync = m.syncer.Stats()
	}
	return stats, nil
}

// Health reports overall condition. Local-only instances are healthy as
// long as the store is open; with sync enabled the syncer's state is
// reported.
func (m *Memstore) Health(ctx context.Context) string {
	if m.closed.Load() {
		return syncer.HealthStopped
	}
	if m.syncer == nil {
		return syncer.HealthHealthy
	}
	return m.syncer.Health(ctx)
}

// Close stops the sync loop, waiting up to the context deadline for an
// in-flight cycle, then closes local storage. Close is idempotent.
func (m *Memstore) Close(ctx context.Context) error {
	if m.closed.Swap(true) {
		return nil
	}

	var errs []error
	if m.syncer != nil {
		stopCtx := ctx
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			stopCtx, cancel = context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
		}
		if err := m.syncer.Stop(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop syncer: %w", err))
		}
	}
	if closer, ok := m.remote.(io.Closer); ok {
		CloseWithLog(closer, m.log, "remote")
	}
	if err := m.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

// wrap classifies an error from a component into a StoreError.
func (m *Memstore) wrap(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return NewNotFoundError(op, err)
	case errors.Is(err, store.ErrClosed):
		return &StoreError{Op: op, Kind: KindStorage, Err: ErrClosed}
	case errors.Is(err, store.ErrInvalidField),
		errors.Is(err, document.ErrInvalidType),
		errors.Is(err, document.ErrInvalidSyncStatus),
		errors.Is(err, document.ErrMissingField),
		errors.Is(err, document.ErrScoreRange):
		return NewValidationError(op, err)
	case errors.Is(err, breaker.ErrOpen):
		return &StoreError{Op: op, Kind: KindBreakerOpen, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return NewTimeoutError(op, err)
	case remote.IsMarked(err):
		return NewNetworkError(op, err)
	default:
		return NewStorageError(op, err)
	}
}
