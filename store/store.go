package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/zero-day-ai/memstore/clock"
	"github.com/zero-day-ai/memstore/document"
)

// Config holds storage engine configuration.
type Config struct {
	// Path is the SQLite database file. Empty opens an in-memory database.
	Path string

	// Logger receives structured store events. Defaults to slog.Default().
	Logger *slog.Logger

	// DisableVectorCache turns off local caching of embedding vectors.
	// Similarity search then only finds vectors stored before the flag
	// was set.
	DisableVectorCache bool
}

// Store is the durable document store. All mutating operations serialize
// on a store-wide mutex; reads go straight to the database.
type Store struct {
	db        *sql.DB
	log       *slog.Logger
	clk       *clock.Clock
	closed    atomic.Bool
	noVectors bool

	// mu serializes the read-merge-write cycle of every mutation.
	mu sync.Mutex

	subMu     sync.Mutex
	subs      map[document.Type]map[int]Subscriber
	nextSubID int
}

// Subscriber is called with the post-merge document after every Put of a
// matching type. Called outside the store's write lock; a panicking
// subscriber is contained and logged, never fails the write.
type Subscriber func(document.Document)

// Stats holds aggregate document counts.
type Stats struct {
	Total   int64                   `json:"total"`
	Pending int64                   `json:"pending"`
	Synced  int64                   `json:"synced"`
	Local   int64                   `json:"local"`
	ByType  map[document.Type]int64 `json:"by_type"`
}

// Open opens (creating if needed) the store at cfg.Path, applies the WAL
// pragmas, and runs migrations.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dsn := cfg.Path
	if dsn == "" {
		dsn = ":memory:"
	} else if dir := filepath.Dir(dsn); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if cfg.Path == "" {
		// Each pooled connection would get its own private in-memory
		// database, so pin the pool to one.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{
		db:        db,
		log:       logger,
		clk:       clock.New(),
		noVectors: cfg.DisableVectorCache,
		subs:      make(map[document.Type]map[int]Subscriber),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migration: %w", err)
	}
	logger.Debug("store opened", "path", dsn)
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			id          TEXT PRIMARY KEY,
			doc_type    TEXT    NOT NULL,
			data        TEXT    NOT NULL,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL,
			sync_status TEXT    NOT NULL DEFAULT 'local',
			version     INTEGER NOT NULL DEFAULT 1
		);

		CREATE INDEX IF NOT EXISTS idx_docs_type    ON documents(doc_type);
		CREATE INDEX IF NOT EXISTS idx_docs_sync    ON documents(sync_status);
		CREATE INDEX IF NOT EXISTS idx_docs_created ON documents(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_docs_updated ON documents(updated_at DESC);
		CREATE INDEX IF NOT EXISTS idx_docs_importance
			ON documents(json_extract(data, '$.importance') DESC);

		CREATE TABLE IF NOT EXISTS vector_cache (
			doc_id     TEXT PRIMARY KEY,
			text_hash  TEXT    NOT NULL,
			vector     BLOB,
			dimensions INTEGER NOT NULL,
			model      TEXT,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_vector_hash ON vector_cache(text_hash);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database. Further operations fail with
// ErrClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Put inserts or merges a document and returns its id.
//
// A document without an id gets a fresh UUID and is inserted as written.
// When a document with the same id already exists, the incoming document
// is merged into it with document.Merge and the merged result is
// persisted. UpdatedAt is always stamped from the store's monotonic clock
// before the merge, so the incoming side carries the latest timestamp.
//
// Validation failures reject the write before any persistence attempt.
func (s *Store) Put(ctx context.Context, doc document.Document) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := s.clk.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.SyncStatus == "" {
		doc.SyncStatus = document.StatusPending
	}
	if doc.Version == 0 {
		doc.Version = 1
	}
	if err := doc.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	existing, err := s.getDoc(ctx, doc.ID)
	switch {
	case err == nil:
		doc, err = document.Merge(existing, doc)
		if err != nil {
			s.mu.Unlock()
			return "", err
		}
	case errors.Is(err, ErrNotFound):
		// first write for this id
	default:
		s.mu.Unlock()
		return "", err
	}

	if err := s.writeLocked(ctx, doc); err != nil {
		s.mu.Unlock()
		return "", err
	}
	if !s.noVectors && doc.Embedding != nil && len(doc.Embedding.LocalVector) > 0 {
		if err := s.cacheVectorLocked(ctx, doc.ID, doc.Embedding); err != nil {
			s.mu.Unlock()
			return "", err
		}
	}
	s.mu.Unlock()

	s.notify(doc)
	s.log.Debug("document stored", "id", doc.ID, "type", doc.Type, "version", doc.Version)
	return doc.ID, nil
}

// Get retrieves a document by id. Returns ErrNotFound when absent. Get
// has no merge side effects.
func (s *Store) Get(ctx context.Context, id string) (document.Document, error) {
	if s.closed.Load() {
		return document.Document{}, ErrClosed
	}
	return s.getDoc(ctx, id)
}

// getDoc is the shared point-lookup. It takes no lock itself: Put calls
// it under mu, Get without.
func (s *Store) getDoc(ctx context.Context, id string) (document.Document, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE id = ?", id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return document.Document{}, fmt.Errorf("store: get %s: %w", id, err)
	}
	return decodeDocument(data)
}

// Delete removes a document by id. Returns whether a row was removed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}

	s.mu.Lock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	s.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("store: delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: delete %s: %w", id, err)
	}
	if n > 0 {
		s.log.Debug("document deleted", "id", id)
	}
	return n > 0, nil
}

// MarkSynced flips documents to StatusSynced after a successful remote
// push. Only rows still at the drained version flip; a document written
// again after the drain keeps its Pending status and is picked up by the
// next cycle. Returns how many documents were marked.
func (s *Store) MarkSynced(ctx context.Context, docs []document.Document) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	marked := 0
	for _, doc := range docs {
		res, err := s.db.ExecContext(ctx, `
			UPDATE documents
			SET sync_status = ?, data = json_set(data, '$.sync_status', ?)
			WHERE id = ? AND version = ? AND sync_status = ?`,
			document.StatusSynced, document.StatusSynced,
			doc.ID, doc.Version, document.StatusPending,
		)
		if err != nil {
			return marked, fmt.Errorf("store: mark synced %s: %w", doc.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			marked++
		}
	}
	return marked, nil
}

// Count returns the number of stored documents, optionally of one type
// (pass "" for all).
func (s *Store) Count(ctx context.Context, t document.Type) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	var (
		n   int64
		err error
	)
	if t == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM documents WHERE doc_type = ?", t,
		).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Stats returns aggregate counts by sync status and type.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if s.closed.Load() {
		return Stats{}, ErrClosed
	}

	stats := Stats{ByType: make(map[document.Type]int64)}

	rows, err := s.db.QueryContext(ctx,
		"SELECT doc_type, sync_status, COUNT(*) FROM documents GROUP BY doc_type, sync_status")
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t      document.Type
			status document.SyncStatus
			n      int64
		)
		if err := rows.Scan(&t, &status, &n); err != nil {
			return Stats{}, fmt.Errorf("store: stats: %w", err)
		}
		stats.Total += n
		stats.ByType[t] += n
		switch status {
		case document.StatusPending:
			stats.Pending += n
		case document.StatusSynced:
			stats.Synced += n
		case document.StatusLocal:
			stats.Local += n
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("store: stats: %w", err)
	}
	return stats, nil
}

// Subscribe registers fn for documents of type t; it fires after every
// Put of that type with the post-merge document. The returned function
// removes the subscription.
func (s *Store) Subscribe(t document.Type, fn Subscriber) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if s.subs[t] == nil {
		s.subs[t] = make(map[int]Subscriber)
	}
	id := s.nextSubID
	s.nextSubID++
	s.subs[t][id] = fn

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs[t], id)
	}
}

func (s *Store) notify(doc document.Document) {
	s.subMu.Lock()
	fns := make([]Subscriber, 0, len(s.subs[doc.Type]))
	for _, fn := range s.subs[doc.Type] {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		s.safeNotify(fn, doc)
	}
}

func (s *Store) safeNotify(fn Subscriber, doc document.Document) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("subscriber panicked", "type", doc.Type, "panic", r)
		}
	}()
	fn(doc.Clone())
}

func (s *Store) writeLocked(ctx context.Context, doc document.Document) error {
	data, err := json.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", doc.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents
			(id, doc_type, data, created_at, updated_at, sync_status, version)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Type, string(data),
		doc.CreatedAt.UnixNano(), doc.UpdatedAt.UnixNano(),
		doc.SyncStatus, doc.Version,
	)
	if err != nil {
		return fmt.Errorf("store: write %s: %w", doc.ID, err)
	}
	return nil
}

func decodeDocument(data string) (document.Document, error) {
	var doc document.Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return document.Document{}, fmt.Errorf("store: decode document: %w", err)
	}
	doc.Normalize()
	return doc, nil
}
