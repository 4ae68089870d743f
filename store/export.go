package store

import (
	"context"
	"fmt"

	"github.com/zero-day-ai/memstore/document"
)

// Export returns every stored document, for backup or migration to
// another store.
func (s *Store) Export(ctx context.Context) ([]document.Document, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, "SELECT data FROM documents ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("store: export: %w", err)
	}
	defer rows.Close()

	var docs []document.Document
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: export: %w", err)
		}
		doc, err := decodeDocument(data)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: export: %w", err)
	}
	return docs, nil
}

// Import writes documents from a backup through the normal Put path, so
// imports merge with whatever is already stored. When markPending is true
// every imported document is queued for sync regardless of the status it
// carried in the backup. Returns the number imported; a failed document
// stops the import and reports how many made it in.
func (s *Store) Import(ctx context.Context, docs []document.Document, markPending bool) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	for i, doc := range docs {
		if markPending {
			doc.SyncStatus = document.StatusPending
		}
		if _, err := s.Put(ctx, doc); err != nil {
			return i, fmt.Errorf("store: import %s: %w", doc.ID, err)
		}
	}
	s.log.Info("imported documents", "count", len(docs))
	return len(docs), nil
}
