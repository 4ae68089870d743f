package store

import (
	"context"
	"fmt"
	"time"

	"github.com/zero-day-ai/memstore/document"
)

// PruneRules bound local storage growth. Zero values disable the
// corresponding rule.
type PruneRules struct {
	// TTL expires documents whose created_at is older than now-TTL.
	TTL time.Duration

	// MaxDocuments evicts the oldest documents once the total count
	// exceeds it.
	MaxDocuments int64
}

// PruneResult reports how many documents each rule removed.
type PruneResult struct {
	Expired int64 `json:"expired"`
	Evicted int64 `json:"evicted"`
}

// Prune removes documents per the given rules. Only StatusSynced
// documents are ever touched: an un-pushed write is never destroyed, no
// matter how old or how far over capacity the store is. Capacity
// eviction removes oldest-created first.
func (s *Store) Prune(ctx context.Context, rules PruneRules) (PruneResult, error) {
	if s.closed.Load() {
		return PruneResult{}, ErrClosed
	}

	var result PruneResult

	s.mu.Lock()
	defer s.mu.Unlock()

	if rules.TTL > 0 {
		cutoff := s.clk.Now().Add(-rules.TTL).UnixNano()
		res, err := s.db.ExecContext(ctx,
			"DELETE FROM documents WHERE created_at < ? AND sync_status = ?",
			cutoff, document.StatusSynced,
		)
		if err != nil {
			return result, fmt.Errorf("store: ttl prune: %w", err)
		}
		result.Expired, _ = res.RowsAffected()
	}

	if rules.MaxDocuments > 0 {
		var total int64
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM documents").Scan(&total); err != nil {
			return result, fmt.Errorf("store: capacity prune: %w", err)
		}
		if excess := total - rules.MaxDocuments; excess > 0 {
			res, err := s.db.ExecContext(ctx, `
				DELETE FROM documents WHERE id IN (
					SELECT id FROM documents
					WHERE sync_status = ?
					ORDER BY created_at ASC
					LIMIT ?
				)`,
				document.StatusSynced, excess,
			)
			if err != nil {
				return result, fmt.Errorf("store: capacity prune: %w", err)
			}
			result.Evicted, _ = res.RowsAffected()
		}
	}

	if result.Expired > 0 || result.Evicted > 0 {
		s.log.Info("pruned documents",
			"expired", result.Expired, "evicted", result.Evicted)
	}
	return result, nil
}
