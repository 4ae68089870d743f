package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/zero-day-ai/memstore/document"
)

// StoreEmbedding caches an embedding vector for a document, keyed by the
// hash of the embedded text. Vectors above
// document.VectorCacheThresholdBytes are skipped.
func (s *Store) StoreEmbedding(ctx context.Context, docID, textHash string, vector []float64, model string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.noVectors || len(vector) == 0 || len(vector)*8 > document.VectorCacheThresholdBytes {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storeEmbeddingLocked(ctx, docID, textHash, vector, model)
}

func (s *Store) storeEmbeddingLocked(ctx context.Context, docID, textHash string, vector []float64, model string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO vector_cache
			(doc_id, text_hash, vector, dimensions, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		docID, textHash, encodeVector(vector), len(vector), model,
		s.clk.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: cache vector for %s: %w", docID, err)
	}
	return nil
}

func (s *Store) cacheVectorLocked(ctx context.Context, docID string, e *document.EmbeddingRefFields) error {
	if len(e.LocalVector)*8 > document.VectorCacheThresholdBytes {
		return nil
	}
	return s.storeEmbeddingLocked(ctx, docID, e.TextHash, e.LocalVector, e.Model)
}

// SimilarityMatch pairs a document with its cosine similarity to a query
// vector.
type SimilarityMatch struct {
	Document   document.Document `json:"document"`
	Similarity float64           `json:"similarity"`
}

// SimilaritySearch ranks locally cached vectors by cosine similarity to
// query and returns the top k documents. It is a brute-force fallback for
// offline operation; online semantic search goes through the remote
// store.
func (s *Store) SimilaritySearch(ctx context.Context, query []float64, k int, t document.Type) ([]SimilarityMatch, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if k <= 0 {
		k = 5
	}

	q := `
		SELECT d.data, v.vector
		FROM documents d
		JOIN vector_cache v ON d.id = v.doc_id
		WHERE v.vector IS NOT NULL`
	var args []any
	if t != "" {
		q += " AND d.doc_type = ?"
		args = append(args, t)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: similarity search: %w", err)
	}
	defer rows.Close()

	var matches []SimilarityMatch
	for rows.Next() {
		var (
			data string
			blob []byte
		)
		if err := rows.Scan(&data, &blob); err != nil {
			return nil, fmt.Errorf("store: similarity search: %w", err)
		}
		doc, err := decodeDocument(data)
		if err != nil {
			return nil, err
		}
		matches = append(matches, SimilarityMatch{
			Document:   doc,
			Similarity: cosineSimilarity(query, decodeVector(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: similarity search: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func cosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Vectors are stored as little-endian IEEE 754 float64s, 8 bytes each.

func encodeVector(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float64 {
	v := make([]float64, len(buf)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return v
}
