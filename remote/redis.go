package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/memstore/document"
)

// RedisRemote stores documents in Redis, for self-hosted deployments
// that want sync without a gateway service. Layout under a key prefix:
//
//	{prefix}:doc:{id}     hash: data (JSON), type, updated_at
//	{prefix}:type:{type}  set of ids
//	{prefix}:vectors      set of ids carrying an embedding
type RedisRemote struct {
	client *redis.Client
	prefix string
	log    *slog.Logger
}

// RedisOption configures a RedisRemote.
type RedisOption func(*RedisRemote)

// WithRedisPrefix overrides the key prefix. Default: "memstore".
func WithRedisPrefix(p string) RedisOption {
	return func(r *RedisRemote) { r.prefix = p }
}

// WithRedisLogger sets the structured logger. Defaults to slog.Default().
func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(r *RedisRemote) { r.log = l }
}

// NewRedisRemote connects to the Redis at url (e.g.
// "redis://localhost:6379").
func NewRedisRemote(url string, opts ...RedisOption) (*RedisRemote, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("remote: parse redis url: %w", err)
	}
	redisOpts.DialTimeout = 5 * time.Second

	r := &RedisRemote{
		client: redis.NewClient(redisOpts),
		prefix: "memstore",
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close releases the Redis connection.
func (r *RedisRemote) Close() error {
	return r.client.Close()
}

func (r *RedisRemote) docKey(id string) string {
	return r.prefix + ":doc:" + id
}

func (r *RedisRemote) typeKey(t document.Type) string {
	return r.prefix + ":type:" + string(t)
}

func (r *RedisRemote) vectorsKey() string {
	return r.prefix + ":vectors"
}

// PushBatch upserts docs one by one, collecting per-document failures.
// A connection-level failure aborts the batch with a transient error.
func (r *RedisRemote) PushBatch(ctx context.Context, docs []document.Document) (PushResult, error) {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return PushResult{}, MarkTransient(fmt.Errorf("remote: redis unreachable: %w", err))
	}

	var result PushResult
	for _, doc := range docs {
		if err := r.pushOne(ctx, doc); err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, PushError{
				DocID:   doc.ID,
				Message: err.Error(),
			})
			continue
		}
		result.SuccessCount++
	}
	r.log.Debug("batch pushed to redis",
		"count", len(docs), "succeeded", result.SuccessCount, "failed", result.FailedCount)
	return result, nil
}

func (r *RedisRemote) pushOne(ctx context.Context, doc document.Document) error {
	data, err := json.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", doc.ID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.docKey(doc.ID),
		"data", string(data),
		"type", string(doc.Type),
		"updated_at", doc.UpdatedAt.UnixNano(),
	)
	pipe.SAdd(ctx, r.typeKey(doc.Type), doc.ID)
	if doc.Embedding != nil && len(doc.Embedding.LocalVector) > 0 {
		pipe.SAdd(ctx, r.vectorsKey(), doc.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write %s: %w", doc.ID, err)
	}
	return nil
}

// Search brute-forces cosine similarity over every stored vector. Fine
// for the deployment sizes RedisRemote targets; a gateway with ANN
// indexes is the path for anything larger.
func (r *RedisRemote) Search(ctx context.Context, embedding []float64, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 5
	}

	ids, err := r.client.SMembers(ctx, r.vectorsKey()).Result()
	if err != nil {
		return nil, MarkTransient(fmt.Errorf("remote: list vectors: %w", err))
	}

	var matches []Match
	for _, id := range ids {
		doc, err := r.fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		if doc.Embedding == nil || len(doc.Embedding.LocalVector) == 0 {
			continue
		}
		matches = append(matches, Match{
			Document: doc,
			Score:    cosine(embedding, doc.Embedding.LocalVector),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// Fetch retrieves one document by id.
func (r *RedisRemote) Fetch(ctx context.Context, id string) (document.Document, error) {
	return r.fetch(ctx, id)
}

func (r *RedisRemote) fetch(ctx context.Context, id string) (document.Document, error) {
	data, err := r.client.HGet(ctx, r.docKey(id), "data").Result()
	if err == redis.Nil {
		return document.Document{}, MarkPermanent(fmt.Errorf("remote: document %s not found", id))
	}
	if err != nil {
		return document.Document{}, MarkTransient(fmt.Errorf("remote: read %s: %w", id, err))
	}

	var doc document.Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return document.Document{}, MarkPermanent(fmt.Errorf("remote: decode %s: %w", id, err))
	}
	return doc, nil
}

func cosine(a, b []float64) float64 {
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
