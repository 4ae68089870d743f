// Package syncer drains pending documents from the local store to a
// remote in the background. It batches by document type, embeds bead
// content lazily when an Embedder is available, and routes every remote
// call through a circuit breaker so a dead gateway cannot stall local
// writes.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/memstore/breaker"
	"github.com/zero-day-ai/memstore/config"
	"github.com/zero-day-ai/memstore/document"
	"github.com/zero-day-ai/memstore/remote"
	"github.com/zero-day-ai/memstore/store"
)

// ErrNotRunning is returned by SyncNow when the loop has not been
// started or has been stopped.
var ErrNotRunning = errors.New("syncer: not running")

// Embedder produces embedding vectors for document content. Bead
// documents without an embedding are embedded just before their first
// push; without an Embedder they sync as plain text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
}

// Stats is a point-in-time snapshot of sync activity.
type Stats struct {
	Cycles              int64
	Pushed              int64
	Failed              int64
	ConsecutiveFailures int64
	LastSync            time.Time
	LastError           string
	CurrentInterval     time.Duration
}

// Health states, from worst to best.
const (
	HealthStopped    = "stopped"
	HealthUnhealthy  = "unhealthy"
	HealthDegraded   = "degraded"
	HealthBacklogged = "backlogged"
	HealthHealthy    = "healthy"
)

const (
	unhealthyFailures = 5
	backlogThreshold  = 1000
)

// Syncer runs the background sync loop.
type Syncer struct {
	store    *store.Store
	remote   remote.Remote
	breaker  *breaker.Breaker
	embedder Embedder
	cfg      config.SyncConfig
	log      *slog.Logger
	tracer   trace.Tracer

	// cycleMu serializes sync cycles between the loop and SyncNow.
	cycleMu sync.Mutex

	mu       sync.Mutex
	stats    Stats
	interval time.Duration
	running  bool

	kick chan chan error
	stop chan struct{}
	done chan struct{}

	// sleep is swapped out in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) { s.log = l }
}

// WithEmbedder enables lazy embedding of bead content before push.
func WithEmbedder(e Embedder) Option {
	return func(s *Syncer) { s.embedder = e }
}

// WithTracer records one span per sync cycle.
func WithTracer(t trace.Tracer) Option {
	return func(s *Syncer) { s.tracer = t }
}

// New creates a Syncer. Start begins the background loop.
func New(st *store.Store, rem remote.Remote, brk *breaker.Breaker, cfg config.SyncConfig, opts ...Option) *Syncer {
	s := &Syncer{
		store:    st,
		remote:   rem,
		breaker:  brk,
		cfg:      cfg,
		log:      slog.Default(),
		interval: cfg.GetInterval(),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stats.CurrentInterval = s.interval
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start launches the background loop. Calling Start on a running Syncer
// is a no-op.
func (s *Syncer) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.kick = make(chan chan error, 1)
	s.mu.Unlock()

	s.log.Info("sync loop starting", "interval", s.interval, "batch_size", s.cfg.BatchSize)
	go s.run()
}

// Stop shuts the loop down, letting an in-flight cycle finish. It
// returns ctx.Err() if the context expires first.
func (s *Syncer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		s.log.Info("sync loop stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SyncNow runs one cycle immediately, outside the interval schedule,
// and returns its error. The loop must be running.
func (s *Syncer) SyncNow(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	kick := s.kick
	stop := s.stop
	s.mu.Unlock()

	reply := make(chan error, 1)
	select {
	case kick <- reply:
	case <-stop:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of sync activity.
func (s *Syncer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Health reports the loop's condition: stopped, unhealthy (five or more
// consecutive failed cycles), degraded (recent failures), backlogged
// (pending documents piling up), or healthy.
func (s *Syncer) Health(ctx context.Context) string {
	s.mu.Lock()
	running := s.running
	failures := s.stats.ConsecutiveFailures
	s.mu.Unlock()

	if !running {
		return HealthStopped
	}
	if failures >= unhealthyFailures {
		return HealthUnhealthy
	}
	if failures > 0 {
		return HealthDegraded
	}

	stats, err := s.store.Stats(ctx)
	if err == nil && stats.Pending > backlogThreshold {
		return HealthBacklogged
	}
	return HealthHealthy
}

func (s *Syncer) run() {
	defer close(s.done)

	ctx := context.Background()
	for {
		s.mu.Lock()
		wait := s.interval
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-s.stop:
			timer.Stop()
			return
		case reply := <-s.kick:
			timer.Stop()
			reply <- s.cycle(ctx)
		case <-timer.C:
			if err := s.cycle(ctx); err != nil {
				s.log.Warn("sync cycle failed", "error", err)
			}
		}
	}
}

// cycle drains one batch of pending documents. Success resets the
// interval to its configured value; failure doubles it up to
// MaxBackoff.
func (s *Syncer) cycle(ctx context.Context) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "memstore.sync.cycle")
		defer span.End()
	}

	pending, err := s.store.QueryPending(ctx, s.cfg.BatchSize)
	if err != nil {
		err = fmt.Errorf("syncer: list pending: %w", err)
		s.recordCycle(0, 0, err, span)
		return err
	}
	if len(pending) == 0 {
		s.recordCycle(0, 0, nil, span)
		return nil
	}

	var pushed, failed int
	var firstErr error
	for _, batch := range groupByType(pending) {
		n, err := s.pushBatch(ctx, batch)
		pushed += n
		failed += len(batch) - n
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if errors.Is(err, breaker.ErrOpen) {
			// No point pushing further batches until the breaker probes.
			break
		}
	}

	s.recordCycle(pushed, failed, firstErr, span)
	return firstErr
}

// pushBatch embeds, pushes, and marks one same-type batch. Returns how
// many documents were confirmed synced.
func (s *Syncer) pushBatch(ctx context.Context, docs []document.Document) (int, error) {
	docs = s.embedBatch(ctx, docs)

	result, err := s.pushWithRetry(ctx, docs)
	if err != nil {
		return 0, err
	}

	synced := docs
	if result.FailedCount > 0 {
		if len(result.Errors) < result.FailedCount {
			// The remote reported failures it did not attribute to
			// documents. Nothing can be safely marked synced, so the
			// whole batch stays pending for the next cycle.
			s.log.Warn("remote reported unattributed failures, keeping batch pending",
				"failed", result.FailedCount, "attributed", len(result.Errors))
			return 0, nil
		}
		rejected := make(map[string]bool, result.FailedCount)
		for _, id := range result.FailedIDs() {
			rejected[id] = true
		}
		synced = synced[:0:0]
		for _, doc := range docs {
			if !rejected[doc.ID] {
				synced = append(synced, doc)
			}
		}
		for _, pe := range result.Errors {
			s.log.Warn("document rejected by remote", "id", pe.DocID, "reason", pe.Message)
		}
	}

	n, err := s.store.MarkSynced(ctx, synced)
	if err != nil {
		return n, fmt.Errorf("syncer: mark synced: %w", err)
	}
	return n, nil
}

// pushWithRetry retries transient push failures with exponential
// backoff. The whole retry loop runs inside one breaker call, so one
// push counts as one breaker outcome no matter how many attempts it
// took. Permanent errors and an open breaker fail immediately.
func (s *Syncer) pushWithRetry(ctx context.Context, docs []document.Document) (remote.PushResult, error) {
	var result remote.PushResult

	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		var lastErr error
		for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
			if attempt > 0 {
				if err := s.sleep(ctx, s.retryDelay(attempt)); err != nil {
					return err
				}
			}

			pushCtx, cancel := context.WithTimeout(ctx, s.cfg.GetPushTimeout())
			var pushErr error
			result, pushErr = s.remote.PushBatch(pushCtx, docs)
			cancel()
			if pushErr == nil {
				return nil
			}
			lastErr = pushErr

			if !remote.IsTransient(pushErr) {
				return pushErr
			}
			s.log.Debug("push attempt failed", "attempt", attempt+1, "error", pushErr)
		}
		return fmt.Errorf("syncer: push exhausted %d retries: %w", s.cfg.MaxRetries, lastErr)
	})
	if err != nil {
		return remote.PushResult{}, err
	}
	return result, nil
}

// retryDelay doubles the base delay per attempt, clamped to MaxBackoff.
func (s *Syncer) retryDelay(attempt int) time.Duration {
	delay := s.cfg.GetBaseDelay() << (attempt - 1)
	if maxDelay := s.cfg.GetMaxBackoff(); delay <= 0 || delay > maxDelay {
		return maxDelay
	}
	return delay
}

// embedBatch fills in missing embeddings for bead content. Embedding
// failures are logged and the document syncs without a vector rather
// than blocking the queue.
func (s *Syncer) embedBatch(ctx context.Context, docs []document.Document) []document.Document {
	if s.embedder == nil {
		return docs
	}

	out := make([]document.Document, len(docs))
	for i, doc := range docs {
		if doc.Type != document.TypeBead || doc.Embedding != nil || doc.Content == "" {
			out[i] = doc
			continue
		}

		vector, err := s.embedder.Embed(ctx, doc.Content)
		if err != nil {
			s.log.Warn("embedding failed, syncing without vector", "id", doc.ID, "error", err)
			out[i] = doc
			continue
		}

		embedded := document.NewEmbeddingRef(doc.Content, s.embedder.Model(), vector)
		doc.Embedding = embedded.Embedding
		if err := s.store.StoreEmbedding(ctx, doc.ID, doc.Embedding.TextHash, vector, s.embedder.Model()); err != nil {
			s.log.Warn("caching embedding failed", "id", doc.ID, "error", err)
		}
		out[i] = doc
	}
	return out
}

func (s *Syncer) recordCycle(pushed, failed int, err error, span trace.Span) {
	s.mu.Lock()
	s.stats.Cycles++
	s.stats.Pushed += int64(pushed)
	s.stats.Failed += int64(failed)
	if err != nil {
		s.stats.ConsecutiveFailures++
		s.stats.LastError = err.Error()
		s.interval = min(s.interval*2, s.cfg.GetMaxBackoff())
	} else {
		s.stats.ConsecutiveFailures = 0
		s.stats.LastError = ""
		s.stats.LastSync = time.Now()
		s.interval = s.cfg.GetInterval()
	}
	s.stats.CurrentInterval = s.interval
	s.mu.Unlock()

	if span != nil {
		span.SetAttributes(
			attribute.Int("sync.pushed", pushed),
			attribute.Int("sync.failed", failed),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// groupByType splits a batch into per-type sub-batches, preserving the
// pending order within each.
func groupByType(docs []document.Document) map[document.Type][]document.Document {
	groups := make(map[document.Type][]document.Document)
	for _, doc := range docs {
		groups[doc.Type] = append(groups[doc.Type], doc)
	}
	return groups
}
