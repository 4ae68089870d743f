// Package remote defines the contract between the sync loop and the
// remote document store, plus two implementations: JSON-over-HTTP with
// bearer auth, and Redis for self-hosted deployments.
//
// Errors crossing this boundary carry a classification. Transient
// failures (timeouts, network, 5xx) are worth retrying with backoff;
// permanent failures (auth, validation, 4xx) are not: they surface in
// the log and the affected documents wait for a config or code fix.
package remote

import (
	"context"
	"errors"

	"github.com/zero-day-ai/memstore/document"
)

// Remote is the surface the sync loop pushes through. Implementations
// must be safe for concurrent use.
type Remote interface {
	// PushBatch upserts a batch of documents. Partial failure is
	// expected: the result reports per-document errors, and only a
	// whole-batch failure (transport down, auth rejected) returns a
	// non-nil error.
	PushBatch(ctx context.Context, docs []document.Document) (PushResult, error)

	// Search returns the top-k remote documents most similar to the
	// query embedding.
	Search(ctx context.Context, embedding []float64, limit int) ([]Match, error)
}

// PushResult reports the outcome of one PushBatch call.
type PushResult struct {
	SuccessCount int         `json:"success_count"`
	FailedCount  int         `json:"failed_count"`
	Errors       []PushError `json:"errors,omitempty"`
}

// PushError is a per-document push failure.
type PushError struct {
	DocID   string `json:"doc_id"`
	Message string `json:"message"`
}

// FailedIDs returns the ids that did not make it.
func (r PushResult) FailedIDs() []string {
	ids := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		ids = append(ids, e.DocID)
	}
	return ids
}

// Match is one semantic search hit.
type Match struct {
	Document document.Document `json:"document"`
	Score    float64           `json:"score"`
}

// Class buckets remote errors by how the sync loop should react.
type Class string

const (
	// ClassTransient errors may resolve on their own: retry with
	// backoff.
	ClassTransient Class = "transient"

	// ClassPermanent errors will not resolve without intervention:
	// do not retry within the cycle.
	ClassPermanent Class = "permanent"
)

type classifiedError struct {
	class Class
	err   error
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// MarkTransient tags err as transient.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassTransient, err: err}
}

// MarkPermanent tags err as permanent.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{class: ClassPermanent, err: err}
}

// Classify buckets an error. Explicit marks win; anything unmarked
// (timeouts, connection resets, unexpected transport failures) defaults
// to transient so a genuinely recoverable failure is never abandoned.
func Classify(err error) Class {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}
	return ClassTransient
}

// IsTransient reports whether the sync loop should retry err.
func IsTransient(err error) bool {
	return err != nil && Classify(err) == ClassTransient
}

// IsMarked reports whether err carries an explicit classification
// somewhere in its chain.
func IsMarked(err error) bool {
	var ce *classifiedError
	return errors.As(err, &ce)
}
