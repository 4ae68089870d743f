package memstore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Sentinel errors for common conditions, usable with errors.Is().
var (
	// ErrClosed indicates the Memstore has been closed.
	ErrClosed = errors.New("memstore: closed")

	// ErrNotFound indicates the requested document does not exist locally.
	ErrNotFound = errors.New("memstore: document not found")

	// ErrSyncDisabled indicates a sync operation was requested on a
	// local-only instance.
	ErrSyncDisabled = errors.New("memstore: sync disabled")

	// ErrInvalidConfig indicates the provided configuration is invalid
	// or incomplete.
	ErrInvalidConfig = errors.New("memstore: invalid configuration")
)

// Error kinds categorize errors by their type.
const (
	// KindNotFound represents errors where a document was not found.
	KindNotFound = "not_found"

	// KindValidation represents errors related to document validation.
	KindValidation = "validation"

	// KindStorage represents errors from the local storage engine.
	KindStorage = "storage"

	// KindNetwork represents errors from remote operations.
	KindNetwork = "network"

	// KindTimeout represents operation timeouts.
	KindTimeout = "timeout"

	// KindBreakerOpen represents calls rejected by the open circuit breaker.
	KindBreakerOpen = "breaker_open"

	// KindConfiguration represents errors related to configuration.
	KindConfiguration = "configuration"
)

// StoreError is a structured error type that wraps underlying errors
// with the operation that failed and the category of failure.
//
// StoreError implements the error interface and supports unwrapping,
// making it compatible with errors.Is() and errors.As().
type StoreError struct {
	// Op is the operation that failed (e.g., "Memstore.Store").
	Op string

	// Kind categorizes the error (e.g., KindNotFound, KindNetwork).
	Kind string

	// Err is the underlying error.
	Err error

	// Context carries optional debugging detail such as document IDs.
	Context map[string]any
}

// Error returns a formatted message including the operation, kind, and
// underlying error.
func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("memstore: %s: %s", e.Op, e.Kind)
	}
	if len(e.Context) > 0 {
		return fmt.Sprintf("memstore: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}
	return fmt.Sprintf("memstore: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is matches either another StoreError by Kind (and Op, when the target
// sets one) or the underlying error chain.
func (e *StoreError) Is(target error) bool {
	if target == nil {
		return false
	}

	if t, ok := target.(*StoreError); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	return errors.Is(e.Err, target)
}

// WithContext returns a copy of the error with the provided context
// merged in.
func (e *StoreError) WithContext(ctx map[string]any) *StoreError {
	clone := *e
	if clone.Context == nil {
		clone.Context = make(map[string]any, len(ctx))
	}
	for k, v := range ctx {
		clone.Context[k] = v
	}
	return &clone
}

// NewNotFoundError creates a StoreError with KindNotFound.
func NewNotFoundError(op string, err error) *StoreError {
	return &StoreError{Op: op, Kind: KindNotFound, Err: err}
}

// NewValidationError creates a StoreError with KindValidation.
func NewValidationError(op string, err error) *StoreError {
	return &StoreError{Op: op, Kind: KindValidation, Err: err}
}

// NewStorageError creates a StoreError with KindStorage.
func NewStorageError(op string, err error) *StoreError {
	return &StoreError{Op: op, Kind: KindStorage, Err: err}
}

// NewNetworkError creates a StoreError with KindNetwork.
func NewNetworkError(op string, err error) *StoreError {
	return &StoreError{Op: op, Kind: KindNetwork, Err: err}
}

// NewTimeoutError creates a StoreError with KindTimeout.
func NewTimeoutError(op string, err error) *StoreError {
	return &StoreError{Op: op, Kind: KindTimeout, Err: err}
}

// NewConfigurationError creates a StoreError with KindConfiguration.
func NewConfigurationError(op string, err error) *StoreError {
	return &StoreError{Op: op, Kind: KindConfiguration, Err: err}
}

// CloseWithLog closes the resource and logs any error at warning level.
// Intended for defer statements so cleanup errors are not silently
// dropped. If logger is nil, slog.Default() is used.
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
