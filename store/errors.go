package store

import "errors"

var (
	// ErrNotFound is returned by Get when no document has the given id.
	ErrNotFound = errors.New("store: document not found")

	// ErrInvalidField is returned when a query names a field outside the
	// allow-list. The offending name never reaches the database.
	ErrInvalidField = errors.New("store: field name not allowed in queries")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)
