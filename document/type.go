package document

import (
	"errors"
	"fmt"
)

// Common errors returned by document validation.
var (
	// ErrInvalidType is returned when a document Type value is not recognized.
	ErrInvalidType = errors.New("document: invalid document type")

	// ErrInvalidSyncStatus is returned when a SyncStatus value is not recognized.
	ErrInvalidSyncStatus = errors.New("document: invalid sync status")

	// ErrMissingField is returned when a required document field is absent.
	ErrMissingField = errors.New("document: missing required field")

	// ErrScoreRange is returned when importance or confidence falls outside [0, 1].
	ErrScoreRange = errors.New("document: score out of range")

	// ErrIDMismatch is returned when two documents with different IDs are merged.
	ErrIDMismatch = errors.New("document: cannot merge documents with different ids")
)

// Type identifies the kind of document and selects which type-specific
// payload, validation rules, and indexed queries apply.
//
// The set of types is closed: a document whose Type is not one of the
// constants below is rejected before persistence.
type Type string

const (
	// TypeBead is a durable conversation bead promoted from short-term
	// memory. Beads carry the conversation content itself along with the
	// role that produced it and an importance weighting.
	TypeBead Type = "bead"

	// TypeMemory is an episodic, semantic, or working memory entry kept
	// for local persistence, optionally linked to a stored embedding.
	TypeMemory Type = "memory"

	// TypeMetadata is prompt/response telemetry: token usage, latency,
	// retrieval provenance, and quality feedback for one LLM interaction.
	TypeMetadata Type = "metadata"

	// TypeEmbeddingRef is a reference to an embedding held by the remote
	// store, with an optional locally cached copy of small vectors.
	TypeEmbeddingRef Type = "embedding_ref"
)

// Types returns all valid document types.
func Types() []Type {
	return []Type{TypeBead, TypeMemory, TypeMetadata, TypeEmbeddingRef}
}

// String returns the string representation of the Type.
// This implements the fmt.Stringer interface.
func (t Type) String() string {
	return string(t)
}

// IsValid returns true if the Type is one of the defined constants.
func (t Type) IsValid() bool {
	switch t {
	case TypeBead, TypeMemory, TypeMetadata, TypeEmbeddingRef:
		return true
	default:
		return false
	}
}

// Validate returns an error if the Type is not one of the defined constants.
// The error wraps ErrInvalidType and can be checked with errors.Is().
func (t Type) Validate() error {
	if !t.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, string(t))
	}
	return nil
}

// SyncStatus tracks whether a document's remote copy is current.
//
// Status transitions are driven by the store and the sync loop: every
// local write moves a document to StatusPending; a successful push moves
// it to StatusSynced. StatusLocal opts a document out of sync entirely.
type SyncStatus string

const (
	// StatusLocal marks a document that is never intended for sync.
	// Local documents are invisible to the sync loop and are never
	// eligible for retention pruning.
	StatusLocal SyncStatus = "local"

	// StatusPending marks a document modified since its last successful
	// sync. Pending documents are picked up by the next sync cycle.
	StatusPending SyncStatus = "pending"

	// StatusSynced marks a document whose remote copy matches the local
	// one. Only synced documents may be pruned by retention.
	StatusSynced SyncStatus = "synced"
)

// String returns the string representation of the SyncStatus.
// This implements the fmt.Stringer interface.
func (s SyncStatus) String() string {
	return string(s)
}

// IsValid returns true if the SyncStatus is one of the defined constants.
func (s SyncStatus) IsValid() bool {
	switch s {
	case StatusLocal, StatusPending, StatusSynced:
		return true
	default:
		return false
	}
}

// Validate returns an error if the SyncStatus is not one of the defined
// constants. The error wraps ErrInvalidSyncStatus and can be checked with
// errors.Is().
func (s SyncStatus) Validate() error {
	if !s.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidSyncStatus, string(s))
	}
	return nil
}
