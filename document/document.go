package document

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Document is the atomic mergeable unit stored by the memstore.
//
// The base fields are shared by every document type and carry the
// merge-relevant state. Exactly one of the type-specific payloads (Bead,
// Memory, Metadata, Embedding) is non-nil, matching Type.
type Document struct {
	// ID is a stable opaque identifier (UUID), assigned at creation and
	// never changed. Two documents with different IDs never merge.
	ID string `json:"id"`

	// Type selects the payload and the merge/validation rules that apply.
	Type Type `json:"type"`

	// Content is free text. Merges as last-writer-wins by UpdatedAt.
	Content string `json:"content,omitempty"`

	// Tags is a grow-only set: once added on any replica, a tag is never
	// removed by merge. Explicit removal is a separate, non-merged write.
	Tags []string `json:"tags,omitempty"`

	// Importance and Confidence are scores in [0.0, 1.0]. Merge takes the
	// maximum, so they never decrease.
	Importance float64 `json:"importance"`
	Confidence float64 `json:"confidence"`

	// AccessCount counts reads of this document. Merges by max.
	AccessCount int64 `json:"access_count,omitempty"`

	// CreatedAt is set once at creation and immutable thereafter.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is bumped on every mutation and breaks last-writer-wins
	// ties: the incoming side wins when timestamps are equal.
	UpdatedAt time.Time `json:"updated_at"`

	// Version strictly increases across successive writes to the same ID:
	// merge takes max(existing, incoming) + 1.
	Version int64 `json:"version"`

	// SyncStatus tracks whether the remote copy is current. Pending
	// dominates under merge.
	SyncStatus SyncStatus `json:"sync_status"`

	// Exactly one of the following is non-nil, matching Type.
	Bead      *BeadFields         `json:"bead,omitempty"`
	Memory    *MemoryFields       `json:"memory,omitempty"`
	Metadata  *MetadataFields     `json:"metadata,omitempty"`
	Embedding *EmbeddingRefFields `json:"embedding_ref,omitempty"`
}

// BeadFields is the payload for TypeBead documents: durable conversation
// beads promoted from short-term memory for cross-session persistence.
type BeadFields struct {
	// Role is the origin of the content: user, assistant, tool, or system.
	Role string `json:"role"`

	// SpanRefs references related spans or ids. Merges as a grow-only set.
	SpanRefs []string `json:"span_refs,omitempty"`

	// OriginalBeadID is the id the bead carried before promotion.
	OriginalBeadID string `json:"original_bead_id,omitempty"`
}

// MemoryFields is the payload for TypeMemory documents.
type MemoryFields struct {
	// Kind is the memory category: episodic, semantic, or working.
	Kind string `json:"kind"`

	// EmbeddingRef is the document ID of an associated TypeEmbeddingRef
	// document, when the memory has been embedded.
	EmbeddingRef string `json:"embedding_ref,omitempty"`

	// SourceInstance identifies the agent instance that produced the memory.
	SourceInstance string `json:"source_instance,omitempty"`

	// LastAccessed is the wall-clock time of the most recent read.
	// Merges by max.
	LastAccessed time.Time `json:"last_accessed,omitempty"`

	// RelatedMemories lists document IDs of related memories.
	// Merges as a grow-only set.
	RelatedMemories []string `json:"related_memories,omitempty"`
}

// MetadataFields is the payload for TypeMetadata documents: telemetry for
// one LLM prompt/response interaction.
type MetadataFields struct {
	SessionID        string `json:"session_id,omitempty"`
	ConversationTurn int    `json:"conversation_turn,omitempty"`

	// PromptHash is a truncated SHA-256 of the system prompt, computed
	// with HashPrompt.
	PromptHash    string `json:"prompt_hash,omitempty"`
	PromptVersion string `json:"prompt_version,omitempty"`

	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`

	TokensIn      int64 `json:"tokens_in,omitempty"`
	TokensOut     int64 `json:"tokens_out,omitempty"`
	TokensContext int64 `json:"tokens_context,omitempty"`

	LatencyMs          float64 `json:"latency_ms,omitempty"`
	RetrievalLatencyMs float64 `json:"retrieval_latency_ms,omitempty"`

	// Score is an optional quality score in [0.0, 1.0]. Merges by max
	// when both sides carry one.
	Score    *float64 `json:"score,omitempty"`
	Feedback string   `json:"feedback,omitempty"`

	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`

	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// EmbeddingRefFields is the payload for TypeEmbeddingRef documents: a
// pointer to an embedding held by the remote store, with an optional local
// cache of the vector for offline similarity search.
type EmbeddingRefFields struct {
	// TextHash is a truncated SHA-256 of the embedded text, computed with
	// HashText. It keys the local vector cache.
	TextHash string `json:"text_hash"`

	// RemoteID references the vector in the remote store, when known.
	RemoteID string `json:"remote_id,omitempty"`

	Model      string `json:"model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`

	// SourceText is the embedded text, truncated for storage.
	SourceText string `json:"source_text,omitempty"`

	// LocalVector is the cached embedding, present only when the vector
	// was small enough to cache locally.
	LocalVector []float64 `json:"local_vector,omitempty"`
}

// VectorCacheThresholdBytes is the largest encoded vector size cached
// locally alongside an embedding reference (10 KiB, 8 bytes per element).
const VectorCacheThresholdBytes = 10240

// sourceTextLimit bounds the text retained on an embedding reference.
const sourceTextLimit = 500

// NewBead creates a pending TypeBead document.
func NewBead(content, role string, importance float64) Document {
	doc := newBase(TypeBead)
	doc.Content = content
	doc.Importance = importance
	doc.Bead = &BeadFields{Role: role}
	return doc
}

// NewMemory creates a pending TypeMemory document. kind is the memory
// category (episodic, semantic, or working).
func NewMemory(content, kind string) Document {
	doc := newBase(TypeMemory)
	doc.Content = content
	doc.Confidence = 1.0
	doc.Memory = &MemoryFields{Kind: kind, LastAccessed: doc.CreatedAt}
	return doc
}

// NewMetadata creates a pending TypeMetadata document for the given session.
func NewMetadata(sessionID string) Document {
	doc := newBase(TypeMetadata)
	doc.Metadata = &MetadataFields{SessionID: sessionID}
	return doc
}

// NewEmbeddingRef creates a pending TypeEmbeddingRef document for text
// embedded with the given model. The vector is cached locally only when
// its encoded size is at most VectorCacheThresholdBytes.
func NewEmbeddingRef(text, model string, vector []float64) Document {
	doc := newBase(TypeEmbeddingRef)
	fields := &EmbeddingRefFields{
		TextHash:   HashText(text),
		Model:      model,
		Dimensions: len(vector),
		SourceText: truncate(text, sourceTextLimit),
	}
	if len(vector) > 0 && len(vector)*8 <= VectorCacheThresholdBytes {
		fields.LocalVector = append([]float64(nil), vector...)
	}
	doc.Embedding = fields
	return doc
}

func newBase(t Type) Document {
	now := time.Now()
	return Document{
		ID:         uuid.NewString(),
		Type:       t,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
		SyncStatus: StatusPending,
	}
}

// HashText returns a 32-character hex digest of text, used to key the
// local vector cache.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:32]
}

// HashPrompt returns a 16-character hex digest of a prompt, used for
// prompt telemetry without retaining the prompt itself.
func HashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])[:16]
}

// Validate checks the document against the schema rules: a recognized
// type, a recognized sync status, scores in [0.0, 1.0], a creation
// timestamp, and a payload matching the declared type. Returned errors
// wrap the package sentinel errors and can be checked with errors.Is().
func (d *Document) Validate() error {
	if err := d.Type.Validate(); err != nil {
		return err
	}
	if d.SyncStatus != "" {
		if err := d.SyncStatus.Validate(); err != nil {
			return err
		}
	}
	if d.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at", ErrMissingField)
	}
	if d.Importance < 0 || d.Importance > 1 {
		return fmt.Errorf("%w: importance %v", ErrScoreRange, d.Importance)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v", ErrScoreRange, d.Confidence)
	}
	if d.Metadata != nil && d.Metadata.Score != nil {
		if s := *d.Metadata.Score; s < 0 || s > 1 {
			return fmt.Errorf("%w: score %v", ErrScoreRange, s)
		}
	}
	return d.validatePayload()
}

func (d *Document) validatePayload() error {
	var mismatch Type
	switch {
	case d.Bead != nil && d.Type != TypeBead:
		mismatch = TypeBead
	case d.Memory != nil && d.Type != TypeMemory:
		mismatch = TypeMemory
	case d.Metadata != nil && d.Type != TypeMetadata:
		mismatch = TypeMetadata
	case d.Embedding != nil && d.Type != TypeEmbeddingRef:
		mismatch = TypeEmbeddingRef
	}
	if mismatch != "" {
		return fmt.Errorf("%w: %s payload on %s document", ErrInvalidType, mismatch, d.Type)
	}
	return nil
}

// Normalize fills defaults on documents deserialized from older blobs:
// a missing sync status becomes StatusLocal, a missing updated_at is
// backfilled from created_at, and a zero version becomes 1.
func (d *Document) Normalize() {
	if d.SyncStatus == "" {
		d.SyncStatus = StatusLocal
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	if d.Version == 0 {
		d.Version = 1
	}
}

// MarkPending flags the document as modified since its last sync and bumps
// its version and update timestamp.
func (d *Document) MarkPending() {
	d.SyncStatus = StatusPending
	d.UpdatedAt = time.Now()
	d.Version++
}

// MarkSynced flags the document's remote copy as current.
func (d *Document) MarkSynced() {
	d.SyncStatus = StatusSynced
}

// RecordAccess bumps the access counter, and for memory documents the
// last-accessed timestamp.
func (d *Document) RecordAccess() {
	d.AccessCount++
	if d.Memory != nil {
		d.Memory.LastAccessed = time.Now()
	}
}

// Clone returns a deep copy of the document. Mutating the clone never
// affects the original.
func (d *Document) Clone() Document {
	out := *d
	out.Tags = append([]string(nil), d.Tags...)
	if d.Bead != nil {
		b := *d.Bead
		b.SpanRefs = append([]string(nil), d.Bead.SpanRefs...)
		out.Bead = &b
	}
	if d.Memory != nil {
		m := *d.Memory
		m.RelatedMemories = append([]string(nil), d.Memory.RelatedMemories...)
		out.Memory = &m
	}
	if d.Metadata != nil {
		md := *d.Metadata
		if d.Metadata.Score != nil {
			s := *d.Metadata.Score
			md.Score = &s
		}
		out.Metadata = &md
	}
	if d.Embedding != nil {
		e := *d.Embedding
		e.LocalVector = append([]float64(nil), d.Embedding.LocalVector...)
		out.Embedding = &e
	}
	return out
}

// String returns a human-readable representation of the Document.
func (d *Document) String() string {
	data, _ := json.MarshalIndent(d, "", "  ")
	return string(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
