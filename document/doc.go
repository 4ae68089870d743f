// Package document defines the mergeable document model for the memstore.
//
// Every record in the store is a Document: a common base carrying the
// fields the merge algorithm cares about (id, type, timestamps, version,
// sync status, tags, scores) plus exactly one type-specific payload
// selected by the document Type.
//
// # Merge semantics
//
// Documents are CRDTs (Conflict-free Replicated Data Types). Two replicas
// of the same document can be combined with Merge in any order, any number
// of times, and converge to the same state:
//
//   - merge(A, B) == merge(B, A) (commutative)
//   - merge(merge(A, B), C) == merge(A, merge(B, C)) (associative)
//   - merge(A, A) == A, except for the version counter (idempotent)
//
// Field rules are applied independently: sets (tags, span refs, related
// memories) merge by union and never shrink; counters (version, access
// count) and scores (importance, confidence) merge by max and never
// decrease; remaining scalars are last-writer-wins by updated_at, with
// ties favoring the incoming side.
//
// # Sync status
//
// Each document tracks whether its remote copy is current. Pending
// dominates Synced under merge so a document is never reported as synced
// while any replica still holds un-pushed changes.
package document
