// Package store implements the durable document store backing the
// memstore.
//
// Documents live in a single SQLite table keyed by id, holding the full
// document as a JSON blob plus promoted columns (doc_type, created_at,
// updated_at, sync_status, version) for indexed queries that never
// deserialize non-matching rows. A vector_cache side table holds small
// embedding vectors keyed by text hash for offline similarity search.
//
// Put is merge-on-write: writing to an existing id reads the stored
// document, merges the incoming one into it with document.Merge, and
// persists the result. A store-wide mutex serializes this read-merge-write
// cycle, so concurrent writes to one id never lose updates. Reads take no
// lock and may observe a slightly stale snapshot, never a partial write.
//
// Query field names are resolved against a fixed allow-list before any SQL
// is built. An unknown field fails with ErrInvalidField and never reaches
// the database.
package store
