// Package memstore is a local-first memory substrate for autonomous
// agents. Documents are written to an embedded SQLite database with
// CRDT-style merge semantics, then synced to a remote in the background
// when connectivity allows.
//
// # Core Concepts
//
// The package is organized around a few key ideas:
//
//   - Documents: typed JSON records (beads, memories, session metadata,
//     embedding references) with field-level merge rules
//   - Local-first writes: every write lands in SQLite and returns before
//     any network activity
//   - Background sync: a loop drains pending documents to a remote,
//     batching by type and retrying transient failures with backoff
//   - Circuit breaker: a dead remote trips the breaker so sync attempts
//     fail fast instead of piling up timeouts
//   - Degraded search: semantic search falls back to locally cached
//     vectors whenever the remote is unreachable
//
// # Getting Started
//
// Open a store, write, and read back:
//
//	ms, err := memstore.Open(
//	    memstore.WithConfig(config.Default()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ms.Close(context.Background())
//
//	id, err := ms.Store(ctx, document.NewBead("the user prefers Go", "assistant", 0.8))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	doc, err := ms.Retrieve(ctx, id)
//
// Sync is off by default. Point it at a gateway to enable:
//
//	cfg := config.Default()
//	cfg.Sync.Enabled = true
//	cfg.Sync.Gateway = "https://gateway.example.com"
//	cfg.Sync.APIToken = os.Getenv("MEMSTORE_API_TOKEN")
//
// # Merge Semantics
//
// Writing a document whose ID already exists merges rather than
// overwrites: tags union, counters and scores take the maximum, scalars
// resolve last-writer-wins by timestamp, and pending sync status
// dominates synced. Two replicas merging the same pair of documents
// reach the same result regardless of order. See the document package
// for the full rules.
//
// # Subpackages
//
//   - document: document model, validation, and merge
//   - store: SQLite storage engine, queries, pruning, vector cache
//   - syncer: background sync loop
//   - remote: remote transport (HTTP gateway, Redis)
//   - breaker: circuit breaker
//   - config: YAML and environment configuration
//   - clock: monotonic wall clock backing last-writer-wins
package memstore
