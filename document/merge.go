package document

import (
	"sort"
	"time"
)

// Merge combines two replicas of the same document into one. It is a pure
// function: neither input is modified and the result shares no memory with
// them.
//
// Field rules, applied independently:
//
//  1. An absent (zero) value on one side yields the other side's value.
//  2. Set fields (tags, span refs, related memories) union.
//  3. Counter fields (version, access count) take the max.
//  4. Score fields (importance, confidence, metadata score) take the max.
//  5. updated_at takes the max; created_at keeps the earlier value.
//  6. Sync status: pending dominates; local dominates synced, so an
//     opted-out document never merges into "synced".
//  7. Remaining scalars are last-writer-wins by updated_at; the incoming
//     side wins ties.
//  8. The result version is max(existing, incoming) + 1, so a successful
//     write always advances the version. This is the one deliberate break
//     from strict idempotence: merge(A, A) equals A except for version.
//
// Merge returns ErrIDMismatch when the inputs carry different non-empty IDs.
func Merge(existing, incoming Document) (Document, error) {
	if existing.ID != "" && incoming.ID != "" && existing.ID != incoming.ID {
		return Document{}, ErrIDMismatch
	}

	out := existing.Clone()
	inc := incoming.Clone()
	if out.ID == "" {
		out.ID = inc.ID
	}

	// Ties favor the incoming side.
	incomingWins := !inc.UpdatedAt.Before(existing.UpdatedAt)

	out.Type = lwwType(out.Type, inc.Type, incomingWins)
	out.Content = lwwString(out.Content, inc.Content, incomingWins)
	out.Tags = unionStrings(out.Tags, inc.Tags)
	out.Importance = maxFloat(out.Importance, inc.Importance)
	out.Confidence = maxFloat(out.Confidence, inc.Confidence)
	if inc.AccessCount > out.AccessCount {
		out.AccessCount = inc.AccessCount
	}
	out.CreatedAt = earliest(out.CreatedAt, inc.CreatedAt)
	out.UpdatedAt = latest(out.UpdatedAt, inc.UpdatedAt)
	out.SyncStatus = mergeStatus(out.SyncStatus, inc.SyncStatus)

	out.Bead = mergeBead(out.Bead, inc.Bead, incomingWins)
	out.Memory = mergeMemory(out.Memory, inc.Memory, incomingWins)
	out.Metadata = mergeMetadata(out.Metadata, inc.Metadata, incomingWins)
	out.Embedding = mergeEmbedding(out.Embedding, inc.Embedding, incomingWins)

	v := existing.Version
	if incoming.Version > v {
		v = incoming.Version
	}
	out.Version = v + 1

	return out, nil
}

// mergeStatus ranks pending > local > synced. Pending dominating keeps
// un-pushed changes visible to the sync loop no matter the merge order;
// local dominating synced keeps opted-out documents opted out.
func mergeStatus(a, b SyncStatus) SyncStatus {
	if a == StatusPending || b == StatusPending {
		return StatusPending
	}
	if a == StatusLocal || b == StatusLocal {
		return StatusLocal
	}
	if a == "" {
		return b
	}
	return a
}

func mergeBead(a, b *BeadFields, incomingWins bool) *BeadFields {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	a.Role = lwwString(a.Role, b.Role, incomingWins)
	a.SpanRefs = unionStrings(a.SpanRefs, b.SpanRefs)
	a.OriginalBeadID = lwwString(a.OriginalBeadID, b.OriginalBeadID, incomingWins)
	return a
}

func mergeMemory(a, b *MemoryFields, incomingWins bool) *MemoryFields {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	a.Kind = lwwString(a.Kind, b.Kind, incomingWins)
	a.EmbeddingRef = lwwString(a.EmbeddingRef, b.EmbeddingRef, incomingWins)
	a.SourceInstance = lwwString(a.SourceInstance, b.SourceInstance, incomingWins)
	a.LastAccessed = latest(a.LastAccessed, b.LastAccessed)
	a.RelatedMemories = unionStrings(a.RelatedMemories, b.RelatedMemories)
	return a
}

func mergeMetadata(a, b *MetadataFields, incomingWins bool) *MetadataFields {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	a.SessionID = lwwString(a.SessionID, b.SessionID, incomingWins)
	a.ConversationTurn = lwwInt(a.ConversationTurn, b.ConversationTurn, incomingWins)
	a.PromptHash = lwwString(a.PromptHash, b.PromptHash, incomingWins)
	a.PromptVersion = lwwString(a.PromptVersion, b.PromptVersion, incomingWins)
	a.Model = lwwString(a.Model, b.Model, incomingWins)
	a.Provider = lwwString(a.Provider, b.Provider, incomingWins)
	a.TokensIn = lwwInt64(a.TokensIn, b.TokensIn, incomingWins)
	a.TokensOut = lwwInt64(a.TokensOut, b.TokensOut, incomingWins)
	a.TokensContext = lwwInt64(a.TokensContext, b.TokensContext, incomingWins)
	a.LatencyMs = lwwFloat(a.LatencyMs, b.LatencyMs, incomingWins)
	a.RetrievalLatencyMs = lwwFloat(a.RetrievalLatencyMs, b.RetrievalLatencyMs, incomingWins)
	a.Score = maxScore(a.Score, b.Score)
	a.Feedback = lwwString(a.Feedback, b.Feedback, incomingWins)
	a.Error = lwwString(a.Error, b.Error, incomingWins)
	if b.RetryCount > a.RetryCount {
		a.RetryCount = b.RetryCount
	}
	a.CompletedAt = latest(a.CompletedAt, b.CompletedAt)
	return a
}

func mergeEmbedding(a, b *EmbeddingRefFields, incomingWins bool) *EmbeddingRefFields {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	a.TextHash = lwwString(a.TextHash, b.TextHash, incomingWins)
	a.RemoteID = lwwString(a.RemoteID, b.RemoteID, incomingWins)
	a.Model = lwwString(a.Model, b.Model, incomingWins)
	a.Dimensions = lwwInt(a.Dimensions, b.Dimensions, incomingWins)
	a.SourceText = lwwString(a.SourceText, b.SourceText, incomingWins)
	switch {
	case len(a.LocalVector) == 0:
		a.LocalVector = b.LocalVector
	case len(b.LocalVector) == 0:
		// keep a
	case incomingWins:
		a.LocalVector = b.LocalVector
	}
	return a
}

// unionStrings merges two sets, deduplicating and sorting so the result is
// identical regardless of merge order.
func unionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	for _, s := range b {
		seen[s] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func lwwString(existing, incoming string, incomingWins bool) string {
	if existing == "" {
		return incoming
	}
	if incoming == "" {
		return existing
	}
	if incomingWins {
		return incoming
	}
	return existing
}

func lwwType(existing, incoming Type, incomingWins bool) Type {
	return Type(lwwString(string(existing), string(incoming), incomingWins))
}

func lwwInt(existing, incoming int, incomingWins bool) int {
	if existing == 0 {
		return incoming
	}
	if incoming == 0 {
		return existing
	}
	if incomingWins {
		return incoming
	}
	return existing
}

func lwwInt64(existing, incoming int64, incomingWins bool) int64 {
	if existing == 0 {
		return incoming
	}
	if incoming == 0 {
		return existing
	}
	if incomingWins {
		return incoming
	}
	return existing
}

func lwwFloat(existing, incoming float64, incomingWins bool) float64 {
	if existing == 0 {
		return incoming
	}
	if incoming == 0 {
		return existing
	}
	if incomingWins {
		return incoming
	}
	return existing
}

func maxFloat(a, b float64) float64 {
	if b > a {
		return b
	}
	return a
}

func maxScore(a, b *float64) *float64 {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if *b > *a {
		return b
	}
	return a
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func earliest(a, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	if b.IsZero() {
		return a
	}
	if b.Before(a) {
		return b
	}
	return a
}
