package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zero-day-ai/memstore/document"
)

// DefaultQueryLimit caps result sets when Options.Limit is unset.
const DefaultQueryLimit = 100

// Options refines a Query. Zero-valued fields are ignored.
type Options struct {
	// Key matches the index field exactly.
	Key any

	// Keys matches any of the given values (OR semantics). Ignored when
	// Key is set.
	Keys []any

	// Range bounds on the index field.
	GTE, GT, LTE, LT any

	// Filter adds equality conditions on further allow-listed fields.
	Filter map[string]any

	// Limit caps the result count. Defaults to DefaultQueryLimit.
	Limit int

	// Descending reverses the sort order on the index field.
	Descending bool
}

type fieldKind int

const (
	kindScalar fieldKind = iota
	kindTime             // stored as unix nanoseconds, accepts time.Time
	kindSet              // JSON array, matched by membership
)

type fieldSpec struct {
	expr string
	kind fieldKind
}

// queryFields is the allow-list of queryable field names. Every name used
// as an index or filter must resolve here before any SQL is assembled;
// values are always bound as parameters. Promoted columns are addressed
// directly, payload fields through json_extract on the blob.
var queryFields = map[string]fieldSpec{
	"id":          {expr: "id"},
	"type":        {expr: "doc_type"},
	"created_at":  {expr: "created_at", kind: kindTime},
	"updated_at":  {expr: "updated_at", kind: kindTime},
	"sync_status": {expr: "sync_status"},
	"version":     {expr: "version"},

	"content":      {expr: "json_extract(data, '$.content')"},
	"importance":   {expr: "json_extract(data, '$.importance')"},
	"confidence":   {expr: "json_extract(data, '$.confidence')"},
	"access_count": {expr: "json_extract(data, '$.access_count')"},
	"tags":         {expr: "'$.tags'", kind: kindSet},

	"role":             {expr: "json_extract(data, '$.bead.role')"},
	"original_bead_id": {expr: "json_extract(data, '$.bead.original_bead_id')"},
	"span_refs":        {expr: "'$.bead.span_refs'", kind: kindSet},

	"kind":             {expr: "json_extract(data, '$.memory.kind')"},
	"embedding_ref":    {expr: "json_extract(data, '$.memory.embedding_ref')"},
	"source_instance":  {expr: "json_extract(data, '$.memory.source_instance')"},
	"related_memories": {expr: "'$.memory.related_memories'", kind: kindSet},

	"session_id":        {expr: "json_extract(data, '$.metadata.session_id')"},
	"conversation_turn": {expr: "json_extract(data, '$.metadata.conversation_turn')"},
	"prompt_hash":       {expr: "json_extract(data, '$.metadata.prompt_hash')"},
	"prompt_version":    {expr: "json_extract(data, '$.metadata.prompt_version')"},
	"model":             {expr: "json_extract(data, '$.metadata.model')"},
	"provider":          {expr: "json_extract(data, '$.metadata.provider')"},
	"tokens_in":         {expr: "json_extract(data, '$.metadata.tokens_in')"},
	"tokens_out":        {expr: "json_extract(data, '$.metadata.tokens_out')"},
	"score":             {expr: "json_extract(data, '$.metadata.score')"},
	"feedback":          {expr: "json_extract(data, '$.metadata.feedback')"},

	"text_hash":  {expr: "json_extract(data, '$.embedding_ref.text_hash')"},
	"remote_id":  {expr: "json_extract(data, '$.embedding_ref.remote_id')"},
	"dimensions": {expr: "json_extract(data, '$.embedding_ref.dimensions')"},
}

func resolveField(name string) (fieldSpec, error) {
	spec, ok := queryFields[name]
	if !ok {
		return fieldSpec{}, fmt.Errorf("%w: %q", ErrInvalidField, name)
	}
	return spec, nil
}

// bindValue converts an Options value to its stored representation.
func (spec fieldSpec) bindValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		if spec.kind == kindTime {
			return t.UnixNano()
		}
	case document.Type:
		return string(t)
	case document.SyncStatus:
		return string(t)
	}
	return v
}

// predicate renders the SQL condition for one comparison against this
// field and appends the bound value to args.
func (spec fieldSpec) predicate(op string, v any, args *[]any) string {
	if spec.kind == kindSet {
		// membership test over the JSON array
		*args = append(*args, v)
		return fmt.Sprintf(
			"EXISTS (SELECT 1 FROM json_each(data, %s) WHERE json_each.value %s ?)",
			spec.expr, op)
	}
	*args = append(*args, spec.bindValue(v))
	return fmt.Sprintf("%s %s ?", spec.expr, op)
}

// Query scans documents by an allow-listed index field.
//
// Field names (the index and every Filter key) are validated before any
// SQL is built; an unlisted name fails with ErrInvalidField. Range bounds
// are not supported on set-valued fields.
func (s *Store) Query(ctx context.Context, field string, opts Options) ([]document.Document, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	spec, err := resolveField(field)
	if err != nil {
		return nil, err
	}
	if spec.kind == kindSet && (opts.GTE != nil || opts.GT != nil || opts.LTE != nil || opts.LT != nil) {
		return nil, fmt.Errorf("%w: %q does not support range bounds", ErrInvalidField, field)
	}

	var (
		conds []string
		args  []any
	)

	switch {
	case opts.Key != nil:
		conds = append(conds, spec.predicate("=", opts.Key, &args))
	case len(opts.Keys) > 0:
		if spec.kind == kindSet {
			ors := make([]string, 0, len(opts.Keys))
			for _, k := range opts.Keys {
				ors = append(ors, spec.predicate("=", k, &args))
			}
			conds = append(conds, "("+strings.Join(ors, " OR ")+")")
		} else {
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(opts.Keys)), ",")
			for _, k := range opts.Keys {
				args = append(args, spec.bindValue(k))
			}
			conds = append(conds, fmt.Sprintf("%s IN (%s)", spec.expr, placeholders))
		}
	}

	if opts.GTE != nil {
		conds = append(conds, spec.predicate(">=", opts.GTE, &args))
	}
	if opts.GT != nil {
		conds = append(conds, spec.predicate(">", opts.GT, &args))
	}
	if opts.LTE != nil {
		conds = append(conds, spec.predicate("<=", opts.LTE, &args))
	}
	if opts.LT != nil {
		conds = append(conds, spec.predicate("<", opts.LT, &args))
	}

	for name, v := range opts.Filter {
		fspec, err := resolveField(name)
		if err != nil {
			return nil, err
		}
		conds = append(conds, fspec.predicate("=", v, &args))
	}

	q := "SELECT data FROM documents"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}

	order := "ASC"
	if opts.Descending {
		order = "DESC"
	}
	orderExpr := spec.expr
	if spec.kind == kindSet {
		orderExpr = "created_at"
	}
	q += fmt.Sprintf(" ORDER BY %s %s", orderExpr, order)

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w", field, err)
	}
	defer rows.Close()

	var docs []document.Document
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("store: query %s: %w", field, err)
		}
		doc, err := decodeDocument(data)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: query %s: %w", field, err)
	}
	return docs, nil
}

// QueryPending returns up to limit documents awaiting sync, oldest first.
func (s *Store) QueryPending(ctx context.Context, limit int) ([]document.Document, error) {
	return s.Query(ctx, "updated_at", Options{
		Filter: map[string]any{"sync_status": string(document.StatusPending)},
		Limit:  limit,
	})
}

// QueryByType returns up to limit documents of one type, newest first.
func (s *Store) QueryByType(ctx context.Context, t document.Type, limit int) ([]document.Document, error) {
	return s.Query(ctx, "created_at", Options{
		Filter:     map[string]any{"type": string(t)},
		Limit:      limit,
		Descending: true,
	})
}

// QueryByImportance returns up to limit documents with importance at or
// above min, highest first.
func (s *Store) QueryByImportance(ctx context.Context, min float64, limit int) ([]document.Document, error) {
	return s.Query(ctx, "importance", Options{
		GTE:        min,
		Limit:      limit,
		Descending: true,
	})
}
