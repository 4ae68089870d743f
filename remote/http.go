package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zero-day-ai/memstore/document"
)

// HTTPRemote talks to a sync gateway over JSON HTTP with bearer-token
// auth. Wire shape:
//
//	POST {base}/v1/documents/batch  {"documents": [...]}  -> PushResult
//	POST {base}/v1/search           {"embedding": [...], "limit": k}
//	GET  {base}/v1/documents/{id}   -> document
type HTTPRemote struct {
	base   string
	token  string
	client *http.Client
	log    *slog.Logger
}

// HTTPOption configures an HTTPRemote.
type HTTPOption func(*HTTPRemote)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(r *HTTPRemote) { r.client = c }
}

// WithHTTPTimeout sets the per-call timeout. Default: 30s.
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(r *HTTPRemote) { r.client.Timeout = d }
}

// WithHTTPLogger sets the structured logger. Defaults to slog.Default().
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(r *HTTPRemote) { r.log = l }
}

// NewHTTPRemote creates a gateway client for the given base URL.
func NewHTTPRemote(base, token string, opts ...HTTPOption) *HTTPRemote {
	r := &HTTPRemote{
		base:   strings.TrimRight(base, "/"),
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// pushDoc is the wire form of one upserted document.
type pushDoc struct {
	ID        string            `json:"id"`
	Text      string            `json:"text,omitempty"`
	Embedding []float64         `json:"embedding,omitempty"`
	Metadata  document.Document `json:"metadata"`
}

type pushRequest struct {
	Documents []pushDoc `json:"documents"`
}

type searchRequest struct {
	Embedding []float64 `json:"embedding"`
	Limit     int       `json:"limit"`
}

type searchResponse struct {
	Matches []Match `json:"matches"`
}

// PushBatch upserts docs at the gateway. Whole-batch transport and
// status failures come back classified; per-document rejections are in
// the PushResult.
func (r *HTTPRemote) PushBatch(ctx context.Context, docs []document.Document) (PushResult, error) {
	req := pushRequest{Documents: make([]pushDoc, 0, len(docs))}
	for _, doc := range docs {
		pd := pushDoc{ID: doc.ID, Text: doc.Content, Metadata: doc}
		if doc.Embedding != nil {
			pd.Embedding = doc.Embedding.LocalVector
			if pd.Text == "" {
				pd.Text = doc.Embedding.SourceText
			}
		}
		req.Documents = append(req.Documents, pd)
	}

	var result PushResult
	if err := r.post(ctx, "/v1/documents/batch", req, &result); err != nil {
		return PushResult{}, err
	}
	r.log.Debug("batch pushed",
		"count", len(docs), "succeeded", result.SuccessCount, "failed", result.FailedCount)
	return result, nil
}

// Search runs a semantic query against the gateway.
func (r *HTTPRemote) Search(ctx context.Context, embedding []float64, limit int) ([]Match, error) {
	var resp searchResponse
	err := r.post(ctx, "/v1/search", searchRequest{Embedding: embedding, Limit: limit}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

// Fetch retrieves one document by id from the gateway.
func (r *HTTPRemote) Fetch(ctx context.Context, id string) (document.Document, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		r.base+"/v1/documents/"+id, nil)
	if err != nil {
		return document.Document{}, MarkPermanent(err)
	}
	r.setHeaders(httpReq)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return document.Document{}, MarkTransient(fmt.Errorf("remote: fetch %s: %w", id, err))
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return document.Document{}, err
	}
	var doc document.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return document.Document{}, MarkTransient(fmt.Errorf("remote: decode document: %w", err))
	}
	return doc, nil
}

func (r *HTTPRemote) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return MarkPermanent(fmt.Errorf("remote: encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.base+path, bytes.NewReader(payload))
	if err != nil {
		return MarkPermanent(err)
	}
	r.setHeaders(httpReq)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return MarkTransient(fmt.Errorf("remote: %s: %w", path, err))
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return MarkTransient(fmt.Errorf("remote: decode response: %w", err))
	}
	return nil
}

func (r *HTTPRemote) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
}

// classifyStatus turns a non-2xx response into a classified error: 5xx
// and 429 are transient, other 4xx permanent.
func classifyStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("remote: %s: %s", resp.Status, strings.TrimSpace(string(body)))

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return MarkTransient(err)
	}
	return MarkPermanent(err)
}
