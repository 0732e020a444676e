package embeddings

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
)

// HTTPClient talks to a self-hosted embedding service (typically a
// sentence-transformers model behind a small HTTP wrapper). The service
// exposes POST /embed accepting {"texts": [...]} and returning
// {"embeddings": [[...], ...]}.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	log        *slog.Logger
}

type httpClientOption func(*HTTPClient)

// WithHTTPTimeout overrides the default request timeout.
func WithHTTPTimeout(d time.Duration) httpClientOption {
	return func(c *HTTPClient) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(log *slog.Logger) httpClientOption {
	return func(c *HTTPClient) {
		c.log = log
	}
}

// NewHTTPClient creates a client for the embedding service at baseURL.
func NewHTTPClient(baseURL string, opts ...httpClientOption) *HTTPClient {
	c := &HTTPClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedQuery generates an embedding for a single query
func (c *HTTPClient) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	embeddings, err := c.EmbedDocuments(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedDocuments generates embeddings for multiple documents
func (c *HTTPClient) EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	if len(documents) == 0 {
		return [][]float32{}, nil
	}

	texts := make([]string, len(documents))
	for i, doc := range documents {
		if len(doc) > MaxInputChars {
			doc = doc[:MaxInputChars]
		}
		texts[i] = doc
	}

	var all [][]float32
	for start := 0; start < len(texts); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		all = append(all, batch...)
	}

	return all, nil
}

func (c *HTTPClient) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding service unavailable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		excerpt := strings.TrimSpace(string(respBody))
		if len(excerpt) > 200 {
			excerpt = excerpt[:200] + "..."
		}
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, excerpt)
	}

	var decoded embedResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(decoded.Embeddings))
	}
	for i, v := range decoded.Embeddings {
		if err := ValidateDimension(v); err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
	}

	return decoded.Embeddings, nil
}
