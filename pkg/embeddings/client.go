// Package embeddings provides embedding generation functionality.
package embeddings

import (
	"context"
	"fmt"
	"math"
)

// Dimension is the embedding dimension used across the system. Every
// client must produce vectors of exactly this size; the chunk store and
// its vector index are declared with it.
const Dimension = 384

// MaxBatchSize caps how many texts go to a provider in one request.
const MaxBatchSize = 64

// MaxInputChars caps the text length sent to a provider. Longer inputs
// are truncated; chunk texts stay well under this in practice.
const MaxInputChars = 5000

// Client provides embedding generation functionality
type Client interface {
	// EmbedQuery generates an embedding vector for the given query text
	EmbedQuery(ctx context.Context, query string) ([]float32, error)

	// EmbedDocuments generates embedding vectors for the given documents
	EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error)
}

// NoopClient is a no-op implementation that returns nil embeddings
// Used when embeddings are disabled
type NoopClient struct{}

// NewNoopClient creates a new NoopClient
func NewNoopClient() *NoopClient {
	return &NoopClient{}
}

// EmbedQuery returns nil, nil (no embedding available)
func (c *NoopClient) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return nil, nil
}

// EmbedDocuments returns nil, nil (no embeddings available)
func (c *NoopClient) EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	return nil, nil
}

// EmptyTextVector returns the fixed unit vector used for empty or
// whitespace-only input: e0, the first standard basis vector. Using a
// constant keeps empty inputs deterministic and cosine-comparable.
func EmptyTextVector() []float32 {
	v := make([]float32, Dimension)
	v[0] = 1
	return v
}

// Normalize scales v to unit L2 norm in place and returns it. A zero
// vector is replaced by EmptyTextVector so the result is always a valid
// unit vector.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return EmptyTextVector()
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}

// ValidateDimension checks that the vector has the expected dimension.
func ValidateDimension(v []float32) error {
	if len(v) != Dimension {
		return fmt.Errorf("embedding has dimension %d, want %d", len(v), Dimension)
	}
	return nil
}
