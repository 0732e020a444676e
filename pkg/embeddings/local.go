package embeddings

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// LocalClient is a deterministic, dependency-free embedder based on
// feature hashing: each token is hashed into one of Dimension signed
// buckets and the accumulated vector is L2-normalized. It is not a
// semantic model, but it is stable across runs and platforms, which
// makes it the right default for development and for tests that assert
// on search ordering.
type LocalClient struct{}

// NewLocalClient creates a new LocalClient
func NewLocalClient() *LocalClient {
	return &LocalClient{}
}

// EmbedQuery generates an embedding for a single query
func (c *LocalClient) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return c.embed(query), nil
}

// EmbedDocuments generates embeddings for multiple documents
func (c *LocalClient) EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	out := make([][]float32, len(documents))
	for i, doc := range documents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = c.embed(doc)
	}
	return out, nil
}

func (c *LocalClient) embed(text string) []float32 {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return EmptyTextVector()
	}

	v := make([]float32, Dimension)
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()

		bucket := int(sum % Dimension)
		// One hash bit decides the sign so collisions tend to cancel
		// rather than pile up.
		if sum&(1<<63) != 0 {
			v[bucket] -= 1
		} else {
			v[bucket] += 1
		}
	}

	return Normalize(v)
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
