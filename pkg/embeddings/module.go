// Package embeddings provides embedding generation functionality.
package embeddings

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.uber.org/fx"

	"github.com/skald-labs/skald/internal/config"
	"github.com/skald-labs/skald/pkg/embeddings/genai"
	"github.com/skald-labs/skald/pkg/logger"
)

// Module provides the embeddings fx.Module
var Module = fx.Module("embeddings",
	fx.Provide(NewService),
)

// Service wraps a provider client and enforces the output contract:
// every returned vector is unit-norm with exactly Dimension components,
// and empty or whitespace-only input maps to the fixed EmptyTextVector.
type Service struct {
	client   Client
	provider string
	log      *slog.Logger
}

// NewLocalService creates a service backed by the deterministic local
// embedder (for tests).
func NewLocalService(log *slog.Logger) *Service {
	return &Service{
		client:   NewLocalClient(),
		provider: config.EmbeddingProviderLocal,
		log:      log,
	}
}

// NewService creates a new embeddings service
func NewService(lc fx.Lifecycle, cfg *config.Config, log *slog.Logger) (*Service, error) {
	log = log.With(logger.Scope("embeddings"))
	embCfg := cfg.Embeddings

	if embCfg.Dimension != Dimension {
		return nil, fmt.Errorf("EMBEDDING_DIM=%d does not match the compiled dimension %d; the vector schema and index are declared with %d", embCfg.Dimension, Dimension, Dimension)
	}

	svc := &Service{
		client:   NewLocalClient(),
		provider: config.EmbeddingProviderLocal,
		log:      log,
	}

	switch embCfg.Provider {
	case config.EmbeddingProviderLocal, "":
		log.Info("using local hashing embedder")

	case config.EmbeddingProviderHTTP:
		if embCfg.ServiceURL == "" {
			return nil, fmt.Errorf("EMBEDDING_PROVIDER=http requires EMBEDDING_SERVICE_URL")
		}
		svc.client = NewHTTPClient(embCfg.ServiceURL,
			WithHTTPTimeout(embCfg.Timeout()),
			WithHTTPLogger(log),
		)
		svc.provider = config.EmbeddingProviderHTTP
		log.Info("using HTTP embedding service", slog.String("url", embCfg.ServiceURL))

	case config.EmbeddingProviderGenAI:
		if embCfg.GoogleAPIKey == "" {
			return nil, fmt.Errorf("EMBEDDING_PROVIDER=genai requires GOOGLE_API_KEY")
		}
		svc.provider = config.EmbeddingProviderGenAI
		// The genai client needs a context, so it is built on startup.
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				client, err := genai.NewClient(ctx, genai.Config{
					APIKey:    embCfg.GoogleAPIKey,
					Model:     embCfg.Model,
					Dimension: Dimension,
				}, genai.WithLogger(log))
				if err != nil {
					return fmt.Errorf("initialize genai embeddings client: %w", err)
				}
				svc.client = client
				log.Info("Google Generative AI embeddings client initialized",
					slog.String("model", embCfg.Model),
				)
				return nil
			},
		})

	default:
		return nil, fmt.Errorf("unknown EMBEDDING_PROVIDER %q", embCfg.Provider)
	}

	return svc, nil
}

// Provider returns the name of the active provider.
func (s *Service) Provider() string {
	return s.provider
}

// EmbedQuery generates a unit-norm embedding for a single query.
func (s *Service) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if strings.TrimSpace(query) == "" {
		return EmptyTextVector(), nil
	}

	v, err := s.client.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if err := ValidateDimension(v); err != nil {
		return nil, err
	}
	return Normalize(v), nil
}

// EmbedDocuments generates unit-norm embeddings for multiple documents.
// The result has exactly one vector per input, in input order.
func (s *Service) EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	if len(documents) == 0 {
		return [][]float32{}, nil
	}

	// Empty texts never reach the provider; they get the fixed vector.
	out := make([][]float32, len(documents))
	var nonEmpty []string
	var nonEmptyIdx []int
	for i, doc := range documents {
		if strings.TrimSpace(doc) == "" {
			out[i] = EmptyTextVector()
			continue
		}
		nonEmpty = append(nonEmpty, doc)
		nonEmptyIdx = append(nonEmptyIdx, i)
	}

	if len(nonEmpty) > 0 {
		vectors, err := s.client.EmbedDocuments(ctx, nonEmpty)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(nonEmpty) {
			return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(nonEmpty), len(vectors))
		}
		for j, v := range vectors {
			if err := ValidateDimension(v); err != nil {
				return nil, fmt.Errorf("vector %d: %w", j, err)
			}
			out[nonEmptyIdx[j]] = Normalize(v)
		}
	}

	return out, nil
}
