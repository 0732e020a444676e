package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/skald-labs/skald/pkg/apperror"
	"github.com/skald-labs/skald/pkg/embeddings"
	"github.com/skald-labs/skald/pkg/logger"
)

// Service embeds the query and runs vector search
type Service struct {
	repo     *Repository
	embedder *embeddings.Service
	log      *slog.Logger
}

// NewService creates a new search service
func NewService(repo *Repository, embedder *embeddings.Service, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		embedder: embedder,
		log:      log.With(logger.Scope("search")),
	}
}

// Search embeds the query text with the same provider that embedded
// the chunks and returns the closest chunks of the user's completed
// jobs.
func (s *Service) Search(ctx context.Context, userID string, req *Request) (*Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, apperror.ErrBadRequest.WithMessage("query parameter q is required")
	}

	start := time.Now()

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		s.log.Error("failed to embed search query", logger.Error(err))
		return nil, apperror.ErrInternal.WithMessage("embedding provider unavailable").WithInternal(err)
	}

	results, err := s.repo.VectorSearch(ctx, Params{
		UserID: userID,
		Vector: vector,
		JobID:  req.JobID,
		Limit:  req.Limit,
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.FillKeywords(ctx, results); err != nil {
		return nil, err
	}

	s.log.Debug("search executed",
		slog.String("user_id", userID),
		slog.Int("results", len(results)),
		slog.Duration("elapsed", time.Since(start)))

	if results == nil {
		results = []*Result{}
	}

	return &Response{
		Query:   query,
		Results: results,
		Count:   len(results),
	}, nil
}
