package search

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/skald-labs/skald/pkg/apperror"
	"github.com/skald-labs/skald/pkg/logger"
	"github.com/skald-labs/skald/pkg/mathutil"
	"github.com/skald-labs/skald/pkg/pgutils"
)

// Repository handles vector search over skald.job_chunks
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new search repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("search.repo")),
	}
}

// Params contains parameters for a vector search
type Params struct {
	// UserID scopes results to the requesting user's jobs
	UserID string

	// Vector is the query embedding
	Vector []float32

	// JobID optionally restricts to one job (0 means all jobs)
	JobID int64

	// Limit caps the result count
	Limit int
}

// resultRow is one scanned search hit
type resultRow struct {
	ChunkID      int64
	JobID        int64
	Filename     string
	ChunkIndex   int
	Text         string
	TopicSummary *string
	StartTime    float64
	EndTime      float64
	Score        float64
}

// VectorSearch runs cosine similarity search over the chunks of the
// user's completed jobs. Only completed jobs participate: chunks of a
// job mid-pipeline may still lack embeddings and would rank
// misleadingly. Ties break deterministically on recency then chunk ID.
func (r *Repository) VectorSearch(ctx context.Context, params Params) ([]*Result, error) {
	limit := mathutil.ClampLimit(params.Limit, 10, 50)

	query := `
		SELECT c.id, c.job_id, j.filename, c.chunk_index, c.text,
			   c.topic_summary, c.start_time, c.end_time,
			   1 - (c.embedding <=> ?::vector) AS score
		FROM skald.job_chunks c
		JOIN skald.jobs j ON j.id = c.job_id
		WHERE j.user_id = ?
		  AND j.status = 'completed'
		  AND c.embedding IS NOT NULL
	`
	args := []any{pgutils.FormatVector(params.Vector), params.UserID}

	if params.JobID != 0 {
		query += "  AND c.job_id = ?\n"
		args = append(args, params.JobID)
	}

	query += `
		ORDER BY score DESC, j.created_at DESC, c.id ASC
		LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.log.Error("vector search failed", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		var row resultRow
		if err := rows.Scan(&row.ChunkID, &row.JobID, &row.Filename, &row.ChunkIndex,
			&row.Text, &row.TopicSummary, &row.StartTime, &row.EndTime, &row.Score); err != nil {
			r.log.Error("vector search row scan failed", logger.Error(err))
			return nil, apperror.ErrDatabase.WithInternal(err)
		}

		result := &Result{
			ChunkID:    row.ChunkID,
			JobID:      row.JobID,
			Filename:   row.Filename,
			ChunkIndex: row.ChunkIndex,
			Text:       row.Text,
			StartTime:  row.StartTime,
			EndTime:    row.EndTime,
			Score:      row.Score,
			Keywords:   []string{},
		}
		if row.TopicSummary != nil {
			result.TopicSummary = *row.TopicSummary
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return results, nil
}

// FillKeywords loads keywords for the given results in one query.
// Keywords are a text[] column, which database/sql row scanning above
// cannot decode portably, so they are fetched via bun separately.
func (r *Repository) FillKeywords(ctx context.Context, results []*Result) error {
	if len(results) == 0 {
		return nil
	}

	ids := make([]int64, len(results))
	byID := make(map[int64]*Result, len(results))
	for i, res := range results {
		ids[i] = res.ChunkID
		byID[res.ChunkID] = res
	}

	var rows []struct {
		ID       int64    `bun:"id"`
		Keywords []string `bun:"keywords,array"`
	}

	err := r.db.NewSelect().
		TableExpr("skald.job_chunks").
		Column("id", "keywords").
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx, &rows)
	if err != nil {
		r.log.Error("failed to load chunk keywords", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}

	for _, row := range rows {
		if res, ok := byID[row.ID]; ok && row.Keywords != nil {
			res.Keywords = row.Keywords
		}
	}

	return nil
}
