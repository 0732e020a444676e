package chunks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/skald-labs/skald/pkg/apperror"
	"github.com/skald-labs/skald/pkg/logger"
	"github.com/skald-labs/skald/pkg/pgutils"
)

// Repository handles database operations for chunks
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new chunks repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("chunks.repo")),
	}
}

// ListByJob returns a job's chunks ordered by index.
func (r *Repository) ListByJob(ctx context.Context, jobID int64) ([]*Chunk, error) {
	var chunks []*Chunk

	err := r.db.NewSelect().
		Model(&chunks).
		Where("c.job_id = ?", jobID).
		Order("c.chunk_index ASC").
		Scan(ctx)

	if err != nil {
		r.log.Error("failed to list chunks", logger.Error(err), slog.Int64("job_id", jobID))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return chunks, nil
}

// Replace swaps a job's chunk set atomically inside the given
// transaction: delete everything, insert the new rows. Rerunning the
// chunk activity therefore converges to a single consistent set rather
// than accumulating duplicates.
func (r *Repository) Replace(ctx context.Context, tx bun.IDB, jobID int64, chunks []*Chunk) error {
	_, err := tx.NewDelete().
		Model((*Chunk)(nil)).
		Where("job_id = ?", jobID).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to delete existing chunks", logger.Error(err), slog.Int64("job_id", jobID))
		return apperror.ErrDatabase.WithInternal(err)
	}

	if len(chunks) == 0 {
		return nil
	}

	for i, chunk := range chunks {
		chunk.JobID = jobID
		chunk.ChunkIndex = i
	}

	_, err = tx.NewInsert().
		Model(&chunks).
		Exec(ctx)
	if err != nil {
		if pgutils.IsForeignKeyViolation(err) {
			// Job row deleted while the chunk activity was running.
			return apperror.NewNotFound("job", fmt.Sprintf("%d", jobID)).WithInternal(err)
		}
		if pgutils.IsUniqueViolation(err) {
			// Two activity runs racing on the same job; the stale one loses.
			return apperror.ErrConflict.WithMessage("chunks were rewritten concurrently").WithInternal(err)
		}
		r.log.Error("failed to insert chunks", logger.Error(err),
			slog.Int64("job_id", jobID), slog.Int("count", len(chunks)))
		return apperror.ErrDatabase.WithInternal(err)
	}

	return nil
}

// UpdateEmbedding sets the embedding vector for one chunk within the
// given transaction.
func (r *Repository) UpdateEmbedding(ctx context.Context, tx bun.IDB, chunkID int64, embedding []float32) error {
	_, err := tx.NewRaw(
		"UPDATE skald.job_chunks SET embedding = ?::vector WHERE id = ?",
		pgutils.FormatVector(embedding), chunkID,
	).Exec(ctx)

	if err != nil {
		r.log.Error("failed to update chunk embedding", logger.Error(err), slog.Int64("chunk_id", chunkID))
		return apperror.ErrDatabase.WithInternal(err)
	}

	return nil
}

// PatchEmbeddings writes embeddings for the given chunk IDs in one
// transaction. IDs and vectors are parallel slices.
func (r *Repository) PatchEmbeddings(ctx context.Context, tx bun.IDB, chunkIDs []int64, embeddings [][]float32) error {
	if len(chunkIDs) != len(embeddings) {
		return fmt.Errorf("chunk/embedding count mismatch: %d vs %d", len(chunkIDs), len(embeddings))
	}

	for i, id := range chunkIDs {
		if err := r.UpdateEmbedding(ctx, tx, id, embeddings[i]); err != nil {
			return err
		}
	}

	return nil
}

// ListMissingEmbeddings returns a job's chunks that still lack an
// embedding, ordered by index. The embed activity is idempotent by
// construction: rerunning it only touches what is missing.
func (r *Repository) ListMissingEmbeddings(ctx context.Context, jobID int64) ([]*Chunk, error) {
	var chunks []*Chunk

	err := r.db.NewSelect().
		Model(&chunks).
		Where("c.job_id = ?", jobID).
		Where("c.embedding IS NULL").
		Order("c.chunk_index ASC").
		Scan(ctx)

	if err != nil {
		r.log.Error("failed to list unembedded chunks", logger.Error(err), slog.Int64("job_id", jobID))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return chunks, nil
}

// CountByJob returns the number of chunks for a job
func (r *Repository) CountByJob(ctx context.Context, jobID int64) (int, error) {
	count, err := r.db.NewSelect().
		Model((*Chunk)(nil)).
		Where("job_id = ?", jobID).
		Count(ctx)

	if err != nil {
		r.log.Error("failed to count chunks", logger.Error(err), slog.Int64("job_id", jobID))
		return 0, apperror.ErrDatabase.WithInternal(err)
	}

	return count, nil
}
