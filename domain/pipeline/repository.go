package pipeline

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/skald-labs/skald/pkg/apperror"
	"github.com/skald-labs/skald/pkg/logger"
	"github.com/skald-labs/skald/pkg/pgutils"
)

// Repository handles database operations for pipeline tasks and
// activity completion markers
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new pipeline repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("pipeline.repo")),
	}
}

// Enqueue inserts a pending task for the given job, run and activity.
// Passing a transaction makes the enqueue atomic with whatever created
// the need for it (job insert, previous activity's completion).
func (r *Repository) Enqueue(ctx context.Context, tx bun.IDB, jobID int64, runID uuid.UUID, kind Kind) (*Task, error) {
	if tx == nil {
		tx = r.db
	}

	task := &Task{
		JobID: jobID,
		RunID: runID,
		Kind:  kind,
	}

	_, err := tx.NewInsert().
		Model(task).
		Returning("*").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to enqueue pipeline task", logger.Error(err),
			slog.Int64("job_id", jobID), slog.String("kind", string(kind)))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return task, nil
}

// GetTask returns a task by ID
func (r *Repository) GetTask(ctx context.Context, id int64) (*Task, error) {
	task := &Task{}

	err := r.db.NewSelect().
		Model(task).
		Where("t.id = ?", id).
		Scan(ctx)
	if err != nil {
		r.log.Error("failed to get pipeline task", logger.Error(err), slog.Int64("task_id", id))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return task, nil
}

// ListByJob returns all tasks for a job, oldest first
func (r *Repository) ListByJob(ctx context.Context, jobID int64) ([]*Task, error) {
	var tasks []*Task

	err := r.db.NewSelect().
		Model(&tasks).
		Where("t.job_id = ?", jobID).
		Order("t.created_at ASC").
		Scan(ctx)
	if err != nil {
		r.log.Error("failed to list pipeline tasks", logger.Error(err), slog.Int64("job_id", jobID))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return tasks, nil
}

// HasCompletion reports whether the activity already completed for the
// given run. Used to skip re-execution when a task is retried after its
// durable output already landed.
func (r *Repository) HasCompletion(ctx context.Context, runID uuid.UUID, kind Kind) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*Completion)(nil)).
		Where("run_id = ?", runID).
		Where("activity = ?", kind).
		Exists(ctx)
	if err != nil {
		r.log.Error("failed to check activity completion", logger.Error(err),
			slog.String("run_id", runID.String()), slog.String("kind", string(kind)))
		return false, apperror.ErrDatabase.WithInternal(err)
	}

	return exists, nil
}

// MarkCompletion writes the idempotency marker inside the caller's
// transaction, with a compact summary of the activity's output as the
// payload. The unique (run_id, activity) index makes the insert the
// arbiter of the at-most-once guarantee: when a reclaimed worker's late
// transaction races the replacement's, the loser gets
// ErrAlreadyCompleted and its whole transaction, output included, rolls
// back.
func (r *Repository) MarkCompletion(ctx context.Context, tx bun.IDB, jobID int64, runID uuid.UUID, kind Kind, payload map[string]any) error {
	_, err := tx.NewInsert().
		Model(&Completion{
			RunID:    runID,
			Activity: kind,
			JobID:    jobID,
			Payload:  payload,
		}).
		Exec(ctx)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return ErrAlreadyCompleted
		}
		r.log.Error("failed to mark activity completion", logger.Error(err),
			slog.Int64("job_id", jobID), slog.String("kind", string(kind)))
		return apperror.ErrDatabase.WithInternal(err)
	}

	return nil
}

// CancelPendingForJob cancels all pending tasks of a job. Running tasks
// are left to notice the cancel flag through their heartbeat.
func (r *Repository) CancelPendingForJob(ctx context.Context, jobID int64) (int, error) {
	res, err := r.db.NewUpdate().
		Model((*Task)(nil)).
		Set("status = 'cancelled'").
		Set("updated_at = now()").
		Where("job_id = ?", jobID).
		Where("status = 'pending'").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to cancel pending tasks", logger.Error(err), slog.Int64("job_id", jobID))
		return 0, apperror.ErrDatabase.WithInternal(err)
	}

	count, _ := res.RowsAffected()
	return int(count), nil
}

// HasActiveTasks reports whether the job still has pending or running
// tasks for the given run.
func (r *Repository) HasActiveTasks(ctx context.Context, runID uuid.UUID) (bool, error) {
	exists, err := r.db.NewSelect().
		Model((*Task)(nil)).
		Where("run_id = ?", runID).
		Where("status IN ('pending', 'running')").
		Exists(ctx)
	if err != nil {
		return false, apperror.ErrDatabase.WithInternal(err)
	}

	return exists, nil
}
