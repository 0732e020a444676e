package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/skald-labs/skald/pkg/apperror"
	"github.com/skald-labs/skald/pkg/logger"
)

// ErrTranscriptExists means the job's transcript was already written by
// an earlier (or concurrent) transcription attempt.
var ErrTranscriptExists = apperror.ErrConflict.WithMessage("transcript already saved for job")

// Repository handles database operations for jobs
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new jobs repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("jobs.repo")),
	}
}

// Create inserts a new pending job
func (r *Repository) Create(ctx context.Context, job *Job) error {
	_, err := r.db.NewInsert().
		Model(job).
		Exec(ctx)

	if err != nil {
		r.log.Error("failed to create job", logger.Error(err), slog.String("user_id", job.UserID))
		return apperror.NewInternal("failed to create job", err)
	}

	return nil
}

// GetByID retrieves a job by ID
func (r *Repository) GetByID(ctx context.Context, id int64) (*Job, error) {
	var job Job

	err := r.db.NewSelect().
		Model(&job).
		Where("j.id = ?", id).
		Scan(ctx)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.ErrJobNotFound
		}
		r.log.Error("failed to get job", logger.Error(err), slog.Int64("job_id", id))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &job, nil
}

// GetByIDForUser retrieves a job by ID scoped to its owner. Other
// users' jobs are indistinguishable from missing ones.
func (r *Repository) GetByIDForUser(ctx context.Context, id int64, userID string) (*Job, error) {
	var job Job

	err := r.db.NewSelect().
		Model(&job).
		Where("j.id = ?", id).
		Where("j.user_id = ?", userID).
		Scan(ctx)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.ErrJobNotFound
		}
		r.log.Error("failed to get job", logger.Error(err), slog.Int64("job_id", id))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &job, nil
}

// ListByUser returns a user's jobs, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Job, int, error) {
	var jobs []*Job

	count, err := r.db.NewSelect().
		Model(&jobs).
		Where("j.user_id = ?", userID).
		Order("j.created_at DESC").
		Limit(limit).
		Offset(offset).
		ScanAndCount(ctx)

	if err != nil {
		r.log.Error("failed to list jobs", logger.Error(err), slog.String("user_id", userID))
		return nil, 0, apperror.ErrDatabase.WithInternal(err)
	}

	return jobs, count, nil
}

// ListAll returns jobs across all users, optionally filtered by status
// (admin listing).
func (r *Repository) ListAll(ctx context.Context, status Status, limit, offset int) ([]*Job, int, error) {
	var jobs []*Job

	query := r.db.NewSelect().
		Model(&jobs).
		Order("j.created_at DESC").
		Limit(limit).
		Offset(offset)

	if status != "" {
		query = query.Where("j.status = ?", status)
	}

	count, err := query.ScanAndCount(ctx)
	if err != nil {
		r.log.Error("failed to list all jobs", logger.Error(err))
		return nil, 0, apperror.ErrDatabase.WithInternal(err)
	}

	return jobs, count, nil
}

// Transition moves a job to the next status, enforcing the state
// machine in SQL so concurrent writers cannot race a terminal state.
// Returns the updated job; ErrConflict if the transition was not legal.
func (r *Repository) Transition(ctx context.Context, id int64, next Status) (*Job, error) {
	allowedFrom := transitionSources(next)
	if len(allowedFrom) == 0 {
		return nil, apperror.ErrConflict.WithMessage(fmt.Sprintf("no transition leads to status %q", next))
	}

	var job Job
	err := r.db.NewUpdate().
		Model(&job).
		Set("status = ?", next).
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("status IN (?)", bun.In(allowedFrom)).
		Returning("*").
		Scan(ctx)

	if err != nil {
		if err == sql.ErrNoRows {
			// Either missing or in a state that cannot reach next.
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, apperror.ErrConflict.WithMessage(fmt.Sprintf("job cannot transition to %q", next))
		}
		r.log.Error("failed to transition job", logger.Error(err), slog.Int64("job_id", id))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &job, nil
}

// transitionSources lists the statuses allowed to move to next.
func transitionSources(next Status) []Status {
	var sources []Status
	for _, s := range []Status{StatusPending, StatusProcessing} {
		if s.CanTransitionTo(next) {
			sources = append(sources, s)
		}
	}
	return sources
}

// SetWorkflowRun records the workflow run driving this job.
func (r *Repository) SetWorkflowRun(ctx context.Context, id int64, runID uuid.UUID) error {
	_, err := r.db.NewUpdate().
		Model((*Job)(nil)).
		Set("workflow_run_id = ?", runID).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// SetProgress updates the job's progress milestone. Progress never
// moves backwards; a stale writer loses silently.
func (r *Repository) SetProgress(ctx context.Context, id int64, progress int) error {
	_, err := r.db.NewUpdate().
		Model((*Job)(nil)).
		Set("progress = ?", progress).
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("progress < ?", progress).
		Exec(ctx)

	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// SaveTranscript persists the transcription output. It accepts a bun.IDB
// so activity completion markers can commit in the same transaction.
// The write is one-shot: once a transcript landed for the job, a second
// writer (a reclaimed worker finishing late) gets ErrConflict instead
// of overwriting it.
func (r *Repository) SaveTranscript(ctx context.Context, db bun.IDB, id int64, transcript string, segments []Segment, language string) error {
	res, err := db.NewUpdate().
		Model((*Job)(nil)).
		Set("transcript = ?", transcript).
		Set("segments = ?", segments).
		Set("language = ?", language).
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("transcript IS NULL").
		Exec(ctx)

	if err != nil {
		r.log.Error("failed to save transcript", logger.Error(err), slog.Int64("job_id", id))
		return apperror.ErrDatabase.WithInternal(err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTranscriptExists
	}
	return nil
}

// SetError records the failure reason on the job row.
func (r *Repository) SetError(ctx context.Context, id int64, errMsg string) error {
	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}

	_, err := r.db.NewUpdate().
		Model((*Job)(nil)).
		Set("error = ?", errMsg).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// SetArchiveKey records the object storage key of the archived audio.
func (r *Repository) SetArchiveKey(ctx context.Context, id int64, key string) error {
	_, err := r.db.NewUpdate().
		Model((*Job)(nil)).
		Set("archive_key = ?", key).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// RequestCancel flags a job for cancellation. Running activities
// observe the flag at their next heartbeat. Returns the job as it was
// when the flag landed; ErrConflict for terminal jobs.
func (r *Repository) RequestCancel(ctx context.Context, id int64, userID string) (*Job, error) {
	var job Job

	err := r.db.NewUpdate().
		Model(&job).
		Set("cancel_requested = true").
		Set("updated_at = now()").
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Where("status IN (?)", bun.In([]Status{StatusPending, StatusProcessing})).
		Returning("*").
		Scan(ctx)

	if err != nil {
		if err == sql.ErrNoRows {
			if _, getErr := r.GetByIDForUser(ctx, id, userID); getErr != nil {
				return nil, getErr
			}
			return nil, apperror.ErrConflict.WithMessage("job already finished")
		}
		r.log.Error("failed to request cancel", logger.Error(err), slog.Int64("job_id", id))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &job, nil
}

// IsCancelRequested reads the cancellation flag.
func (r *Repository) IsCancelRequested(ctx context.Context, id int64) (bool, error) {
	var requested bool

	err := r.db.NewSelect().
		Model((*Job)(nil)).
		Column("cancel_requested").
		Where("id = ?", id).
		Scan(ctx, &requested)

	if err != nil {
		if err == sql.ErrNoRows {
			return false, apperror.ErrJobNotFound
		}
		return false, apperror.ErrDatabase.WithInternal(err)
	}

	return requested, nil
}

// Delete removes a job. Chunks go with it via ON DELETE CASCADE. The
// deleted row is returned so the caller can clean up the audio file.
func (r *Repository) Delete(ctx context.Context, id int64, userID string) (*Job, error) {
	var job Job

	err := r.db.NewDelete().
		Model(&job).
		Where("id = ?", id).
		Where("user_id = ?", userID).
		Returning("*").
		Scan(ctx)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.ErrJobNotFound
		}
		r.log.Error("failed to delete job", logger.Error(err), slog.Int64("job_id", id))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &job, nil
}

// ListStalledProcessing returns processing jobs that have no pending or
// running pipeline task, which happens when the process dies between an
// activity's completion and the enqueue of the next one. The age guard
// keeps the sweeper from racing a worker that is about to enqueue.
func (r *Repository) ListStalledProcessing(ctx context.Context, olderThan time.Duration) ([]*Job, error) {
	var jobs []*Job

	err := r.db.NewSelect().
		Model(&jobs).
		Where("j.status = ?", StatusProcessing).
		Where("j.updated_at < now() - make_interval(secs => ?)", olderThan.Seconds()).
		Where("NOT EXISTS (SELECT 1 FROM skald.pipeline_tasks t WHERE t.job_id = j.id AND t.status IN ('pending', 'running'))").
		Order("j.created_at ASC").
		Scan(ctx)

	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return jobs, nil
}

// ListStuckPending returns pending jobs with no pipeline tasks, which
// happens when the process dies between the job insert and the task
// insert. The sweeper re-enqueues them.
func (r *Repository) ListStuckPending(ctx context.Context) ([]*Job, error) {
	var jobs []*Job

	err := r.db.NewSelect().
		Model(&jobs).
		Where("j.status = ?", StatusPending).
		Where("NOT EXISTS (SELECT 1 FROM skald.pipeline_tasks t WHERE t.job_id = j.id)").
		Order("j.created_at ASC").
		Scan(ctx)

	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return jobs, nil
}
