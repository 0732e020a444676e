package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/uptrace/bun"

	"github.com/skald-labs/skald/domain/pipeline"
	"github.com/skald-labs/skald/internal/config"
	"github.com/skald-labs/skald/pkg/logger"
)

// StaleTaskRecoveryTask reclaims pipeline tasks whose worker stopped
// heartbeating (crashed process, lost VM), each activity kind against
// its own timeout. Reclaimed tasks go back to pending and are picked up
// by a live worker; completion markers make any partially finished work
// a no-op on the rerun.
type StaleTaskRecoveryTask struct {
	engine *pipeline.Engine
	log    *slog.Logger
}

// NewStaleTaskRecoveryTask creates a new stale task recovery task
func NewStaleTaskRecoveryTask(engine *pipeline.Engine, log *slog.Logger) *StaleTaskRecoveryTask {
	return &StaleTaskRecoveryTask{
		engine: engine,
		log:    log.With(logger.Scope("scheduler.stale_task_recovery")),
	}
}

// Run executes the stale task recovery
func (t *StaleTaskRecoveryTask) Run(ctx context.Context) error {
	start := time.Now()
	t.log.Debug("recovering stale pipeline tasks")

	count, err := t.engine.RecoverStaleTasks(ctx)
	if err != nil {
		t.log.Error("failed to recover stale tasks", logger.Error(err))
		return err
	}

	if count > 0 {
		t.log.Info("recovered stale pipeline tasks",
			slog.Int("count", count),
			slog.Duration("duration", time.Since(start)))
	} else {
		t.log.Debug("no stale pipeline tasks",
			slog.Duration("duration", time.Since(start)))
	}

	return nil
}

// StuckJobRequeueTask re-enqueues jobs the pipeline lost track of:
// pending jobs with no task at all (a crash between creating a job and
// enqueuing its first activity) and processing jobs with no live task
// (a crash between one activity's completion and the next enqueue).
type StuckJobRequeueTask struct {
	engine *pipeline.Engine
	log    *slog.Logger
}

// NewStuckJobRequeueTask creates a new stuck job requeue task
func NewStuckJobRequeueTask(engine *pipeline.Engine, log *slog.Logger) *StuckJobRequeueTask {
	return &StuckJobRequeueTask{
		engine: engine,
		log:    log.With(logger.Scope("scheduler.stuck_job_requeue")),
	}
}

// Run executes the stuck job requeue
func (t *StuckJobRequeueTask) Run(ctx context.Context) error {
	start := time.Now()
	t.log.Debug("requeuing stuck pending jobs")

	count, err := t.engine.RequeueStuckJobs(ctx)
	if err != nil {
		t.log.Error("failed to requeue stuck jobs", logger.Error(err))
		return err
	}

	resumed, err := t.engine.ResumeStalledJobs(ctx)
	if err != nil {
		t.log.Error("failed to resume stalled jobs", logger.Error(err))
		return err
	}
	count += resumed

	if count > 0 {
		t.log.Info("requeued stuck pending jobs",
			slog.Int("count", count),
			slog.Duration("duration", time.Since(start)))
	} else {
		t.log.Debug("no stuck pending jobs",
			slog.Duration("duration", time.Since(start)))
	}

	return nil
}

// OrphanUploadSweepTask deletes files in the upload directory that no
// job row references anymore. Orphans appear when a job row is deleted
// while its file write raced, or when a crash lands between saving the
// file and creating the job.
type OrphanUploadSweepTask struct {
	db  *bun.DB
	cfg *config.Config
	log *slog.Logger
}

// NewOrphanUploadSweepTask creates a new orphan upload sweep task
func NewOrphanUploadSweepTask(db *bun.DB, cfg *config.Config, log *slog.Logger) *OrphanUploadSweepTask {
	return &OrphanUploadSweepTask{
		db:  db,
		cfg: cfg,
		log: log.With(logger.Scope("scheduler.orphan_upload_sweep")),
	}
}

// Run executes the orphan upload sweep
func (t *OrphanUploadSweepTask) Run(ctx context.Context) error {
	start := time.Now()
	dir := t.cfg.Uploads.Dir

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			t.log.Debug("upload directory does not exist yet", slog.String("dir", dir))
			return nil
		}
		t.log.Error("failed to read upload directory",
			slog.String("dir", dir), logger.Error(err))
		return err
	}

	cutoff := time.Now().Add(-t.cfg.Uploads.OrphanSweepAge)
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		// Young files may belong to an upload whose job row is not
		// committed yet.
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		referenced, err := t.isReferenced(ctx, path)
		if err != nil {
			t.log.Warn("failed to check file reference",
				slog.String("path", path), logger.Error(err))
			continue
		}
		if referenced {
			continue
		}

		if err := os.Remove(path); err != nil {
			t.log.Warn("failed to remove orphaned upload",
				slog.String("path", path), logger.Error(err))
			continue
		}
		removed++
	}

	if removed > 0 {
		t.log.Info("removed orphaned uploads",
			slog.Int("count", removed),
			slog.Duration("duration", time.Since(start)))
	} else {
		t.log.Debug("no orphaned uploads",
			slog.Duration("duration", time.Since(start)))
	}

	return nil
}

// isReferenced reports whether any job row still points at the file.
func (t *OrphanUploadSweepTask) isReferenced(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := t.db.NewRaw(
		"SELECT EXISTS (SELECT 1 FROM skald.jobs WHERE file_path = ?)", path,
	).Scan(ctx, &exists)
	return exists, err
}
