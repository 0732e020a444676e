package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/skald-labs/skald/domain/pipeline"
	"github.com/skald-labs/skald/internal/config"
)

// Module provides scheduled task functionality
var Module = fx.Module("scheduler",
	fx.Provide(
		NewConfig,
		NewScheduler,
	),
	fx.Invoke(
		RegisterTasks,
		RegisterSchedulerLifecycle,
	),
)

// TaskParams contains dependencies for creating scheduled tasks
type TaskParams struct {
	fx.In
	Scheduler *Scheduler
	Engine    *pipeline.Engine
	DB        *bun.DB
	Log       *slog.Logger
	Cfg       *Config
	AppCfg    *config.Config
}

// RegisterTasks registers all scheduled tasks
func RegisterTasks(p TaskParams) error {
	if !p.Cfg.Enabled {
		p.Log.Info("scheduler disabled, skipping task registration")
		return nil
	}

	staleTask := NewStaleTaskRecoveryTask(p.Engine, p.Log)
	if err := addScheduledTask(p.Scheduler, p.Log, "stale_task_recovery",
		p.Cfg.StaleTaskRecoverySchedule, p.Cfg.StaleTaskRecoveryInterval, staleTask.Run); err != nil {
		p.Log.Error("failed to register stale task recovery",
			slog.String("error", err.Error()))
	}

	stuckTask := NewStuckJobRequeueTask(p.Engine, p.Log)
	if err := addScheduledTask(p.Scheduler, p.Log, "stuck_job_requeue",
		p.Cfg.StuckJobRequeueSchedule, p.Cfg.StuckJobRequeueInterval, stuckTask.Run); err != nil {
		p.Log.Error("failed to register stuck job requeue",
			slog.String("error", err.Error()))
	}

	orphanTask := NewOrphanUploadSweepTask(p.DB, p.AppCfg, p.Log)
	if err := addScheduledTask(p.Scheduler, p.Log, "orphan_upload_sweep",
		p.Cfg.OrphanUploadSweepSchedule, p.Cfg.OrphanUploadSweepInterval, orphanTask.Run); err != nil {
		p.Log.Error("failed to register orphan upload sweep",
			slog.String("error", err.Error()))
	}

	p.Log.Info("registered scheduled tasks",
		slog.Any("tasks", p.Scheduler.ListTasks()))

	return nil
}

// addScheduledTask registers a task using the cron schedule when one is
// configured, falling back to the interval otherwise.
func addScheduledTask(s *Scheduler, log *slog.Logger, name, schedule string, interval time.Duration, task TaskFunc) error {
	if schedule != "" {
		if err := s.AddCronTask(name, schedule, task); err != nil {
			log.Warn("invalid cron schedule, falling back to interval",
				slog.String("task", name),
				slog.String("schedule", schedule),
				slog.String("error", err.Error()))
			return s.AddIntervalTask(name, interval, task)
		}
		return nil
	}
	return s.AddIntervalTask(name, interval, task)
}

// RegisterSchedulerLifecycle registers the scheduler with fx lifecycle
func RegisterSchedulerLifecycle(lc fx.Lifecycle, scheduler *Scheduler, cfg *Config) {
	if !cfg.Enabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduler.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return scheduler.Stop(ctx)
		},
	})
}
