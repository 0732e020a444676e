package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"

	"github.com/skald-labs/skald/domain/chunking"
	"github.com/skald-labs/skald/domain/chunks"
	"github.com/skald-labs/skald/domain/jobs"
	"github.com/skald-labs/skald/domain/progress"
	"github.com/skald-labs/skald/internal/config"
	jobsq "github.com/skald-labs/skald/internal/jobs"
	"github.com/skald-labs/skald/pkg/embeddings"
	"github.com/skald-labs/skald/pkg/logger"
	"github.com/skald-labs/skald/pkg/syshealth"
	"github.com/skald-labs/skald/pkg/tracing"
	"github.com/skald-labs/skald/pkg/whisper"
)

var (
	errCancelRequested = errors.New("job cancellation requested")
	errTaskReclaimed   = errors.New("task reclaimed by another worker")
)

// Engine runs the transcription pipeline: it claims tasks from the
// durable queue, executes the matching activity, and drives each job
// through transcribe, chunk and embed to a terminal status.
//
// Durability model: every activity writes its output and its
// completion marker in one transaction, then the task row flips to
// completed and the next activity is enqueued. A crash at any point
// either loses nothing (task is reclaimed and rerun) or reruns an
// activity whose marker makes the rerun a no-op.
type Engine struct {
	db         *bun.DB
	queue      *jobsq.Queue
	repo       *Repository
	jobsRepo   *jobs.Repository
	chunksRepo *chunks.Repository
	whisper    *whisper.Client
	chunker    *chunking.Service
	embedder   *embeddings.Service
	bus        *progress.Bus
	scaler     *syshealth.ConcurrencyScaler
	cfg        config.PipelineConfig
	log        *slog.Logger
	workerID   string

	worker *jobsq.Worker
	sem    chan struct{}
	wg     sync.WaitGroup
}

// EngineParams collects the engine's dependencies
type EngineParams struct {
	fx.In

	DB         *bun.DB
	Repo       *Repository
	JobsRepo   *jobs.Repository
	ChunksRepo *chunks.Repository
	Whisper    *whisper.Client
	Chunker    *chunking.Service
	Embedder   *embeddings.Service
	Bus        *progress.Bus
	Scaler     *syshealth.ConcurrencyScaler `optional:"true"`
	Config     *config.Config
	Log        *slog.Logger
}

// NewEngine creates the pipeline engine
func NewEngine(p EngineParams) *Engine {
	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	cfg := p.Config.Pipeline
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	log := p.Log.With(logger.Scope("pipeline.engine"))

	e := &Engine{
		db:         p.DB,
		repo:       p.Repo,
		jobsRepo:   p.JobsRepo,
		chunksRepo: p.ChunksRepo,
		whisper:    p.Whisper,
		chunker:    p.Chunker,
		embedder:   p.Embedder,
		bus:        p.Bus,
		scaler:     p.Scaler,
		cfg:        cfg,
		log:        log,
		workerID:   workerID,
		sem:        make(chan struct{}, concurrency),
	}

	e.queue = jobsq.NewQueue(p.DB, jobsq.QueueConfig{
		TableName: "skald.pipeline_tasks",
		BatchSize: concurrency,
	}, log)

	e.worker = jobsq.NewWorker(jobsq.WorkerConfig{
		Name:         "pipeline",
		PollInterval: cfg.PollInterval(),
		BatchSize:    concurrency,
		StaleAfter:   cfg.StaleAfter(),
	}, p.Log, e.process)

	return e
}

// Queue exposes the underlying task queue (for health checks and the
// recovery sweeps).
func (e *Engine) Queue() *jobsq.Queue {
	return e.queue
}

// RecoverStaleTasks reclaims running tasks whose heartbeat went silent,
// each activity kind against its own timeout. Transcription gets the
// longest window since a healthy worker can hold its claim for the
// whole Whisper call.
func (e *Engine) RecoverStaleTasks(ctx context.Context) (int, error) {
	var total int
	for kind, def := range Definitions {
		n, err := e.queue.RecoverStaleByKind(ctx, string(kind), def.HeartbeatTimeout)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Start begins claiming tasks. Stale tasks left behind by a previous
// crash of this or another worker are recovered first.
func (e *Engine) Start(ctx context.Context) error {
	if !e.cfg.Enabled {
		e.log.Info("pipeline disabled, not starting workers")
		return nil
	}

	if n, err := e.RecoverStaleTasks(ctx); err != nil {
		e.log.Warn("stale task recovery on startup failed", logger.Error(err))
	} else if n > 0 {
		e.log.Info("recovered stale tasks on startup", slog.Int("count", n))
	}

	if n, err := e.ResumeStalledJobs(ctx); err != nil {
		e.log.Warn("stalled job resume on startup failed", logger.Error(err))
	} else if n > 0 {
		e.log.Info("resumed stalled jobs on startup", slog.Int("count", n))
	}

	e.log.Info("pipeline engine starting",
		slog.String("worker_id", e.workerID),
		slog.Int("concurrency", cap(e.sem)))

	return e.worker.Start(ctx)
}

// Stop drains the engine: no new claims, then wait for in-flight
// activities to finish or the shutdown context to expire.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.cfg.Enabled {
		return nil
	}

	if err := e.worker.Stop(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.log.Info("pipeline engine stopped")
	case <-ctx.Done():
		e.log.Warn("pipeline engine stop timeout, tasks will be recovered as stale")
	}

	return nil
}

// StartJob creates a new workflow run for a job and enqueues its first
// activity. Returns the run ID.
func (e *Engine) StartJob(ctx context.Context, jobID int64) (uuid.UUID, error) {
	runID := uuid.New()

	if err := e.jobsRepo.SetWorkflowRun(ctx, jobID, runID); err != nil {
		return uuid.Nil, err
	}

	// A crash between these two writes leaves a pending job with no
	// task; the stuck-pending sweep re-enqueues it.
	if _, err := e.repo.Enqueue(ctx, nil, jobID, runID, KindTranscribe); err != nil {
		return uuid.Nil, err
	}

	e.log.Info("pipeline run started",
		slog.Int64("job_id", jobID), slog.String("run_id", runID.String()))

	return runID, nil
}

// RequeueStuckJobs finds pending jobs that have no pipeline task at all
// (a crash window in StartJob) and enqueues a fresh run for each.
func (e *Engine) RequeueStuckJobs(ctx context.Context) (int, error) {
	stuck, err := e.jobsRepo.ListStuckPending(ctx)
	if err != nil {
		return 0, err
	}

	for _, job := range stuck {
		if _, err := e.StartJob(ctx, job.ID); err != nil {
			e.log.Error("failed to requeue stuck job", logger.Error(err),
				slog.Int64("job_id", job.ID))
			continue
		}
	}

	return len(stuck), nil
}

// ResumeStalledJobs finds processing jobs with no live task (a crash
// window between one activity's completion and the next enqueue) and
// resumes each from the first activity that lacks a completion marker.
func (e *Engine) ResumeStalledJobs(ctx context.Context) (int, error) {
	stalled, err := e.jobsRepo.ListStalledProcessing(ctx, e.cfg.StaleAfter())
	if err != nil {
		return 0, err
	}

	for _, job := range stalled {
		if err := e.resumeJob(ctx, job); err != nil {
			e.log.Error("failed to resume stalled job", logger.Error(err),
				slog.Int64("job_id", job.ID))
			continue
		}
	}

	return len(stalled), nil
}

// resumeJob enqueues the first activity of the job's run without a
// completion marker, or finalizes the job when all of them completed.
func (e *Engine) resumeJob(ctx context.Context, job *jobs.Job) error {
	if job.WorkflowRunID == nil {
		_, err := e.StartJob(ctx, job.ID)
		return err
	}
	runID := *job.WorkflowRunID

	for kind := KindTranscribe; kind != ""; kind = NextKind(kind) {
		done, err := e.repo.HasCompletion(ctx, runID, kind)
		if err != nil {
			return err
		}
		if done {
			continue
		}

		if _, err := e.repo.Enqueue(ctx, nil, job.ID, runID, kind); err != nil {
			return err
		}

		e.log.Info("resumed stalled job",
			slog.Int64("job_id", job.ID),
			slog.String("run_id", runID.String()),
			slog.String("kind", string(kind)))
		return nil
	}

	// Every activity completed; only the terminal bookkeeping was lost.
	e.finalizeJob(ctx, &Task{JobID: job.ID, RunID: runID})
	return nil
}

// concurrency returns the effective pool size, letting the health
// scaler shrink it when the host is under pressure.
func (e *Engine) concurrency() int {
	static := cap(e.sem)
	if e.cfg.AdaptiveConcurrency && e.scaler != nil {
		return e.scaler.GetConcurrency(static)
	}
	return static
}

// process is one poll iteration: claim up to the free pool capacity
// and dispatch each claimed task to a goroutine.
func (e *Engine) process(ctx context.Context) error {
	free := e.concurrency() - len(e.sem)
	if free <= 0 {
		return nil
	}

	ids, err := e.queue.Claim(ctx, e.workerID, free)
	if err != nil {
		return err
	}

	for _, id := range ids {
		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		e.wg.Add(1)
		go func(taskID int64) {
			defer e.wg.Done()
			defer func() { <-e.sem }()
			e.runTask(ctx, taskID)
		}(id)
	}

	return nil
}

// runTask executes one claimed task end to end.
func (e *Engine) runTask(ctx context.Context, taskID int64) {
	task, err := e.repo.GetTask(ctx, taskID)
	if err != nil {
		e.log.Error("failed to load claimed task", logger.Error(err), slog.Int64("task_id", taskID))
		return
	}

	def, ok := Definitions[task.Kind]
	if !ok {
		e.log.Error("unknown activity kind", slog.String("kind", string(task.Kind)),
			slog.Int64("task_id", taskID))
		_ = e.queue.Fail(ctx, taskID, task.AttemptCount+1, "unknown activity kind")
		return
	}

	job, err := e.jobsRepo.GetByID(ctx, task.JobID)
	if err != nil {
		e.log.Error("failed to load job for task", logger.Error(err),
			slog.Int64("task_id", taskID), slog.Int64("job_id", task.JobID))
		e.handleFailure(ctx, task, def, err)
		return
	}

	if job.Status.Terminal() {
		// A task outliving its job (a stale reclaim racing a cancel or
		// failure) has nothing left to do.
		if err := e.queue.Cancel(ctx, task.ID); err != nil {
			e.log.Warn("failed to cancel orphaned task", logger.Error(err), slog.Int64("task_id", task.ID))
		}
		return
	}

	if job.CancelRequested {
		e.cancelJob(ctx, task, job)
		return
	}

	// First activity of the run moves the job out of pending.
	if job.Status == jobs.StatusPending {
		job, err = e.jobsRepo.Transition(ctx, job.ID, jobs.StatusProcessing)
		if err != nil {
			e.handleFailure(ctx, task, def, err)
			return
		}
		e.publish(job.ID, jobs.StatusProcessing, jobs.ProgressStarted, def.Phase, "")
	}

	taskCtx, cancel := context.WithCancelCause(ctx)
	timeoutCtx, timeoutCancel := context.WithTimeout(taskCtx, def.Timeout)
	defer timeoutCancel()
	defer cancel(nil)

	hbDone := make(chan struct{})
	go e.heartbeatLoop(timeoutCtx, task, cancel, hbDone)

	start := time.Now()
	err = e.execute(timeoutCtx, task, job)
	close(hbDone)

	if err != nil {
		if errors.Is(context.Cause(taskCtx), errCancelRequested) {
			e.cancelJob(ctx, task, job)
			return
		}
		if errors.Is(context.Cause(taskCtx), errTaskReclaimed) {
			// Another worker owns this task now; our work is discarded.
			e.log.Warn("task was reclaimed mid-execution, abandoning",
				slog.Int64("task_id", task.ID))
			e.worker.IncrementFailure()
			return
		}
		if errors.Is(err, ErrAlreadyCompleted) {
			// The replacement worker's output committed first and ours
			// rolled back. The winner owns the task lifecycle; retrying
			// here would stomp its claim.
			e.log.Warn("activity output superseded by another worker, abandoning",
				slog.Int64("task_id", task.ID))
			e.worker.IncrementFailure()
			return
		}
		e.handleFailure(ctx, task, def, err)
		return
	}

	e.log.Info("activity completed",
		slog.Int64("job_id", job.ID),
		slog.String("kind", string(task.Kind)),
		slog.Duration("elapsed", time.Since(start)))

	e.finishTask(ctx, task, def)
}

// heartbeatLoop keeps the claimed task alive and watches for
// cancellation requests on the job.
func (e *Engine) heartbeatLoop(ctx context.Context, task *Task, cancel context.CancelCauseFunc, done <-chan struct{}) {
	ticker := time.NewTicker(e.cfg.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := e.queue.Heartbeat(ctx, task.ID, e.workerID)
			if err != nil {
				e.log.Warn("heartbeat failed", logger.Error(err), slog.Int64("task_id", task.ID))
				continue
			}
			if !ok {
				cancel(errTaskReclaimed)
				return
			}

			cancelled, err := e.jobsRepo.IsCancelRequested(ctx, task.JobID)
			if err == nil && cancelled {
				cancel(errCancelRequested)
				return
			}
		}
	}
}

// execute dispatches to the activity implementation. Each activity
// first checks its completion marker so reruns after a crash between
// "output committed" and "task marked completed" do no duplicate work.
func (e *Engine) execute(ctx context.Context, task *Task, job *jobs.Job) error {
	ctx, span := tracing.Start(ctx, "pipeline."+string(task.Kind),
		attribute.Int64("skald.job.id", job.ID),
		attribute.String("skald.run.id", task.RunID.String()),
		attribute.Int("skald.task.attempt", task.AttemptCount),
	)
	defer span.End()

	completed, err := e.repo.HasCompletion(ctx, task.RunID, task.Kind)
	if err != nil {
		return err
	}
	if completed {
		e.log.Info("activity already completed for run, skipping execution",
			slog.Int64("job_id", job.ID), slog.String("kind", string(task.Kind)))
		return nil
	}

	switch task.Kind {
	case KindTranscribe:
		return e.runTranscribe(ctx, task, job)
	case KindChunk:
		return e.runChunk(ctx, task, job)
	case KindEmbed:
		return e.runEmbed(ctx, task, job)
	}
	return fmt.Errorf("unknown activity kind %q", task.Kind)
}

func (e *Engine) runTranscribe(ctx context.Context, task *Task, job *jobs.Job) error {
	result, err := e.whisper.TranscribeFile(ctx, job.FilePath)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}

	segments := make([]jobs.Segment, len(result.Segments))
	for i, s := range result.Segments {
		segments[i] = jobs.Segment{
			ID:    s.ID,
			Start: s.Start,
			End:   s.End,
			Text:  s.Text,
		}
	}
	transcript := jobs.CanonicalTranscript(segments)

	return e.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := e.jobsRepo.SaveTranscript(ctx, tx, job.ID, transcript, segments, result.Language); err != nil {
			if errors.Is(err, jobs.ErrTranscriptExists) {
				// Another attempt's transcript committed first.
				return ErrAlreadyCompleted
			}
			return err
		}
		return e.repo.MarkCompletion(ctx, tx, job.ID, task.RunID, KindTranscribe, map[string]any{
			"segments": len(segments),
			"language": result.Language,
			"chars":    len(transcript),
		})
	})
}

func (e *Engine) runChunk(ctx context.Context, task *Task, job *jobs.Job) error {
	rows, method, err := e.chunker.ChunkTranscript(ctx, job.Transcript, job.Segments)
	if err != nil {
		return fmt.Errorf("chunk: %w", err)
	}

	e.log.Info("transcript chunked",
		slog.Int64("job_id", job.ID),
		slog.String("method", method),
		slog.Int("chunks", len(rows)))

	return e.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := e.chunksRepo.Replace(ctx, tx, job.ID, rows); err != nil {
			return err
		}
		return e.repo.MarkCompletion(ctx, tx, job.ID, task.RunID, KindChunk, map[string]any{
			"chunks": len(rows),
			"method": method,
		})
	})
}

func (e *Engine) runEmbed(ctx context.Context, task *Task, job *jobs.Job) error {
	missing, err := e.chunksRepo.ListMissingEmbeddings(ctx, job.ID)
	if err != nil {
		return err
	}

	var ids []int64
	var vectors [][]float32
	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for i, c := range missing {
			texts[i] = c.Text
			ids = append(ids, c.ID)
		}

		vectors, err = e.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed: %w", err)
		}
	}

	return e.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if len(ids) > 0 {
			if err := e.chunksRepo.PatchEmbeddings(ctx, tx, ids, vectors); err != nil {
				return err
			}
		}
		return e.repo.MarkCompletion(ctx, tx, job.ID, task.RunID, KindEmbed, map[string]any{
			"embedded": len(ids),
		})
	})
}

// finishTask marks the task completed, reports the milestone, and
// either enqueues the next activity or finalizes the job.
func (e *Engine) finishTask(ctx context.Context, task *Task, def ActivityDef) {
	if err := e.queue.MarkCompleted(ctx, task.ID); err != nil {
		// The completion marker already landed; a reclaim will skip
		// execution and retry this bookkeeping.
		e.log.Error("failed to mark task completed", logger.Error(err), slog.Int64("task_id", task.ID))
		return
	}
	e.worker.IncrementSuccess()

	next := NextKind(task.Kind)
	if next == "" {
		e.finalizeJob(ctx, task)
		return
	}

	if err := e.jobsRepo.SetProgress(ctx, task.JobID, def.Milestone); err == nil {
		e.publish(task.JobID, jobs.StatusProcessing, def.Milestone, def.Phase, "")
	}

	if _, err := e.repo.Enqueue(ctx, nil, task.JobID, task.RunID, next); err != nil {
		e.log.Error("failed to enqueue next activity", logger.Error(err),
			slog.Int64("job_id", task.JobID), slog.String("next", string(next)))
	}
}

// finalizeJob moves the job to completed after its last activity.
func (e *Engine) finalizeJob(ctx context.Context, task *Task) {
	job, err := e.jobsRepo.Transition(ctx, task.JobID, jobs.StatusCompleted)
	if err != nil {
		e.log.Error("failed to complete job", logger.Error(err), slog.Int64("job_id", task.JobID))
		return
	}

	if err := e.jobsRepo.SetProgress(ctx, job.ID, jobs.ProgressCompleted); err != nil {
		e.log.Warn("failed to set final progress", logger.Error(err), slog.Int64("job_id", job.ID))
	}

	e.publish(job.ID, jobs.StatusCompleted, jobs.ProgressCompleted, "", "")

	e.log.Info("job completed", slog.Int64("job_id", job.ID))
}

// cancelJob settles a job whose cancellation was requested: the current
// task and any pending siblings are cancelled, then the job itself.
func (e *Engine) cancelJob(ctx context.Context, task *Task, job *jobs.Job) {
	if err := e.queue.Cancel(ctx, task.ID); err != nil {
		e.log.Warn("failed to cancel task", logger.Error(err), slog.Int64("task_id", task.ID))
	}
	if _, err := e.repo.CancelPendingForJob(ctx, job.ID); err != nil {
		e.log.Warn("failed to cancel sibling tasks", logger.Error(err), slog.Int64("job_id", job.ID))
	}

	if !job.Status.Terminal() {
		if err := e.jobsRepo.SetError(ctx, job.ID, jobs.CancelledError); err != nil {
			e.log.Warn("failed to record cancellation reason", logger.Error(err),
				slog.Int64("job_id", job.ID))
		}
		if _, err := e.jobsRepo.Transition(ctx, job.ID, jobs.StatusFailed); err != nil {
			e.log.Warn("failed to fail cancelled job", logger.Error(err),
				slog.Int64("job_id", job.ID))
			return
		}
	}

	e.publish(job.ID, jobs.StatusFailed, job.Progress, "", jobs.CancelledError)
	e.worker.IncrementProcessed()

	e.log.Info("job cancelled", slog.Int64("job_id", job.ID))
}

// handleFailure retries the task within its budget or fails the job.
func (e *Engine) handleFailure(ctx context.Context, task *Task, def ActivityDef, taskErr error) {
	attempt := task.AttemptCount + 1
	e.worker.IncrementFailure()

	// Progress is monotonic; report the job's current value unchanged.
	lastProgress := 0
	if job, err := e.jobsRepo.GetByID(ctx, task.JobID); err == nil {
		lastProgress = job.Progress
	}

	if retryable(taskErr) && !def.Policy.Exhausted(attempt) {
		delay := def.Policy.NextDelay(attempt)
		if err := e.queue.Retry(ctx, task.ID, attempt, taskErr.Error(), delay); err != nil {
			e.log.Error("failed to schedule retry", logger.Error(err), slog.Int64("task_id", task.ID))
			return
		}

		e.log.Warn("activity failed, will retry",
			slog.Int64("job_id", task.JobID),
			slog.String("kind", string(task.Kind)),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			logger.Error(taskErr))

		e.publish(task.JobID, jobs.StatusProcessing, lastProgress, def.Phase,
			fmt.Sprintf("attempt %d failed, retrying", attempt))
		return
	}

	if err := e.queue.Fail(ctx, task.ID, attempt, taskErr.Error()); err != nil {
		e.log.Error("failed to fail task", logger.Error(err), slog.Int64("task_id", task.ID))
	}

	if err := e.jobsRepo.SetError(ctx, task.JobID, taskErr.Error()); err != nil {
		e.log.Error("failed to record job error", logger.Error(err), slog.Int64("job_id", task.JobID))
	}
	if _, err := e.jobsRepo.Transition(ctx, task.JobID, jobs.StatusFailed); err != nil {
		e.log.Error("failed to transition job to failed", logger.Error(err),
			slog.Int64("job_id", task.JobID))
	}

	e.publish(task.JobID, jobs.StatusFailed, lastProgress, def.Phase, taskErr.Error())

	e.log.Error("job failed",
		slog.Int64("job_id", task.JobID),
		slog.String("kind", string(task.Kind)),
		slog.Int("attempts", attempt),
		logger.Error(taskErr))
}

// publish sends a progress update to the bus.
func (e *Engine) publish(jobID int64, status jobs.Status, prog int, phase, message string) {
	e.bus.Publish(progress.Update{
		JobID:    jobID,
		Status:   status,
		Progress: prog,
		Phase:    phase,
		Message:  message,
	})
}
