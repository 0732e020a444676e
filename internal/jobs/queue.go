// Package jobs provides a PostgreSQL-backed task queue implementation.
//
// The queue is table-driven so domain modules can point it at their own
// task tables. It provides:
//   - Atomic claim with FOR UPDATE SKIP LOCKED
//   - Heartbeat-based liveness for claimed tasks
//   - Exponential backoff for retries
//   - Stale task recovery
//   - Queue statistics
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/uptrace/bun"
)

// TaskStatus represents the state of a queued task
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// QueueConfig contains configuration for a task queue
type QueueConfig struct {
	// TableName is the fully qualified table name (e.g., "skald.pipeline_tasks")
	TableName string
	// BatchSize is the default number of tasks to claim at once (default: 1)
	BatchSize int
}

// Queue provides base task queue operations using PostgreSQL.
// It uses FOR UPDATE SKIP LOCKED for concurrent worker safety.
type Queue struct {
	db     bun.IDB
	config QueueConfig
	log    *slog.Logger
}

// NewQueue creates a new task queue with the given configuration
func NewQueue(db bun.IDB, config QueueConfig, log *slog.Logger) *Queue {
	if config.BatchSize == 0 {
		config.BatchSize = 1
	}

	return &Queue{
		db:     db,
		config: config,
		log:    log,
	}
}

// Claim atomically claims runnable tasks for the given worker.
//
// Tasks are taken FIFO by created_at, gated on scheduled_at so retry
// backoff is honored. FOR UPDATE SKIP LOCKED lets concurrent workers
// claim without blocking each other.
func (q *Queue) Claim(ctx context.Context, workerID string, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = q.config.BatchSize
	}

	// Strategic SQL that cannot be expressed with Bun's query builder
	query := fmt.Sprintf(`
		WITH cte AS (
			SELECT id FROM %s
			WHERE status='pending' AND (scheduled_at IS NULL OR scheduled_at <= now())
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)
		UPDATE %s t
		SET status='running', claimed_by=$2, started_at=now(), heartbeat_at=now(), updated_at=now()
		FROM cte WHERE t.id = cte.id
		RETURNING t.id`,
		q.config.TableName, q.config.TableName)

	var ids []int64
	_, err := q.db.NewRaw(query, limit, workerID).Exec(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("claim failed: %w", err)
	}

	return ids, nil
}

// Heartbeat refreshes the liveness timestamp of a running task. It is a
// no-op if the task is no longer running or was reclaimed by another
// worker, and reports whether the heartbeat landed.
func (q *Queue) Heartbeat(ctx context.Context, id int64, workerID string) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET heartbeat_at = now(), updated_at = now()
		WHERE id = $1 AND claimed_by = $2 AND status = 'running'`,
		q.config.TableName)

	result, err := q.db.ExecContext(ctx, query, id, workerID)
	if err != nil {
		return false, fmt.Errorf("heartbeat failed: %w", err)
	}

	count, _ := result.RowsAffected()
	return count > 0, nil
}

// MarkCompleted marks a task as completed
func (q *Queue) MarkCompleted(ctx context.Context, id int64) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'completed',
			completed_at = now(),
			updated_at = now()
		WHERE id = $1`,
		q.config.TableName)

	_, err := q.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark completed failed: %w", err)
	}

	return nil
}

// Retry returns a task to pending with the given backoff delay.
func (q *Queue) Retry(ctx context.Context, id int64, attempt int, errMsg string, delay time.Duration) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'pending',
			claimed_by = NULL,
			attempt_count = $2,
			last_error = $3,
			scheduled_at = now() + ($4 || ' milliseconds')::interval,
			updated_at = now()
		WHERE id = $1`,
		q.config.TableName)

	_, err := q.db.ExecContext(ctx, query, id, attempt, truncateError(errMsg), fmt.Sprintf("%d", delay.Milliseconds()))
	if err != nil {
		return fmt.Errorf("retry failed: %w", err)
	}

	q.log.Debug("task scheduled for retry",
		slog.Int64("task_id", id),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay))

	return nil
}

// Fail permanently marks a task as failed.
func (q *Queue) Fail(ctx context.Context, id int64, attempt int, errMsg string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'failed',
			attempt_count = $2,
			last_error = $3,
			updated_at = now()
		WHERE id = $1`,
		q.config.TableName)

	_, err := q.db.ExecContext(ctx, query, id, attempt, truncateError(errMsg))
	if err != nil {
		return fmt.Errorf("fail failed: %w", err)
	}

	q.log.Warn("task permanently failed",
		slog.Int64("task_id", id),
		slog.Int("attempts", attempt),
		slog.String("error", errMsg))

	return nil
}

// Cancel marks a pending or running task as cancelled.
func (q *Queue) Cancel(ctx context.Context, id int64) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'cancelled',
			updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'running')`,
		q.config.TableName)

	_, err := q.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("cancel failed: %w", err)
	}

	return nil
}

// RecoverStale returns tasks whose heartbeat went silent to pending.
// This catches worker crashes and hard kills: the claimed task keeps
// its attempt count, so a crash-looping input still exhausts its retry
// budget instead of spinning forever.
func (q *Queue) RecoverStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	if staleAfter <= 0 {
		staleAfter = time.Minute
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'pending',
			claimed_by = NULL,
			started_at = NULL,
			scheduled_at = now(),
			updated_at = now()
		WHERE status = 'running'
			AND heartbeat_at < now() - ($1 || ' milliseconds')::interval`,
		q.config.TableName)

	result, err := q.db.ExecContext(ctx, query, fmt.Sprintf("%d", staleAfter.Milliseconds()))
	if err != nil {
		return 0, fmt.Errorf("recover stale tasks failed: %w", err)
	}

	count, _ := result.RowsAffected()

	if count > 0 {
		q.log.Warn("recovered stale tasks",
			slog.Int64("count", count),
			slog.Duration("stale_after", staleAfter))
	}

	return int(count), nil
}

// RecoverStaleByKind is RecoverStale scoped to one task kind, so each
// kind can carry its own heartbeat timeout.
func (q *Queue) RecoverStaleByKind(ctx context.Context, kind string, staleAfter time.Duration) (int, error) {
	if staleAfter <= 0 {
		staleAfter = time.Minute
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'pending',
			claimed_by = NULL,
			started_at = NULL,
			scheduled_at = now(),
			updated_at = now()
		WHERE status = 'running'
			AND kind = $1
			AND heartbeat_at < now() - ($2 || ' milliseconds')::interval`,
		q.config.TableName)

	result, err := q.db.ExecContext(ctx, query, kind, fmt.Sprintf("%d", staleAfter.Milliseconds()))
	if err != nil {
		return 0, fmt.Errorf("recover stale tasks failed: %w", err)
	}

	count, _ := result.RowsAffected()

	if count > 0 {
		q.log.Warn("recovered stale tasks",
			slog.Int64("count", count),
			slog.String("kind", kind),
			slog.Duration("stale_after", staleAfter))
	}

	return int(count), nil
}

// Stats represents queue statistics
type Stats struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	query := fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') as pending,
			COUNT(*) FILTER (WHERE status = 'running') as running,
			COUNT(*) FILTER (WHERE status = 'completed') as completed,
			COUNT(*) FILTER (WHERE status = 'failed') as failed,
			COUNT(*) FILTER (WHERE status = 'cancelled') as cancelled
		FROM %s`,
		q.config.TableName)

	stats := &Stats{}
	err := q.db.QueryRowContext(ctx, query).Scan(&stats.Pending, &stats.Running, &stats.Completed, &stats.Failed, &stats.Cancelled)
	if err != nil {
		return nil, fmt.Errorf("get stats failed: %w", err)
	}

	return stats, nil
}

// RetryPolicy describes how an operation is retried. Delay for attempt
// n is InitialBackoff * BackoffMultiplier^(n-1), capped at MaxBackoff.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// NextDelay returns the backoff delay before the given retry attempt
// (1-based: attempt 1 already ran and failed).
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}

	delay := float64(p.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if p.MaxBackoff > 0 && delay > float64(p.MaxBackoff) {
		delay = float64(p.MaxBackoff)
	}
	return time.Duration(delay)
}

// Exhausted reports whether the attempt count used up the retry budget.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// truncateError truncates an error message to 500 characters
func truncateError(msg string) string {
	if len(msg) > 500 {
		return msg[:500]
	}
	return msg
}
