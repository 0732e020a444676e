package health

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"

	"github.com/skald-labs/skald/domain/scheduler"
)

// MetricsHandler handles pipeline metrics requests
type MetricsHandler struct {
	db    *bun.DB
	sched *scheduler.Scheduler
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(db *bun.DB, sched *scheduler.Scheduler) *MetricsHandler {
	return &MetricsHandler{
		db:    db,
		sched: sched,
	}
}

// ActivityMetrics represents task metrics for a single pipeline activity
type ActivityMetrics struct {
	Activity    string `json:"activity"`
	Pending     int64  `json:"pending"`
	Running     int64  `json:"running"`
	Completed   int64  `json:"completed"`
	Failed      int64  `json:"failed"`
	Cancelled   int64  `json:"cancelled"`
	Total       int64  `json:"total"`
	LastHour    int64  `json:"last_hour"`
	Last24Hours int64  `json:"last_24_hours"`
}

// JobStatusMetrics represents job counts per status
type JobStatusMetrics struct {
	Pending    int64 `json:"pending" bun:"pending"`
	Processing int64 `json:"processing" bun:"processing"`
	Completed  int64 `json:"completed" bun:"completed"`
	Failed     int64 `json:"failed" bun:"failed"`
	Cancelled  int64 `json:"cancelled" bun:"cancelled"`
	Total      int64 `json:"total" bun:"total"`
}

// PipelineMetrics contains metrics across the pipeline
type PipelineMetrics struct {
	Jobs       JobStatusMetrics  `json:"jobs"`
	Activities []ActivityMetrics `json:"activities"`
	Timestamp  string            `json:"timestamp"`
}

// PipelineStats returns task metrics for the transcription pipeline
func (h *MetricsHandler) PipelineStats(c echo.Context) error {
	ctx := c.Request().Context()

	jobs, err := h.getJobMetrics(ctx)
	if err != nil {
		return err
	}

	activities, err := h.getActivityMetrics(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, PipelineMetrics{
		Jobs:       *jobs,
		Activities: activities,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *MetricsHandler) getJobMetrics(ctx context.Context) (*JobStatusMetrics, error) {
	// Cancelled jobs land in status=failed with the cancellation reason
	// as their error; they are broken out separately for operators.
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') as pending,
			COUNT(*) FILTER (WHERE status = 'processing') as processing,
			COUNT(*) FILTER (WHERE status = 'completed') as completed,
			COUNT(*) FILTER (WHERE status = 'failed' AND error IS DISTINCT FROM 'cancelled') as failed,
			COUNT(*) FILTER (WHERE status = 'failed' AND error = 'cancelled') as cancelled,
			COUNT(*) as total
		FROM skald.jobs`

	metrics := &JobStatusMetrics{}
	if err := h.db.NewRaw(query).Scan(ctx, metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

func (h *MetricsHandler) getActivityMetrics(ctx context.Context) ([]ActivityMetrics, error) {
	query := `
		SELECT
			kind as activity,
			COUNT(*) FILTER (WHERE status = 'pending') as pending,
			COUNT(*) FILTER (WHERE status = 'running') as running,
			COUNT(*) FILTER (WHERE status = 'completed') as completed,
			COUNT(*) FILTER (WHERE status = 'failed') as failed,
			COUNT(*) FILTER (WHERE status = 'cancelled') as cancelled,
			COUNT(*) as total,
			COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '1 hour') as last_hour,
			COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '24 hours') as last_24_hours
		FROM skald.pipeline_tasks
		GROUP BY kind
		ORDER BY kind`

	var rows []struct {
		Activity    string `bun:"activity"`
		Pending     int64  `bun:"pending"`
		Running     int64  `bun:"running"`
		Completed   int64  `bun:"completed"`
		Failed      int64  `bun:"failed"`
		Cancelled   int64  `bun:"cancelled"`
		Total       int64  `bun:"total"`
		LastHour    int64  `bun:"last_hour"`
		Last24Hours int64  `bun:"last_24_hours"`
	}

	if err := h.db.NewRaw(query).Scan(ctx, &rows); err != nil {
		return nil, err
	}

	metrics := make([]ActivityMetrics, len(rows))
	for i, r := range rows {
		metrics[i] = ActivityMetrics{
			Activity:    r.Activity,
			Pending:     r.Pending,
			Running:     r.Running,
			Completed:   r.Completed,
			Failed:      r.Failed,
			Cancelled:   r.Cancelled,
			Total:       r.Total,
			LastHour:    r.LastHour,
			Last24Hours: r.Last24Hours,
		}
	}
	return metrics, nil
}

// SchedulerMetrics returns info about scheduled maintenance tasks
func (h *MetricsHandler) SchedulerMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"running": h.sched.IsRunning(),
		"tasks":   h.sched.GetTaskInfo(),
	})
}
