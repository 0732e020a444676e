package progress

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/skald-labs/skald/domain/jobs"
	"github.com/skald-labs/skald/pkg/apperror"
	"github.com/skald-labs/skald/pkg/auth"
	"github.com/skald-labs/skald/pkg/logger"
	"github.com/skald-labs/skald/pkg/sse"
)

// HeartbeatInterval is how often to send SSE keep-alive comments
const HeartbeatInterval = 30 * time.Second

// Handler streams job progress over SSE
type Handler struct {
	bus      *Bus
	jobsRepo *jobs.Repository
	log      *slog.Logger
}

// NewHandler creates a new progress handler
func NewHandler(bus *Bus, jobsRepo *jobs.Repository, log *slog.Logger) *Handler {
	return &Handler{
		bus:      bus,
		jobsRepo: jobsRepo,
		log:      log.With(logger.Scope("progress.handler")),
	}
}

// HandleStream handles GET /api/jobs/:id/events - SSE progress stream.
// The first event is always a snapshot of the job's current state;
// live updates follow, and the stream ends with a done event once the
// job reaches a terminal status.
func (h *Handler) HandleStream(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	jobID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid job id")
	}

	// Subscribe before reading the snapshot so no update between the
	// two can be missed.
	updates, unsubscribe := h.bus.Subscribe(jobID)
	defer unsubscribe()

	job, err := h.jobsRepo.GetByIDForUser(c.Request().Context(), jobID, user.ID)
	if err != nil {
		return err
	}

	w := sse.NewWriter(c.Response().Writer)
	if err := w.Start(); err != nil {
		return apperror.ErrInternal.WithMessage("streaming not supported")
	}
	defer w.Close()

	snapshot := sse.NewSnapshotEvent(job.ID, string(job.Status), job.Progress)
	if err := w.WriteEvent(string(sse.EventSnapshot), snapshot); err != nil {
		return nil
	}

	if job.Status.Terminal() {
		h.finish(w, job.ID, job.Status, job.Error)
		return nil
	}

	h.log.Debug("progress stream opened",
		slog.Int64("job_id", jobID), slog.String("user_id", user.ID))

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			h.log.Debug("progress stream closed (client disconnected)",
				slog.Int64("job_id", jobID))
			return nil

		case <-ticker.C:
			if err := w.WriteComment("heartbeat"); err != nil {
				return nil
			}

		case u := <-updates:
			ev := sse.NewProgressEvent(u.JobID, string(u.Status), u.Progress, u.Phase, u.Message)
			ev.Lagging = u.Lagging
			if err := w.WriteEvent(string(sse.EventProgress), ev); err != nil {
				return nil
			}

			if u.Status.Terminal() {
				h.finish(w, u.JobID, u.Status, u.Message)
				return nil
			}
		}
	}
}

// finish emits the terminal tail of a stream: an error event for failed
// jobs, then the done event.
func (h *Handler) finish(w *sse.Writer, jobID int64, status jobs.Status, errMsg string) {
	if status == jobs.StatusFailed && errMsg != "" {
		_ = w.WriteEvent(string(sse.EventError), sse.NewErrorEvent(jobID, errMsg))
	}
	_ = w.WriteEvent(string(sse.EventDone), sse.NewDoneEvent(jobID, string(status)))
}
