package intake

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/skald-labs/skald/domain/chunks"
	"github.com/skald-labs/skald/domain/jobs"
	"github.com/skald-labs/skald/pkg/apperror"
	"github.com/skald-labs/skald/pkg/auth"
	"github.com/skald-labs/skald/pkg/mathutil"
)

// Handler handles HTTP requests for job intake and retrieval
type Handler struct {
	svc        *Service
	jobsRepo   *jobs.Repository
	chunksRepo *chunks.Repository
}

// NewHandler creates a new intake handler
func NewHandler(svc *Service, jobsRepo *jobs.Repository, chunksRepo *chunks.Repository) *Handler {
	return &Handler{
		svc:        svc,
		jobsRepo:   jobsRepo,
		chunksRepo: chunksRepo,
	}
}

func jobIDParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, apperror.ErrBadRequest.WithMessage("invalid job id")
	}
	return id, nil
}

// Upload handles POST /api/upload
// @Summary Upload audio for transcription
// @Description Accepts an audio file, creates a transcription job and starts the pipeline
// @Tags jobs
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Audio file"
// @Success 201 {object} jobs.JobDTO
// @Failure 400 {object} apperror.Error
// @Failure 413 {object} apperror.Error "File exceeds the size limit"
// @Failure 415 {object} apperror.Error "Unsupported audio type"
// @Router /api/upload [post]
// @Security bearerAuth
func (h *Handler) Upload(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	file, err := c.FormFile("file")
	if err != nil {
		return apperror.ErrBadRequest.WithMessage("file required in multipart form")
	}

	job, err := h.svc.Upload(c.Request().Context(), user.ID, file)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, job.ToDTO())
}

// ListJobs handles GET /api/user/jobs
// @Summary List your transcription jobs
// @Tags jobs
// @Produce json
// @Param limit query int false "Page size (default 20, max 100)"
// @Param offset query int false "Page offset"
// @Success 200 {object} jobs.ListJobsResponse
// @Router /api/user/jobs [get]
// @Security bearerAuth
func (h *Handler) ListJobs(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit = mathutil.ClampLimit(limit, 20, 100)
	if offset < 0 {
		offset = 0
	}

	list, total, err := h.jobsRepo.ListByUser(c.Request().Context(), user.ID, limit, offset)
	if err != nil {
		return err
	}

	dtos := make([]*jobs.JobDTO, len(list))
	for i, job := range list {
		dtos[i] = job.ToDTO()
	}

	return c.JSON(http.StatusOK, jobs.ListJobsResponse{
		Data:       dtos,
		TotalCount: total,
	})
}

// GetJob handles GET /api/jobs/:id
// @Summary Get a job with its transcript
// @Tags jobs
// @Produce json
// @Success 200 {object} jobs.JobDetailDTO
// @Failure 404 {object} apperror.Error
// @Router /api/jobs/{id} [get]
// @Security bearerAuth
func (h *Handler) GetJob(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	id, err := jobIDParam(c)
	if err != nil {
		return err
	}

	job, err := h.jobsRepo.GetByIDForUser(c.Request().Context(), id, user.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, job.ToDetailDTO())
}

// ListChunks handles GET /api/jobs/:id/chunks
// @Summary List a job's semantic chunks
// @Tags jobs
// @Produce json
// @Success 200 {object} chunks.ListChunksResponse
// @Failure 404 {object} apperror.Error
// @Router /api/jobs/{id}/chunks [get]
// @Security bearerAuth
func (h *Handler) ListChunks(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	id, err := jobIDParam(c)
	if err != nil {
		return err
	}

	// Ownership check before touching chunks.
	if _, err := h.jobsRepo.GetByIDForUser(c.Request().Context(), id, user.ID); err != nil {
		return err
	}

	list, err := h.chunksRepo.ListByJob(c.Request().Context(), id)
	if err != nil {
		return err
	}

	dtos := make([]*chunks.ChunkDTO, len(list))
	for i, chunk := range list {
		dtos[i] = chunk.ToDTO()
	}

	return c.JSON(http.StatusOK, chunks.ListChunksResponse{
		Data:       dtos,
		TotalCount: len(dtos),
	})
}

// Download handles GET /api/jobs/:id/download
// @Summary Download a transcript as txt or srt
// @Tags jobs
// @Produce plain
// @Param format query string false "txt (default) or srt"
// @Success 200 {string} string
// @Failure 409 {object} apperror.Error "Job not completed yet"
// @Router /api/jobs/{id}/download [get]
// @Security bearerAuth
func (h *Handler) Download(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	id, err := jobIDParam(c)
	if err != nil {
		return err
	}

	content, contentType, filename, err := h.svc.Transcript(
		c.Request().Context(), user.ID, id, c.QueryParam("format"))
	if err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Blob(http.StatusOK, contentType, []byte(content))
}

// Cancel handles POST /api/jobs/:id/cancel
// @Summary Cancel a job
// @Tags jobs
// @Produce json
// @Success 200 {object} jobs.JobDTO
// @Failure 409 {object} apperror.Error "Job already finished"
// @Router /api/jobs/{id}/cancel [post]
// @Security bearerAuth
func (h *Handler) Cancel(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	id, err := jobIDParam(c)
	if err != nil {
		return err
	}

	job, err := h.svc.Cancel(c.Request().Context(), user.ID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, job.ToDTO())
}

// Delete handles DELETE /api/jobs/:id
// @Summary Delete a job and all its data
// @Tags jobs
// @Success 204
// @Failure 404 {object} apperror.Error
// @Router /api/jobs/{id} [delete]
// @Security bearerAuth
func (h *Handler) Delete(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	id, err := jobIDParam(c)
	if err != nil {
		return err
	}

	if err := h.svc.Delete(c.Request().Context(), user.ID, id); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// AdminListJobs handles GET /api/admin/jobs
// @Summary List all jobs across users
// @Tags admin
// @Produce json
// @Param status query string false "Filter by status"
// @Param limit query int false "Page size (default 50, max 200)"
// @Param offset query int false "Page offset"
// @Success 200 {object} jobs.ListJobsResponse
// @Router /api/admin/jobs [get]
// @Security bearerAuth
func (h *Handler) AdminListJobs(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit = mathutil.ClampLimit(limit, 50, 200)
	if offset < 0 {
		offset = 0
	}

	status := jobs.Status(c.QueryParam("status"))

	list, total, err := h.jobsRepo.ListAll(c.Request().Context(), status, limit, offset)
	if err != nil {
		return err
	}

	dtos := make([]*jobs.JobDTO, len(list))
	for i, job := range list {
		dtos[i] = job.ToDTO()
	}

	return c.JSON(http.StatusOK, jobs.ListJobsResponse{
		Data:       dtos,
		TotalCount: total,
	})
}
