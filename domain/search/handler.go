package search

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/skald-labs/skald/pkg/apperror"
	"github.com/skald-labs/skald/pkg/auth"
)

// Handler handles HTTP requests for semantic search
type Handler struct {
	svc *Service
}

// NewHandler creates a new search handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Search handles GET /api/search
// @Summary Semantic transcript search
// @Description Search the chunks of your completed transcription jobs by meaning
// @Tags search
// @Produce json
// @Param q query string true "Search query"
// @Param limit query int false "Result limit (default 10, max 50)"
// @Param jobId query int false "Restrict to a single job"
// @Success 200 {object} Response
// @Failure 400 {object} apperror.Error
// @Failure 401 {object} apperror.Error
// @Router /api/search [get]
// @Security bearerAuth
func (h *Handler) Search(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	req := &Request{}
	if err := c.Bind(req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid search parameters")
	}

	resp, err := h.svc.Search(c.Request().Context(), user.ID, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}
