package intake

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/skald-labs/skald/pkg/auth"
)

// Module provides the intake domain
var Module = fx.Module("intake",
	fx.Provide(NewService),
	fx.Provide(NewHandler),
	fx.Invoke(RegisterRoutes),
)

// RouteParams are the dependencies for registering routes
type RouteParams struct {
	fx.In

	Echo           *echo.Echo
	Handler        *Handler
	AuthMiddleware *auth.Middleware
}

// RegisterRoutes registers the intake routes
func RegisterRoutes(p RouteParams) {
	RegisterRoutesManual(p.Echo, p.Handler, p.AuthMiddleware)
}

// RegisterRoutesManual registers the intake routes without fx
func RegisterRoutesManual(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	api := e.Group("/api")
	api.Use(authMiddleware.RequireAuth())

	api.POST("/upload", h.Upload, authMiddleware.RequireScopes("jobs:write"))
	api.GET("/user/jobs", h.ListJobs, authMiddleware.RequireScopes("jobs:read"))

	jobs := api.Group("/jobs")
	jobs.GET("/:id", h.GetJob, authMiddleware.RequireScopes("jobs:read"))
	jobs.GET("/:id/chunks", h.ListChunks, authMiddleware.RequireScopes("chunks:read"))
	jobs.GET("/:id/download", h.Download, authMiddleware.RequireScopes("jobs:read"))
	jobs.POST("/:id/cancel", h.Cancel, authMiddleware.RequireScopes("jobs:write"))
	jobs.DELETE("/:id", h.Delete, authMiddleware.RequireScopes("jobs:delete"))

	admin := api.Group("/admin")
	admin.GET("/jobs", h.AdminListJobs, authMiddleware.RequireScopes("admin:read"))
}
