package progress

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/skald-labs/skald/pkg/auth"
)

// Module provides the progress domain
var Module = fx.Module("progress",
	fx.Provide(NewBus),
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

// RegisterRoutes registers the progress routes
func RegisterRoutes(p RouteParams) {
	RegisterRoutesManual(p.Echo, p.Handler, p.AuthMiddleware)
}

// RegisterRoutesManual registers the progress routes without fx
func RegisterRoutesManual(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	g := e.Group("/api/jobs")
	g.Use(authMiddleware.RequireAuth())

	g.GET("/:id/events", h.HandleStream, authMiddleware.RequireScopes("jobs:read"))
}
