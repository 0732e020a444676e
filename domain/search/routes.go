package search

import (
	"github.com/labstack/echo/v4"

	"github.com/skald-labs/skald/pkg/auth"
)

// RegisterRoutes registers the search routes
func RegisterRoutes(e *echo.Echo, handler *Handler, authMiddleware *auth.Middleware) {
	search := e.Group("/api/search")
	search.Use(authMiddleware.RequireAuth())
	search.Use(authMiddleware.RequireScopes("search:read"))

	search.GET("", handler.Search)
}
