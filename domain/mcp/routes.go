package mcp

import (
	"github.com/labstack/echo/v4"
	"github.com/mark3labs/mcp-go/server"

	"github.com/skald-labs/skald/pkg/auth"
)

// RegisterRoutes mounts the MCP Streamable HTTP transport at /api/mcp.
// The endpoint speaks POST for requests, GET for the optional event
// stream and DELETE for session teardown, so all three are routed.
func RegisterRoutes(e *echo.Echo, svc *Service, authMiddleware *auth.Middleware) {
	httpServer := server.NewStreamableHTTPServer(svc.Server(),
		server.WithStateLess(true),
	)

	handler := func(c echo.Context) error {
		// Tool handlers read the user from the request context; the
		// echo middleware only sets it on the echo context.
		user := auth.GetUser(c)
		r := c.Request()
		r = r.WithContext(WithUser(r.Context(), user))

		httpServer.ServeHTTP(c.Response(), r)
		return nil
	}

	g := e.Group("/api/mcp")
	g.Use(authMiddleware.RequireAuth())
	g.POST("", handler)
	g.GET("", handler)
	g.DELETE("", handler)
}
