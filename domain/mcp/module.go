package mcp

import (
	"go.uber.org/fx"
)

// Module provides the MCP domain
var Module = fx.Module("mcp",
	fx.Provide(NewService),
	fx.Invoke(RegisterRoutes),
)
