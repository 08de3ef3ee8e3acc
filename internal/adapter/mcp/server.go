package mcp

import (
	"log/slog"

	"github.com/guillermoBallester/sqlguard/internal/core/port"
	"github.com/guillermoBallester/sqlguard/internal/core/service"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
)

// NewServer creates an MCPServer with the guard tools and logging hooks.
// query may be nil when no database is configured.
func NewServer(version string, guard *service.Guard, query *service.QueryService, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(true),
		server.WithHooks(ToolCallHooks(logger, tracer, inst)),
	)

	RegisterTools(s, guard, query, logger)

	return s
}
