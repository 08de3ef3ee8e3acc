package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/guillermoBallester/sqlguard/internal/core/domain"
	"github.com/guillermoBallester/sqlguard/internal/core/service"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server metadata
const serverName = "sqlguard"

// Tool descriptions
const (
	descCheckSQL = "Check a SQL statement against the guard policy without executing it. " +
		"Returns the decision (safe, needs_limit or reject), the reason, and the SQL that would be forwarded. " +
		"A SELECT is safe when it has a LIMIT or filters on an indexed column of every registered table it reads. " +
		"needs_limit means the guard would append the default row limit."

	descCheckSQLParam = "SQL statement to check"

	descPolicy = "Show the active guard policy: dialect, default limit, whether limits are appended, " +
		"whether rejections raise, and the indexed columns registered for each table. " +
		"Use this to write queries that filter on indexed columns."

	descQuery = "Run a SQL statement through the guard and execute it, returning rows as a JSON array of objects. " +
		"Unbounded SELECTs get the default row limit appended; rejected statements are not executed. " +
		"A query timeout is enforced server-side."

	descQueryParam = "SQL statement to execute"
)

// policyView is the JSON shape returned by the describe_policy tool.
type policyView struct {
	Dialect            domain.Dialect      `json:"dialect"`
	DefaultLimit       int                 `json:"default_limit"`
	AddLimit           bool                `json:"add_limit"`
	FailThrowException bool                `json:"fail_throw_exception"`
	Tables             map[string][]string `json:"tables"`
}

// RegisterTools adds the guard tools to s. The query tool is only registered
// when query is non-nil, i.e. a database is configured.
func RegisterTools(s *server.MCPServer, guard *service.Guard, query *service.QueryService, logger *slog.Logger) {
	s.AddTool(
		mcp.NewTool("check_sql",
			mcp.WithDescription(descCheckSQL),
			mcp.WithString("sql",
				mcp.Required(),
				mcp.Description(descCheckSQLParam),
			),
		),
		checkSQLHandler(guard),
	)

	s.AddTool(
		mcp.NewTool("describe_policy",
			mcp.WithDescription(descPolicy),
		),
		describePolicyHandler(guard.Config()),
	)

	if query != nil {
		s.AddTool(
			mcp.NewTool("query",
				mcp.WithDescription(descQuery),
				mcp.WithString("sql",
					mcp.Required(),
					mcp.Description(descQueryParam),
				),
			),
			queryHandler(query, logger),
		)
	}
}

func checkSQLHandler(guard *service.Guard) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, ok := request.GetArguments()["sql"].(string)
		if !ok || sql == "" {
			return mcp.NewToolResultError("sql is required"), nil
		}

		ctx = service.WithToolName(ctx, "check_sql")
		// A rejection under failThrowException is still a successful check.
		out, err := guard.Apply(ctx, sql)
		if err != nil && !errors.Is(err, domain.ErrRejected) {
			return mcp.NewToolResultError(fmt.Sprintf("check failed: %v", err)), nil
		}

		data, err := json.Marshal(out)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func describePolicyHandler(cfg *domain.GuardConfig) server.ToolHandlerFunc {
	return func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		view := policyView{
			Dialect:            cfg.Dialect,
			DefaultLimit:       cfg.DefaultLimit,
			AddLimit:           cfg.AddLimit,
			FailThrowException: cfg.FailThrowException,
			Tables:             make(map[string][]string),
		}
		for _, t := range cfg.Tables() {
			view.Tables[t] = cfg.Columns(t)
		}

		data, err := json.Marshal(view)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func queryHandler(query *service.QueryService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, ok := request.GetArguments()["sql"].(string)
		if !ok || sql == "" {
			return mcp.NewToolResultError("sql is required"), nil
		}

		ctx = service.WithToolName(ctx, "query")
		results, err := query.Execute(ctx, sql)
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "query")), nil
		}

		data, err := json.Marshal(results)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

// sanitizeError maps an error to a message that is safe to return to the
// client. Guard decisions pass through verbatim; database internals are
// logged and replaced with a generic message.
func sanitizeError(logger *slog.Logger, err error, op string) string {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, domain.ErrRejected):
		return fmt.Sprintf("%s rejected: %v", op, err)
	case errors.Is(err, domain.ErrEmptyQuery):
		return fmt.Sprintf("%s failed: empty query", op)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s timed out", op)
	case errors.As(err, &pgErr) && pgErr.Code == pgQueryCanceled:
		return fmt.Sprintf("%s timed out", op)
	case errors.As(err, &pgErr):
		// Constraint and syntax errors are actionable for the caller.
		return fmt.Sprintf("%s failed: %s (SQLSTATE %s)", op, pgErr.Message, pgErr.Code)
	}

	logger.Error("tool error",
		slog.String("mcp.operation", op),
		slog.String("error.type", "internal_error"),
		slog.String("error.message", err.Error()),
	)
	return fmt.Sprintf("%s failed: internal error, check server logs", op)
}

// pgQueryCanceled is SQLSTATE 57014, raised when statement_timeout fires.
const pgQueryCanceled = "57014"
