package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/guillermoBallester/sqlguard/internal/core/port"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// callState holds per-request timing and span data.
type callState struct {
	start time.Time
	span  trace.Span
}

// callTracker pairs before-call and after-call hooks by request id.
type callTracker struct {
	calls  sync.Map // id -> *callState
	logger *slog.Logger
	tracer trace.Tracer
	inst   port.Instrumentation
}

// ToolCallHooks creates MCP hooks that log every tool call and record a span
// and a duration metric for it. tracer and inst may be nil.
func ToolCallHooks(logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.Hooks {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	ct := &callTracker{logger: logger, tracer: tracer, inst: inst}

	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(ct.before)
	hooks.AddAfterCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest, result any) {
		var err error
		if r, ok := result.(*mcp.CallToolResult); ok && r.IsError {
			err = fmt.Errorf("tool %s returned error", req.Params.Name)
		}
		ct.finish(ctx, id, req.Params.Name, err)
	})
	hooks.AddOnError(func(ctx context.Context, id any, _ mcp.MCPMethod, message any, err error) {
		req, ok := message.(*mcp.CallToolRequest)
		if !ok {
			return
		}
		ct.finish(ctx, id, req.Params.Name, err)
	})
	return hooks
}

func (ct *callTracker) before(ctx context.Context, id any, req *mcp.CallToolRequest) {
	sql, _ := req.GetArguments()["sql"].(string)
	_, span := ct.tracer.Start(ctx, "mcp.tool.call",
		trace.WithAttributes(
			attribute.String("mcp.tool", req.Params.Name),
			attribute.Int("db.statement.length", len(sql)),
		),
	)
	ct.calls.Store(id, &callState{start: time.Now(), span: span})
}

func (ct *callTracker) finish(ctx context.Context, id any, tool string, err error) {
	v, ok := ct.calls.LoadAndDelete(id)
	if !ok {
		return
	}
	state := v.(*callState)
	duration := time.Since(state.start)

	attrs := []slog.Attr{
		slog.String("rpc.method", "tools/call"),
		slog.String("mcp.tool", tool),
		slog.Duration("duration", duration),
		slog.Bool("error", err != nil),
	}
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
		attrs = append(attrs, slog.String("error.message", err.Error()))
		state.span.RecordError(err)
		state.span.SetStatus(codes.Error, err.Error())
	}
	ct.logger.LogAttrs(ctx, level, "tool call", attrs...)

	ct.inst.RecordToolDuration(ctx, float64(duration.Microseconds())/1000)
	state.span.End()
}
