package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/guillermoBallester/sqlguard/internal/core/domain"
	"github.com/guillermoBallester/sqlguard/internal/core/port"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type toolNameKey struct{}

// WithToolName returns a context carrying the MCP tool name for audit logging.
func WithToolName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, toolNameKey{}, name)
}

func toolNameFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(toolNameKey{}).(string); ok {
		return v
	}
	return ""
}

// QueryService runs SQL through the guard (domain) and then the executor (infrastructure).
type QueryService struct {
	guard    *Guard
	executor port.QueryExecutor
	auditor  port.QueryAuditor
	logger   *slog.Logger
	tracer   trace.Tracer
	inst     port.Instrumentation
}

func NewQueryService(guard *Guard, executor port.QueryExecutor, auditor port.QueryAuditor, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *QueryService {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	if auditor == nil {
		auditor = port.NoopAuditor{}
	}
	return &QueryService{
		guard:    guard,
		executor: executor,
		auditor:  auditor,
		logger:   logger,
		tracer:   tracer,
		inst:     inst,
	}
}

// Execute applies the guard and, unless the statement is rejected, delegates
// the (possibly rewritten) SQL to the executor. Blank SQL returns
// domain.ErrEmptyQuery without reaching the executor.
func (s *QueryService) Execute(ctx context.Context, sql string) ([]map[string]any, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, domain.ErrEmptyQuery
	}

	ctx, span := s.tracer.Start(ctx, "QueryService.Execute",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation.name", "query"),
			attribute.String("db.statement", sql),
		),
	)
	defer span.End()

	out, err := s.guard.Apply(ctx, sql)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.inst.IncrementQueryErrors(ctx)
		return nil, fmt.Errorf("guard: %w", err)
	}
	span.SetAttributes(attribute.Bool("guard.rewritten", out.Rewritten()))

	start := time.Now()
	results, err := s.executor.Execute(ctx, out.SQL)
	durationMS := time.Since(start).Milliseconds()

	s.inst.RecordQueryDuration(ctx, float64(durationMS))

	s.auditor.Record(ctx, port.AuditEntry{
		Tool:         toolNameFromCtx(ctx),
		SQL:          sql,
		RewrittenSQL: out.SQL,
		Result:       out.Result.String(),
		Reason:       out.Reason,
		Executed:     true,
		RowsReturned: len(results),
		DurationMS:   durationMS,
		Err:          err,
	})

	if err != nil {
		s.logger.ErrorContext(ctx, "query execution failed",
			slog.String("db.statement", out.SQL),
			slog.String("error.type", "execution_error"),
			slog.String("error.message", err.Error()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.inst.IncrementQueryErrors(ctx)
		return results, err
	}

	s.inst.IncrementQueryCount(ctx)
	span.SetAttributes(attribute.Int("db.response.rows", len(results)))

	return results, nil
}
