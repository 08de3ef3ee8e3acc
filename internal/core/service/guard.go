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

// Outcome is what the execution pipeline should do with a statement: the
// decision that was reached and the SQL to forward.
type Outcome struct {
	domain.Decision
	OriginalSQL string `json:"sql"`
	SQL         string `json:"rewritten_sql"`
}

// Rewritten reports whether the forwarded SQL differs from the original.
func (o Outcome) Rewritten() bool {
	return o.SQL != o.OriginalSQL
}

// Guard classifies outgoing SQL against a GuardConfig and applies the
// resulting action. It holds no mutable state and is safe for concurrent use.
type Guard struct {
	cfg     *domain.GuardConfig
	parser  port.StatementParser
	auditor port.QueryAuditor
	logger  *slog.Logger
	tracer  trace.Tracer
	inst    port.Instrumentation
}

func NewGuard(cfg *domain.GuardConfig, parser port.StatementParser, auditor port.QueryAuditor, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *Guard {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	if auditor == nil {
		auditor = port.NoopAuditor{}
	}
	return &Guard{
		cfg:     cfg,
		parser:  parser,
		auditor: auditor,
		logger:  logger,
		tracer:  tracer,
		inst:    inst,
	}
}

// Config returns the guard's policy.
func (g *Guard) Config() *domain.GuardConfig {
	return g.cfg
}

// Evaluate classifies sql as SAFE, NEEDS_LIMIT or REJECT.
func (g *Guard) Evaluate(ctx context.Context, sql string) domain.CheckResult {
	return g.Inspect(ctx, sql).Result
}

// Inspect classifies sql and reports why. Parse failures, including panics
// inside the parser, are logged and treated as SAFE.
func (g *Guard) Inspect(ctx context.Context, sql string) (d domain.Decision) {
	if strings.TrimSpace(sql) == "" {
		return domain.Decision{Result: domain.ResultSafe, Reason: domain.ReasonEmpty}
	}

	defer func() {
		if r := recover(); r != nil {
			g.parseFailed(ctx, sql, fmt.Errorf("%w: parser panic: %v", domain.ErrParseFailed, r))
			d = domain.Decision{Result: domain.ResultSafe, Reason: domain.ReasonParseFailed}
		}
	}()

	stmts, err := g.parser.Parse(sql)
	if err != nil {
		g.parseFailed(ctx, sql, err)
		return domain.Decision{Result: domain.ResultSafe, Reason: domain.ReasonParseFailed}
	}

	return domain.Classify(sql, stmts, g.cfg)
}

func (g *Guard) parseFailed(ctx context.Context, sql string, err error) {
	g.inst.IncrementParseErrors(ctx)
	g.logger.WarnContext(ctx, "sql guard parse failed, allowing statement",
		slog.String("db.statement", sql),
		slog.String("sql.dialect", string(g.cfg.Dialect)),
		slog.String("error.type", "parse_error"),
		slog.String("error.message", err.Error()),
	)
}

// Apply evaluates sql and returns the statement the pipeline should forward.
// NEEDS_LIMIT appends the default limit. REJECT returns domain.ErrRejected
// when the policy raises on failure, or logs and forwards sql unchanged
// otherwise.
func (g *Guard) Apply(ctx context.Context, sql string) (Outcome, error) {
	ctx, span := g.tracer.Start(ctx, "Guard.Apply",
		trace.WithAttributes(
			attribute.String("db.statement", sql),
			attribute.String("sql.dialect", string(g.cfg.Dialect)),
		),
	)
	defer span.End()

	start := time.Now()
	d := g.Inspect(ctx, sql)
	g.inst.RecordGuardDuration(ctx, float64(time.Since(start).Microseconds())/1000)
	g.inst.RecordDecision(ctx, d.Result.String())

	span.SetAttributes(
		attribute.String("guard.result", d.Result.String()),
		attribute.String("guard.reason", d.Reason),
	)

	out := Outcome{Decision: d, OriginalSQL: sql, SQL: sql}

	switch d.Result {
	case domain.ResultNeedsLimit:
		out.SQL = domain.AppendLimit(sql, g.cfg.DefaultLimit)
		g.logger.WarnContext(ctx, "sql guard appended limit",
			slog.String("db.statement", sql),
			slog.String("guard.result", d.Result.String()),
			slog.String("guard.reason", d.Reason),
			slog.Int("guard.limit", g.cfg.DefaultLimit),
		)
		g.audit(ctx, out, nil)

	case domain.ResultReject:
		if g.cfg.FailThrowException {
			err := fmt.Errorf("%w: %s", domain.ErrRejected, d.Reason)
			g.logger.ErrorContext(ctx, "sql guard rejected statement",
				slog.String("db.statement", sql),
				slog.String("guard.result", d.Result.String()),
				slog.String("guard.reason", d.Reason),
				slog.String("error.type", "guard_rejected"),
			)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			g.audit(ctx, out, err)
			return out, err
		}
		g.logger.WarnContext(ctx, "sql guard flagged statement, forwarding unchanged",
			slog.String("db.statement", sql),
			slog.String("guard.result", d.Result.String()),
			slog.String("guard.reason", d.Reason),
		)
		g.audit(ctx, out, nil)
	}

	return out, nil
}

func (g *Guard) audit(ctx context.Context, out Outcome, err error) {
	g.auditor.Record(ctx, port.AuditEntry{
		Tool:         toolNameFromCtx(ctx),
		SQL:          out.OriginalSQL,
		RewrittenSQL: out.SQL,
		Result:       out.Result.String(),
		Reason:       out.Reason,
		Err:          err,
	})
}
