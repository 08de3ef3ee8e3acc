package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/guillermoBallester/sqlguard"

// Instruments holds pre-created OTel metric instruments. It implements
// port.Instrumentation.
type Instruments struct {
	Decisions     metric.Int64Counter
	ParseErrors   metric.Int64Counter
	GuardDuration metric.Float64Histogram
	QueryCount    metric.Int64Counter
	QueryDuration metric.Float64Histogram
	QueryErrors   metric.Int64Counter
	ToolDuration  metric.Float64Histogram
}

// NewInstruments creates metric instruments from the global MeterProvider.
func NewInstruments() *Instruments {
	return newInstrumentsFromMeter(otel.Meter(meterName))
}

// NoopInstruments returns instruments that record nothing.
func NoopInstruments() *Instruments {
	return newInstrumentsFromMeter(noop.NewMeterProvider().Meter(meterName))
}

func newInstrumentsFromMeter(meter metric.Meter) *Instruments {
	// OTel SDK returns noop instruments on error; safe to discard.
	decisions, _ := meter.Int64Counter("sqlguard.guard.decisions",
		metric.WithDescription("Guard decisions by result"),
	)
	parseErrors, _ := meter.Int64Counter("sqlguard.guard.parse_errors",
		metric.WithDescription("Statements the guard could not parse and allowed"),
	)
	guardDuration, _ := meter.Float64Histogram("sqlguard.guard.duration",
		metric.WithDescription("Guard classification duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	queryCount, _ := meter.Int64Counter("sqlguard.query.count",
		metric.WithDescription("Total number of SQL queries executed"),
	)
	queryDuration, _ := meter.Float64Histogram("sqlguard.query.duration",
		metric.WithDescription("SQL query execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	queryErrors, _ := meter.Int64Counter("sqlguard.query.errors",
		metric.WithDescription("Total number of failed or rejected SQL queries"),
	)
	toolDuration, _ := meter.Float64Histogram("sqlguard.tool.duration",
		metric.WithDescription("MCP tool call duration in milliseconds"),
		metric.WithUnit("ms"),
	)

	return &Instruments{
		Decisions:     decisions,
		ParseErrors:   parseErrors,
		GuardDuration: guardDuration,
		QueryCount:    queryCount,
		QueryDuration: queryDuration,
		QueryErrors:   queryErrors,
		ToolDuration:  toolDuration,
	}
}

func (i *Instruments) RecordDecision(ctx context.Context, result string) {
	i.Decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("guard.result", result)))
}

func (i *Instruments) IncrementParseErrors(ctx context.Context) {
	i.ParseErrors.Add(ctx, 1)
}

func (i *Instruments) RecordGuardDuration(ctx context.Context, ms float64) {
	i.GuardDuration.Record(ctx, ms)
}

func (i *Instruments) RecordQueryDuration(ctx context.Context, ms float64) {
	i.QueryDuration.Record(ctx, ms)
}

func (i *Instruments) IncrementQueryCount(ctx context.Context) {
	i.QueryCount.Add(ctx, 1)
}

func (i *Instruments) IncrementQueryErrors(ctx context.Context) {
	i.QueryErrors.Add(ctx, 1)
}

func (i *Instruments) RecordToolDuration(ctx context.Context, ms float64) {
	i.ToolDuration.Record(ctx, ms)
}
