package telemetry

import (
	"context"
	"testing"

	"github.com/guillermoBallester/sqlguard/internal/core/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var _ port.Instrumentation = (*Instruments)(nil)

func TestNoopTracer(t *testing.T) {
	tracer := NoopTracer()
	assert.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "test")
	assert.NotNil(t, span)
	span.End()
}

func TestNoopInstruments(t *testing.T) {
	inst := NoopInstruments()
	require.NotNil(t, inst)

	// Should not panic.
	ctx := context.Background()
	inst.RecordDecision(ctx, "reject")
	inst.IncrementParseErrors(ctx)
	inst.RecordGuardDuration(ctx, 0.2)
	inst.IncrementQueryCount(ctx)
	inst.RecordQueryDuration(ctx, 100.0)
	inst.IncrementQueryErrors(ctx)
	inst.RecordToolDuration(ctx, 3)
}

func TestProvider_Shutdown_Nil(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSpanRecording(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()
	tracer := tp.Tracer("test")

	ctx := context.Background()
	_, span := tracer.Start(ctx, "Guard.Apply")
	span.SetAttributes(attribute.String("guard.result", "needs_limit"))
	span.End()

	require.NoError(t, tp.ForceFlush(ctx))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "Guard.Apply", spans[0].Name)
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestInstruments_RecordDecision(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	inst := newInstrumentsFromMeter(mp.Meter(meterName))

	ctx := context.Background()
	inst.RecordDecision(ctx, "safe")
	inst.RecordDecision(ctx, "reject")
	inst.RecordDecision(ctx, "reject")
	inst.IncrementParseErrors(ctx)

	metrics := collect(t, reader)

	decisions, ok := metrics["sqlguard.guard.decisions"]
	require.True(t, ok)
	sum, ok := decisions.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	byResult := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		v, ok := dp.Attributes.Value("guard.result")
		require.True(t, ok)
		byResult[v.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"safe": 1, "reject": 2}, byResult)

	parseErrors, ok := metrics["sqlguard.guard.parse_errors"]
	require.True(t, ok)
	pe, ok := parseErrors.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, pe.DataPoints, 1)
	assert.Equal(t, int64(1), pe.DataPoints[0].Value)
}

func TestInstruments_Histograms(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	inst := newInstrumentsFromMeter(mp.Meter(meterName))

	ctx := context.Background()
	inst.RecordGuardDuration(ctx, 0.5)
	inst.RecordQueryDuration(ctx, 12)
	inst.RecordToolDuration(ctx, 15)

	metrics := collect(t, reader)
	for _, name := range []string{"sqlguard.guard.duration", "sqlguard.query.duration", "sqlguard.tool.duration"} {
		m, ok := metrics[name]
		require.True(t, ok, name)
		assert.Equal(t, "ms", m.Unit, name)
		h, ok := m.Data.(metricdata.Histogram[float64])
		require.True(t, ok, name)
		require.Len(t, h.DataPoints, 1, name)
		assert.Equal(t, uint64(1), h.DataPoints[0].Count, name)
	}
}
