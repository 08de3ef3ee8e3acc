package port

import "context"

// Instrumentation records application-level metrics.
type Instrumentation interface {
	RecordDecision(ctx context.Context, result string)
	IncrementParseErrors(ctx context.Context)
	RecordGuardDuration(ctx context.Context, ms float64)
	RecordQueryDuration(ctx context.Context, ms float64)
	IncrementQueryCount(ctx context.Context)
	IncrementQueryErrors(ctx context.Context)
	RecordToolDuration(ctx context.Context, ms float64)
}

// NoopInstrumentation discards all metrics.
type NoopInstrumentation struct{}

func (NoopInstrumentation) RecordDecision(context.Context, string)       {}
func (NoopInstrumentation) IncrementParseErrors(context.Context)         {}
func (NoopInstrumentation) RecordGuardDuration(context.Context, float64) {}
func (NoopInstrumentation) RecordQueryDuration(context.Context, float64) {}
func (NoopInstrumentation) IncrementQueryCount(context.Context)          {}
func (NoopInstrumentation) IncrementQueryErrors(context.Context)         {}
func (NoopInstrumentation) RecordToolDuration(context.Context, float64)  {}
