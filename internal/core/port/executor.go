package port

import "context"

// QueryExecutor runs a statement that has already passed the guard.
type QueryExecutor interface {
	Execute(ctx context.Context, sql string) ([]map[string]any, error)
}
