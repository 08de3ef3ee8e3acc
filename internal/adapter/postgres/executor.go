package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// TxBeginner is the subset of *pgxpool.Pool the executor needs.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Executor runs guarded statements. It does not bound result size itself;
// the guard has already appended a limit where one was needed.
type Executor struct {
	pool         TxBeginner
	readOnly     bool
	queryTimeout time.Duration
}

func NewExecutor(pool TxBeginner, readOnly bool, queryTimeout time.Duration) *Executor {
	return &Executor{
		pool:         pool,
		readOnly:     readOnly,
		queryTimeout: queryTimeout,
	}
}

func (e *Executor) Execute(ctx context.Context, sql string) ([]map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{
		AccessMode: e.accessMode(),
	})
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Enforce statement timeout at the database level so PostgreSQL cancels
	// the query server-side even if the Go context is cancelled first.
	// SET LOCAL scopes to this transaction only.
	timeoutMS := e.queryTimeout.Milliseconds()
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%d'", timeoutMS)); err != nil {
		return nil, fmt.Errorf("setting statement timeout: %w", err)
	}

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}

	results, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	return results, nil
}

func (e *Executor) accessMode() pgx.TxAccessMode {
	if e.readOnly {
		return pgx.ReadOnly
	}
	return pgx.ReadWrite
}
