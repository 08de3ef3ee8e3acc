// Package sqldb guards a database/sql handle: every statement passes through
// the SQL guard before it reaches the driver.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/guillermoBallester/sqlguard/internal/core/service"
)

// Conn is the subset of *sql.DB, *sql.Conn and *sql.Tx that DB wraps.
type Conn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Guard decides what SQL to forward. *service.Guard implements it.
type Guard interface {
	Apply(ctx context.Context, sql string) (service.Outcome, error)
}

// DB forwards statements to conn after the guard has approved or rewritten
// them. A rejected statement never reaches conn.
//
// DB is not a drop-in *sql.DB: QueryRowContext also returns an error, since
// *sql.Row cannot carry a rejection raised before the query runs.
type DB struct {
	conn  Conn
	guard Guard
}

func Wrap(conn Conn, guard Guard) *DB {
	return &DB{conn: conn, guard: guard}
}

func (db *DB) guarded(ctx context.Context, query string) (string, error) {
	out, err := db.guard.Apply(ctx, query)
	if err != nil {
		return "", fmt.Errorf("sql guard: %w", err)
	}
	return out.SQL, nil
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	q, err := db.guarded(ctx, query)
	if err != nil {
		return nil, err
	}
	return db.conn.QueryContext(ctx, q, args...)
}

// QueryRowContext cannot return an error directly, so a rejection is
// returned as (nil, err) and the caller must check err before Scan.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	q, err := db.guarded(ctx, query)
	if err != nil {
		return nil, err
	}
	return db.conn.QueryRowContext(ctx, q, args...), nil
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	q, err := db.guarded(ctx, query)
	if err != nil {
		return nil, err
	}
	return db.conn.ExecContext(ctx, q, args...)
}

// PrepareContext guards the statement text once, at prepare time.
func (db *DB) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	q, err := db.guarded(ctx, query)
	if err != nil {
		return nil, err
	}
	return db.conn.PrepareContext(ctx, q)
}
