package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// queryLeadingIndexColumns has one %s placeholder for the schema filter clause.
// Only the leading column of each valid index is returned: it is the one a
// lone equality or range filter can use. Expression indexes have attnum 0 in
// indkey[0] and drop out of the join.
const queryLeadingIndexColumns = `
	SELECT DISTINCT n.nspname, t.relname, a.attname
	FROM pg_index i
	JOIN pg_class t ON t.oid = i.indrelid
	JOIN pg_namespace n ON n.oid = t.relnamespace
	JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = i.indkey[0]
	WHERE %s
		AND t.relkind IN ('r', 'p', 'm')
		AND i.indisvalid
	ORDER BY n.nspname, t.relname, a.attname`

// Querier is the subset of *pgxpool.Pool the catalog needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// TableIndexes lists the indexed leading columns of one table.
type TableIndexes struct {
	Schema  string
	Table   string
	Columns []string
}

// IndexCatalog reads index metadata so a starter guard policy can be
// generated from a live database.
type IndexCatalog struct {
	db      Querier
	schemas []string
}

func NewIndexCatalog(db Querier, schemas []string) *IndexCatalog {
	return &IndexCatalog{db: db, schemas: schemas}
}

// IndexedColumns returns every table that has at least one index, ordered
// by schema and table name.
func (c *IndexCatalog) IndexedColumns(ctx context.Context) ([]TableIndexes, error) {
	filter, args := schemaFilter(c.schemas, "n.nspname", 1)

	rows, err := c.db.Query(ctx, fmt.Sprintf(queryLeadingIndexColumns, filter), args...)
	if err != nil {
		return nil, fmt.Errorf("querying indexes: %w", err)
	}

	type indexRow struct {
		Schema string
		Table  string
		Column string
	}
	ix, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (indexRow, error) {
		var r indexRow
		err := row.Scan(&r.Schema, &r.Table, &r.Column)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning indexes: %w", err)
	}

	var out []TableIndexes
	for _, r := range ix {
		n := len(out)
		if n == 0 || out[n-1].Schema != r.Schema || out[n-1].Table != r.Table {
			out = append(out, TableIndexes{Schema: r.Schema, Table: r.Table})
			n++
		}
		out[n-1].Columns = append(out[n-1].Columns, r.Column)
	}
	return out, nil
}
