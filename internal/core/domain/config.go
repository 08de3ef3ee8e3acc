package domain

import (
	"maps"
	"slices"
	"strconv"
	"strings"
)

// DefaultLimit is the row limit appended when a policy does not set one.
const DefaultLimit = 200

// Dialect selects the SQL grammar used to parse statements.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

// Valid returns true for the supported dialects.
func (d Dialect) Valid() bool {
	switch d {
	case DialectMySQL, DialectPostgres:
		return true
	}
	return false
}

// GuardConfig is the guard's immutable policy. It is built once at startup
// and shared read-only across goroutines.
type GuardConfig struct {
	Dialect            Dialect
	DefaultLimit       int
	AddLimit           bool
	FailThrowException bool

	// tables maps a normalized table name (bare or schema-qualified) to its
	// normalized indexed column set.
	tables map[string]map[string]struct{}
}

// NewGuardConfig builds a GuardConfig from a table -> indexed columns map.
// Table and column names are matched case-insensitively. A table key may be
// bare ("users") or schema-qualified ("public.users").
func NewGuardConfig(tables map[string][]string, defaultLimit int, addLimit, failThrow bool, dialect Dialect) *GuardConfig {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if dialect == "" {
		dialect = DialectMySQL
	}

	idx := make(map[string]map[string]struct{}, len(tables))
	for table, cols := range tables {
		key := normalizeIdent(table)
		set, ok := idx[key]
		if !ok {
			set = make(map[string]struct{}, len(cols))
			idx[key] = set
		}
		for _, c := range cols {
			set[normalizeIdent(c)] = struct{}{}
		}
	}

	return &GuardConfig{
		Dialect:            dialect,
		DefaultLimit:       defaultLimit,
		AddLimit:           addLimit,
		FailThrowException: failThrow,
		tables:             idx,
	}
}

// indexedColumns returns the indexed column set for a table reference. The
// qualified name is tried first, then the bare name.
func (c *GuardConfig) indexedColumns(t TableRef) (map[string]struct{}, bool) {
	if t.Schema != "" {
		if set, ok := c.tables[normalizeIdent(t.QualifiedName())]; ok {
			return set, true
		}
	}
	set, ok := c.tables[normalizeIdent(t.Name)]
	return set, ok
}

// HasTable reports whether the table is registered in the policy.
func (c *GuardConfig) HasTable(t TableRef) bool {
	_, ok := c.indexedColumns(t)
	return ok
}

// IsIndexed reports whether column is a registered feature field of table t.
func (c *GuardConfig) IsIndexed(t TableRef, column string) bool {
	set, ok := c.indexedColumns(t)
	if !ok {
		return false
	}
	_, ok = set[normalizeIdent(column)]
	return ok
}

// Tables returns the registered table names in normalized form, sorted.
func (c *GuardConfig) Tables() []string {
	return slices.Sorted(maps.Keys(c.tables))
}

// Columns returns the indexed columns registered for a normalized table
// name, sorted. It returns nil for an unknown table.
func (c *GuardConfig) Columns(table string) []string {
	set, ok := c.tables[normalizeIdent(table)]
	if !ok {
		return nil
	}
	return slices.Sorted(maps.Keys(set))
}

// AppendLimit appends a " limit n" clause to sql. A trailing statement
// terminator and whitespace are dropped first so the clause stays inside the
// statement.
func AppendLimit(sql string, n int) string {
	trimmed := strings.TrimRight(sql, " \t\r\n;")
	return trimmed + " limit " + strconv.Itoa(n)
}
