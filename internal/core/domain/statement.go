package domain

import "strings"

// StatementKind distinguishes row-returning queries from everything else.
type StatementKind int

const (
	KindOther StatementKind = iota
	KindSelect
)

// TableRef is a table referenced by a statement. Schema is empty when the
// reference is unqualified.
type TableRef struct {
	Schema string
	Name   string
}

// QualifiedName returns "schema.name", or just the name when no schema is set.
func (t TableRef) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Condition is a column compared against something in a WHERE clause.
// Table holds the resolved table (never an alias); it is empty when the
// column could not be attributed to a single table.
type Condition struct {
	Table  TableRef
	Column string
}

// Statement is the dialect-neutral view of one parsed SQL statement that the
// guard needs. Parsers in the adapter layer produce it; it is not retained
// beyond a single evaluation.
type Statement struct {
	Kind       StatementKind
	Tables     []TableRef
	Conditions []Condition
	HasLimit   bool
}

// IsSelect reports whether the statement returns rows (plain SELECT or a set
// operation such as UNION).
func (s Statement) IsSelect() bool {
	return s.Kind == KindSelect
}

// normalizeIdent folds identifiers for case-insensitive matching.
func normalizeIdent(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
