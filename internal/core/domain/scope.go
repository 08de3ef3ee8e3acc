package domain

// Scope holds the tables visible to one SELECT. Nested SELECTs get their own
// scope whose Parent is the enclosing one, so correlated references resolve
// outward while an alias reused inside a subquery shadows the outer one.
type Scope struct {
	Parent  *Scope
	tables  []TableRef
	aliases map[string]TableRef
}

// NewScope returns an empty scope nested in parent (nil for the outermost).
func NewScope(parent *Scope) *Scope {
	return &Scope{Parent: parent, aliases: make(map[string]TableRef)}
}

// Add registers a base table, optionally under an alias.
func (s *Scope) Add(t TableRef, alias string) {
	s.tables = append(s.tables, t)
	if alias != "" {
		s.aliases[normalizeIdent(alias)] = t
	}
}

// AddDerived registers a derived table (subquery in FROM). Columns qualified
// with its alias resolve to a table named after the alias, which no policy
// entry matches.
func (s *Scope) AddDerived(alias string) {
	s.Add(TableRef{Name: alias}, alias)
}

// Resolve maps a column qualifier to a table. An alias matches first, then a
// table by name (or schema and name when schema is given), searching this
// scope and then its parents. Unmatched qualifiers are returned as written.
func (s *Scope) Resolve(schema, qualifier string) TableRef {
	q := normalizeIdent(qualifier)
	sch := normalizeIdent(schema)
	for sc := s; sc != nil; sc = sc.Parent {
		if sch == "" {
			if t, ok := sc.aliases[q]; ok {
				return t
			}
		}
		for _, t := range sc.tables {
			if normalizeIdent(t.Name) != q {
				continue
			}
			if sch == "" || normalizeIdent(t.Schema) == sch {
				return t
			}
		}
	}
	return TableRef{Schema: schema, Name: qualifier}
}

// Sole returns the only table in this scope, used for unqualified columns.
// It reports false when the scope holds zero or several tables.
func (s *Scope) Sole() (TableRef, bool) {
	if s == nil || len(s.tables) != 1 {
		return TableRef{}, false
	}
	return s.tables[0], true
}
