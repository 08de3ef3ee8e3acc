package postgres

import (
	"fmt"
	"strings"

	"github.com/guillermoBallester/sqlguard/internal/core/domain"
	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Parser implements port.StatementParser using PostgreSQL's actual parser.
// pg_query is safe for concurrent use, so Parser holds no state.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(sql string) ([]domain.Statement, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrParseFailed, err)
	}

	stmts := make([]domain.Statement, 0, len(tree.Stmts))
	for _, raw := range tree.Stmts {
		if raw.Stmt == nil {
			continue
		}
		stmts = append(stmts, extract(raw.Stmt))
	}
	return stmts, nil
}

// comparisonOps are the operator names that make an A_Expr a filter on its
// column operands.
var comparisonOps = map[string]bool{
	"=": true, "<>": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

func extract(node *pg_query.Node) domain.Statement {
	c := &collector{ctes: make(map[string]bool)}
	walk(node.ProtoReflect(), c.visit, c.leave)

	stmt := domain.Statement{HasLimit: c.hasLimit}
	if node.GetSelectStmt() != nil {
		stmt.Kind = domain.KindSelect
	}

	seen := make(map[string]bool)
	for _, t := range c.tables {
		if t.Schema == "" && c.ctes[strings.ToLower(t.Name)] {
			continue
		}
		key := strings.ToLower(t.QualifiedName())
		if seen[key] {
			continue
		}
		seen[key] = true
		stmt.Tables = append(stmt.Tables, t)
	}

	cc := &conditionCollector{seen: make(map[domain.Condition]bool)}
	for _, sel := range c.selects {
		if sel.stmt.WhereClause == nil {
			continue
		}
		cc.scope = sel.scope
		walk(sel.stmt.WhereClause.ProtoReflect(), cc.visit, nil)
	}
	stmt.Conditions = cc.conditions

	return stmt
}

// walk visits m and every message reachable from it, depth-first. visit
// returns false to skip a message's children. leave, when set, runs after the
// children of every visited message.
func walk(m protoreflect.Message, visit func(proto.Message) bool, leave func(proto.Message)) {
	if !m.IsValid() || !visit(m.Interface()) {
		return
	}
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.Kind() != protoreflect.MessageKind && fd.Kind() != protoreflect.GroupKind {
			return true
		}
		switch {
		case fd.IsMap():
		case fd.IsList():
			list := v.List()
			for i := 0; i < list.Len(); i++ {
				walk(list.Get(i).Message(), visit, leave)
			}
		default:
			walk(v.Message(), visit, leave)
		}
		return true
	})
	if leave != nil {
		leave(m.Interface())
	}
}

type scopedSelect struct {
	stmt  *pg_query.SelectStmt
	scope *domain.Scope
}

type collector struct {
	tables   []domain.TableRef
	ctes     map[string]bool
	selects  []scopedSelect
	stack    []*domain.Scope
	hasLimit bool
}

func (c *collector) visit(m proto.Message) bool {
	switch x := m.(type) {
	case *pg_query.RangeVar:
		c.tables = append(c.tables, domain.TableRef{Schema: x.Schemaname, Name: x.Relname})
	case *pg_query.CommonTableExpr:
		c.ctes[strings.ToLower(x.Ctename)] = true
	case *pg_query.SelectStmt:
		var parent *domain.Scope
		if len(c.stack) > 0 {
			parent = c.stack[len(c.stack)-1]
		}
		scope := fromScope(x.FromClause, parent)
		c.stack = append(c.stack, scope)
		c.selects = append(c.selects, scopedSelect{stmt: x, scope: scope})
		if hasLimitCount(x) {
			c.hasLimit = true
		}
	}
	return true
}

func (c *collector) leave(m proto.Message) {
	if _, ok := m.(*pg_query.SelectStmt); ok && len(c.stack) > 0 {
		c.stack = c.stack[:len(c.stack)-1]
	}
}

// hasLimitCount reports whether a SELECT carries LIMIT n or FETCH FIRST n.
// LIMIT ALL parses as a NULL constant and does not bound the result.
func hasLimitCount(sel *pg_query.SelectStmt) bool {
	if sel.LimitCount == nil {
		return false
	}
	if ac := sel.LimitCount.GetAConst(); ac != nil && ac.Isnull {
		return false
	}
	return true
}

func resolve(fields []string, scope *domain.Scope) domain.TableRef {
	switch len(fields) {
	case 0:
		if t, ok := scope.Sole(); ok {
			return t
		}
		return domain.TableRef{}
	case 1:
		return scope.Resolve("", fields[0])
	default:
		// catalog.schema.table or schema.table; keep the last two parts.
		n := len(fields)
		return scope.Resolve(fields[n-2], fields[n-1])
	}
}

type conditionCollector struct {
	scope      *domain.Scope
	conditions []domain.Condition
	seen       map[domain.Condition]bool
}

func (cc *conditionCollector) visit(m proto.Message) bool {
	switch x := m.(type) {
	case *pg_query.SelectStmt:
		// Nested queries are scanned separately with their own FROM scope.
		return false
	case *pg_query.A_Expr:
		switch x.Kind {
		case pg_query.A_Expr_Kind_AEXPR_OP, pg_query.A_Expr_Kind_AEXPR_OP_ANY, pg_query.A_Expr_Kind_AEXPR_OP_ALL:
			if comparisonOps[operatorName(x.Name)] {
				cc.add(x.Lexpr)
				cc.add(x.Rexpr)
			}
		case pg_query.A_Expr_Kind_AEXPR_DISTINCT, pg_query.A_Expr_Kind_AEXPR_NOT_DISTINCT:
			cc.add(x.Lexpr)
			cc.add(x.Rexpr)
		case pg_query.A_Expr_Kind_AEXPR_IN,
			pg_query.A_Expr_Kind_AEXPR_LIKE,
			pg_query.A_Expr_Kind_AEXPR_ILIKE,
			pg_query.A_Expr_Kind_AEXPR_BETWEEN,
			pg_query.A_Expr_Kind_AEXPR_NOT_BETWEEN,
			pg_query.A_Expr_Kind_AEXPR_BETWEEN_SYM,
			pg_query.A_Expr_Kind_AEXPR_NOT_BETWEEN_SYM:
			cc.add(x.Lexpr)
		}
	case *pg_query.NullTest:
		cc.add(x.Arg)
	case *pg_query.SubLink:
		// col IN (SELECT ...), col = ANY (SELECT ...)
		cc.add(x.Testexpr)
	}
	return true
}

func (cc *conditionCollector) add(n *pg_query.Node) {
	cr := n.GetColumnRef()
	if cr == nil {
		return
	}

	parts := make([]string, 0, len(cr.Fields))
	for _, f := range cr.Fields {
		s := f.GetString_()
		if s == nil {
			return // t.* or similar
		}
		parts = append(parts, s.Sval)
	}
	if len(parts) == 0 {
		return
	}

	cond := domain.Condition{
		Table:  resolve(parts[:len(parts)-1], cc.scope),
		Column: parts[len(parts)-1],
	}
	if cc.seen[cond] {
		return
	}
	cc.seen[cond] = true
	cc.conditions = append(cc.conditions, cond)
}

func operatorName(name []*pg_query.Node) string {
	if len(name) == 0 {
		return ""
	}
	return name[len(name)-1].GetString_().GetSval()
}

// fromScope builds the scope of one SELECT block from its FROM clause.
// Aliased subqueries register as opaque names so their columns never match a
// policy entry.
func fromScope(from []*pg_query.Node, parent *domain.Scope) *domain.Scope {
	scope := domain.NewScope(parent)
	for _, n := range from {
		walk(n.ProtoReflect(), func(m proto.Message) bool {
			switch x := m.(type) {
			case *pg_query.SelectStmt:
				return false
			case *pg_query.RangeSubselect:
				if x.Alias != nil && x.Alias.Aliasname != "" {
					scope.AddDerived(x.Alias.Aliasname)
				}
				return false
			case *pg_query.RangeVar:
				alias := ""
				if x.Alias != nil {
					alias = x.Alias.Aliasname
				}
				scope.Add(domain.TableRef{Schema: x.Schemaname, Name: x.Relname}, alias)
			}
			return true
		}, nil)
	}
	return scope
}
