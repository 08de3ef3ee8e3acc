// Package mysql extracts guard statements from MySQL-family SQL using TiDB's
// MySQL-compatible parser.
package mysql

import (
	"fmt"
	"strings"
	"sync"

	"github.com/guillermoBallester/sqlguard/internal/core/domain"
	"github.com/pingcap/tidb/parser"
	"github.com/pingcap/tidb/parser/ast"
	"github.com/pingcap/tidb/parser/opcode"

	// Registers the value expression implementation the parser needs for literals.
	_ "github.com/pingcap/tidb/parser/test_driver"
)

// Parser implements port.StatementParser for MySQL. TiDB parser instances are
// not goroutine-safe, so each call borrows one from a pool.
type Parser struct {
	pool      sync.Pool
	charset   string
	collation string
}

func NewParser() *Parser {
	return &Parser{
		pool: sync.Pool{New: func() any { return parser.New() }},
	}
}

func (p *Parser) Parse(sql string) ([]domain.Statement, error) {
	tp := p.pool.Get().(*parser.Parser)
	defer p.pool.Put(tp)

	nodes, _, err := tp.Parse(sql, p.charset, p.collation)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrParseFailed, err)
	}

	stmts := make([]domain.Statement, 0, len(nodes))
	for _, n := range nodes {
		stmts = append(stmts, extract(n))
	}
	return stmts, nil
}

// extract walks one statement and builds its dialect-neutral form.
func extract(node ast.StmtNode) domain.Statement {
	c := &collector{ctes: make(map[string]bool)}
	node.Accept(c)

	stmt := domain.Statement{Kind: kindOf(node), HasLimit: c.hasLimit}
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

	cv := &conditionVisitor{seen: make(map[domain.Condition]bool)}
	for _, sel := range c.selects {
		if sel.stmt.Where == nil {
			continue
		}
		cv.scope = sel.scope
		sel.stmt.Where.Accept(cv)
	}
	stmt.Conditions = cv.conditions

	return stmt
}

func kindOf(node ast.StmtNode) domain.StatementKind {
	switch node.(type) {
	case *ast.SelectStmt, *ast.SetOprStmt:
		return domain.KindSelect
	default:
		return domain.KindOther
	}
}

type scopedSelect struct {
	stmt  *ast.SelectStmt
	scope *domain.Scope
}

// collector gathers tables, CTE names, limit clauses and every SELECT block
// in a statement. Each SELECT gets a scope nested in the enclosing one.
type collector struct {
	tables   []domain.TableRef
	ctes     map[string]bool
	selects  []scopedSelect
	stack    []*domain.Scope
	hasLimit bool
}

func (c *collector) Enter(n ast.Node) (ast.Node, bool) {
	switch x := n.(type) {
	case *ast.TableName:
		c.tables = append(c.tables, tableRef(x))
	case *ast.CommonTableExpression:
		c.ctes[x.Name.L] = true
	case *ast.Limit:
		c.hasLimit = true
	case *ast.SelectStmt:
		var parent *domain.Scope
		if len(c.stack) > 0 {
			parent = c.stack[len(c.stack)-1]
		}
		scope := fromScope(x.From, parent)
		c.stack = append(c.stack, scope)
		c.selects = append(c.selects, scopedSelect{stmt: x, scope: scope})
	}
	return n, false
}

func (c *collector) Leave(n ast.Node) (ast.Node, bool) {
	if _, ok := n.(*ast.SelectStmt); ok && len(c.stack) > 0 {
		c.stack = c.stack[:len(c.stack)-1]
	}
	return n, true
}

// resolve maps a column reference to the table it belongs to. Qualifiers are
// looked up through the scope chain; unqualified columns resolve only when
// the enclosing SELECT reads from exactly one table.
func resolve(col *ast.ColumnName, scope *domain.Scope) domain.TableRef {
	if col.Table.L != "" {
		return scope.Resolve(col.Schema.O, col.Table.O)
	}
	if t, ok := scope.Sole(); ok {
		return t
	}
	return domain.TableRef{}
}

// conditionVisitor records columns used as comparison operands in a WHERE
// clause. Nested queries are skipped; they are scanned with their own scope.
type conditionVisitor struct {
	scope      *domain.Scope
	conditions []domain.Condition
	seen       map[domain.Condition]bool
}

func (v *conditionVisitor) Enter(n ast.Node) (ast.Node, bool) {
	switch x := n.(type) {
	case *ast.SelectStmt, *ast.SetOprStmt:
		return n, true
	case *ast.BinaryOperationExpr:
		if isComparison(x.Op) {
			v.add(x.L)
			v.add(x.R)
		}
	case *ast.PatternInExpr:
		v.add(x.Expr)
	case *ast.BetweenExpr:
		v.add(x.Expr)
	case *ast.PatternLikeExpr:
		v.add(x.Expr)
	case *ast.IsNullExpr:
		v.add(x.Expr)
	}
	return n, false
}

func (v *conditionVisitor) Leave(n ast.Node) (ast.Node, bool) {
	return n, true
}

func (v *conditionVisitor) add(expr ast.ExprNode) {
	for {
		p, ok := expr.(*ast.ParenthesesExpr)
		if !ok {
			break
		}
		expr = p.Expr
	}
	col, ok := expr.(*ast.ColumnNameExpr)
	if !ok || col.Name == nil {
		return
	}
	cond := domain.Condition{
		Table:  resolve(col.Name, v.scope),
		Column: col.Name.Name.O,
	}
	if v.seen[cond] {
		return
	}
	v.seen[cond] = true
	v.conditions = append(v.conditions, cond)
}

func isComparison(op opcode.Op) bool {
	switch op {
	case opcode.EQ, opcode.NE, opcode.LT, opcode.LE, opcode.GT, opcode.GE, opcode.NullEQ:
		return true
	}
	return false
}

// fromScope builds the scope of one SELECT block from its FROM clause. Base
// tables register under their alias; aliased derived tables register as
// opaque names so their columns never match a policy entry.
func fromScope(from *ast.TableRefsClause, parent *domain.Scope) *domain.Scope {
	sv := &scopeVisitor{scope: domain.NewScope(parent)}
	if from != nil {
		from.Accept(sv)
	}
	return sv.scope
}

type scopeVisitor struct {
	scope *domain.Scope
}

func (s *scopeVisitor) Enter(n ast.Node) (ast.Node, bool) {
	switch x := n.(type) {
	case *ast.SelectStmt, *ast.SetOprStmt:
		return n, true
	case *ast.TableSource:
		switch src := x.Source.(type) {
		case *ast.TableName:
			s.scope.Add(tableRef(src), x.AsName.O)
		case *ast.SelectStmt, *ast.SetOprStmt:
			if x.AsName.O != "" {
				s.scope.AddDerived(x.AsName.O)
			}
		}
		return n, true
	}
	return n, false
}

func (s *scopeVisitor) Leave(n ast.Node) (ast.Node, bool) {
	return n, true
}

func tableRef(tn *ast.TableName) domain.TableRef {
	return domain.TableRef{Schema: tn.Schema.O, Name: tn.Name.O}
}
