package mysql

import (
	"testing"

	"github.com/guillermoBallester/sqlguard/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseOne(t *testing.T, sql string) domain.Statement {
	t.Helper()
	stmts, err := NewParser().Parse(sql)
	require.NoError(t, err)
	require.Len(t, stmts, 1)
	return stmts[0]
}

func ref(name string) domain.TableRef { return domain.TableRef{Name: name} }

func TestParse_SimpleSelect(t *testing.T) {
	t.Parallel()
	stmt := parseOne(t, "select * from u_base where name='x'")

	assert.True(t, stmt.IsSelect())
	assert.False(t, stmt.HasLimit)
	assert.Equal(t, []domain.TableRef{ref("u_base")}, stmt.Tables)
	assert.Equal(t, []domain.Condition{{Table: ref("u_base"), Column: "name"}}, stmt.Conditions)
}

func TestParse_Limit(t *testing.T) {
	t.Parallel()
	assert.True(t, parseOne(t, "select * from u_base where id=5 limit 10").HasLimit)
	assert.True(t, parseOne(t, "select * from u_base where id < 100 and id > 3 limit ?").HasLimit)
	assert.True(t, parseOne(t, "select * from u_base limit 5, 10").HasLimit)
}

func TestParse_LimitInSubquery(t *testing.T) {
	t.Parallel()
	stmt := parseOne(t, "SELECT * FROM article WHERE uid = (SELECT uid FROM members WHERE status=1 ORDER BY uid DESC LIMIT 1)")

	assert.True(t, stmt.HasLimit)
	assert.ElementsMatch(t, []domain.TableRef{ref("article"), ref("members")}, stmt.Tables)
	assert.ElementsMatch(t, []domain.Condition{
		{Table: ref("article"), Column: "uid"},
		{Table: ref("members"), Column: "status"},
	}, stmt.Conditions)
}

func TestParse_JoinWithAliases(t *testing.T) {
	t.Parallel()
	stmt := parseOne(t, "SELECT * FROM u_base ub LEFT JOIN u_base_extend ube ON ube.uid = ub.id WHERE ub.id = ? AND ube.uid = ?")

	assert.ElementsMatch(t, []domain.TableRef{ref("u_base"), ref("u_base_extend")}, stmt.Tables)
	assert.ElementsMatch(t, []domain.Condition{
		{Table: ref("u_base"), Column: "id"},
		{Table: ref("u_base_extend"), Column: "uid"},
	}, stmt.Conditions, "join ON columns are not WHERE conditions")
}

func TestParse_AmbiguousUnqualifiedColumn(t *testing.T) {
	t.Parallel()
	stmt := parseOne(t, "select * from u_base, u_base_extend where uid = 1")

	require.Len(t, stmt.Conditions, 1)
	assert.Empty(t, stmt.Conditions[0].Table.Name)
	assert.Equal(t, "uid", stmt.Conditions[0].Column)
}

func TestParse_ConditionKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sql  string
	}{
		{"between", "select * from u_base where uid between 3 and 5"},
		{"in", "select * from u_base where uid in (3)"},
		{"not equal", "select * from u_base where uid <> 3"},
		{"null-safe equal", "select * from u_base where uid <=> 3"},
		{"is null", "select * from u_base where uid is null"},
		{"like", "select * from u_base where uid like '3%'"},
		{"reversed operands", "select * from u_base where 3 = uid"},
		{"parenthesized column", "select * from u_base where (uid) = 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			stmt := parseOne(t, tt.sql)
			assert.Equal(t, []domain.Condition{{Table: ref("u_base"), Column: "uid"}}, stmt.Conditions)
		})
	}
}

func TestParse_SchemaQualified(t *testing.T) {
	t.Parallel()
	stmt := parseOne(t, "select * from app.u_base where app.u_base.id = 1")

	want := domain.TableRef{Schema: "app", Name: "u_base"}
	assert.Equal(t, []domain.TableRef{want}, stmt.Tables)
	assert.Equal(t, []domain.Condition{{Table: want, Column: "id"}}, stmt.Conditions)
}

func TestParse_Union(t *testing.T) {
	t.Parallel()
	stmt := parseOne(t, "select id from u_base where id = 1 union select uid from u_base_extend")

	assert.True(t, stmt.IsSelect())
	assert.False(t, stmt.HasLimit)
	assert.ElementsMatch(t, []domain.TableRef{ref("u_base"), ref("u_base_extend")}, stmt.Tables)
}

func TestParse_CTENamesAreNotTables(t *testing.T) {
	t.Parallel()
	stmt := parseOne(t, "with recent as (select * from u_base where id > 10) select * from recent")

	assert.Equal(t, []domain.TableRef{ref("u_base")}, stmt.Tables)
}

func TestParse_NonSelect(t *testing.T) {
	t.Parallel()
	assert.False(t, parseOne(t, "insert into u_base (id) values (1)").IsSelect())
	assert.False(t, parseOne(t, "update u_base set name = 'x'").IsSelect())
	assert.False(t, parseOne(t, "delete from u_base").IsSelect())
}

func TestParse_MultiStatement(t *testing.T) {
	t.Parallel()
	stmts, err := NewParser().Parse("select * from u_base where id = 1; select * from u_base_extend")
	require.NoError(t, err)
	assert.Len(t, stmts, 2)
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()
	_, err := NewParser().Parse("selec * frm u_base")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrParseFailed)
}

func TestParse_AliasScope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		sql  string
		want []domain.Condition
	}{
		{
			name: "alias reused in subquery shadows outer",
			sql:  "select * from u_base x where x.id = 3 and exists (select 1 from orders x where x.status = 1)",
			want: []domain.Condition{
				{Table: ref("u_base"), Column: "id"},
				{Table: ref("orders"), Column: "status"},
			},
		},
		{
			name: "correlated column resolves to outer alias",
			sql:  "select * from u_base u where exists (select 1 from orders o where o.uid = u.uid)",
			want: []domain.Condition{
				{Table: ref("orders"), Column: "uid"},
				{Table: ref("u_base"), Column: "uid"},
			},
		},
		{
			name: "bare qualifier matches schema-qualified table",
			sql:  "select * from app.u_base where u_base.id = 1",
			want: []domain.Condition{
				{Table: domain.TableRef{Schema: "app", Name: "u_base"}, Column: "id"},
			},
		},
		{
			name: "derived table alias stays opaque",
			sql:  "select * from (select * from u_base) d where d.id = 1",
			want: []domain.Condition{
				{Table: ref("d"), Column: "id"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.ElementsMatch(t, tt.want, parseOne(t, tt.sql).Conditions)
		})
	}
}

func TestParse_EndToEndClassification(t *testing.T) {
	t.Parallel()
	cfg := domain.NewGuardConfig(map[string][]string{"u_base": {"id"}}, 200, true, false, domain.DialectMySQL)
	scoped := domain.NewGuardConfig(map[string][]string{"u_base": {"uid"}, "orders": {"id"}}, 200, false, false, domain.DialectMySQL)
	qualified := domain.NewGuardConfig(map[string][]string{"app.u_base": {"id"}}, 200, false, false, domain.DialectMySQL)
	p := NewParser()

	tests := []struct {
		sql  string
		cfg  *domain.GuardConfig
		want domain.CheckResult
	}{
		{"select * from u_base where name='x'", cfg, domain.ResultNeedsLimit},
		{"select * from u_base where id=5", cfg, domain.ResultSafe},
		{"select * from u_base where id=5 limit 10", cfg, domain.ResultSafe},
		{"select * from orders where id=5", cfg, domain.ResultNeedsLimit},
		{"select * from u_base where name='x'; select * from u_base where id=1", cfg, domain.ResultReject},
		{"update u_base set name='x'", cfg, domain.ResultSafe},
		{"select * from u_base where name='LIMIT'", cfg, domain.ResultNeedsLimit},
		{"select * from u_base x where x.id = 3 and exists (select 1 from orders x where x.status = 1)", scoped, domain.ResultReject},
		{"select * from u_base x where x.uid = 3 and exists (select 1 from orders x where x.status = 1)", scoped, domain.ResultSafe},
		{"select * from app.u_base where u_base.id = 1", qualified, domain.ResultSafe},
		{"select * from app.u_base where name = 'x'", qualified, domain.ResultReject},
	}

	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			t.Parallel()
			stmts, err := p.Parse(tt.sql)
			require.NoError(t, err)
			assert.Equal(t, tt.want, domain.Classify(tt.sql, stmts, tt.cfg).Result)
		})
	}
}
