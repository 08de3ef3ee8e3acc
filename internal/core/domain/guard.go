package domain

import (
	"fmt"
	"strings"
)

// CheckResult is the outcome of evaluating a SQL string.
type CheckResult int

const (
	ResultSafe CheckResult = iota
	ResultNeedsLimit
	ResultReject
)

func (r CheckResult) String() string {
	switch r {
	case ResultSafe:
		return "safe"
	case ResultNeedsLimit:
		return "needs_limit"
	case ResultReject:
		return "reject"
	default:
		return fmt.Sprintf("CheckResult(%d)", int(r))
	}
}

// MarshalText lets CheckResult serialize as its string form in JSON.
func (r CheckResult) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Decision is a CheckResult plus the reason it was reached.
type Decision struct {
	Result     CheckResult `json:"result"`
	Reason     string      `json:"reason"`
	Statements int         `json:"statements"`
}

// Common reasons.
const (
	ReasonEmpty        = "empty statement"
	ReasonNoStatements = "no statements parsed"
	ReasonParseFailed  = "parse failed, allowed"
	ReasonAllPassed    = "all statements bounded"
)

// SelectCheck is the outcome of CheckSelect.
type SelectCheck struct {
	Pass   bool
	Reason string
}

// CheckSelect decides whether a single SELECT is bounded: it has an explicit
// limit, or every table it touches is registered and at least one WHERE
// condition filters on a registered indexed column.
func CheckSelect(stmt Statement, cfg *GuardConfig) SelectCheck {
	if stmt.HasLimit {
		return SelectCheck{Pass: true, Reason: "limit clause present"}
	}

	for _, t := range stmt.Tables {
		if !cfg.HasTable(t) {
			return SelectCheck{Reason: fmt.Sprintf("table %q is not registered", t.QualifiedName())}
		}
	}

	for _, c := range stmt.Conditions {
		if c.Table.Name == "" {
			continue
		}
		if cfg.IsIndexed(c.Table, c.Column) {
			return SelectCheck{
				Pass:   true,
				Reason: fmt.Sprintf("filters on indexed column %s.%s", c.Table.QualifiedName(), c.Column),
			}
		}
	}

	return SelectCheck{Reason: fmt.Sprintf("no limit and no indexed filter on %s", tableList(stmt.Tables))}
}

// Classify applies the guard rules to already-parsed statements. sql is the
// raw text they came from; it is consulted for the limit keyword before a
// rejection is downgraded to NEEDS_LIMIT.
//
// Only a single-statement batch is eligible for the downgrade. A failing
// multi-statement batch stays REJECT.
func Classify(sql string, stmts []Statement, cfg *GuardConfig) Decision {
	if len(stmts) == 0 {
		return Decision{Result: ResultSafe, Reason: ReasonNoStatements}
	}

	d := Decision{Result: ResultSafe, Reason: ReasonAllPassed, Statements: len(stmts)}
	for _, stmt := range stmts {
		if !stmt.IsSelect() {
			continue
		}
		if check := CheckSelect(stmt, cfg); !check.Pass {
			d.Result = ResultReject
			d.Reason = check.Reason
			break
		}
	}

	if d.Result == ResultReject && cfg.AddLimit && len(stmts) == 1 && !ContainsLimitKeyword(sql) {
		d.Result = ResultNeedsLimit
	}
	return d
}

// ContainsLimitKeyword reports whether the raw SQL text contains the
// lowercase substring "limit". The match is case-sensitive: an uppercase
// LIMIT in a literal or comment does not block the NEEDS_LIMIT downgrade.
// Identifiers and literals containing the lowercase word still count.
func ContainsLimitKeyword(sql string) bool {
	return strings.Contains(sql, "limit")
}

func tableList(tables []TableRef) string {
	if len(tables) == 0 {
		return "(no tables)"
	}
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, t.QualifiedName())
	}
	return strings.Join(names, ", ")
}
