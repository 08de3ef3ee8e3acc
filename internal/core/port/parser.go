package port

import "github.com/guillermoBallester/sqlguard/internal/core/domain"

// StatementParser turns raw SQL into dialect-neutral statements.
// Implementations must be safe for concurrent use.
type StatementParser interface {
	Parse(sql string) ([]domain.Statement, error)
}
