package port

import "context"

// AuditEntry represents a single auditable guard or query event.
type AuditEntry struct {
	Tool         string
	SQL          string
	RewrittenSQL string
	Result       string
	Reason       string
	Executed     bool // the statement reached the database
	RowsReturned int
	DurationMS   int64
	Err          error
}

// QueryAuditor records audit events.
type QueryAuditor interface {
	Record(ctx context.Context, entry AuditEntry)
	Close() error
}

// NoopAuditor discards all audit entries.
type NoopAuditor struct{}

func (NoopAuditor) Record(context.Context, AuditEntry) {}
func (NoopAuditor) Close() error                       { return nil }
