package audit

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/guillermoBallester/sqlguard/internal/core/port"
)

// fileEntry is the NDJSON-serializable form of an audit record.
type fileEntry struct {
	Timestamp    string  `json:"ts"`
	Tool         string  `json:"tool,omitempty"`
	SQL          string  `json:"sql"`
	RewrittenSQL string  `json:"rewritten_sql,omitempty"`
	Result       string  `json:"result"`
	Reason       string  `json:"reason,omitempty"`
	RowsReturned *int    `json:"rows_returned,omitempty"`
	DurationMS   int64   `json:"duration_ms,omitempty"`
	Error        *string `json:"error"`
}

// FileAuditor appends guard decisions and query executions to a file as
// NDJSON, one object per line.
type FileAuditor struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	now  func() time.Time
}

// NewFileAuditor opens (or creates) the file at path for append-only writing.
func NewFileAuditor(path string) (*FileAuditor, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileAuditor{
		file: f,
		enc:  json.NewEncoder(f),
		now:  time.Now,
	}, nil
}

func (a *FileAuditor) Record(_ context.Context, entry port.AuditEntry) {
	fe := fileEntry{
		Timestamp:  a.now().UTC().Format(time.RFC3339Nano),
		Tool:       entry.Tool,
		SQL:        entry.SQL,
		Result:     entry.Result,
		Reason:     entry.Reason,
		DurationMS: entry.DurationMS,
	}
	if entry.RewrittenSQL != entry.SQL {
		fe.RewrittenSQL = entry.RewrittenSQL
	}
	// Guard-only entries carry no row count; executions always do, even zero.
	if entry.Executed {
		rows := entry.RowsReturned
		fe.RowsReturned = &rows
	}
	if entry.Err != nil {
		s := entry.Err.Error()
		fe.Error = &s
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	_ = a.enc.Encode(fe) // best-effort; don't fail the statement for audit I/O
}

func (a *FileAuditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}
