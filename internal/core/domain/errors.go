package domain

import "errors"

var (
	ErrEmptyQuery     = errors.New("empty query")
	ErrParseFailed    = errors.New("failed to parse SQL")
	ErrRejected       = errors.New("query may return an unbounded result set")
	ErrUnknownDialect = errors.New("unknown SQL dialect")
)
