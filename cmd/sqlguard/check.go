package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/guillermoBallester/sqlguard/internal/core/domain"
	"github.com/guillermoBallester/sqlguard/internal/core/service"
)

// runCheck evaluates one statement and writes the outcome to w as JSON. It
// returns errCheckRejected when the guard raised on the statement.
func runCheck(ctx context.Context, guard *service.Guard, sql string, w io.Writer) error {
	ctx = service.WithToolName(ctx, "check")
	out, applyErr := guard.Apply(ctx, sql)
	if applyErr != nil && !errors.Is(applyErr, domain.ErrRejected) {
		return fmt.Errorf("checking statement: %w", applyErr)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("writing decision: %w", err)
	}

	if applyErr != nil {
		return errCheckRejected
	}
	return nil
}
