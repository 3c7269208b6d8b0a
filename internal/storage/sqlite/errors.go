package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested run was not found in the journal.
var ErrNotFound = errors.New("not found")

// wrapDBError wraps a database error with operation context.
// It converts sql.ErrNoRows to ErrNotFound for consistent error handling.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
