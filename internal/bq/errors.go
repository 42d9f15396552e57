package bq

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/googleapi"
)

// TableState is the classified state of a table or view.
type TableState string

const (
	// StateMissing means the table does not exist.
	StateMissing TableState = "missing"
	// StateBackup means the table exists and is tagged as a backup.
	StateBackup TableState = "backup"
	// StateDeprecated means the object is a view tagged as deprecated.
	StateDeprecated TableState = "deprecated"
	// StateExists means the table exists without special tagging.
	StateExists TableState = "exists"
	// StateForbidden means the caller lacks permission to inspect the
	// table. Treated as state information during precondition checks, not
	// as a failure.
	StateForbidden TableState = "forbidden"
)

// StateMismatch is one table whose actual state differs from the expected
// one.
type StateMismatch struct {
	Table    TableID
	Expected TableState
	Actual   TableState
}

// StateMismatchError aborts an operation before any mutation: at least one
// involved table was not in its expected state. It carries every mismatch
// found, not just the first.
type StateMismatchError struct {
	Action     string
	Mismatches []StateMismatch
}

func (e *StateMismatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "skipping %s since BigQuery state wasn't as expected:", e.Action)
	for _, m := range e.Mismatches {
		fmt.Fprintf(&b, "\n- %s: expected state was %q but had %q", m.Table, m.Expected, m.Actual)
	}
	return b.String()
}

// OperationError wraps a failure during an active DDL/copy/grant step, after
// preconditions passed and rollback (if any) ran.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// IsNotFound reports whether the error is a BigQuery 404.
func IsNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 404
}

// IsForbidden reports whether the error is a BigQuery 403.
func IsForbidden(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 403
}
