// Package bq wraps the BigQuery surface dbtwiz needs: table inspection, the
// guarded table migration engine, time-travel restore, and partition
// expiration management. All mutation flows go through the narrow API
// interface so they can be exercised against a fake in tests.
package bq

import (
	"fmt"
	"strings"
)

// TableID identifies a BigQuery table or view by its full dotted path.
type TableID struct {
	Project string
	Dataset string
	Table   string
}

// ParseTableID parses a "project.dataset.table" identifier.
func ParseTableID(s string) (TableID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return TableID{}, fmt.Errorf("invalid table id %q (want project.dataset.table)", s)
	}
	return TableID{Project: parts[0], Dataset: parts[1], Table: parts[2]}, nil
}

func (t TableID) String() string {
	return fmt.Sprintf("%s.%s.%s", t.Project, t.Dataset, t.Table)
}

// IsZero reports whether the id is unset.
func (t TableID) IsZero() bool {
	return t == TableID{}
}

// SameDataset reports whether two ids share project and dataset.
func (t TableID) SameDataset(other TableID) bool {
	return t.Project == other.Project && t.Dataset == other.Dataset
}

// WithTable returns a copy pointing at a different table in the same
// dataset.
func (t TableID) WithTable(table string) TableID {
	t.Table = table
	return t
}

// Snapshot returns the id with a time-travel snapshot decorator appended,
// addressing the table's state at the given epoch milliseconds.
func (t TableID) Snapshot(epochMs int64) TableID {
	t.Table = fmt.Sprintf("%s@%d", t.Table, epochMs)
	return t
}
