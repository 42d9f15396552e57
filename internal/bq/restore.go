package bq

import (
	"context"
	"fmt"

	"github.com/dbtwiz/dbtwiz/internal/logger"
)

// TableExists reports whether the table exists. Permission errors propagate
// so the caller can decide whether to proceed anyway.
func (e *Engine) TableExists(ctx context.Context, id TableID) (bool, error) {
	_, err := e.API.GetTable(ctx, id)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RestoreTable recovers a deleted table from BigQuery time travel by copying
// the snapshot at the given epoch milliseconds into dst. When dst is zero
// the table is restored in place.
func (e *Engine) RestoreTable(ctx context.Context, table TableID, snapshotMs int64, dst TableID) (TableID, error) {
	if dst.IsZero() {
		dst = table
	}

	snapshot := table.Snapshot(snapshotMs)
	e.Log.Info("restoring table from snapshot",
		logger.String("snapshot", snapshot.String()),
		logger.String("target", dst.String()))

	if err := e.API.CopyTable(ctx, snapshot, dst); err != nil {
		return TableID{}, fmt.Errorf("failed to restore %s from snapshot: %w", table, err)
	}
	return dst, nil
}
