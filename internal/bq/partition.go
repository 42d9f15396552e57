package bq

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dbtwiz/dbtwiz/internal/logger"
)

const day = 24 * time.Hour

// PartitionExpirationDays returns the table's partition expiration in whole
// days, or -1 when the table is unpartitioned or has no expiration set.
func (e *Engine) PartitionExpirationDays(ctx context.Context, id TableID) (int, error) {
	meta, err := e.API.GetTable(ctx, id)
	if err != nil {
		return 0, err
	}
	if meta.TimePartitioning == nil || meta.TimePartitioning.Expiration == 0 {
		return -1, nil
	}
	return int(meta.TimePartitioning.Expiration / day), nil
}

// UpdatePartitionExpiration sets the table's partition expiration to the
// given number of days. Unpartitioned tables are skipped.
func (e *Engine) UpdatePartitionExpiration(ctx context.Context, id TableID, days int) error {
	meta, err := e.API.GetTable(ctx, id)
	if err != nil {
		return err
	}
	if meta.TimePartitioning == nil {
		e.Log.Info("table is not partitioned, skipping update", logger.String("table", id.String()))
		return nil
	}

	e.Log.Info("updating partition expiration",
		logger.String("table", id.String()), logger.Int("days", days))
	return e.API.UpdateTable(ctx, id, bigquery.TableMetadataToUpdate{
		TimePartitioning: &bigquery.TimePartitioning{
			Type:       meta.TimePartitioning.Type,
			Field:      meta.TimePartitioning.Field,
			Expiration: time.Duration(days) * day,
		},
	})
}
