package bq

import (
	"context"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/iam"
)

// API is the opaque BigQuery surface the engine operates through. The
// production implementation is Client; tests substitute a recording fake.
// All job-backed operations (copy, query) block until the job completes.
type API interface {
	// GetTable returns a table's metadata. Not-found and permission errors
	// are returned as-is and classified by the caller.
	GetTable(ctx context.Context, id TableID) (*bigquery.TableMetadata, error)
	CreateTable(ctx context.Context, id TableID, meta *bigquery.TableMetadata) error
	UpdateTable(ctx context.Context, id TableID, upd bigquery.TableMetadataToUpdate) error
	DeleteTable(ctx context.Context, id TableID) error
	// CopyTable copies src to dst with a copy job and waits for it.
	CopyTable(ctx context.Context, src, dst TableID) error
	// ExecQuery runs a statement (typically DDL) and waits for it.
	ExecQuery(ctx context.Context, project, query string) error
	// QueryRows runs a query and returns all result rows.
	QueryRows(ctx context.Context, project, query string) ([]map[string]bigquery.Value, error)

	GetIAMPolicy(ctx context.Context, id TableID) (*iam.Policy, error)
	SetIAMPolicy(ctx context.Context, id TableID, policy *iam.Policy) error

	DatasetExists(ctx context.Context, project, dataset string) (bool, error)
	CreateDataset(ctx context.Context, project, dataset string) error
	ListDatasets(ctx context.Context, project string) ([]string, error)
	ListTables(ctx context.Context, project, dataset string) ([]string, error)
}
