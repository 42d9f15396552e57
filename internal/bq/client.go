package bq

import (
	"context"
	"fmt"
	"sort"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/iam"
	"google.golang.org/api/impersonate"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Client is the production API implementation backed by the BigQuery SDK.
type Client struct {
	bq       *bigquery.Client
	location string
}

// ClientOptions configures client construction.
type ClientOptions struct {
	// Project is the default project for jobs. Empty uses ADC's project.
	Project string
	// ImpersonateServiceAccount, when set, routes all calls through the
	// given service account.
	ImpersonateServiceAccount string
	// Location is the BigQuery location for query jobs and new datasets.
	Location string
}

// NewClient creates a BigQuery client.
func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	var clientOpts []option.ClientOption
	if opts.ImpersonateServiceAccount != "" {
		ts, err := impersonate.CredentialsTokenSource(ctx, impersonate.CredentialsConfig{
			TargetPrincipal: opts.ImpersonateServiceAccount,
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to impersonate %s: %w", opts.ImpersonateServiceAccount, err)
		}
		clientOpts = append(clientOpts, option.WithTokenSource(ts))
	}

	project := opts.Project
	if project == "" {
		project = bigquery.DetectProjectID
	}
	client, err := bigquery.NewClient(ctx, project, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create BigQuery client: %w", err)
	}

	location := opts.Location
	if location == "" {
		location = "EU"
	}
	return &Client{bq: client, location: location}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error { return c.bq.Close() }

func (c *Client) table(id TableID) *bigquery.Table {
	return c.bq.DatasetInProject(id.Project, id.Dataset).Table(id.Table)
}

func (c *Client) GetTable(ctx context.Context, id TableID) (*bigquery.TableMetadata, error) {
	return c.table(id).Metadata(ctx)
}

func (c *Client) CreateTable(ctx context.Context, id TableID, meta *bigquery.TableMetadata) error {
	return c.table(id).Create(ctx, meta)
}

func (c *Client) UpdateTable(ctx context.Context, id TableID, upd bigquery.TableMetadataToUpdate) error {
	_, err := c.table(id).Update(ctx, upd, "")
	return err
}

func (c *Client) DeleteTable(ctx context.Context, id TableID) error {
	return c.table(id).Delete(ctx)
}

func (c *Client) CopyTable(ctx context.Context, src, dst TableID) error {
	copier := c.table(dst).CopierFrom(c.table(src))
	job, err := copier.Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}

func (c *Client) ExecQuery(ctx context.Context, project, query string) error {
	q := c.bq.Query(query)
	q.Location = c.location
	if project != "" {
		q.DefaultProjectID = project
	}
	job, err := q.Run(ctx)
	if err != nil {
		return err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}
	return status.Err()
}

func (c *Client) QueryRows(ctx context.Context, project, query string) ([]map[string]bigquery.Value, error) {
	q := c.bq.Query(query)
	q.Location = c.location
	if project != "" {
		q.DefaultProjectID = project
	}
	it, err := q.Read(ctx)
	if err != nil {
		return nil, err
	}

	var rows []map[string]bigquery.Value
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *Client) GetIAMPolicy(ctx context.Context, id TableID) (*iam.Policy, error) {
	return c.table(id).IAM().Policy(ctx)
}

func (c *Client) SetIAMPolicy(ctx context.Context, id TableID, policy *iam.Policy) error {
	return c.table(id).IAM().SetPolicy(ctx, policy)
}

func (c *Client) DatasetExists(ctx context.Context, project, dataset string) (bool, error) {
	_, err := c.bq.DatasetInProject(project, dataset).Metadata(ctx)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) CreateDataset(ctx context.Context, project, dataset string) error {
	return c.bq.DatasetInProject(project, dataset).Create(ctx, &bigquery.DatasetMetadata{
		Location: c.location,
	})
}

func (c *Client) ListDatasets(ctx context.Context, project string) ([]string, error) {
	it := c.bq.Datasets(ctx)
	it.ProjectID = project

	var names []string
	for {
		ds, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, ds.DatasetID)
	}
	sort.Strings(names)
	return names, nil
}

func (c *Client) ListTables(ctx context.Context, project, dataset string) ([]string, error) {
	it := c.bq.DatasetInProject(project, dataset).Tables(ctx)

	var names []string
	for {
		t, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, t.TableID)
	}
	return names, nil
}
