package bq

import (
	"context"
	"fmt"
	"regexp"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/iam"
	"google.golang.org/api/googleapi"
)

// fakeAPI is an in-memory API implementation that records every mutating
// call and can be told to fail specific calls.
type fakeAPI struct {
	tables    map[TableID]*bigquery.TableMetadata
	policies  map[TableID]*iam.Policy
	datasets  map[string]bool
	forbidden map[TableID]bool
	queryRows []map[string]bigquery.Value

	calls  []string
	failOn map[string]error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		tables:    make(map[TableID]*bigquery.TableMetadata),
		policies:  make(map[TableID]*iam.Policy),
		datasets:  make(map[string]bool),
		forbidden: make(map[TableID]bool),
		failOn:    make(map[string]error),
	}
}

func notFound() error  { return &googleapi.Error{Code: 404, Message: "not found"} }
func forbidden() error { return &googleapi.Error{Code: 403, Message: "forbidden"} }

func (f *fakeAPI) addTable(id TableID, meta *bigquery.TableMetadata) {
	f.tables[id] = meta
	f.datasets[id.Project+"."+id.Dataset] = true
}

// record logs a mutating call and returns an injected failure, if any.
func (f *fakeAPI) record(call string) error {
	f.calls = append(f.calls, call)
	return f.failOn[call]
}

func (f *fakeAPI) GetTable(ctx context.Context, id TableID) (*bigquery.TableMetadata, error) {
	if f.forbidden[id] {
		return nil, forbidden()
	}
	meta, ok := f.tables[id]
	if !ok {
		return nil, notFound()
	}
	clone := *meta
	return &clone, nil
}

func (f *fakeAPI) CreateTable(ctx context.Context, id TableID, meta *bigquery.TableMetadata) error {
	if err := f.record("create " + id.String()); err != nil {
		return err
	}
	clone := *meta
	f.tables[id] = &clone
	return nil
}

func (f *fakeAPI) UpdateTable(ctx context.Context, id TableID, upd bigquery.TableMetadataToUpdate) error {
	if err := f.record("update " + id.String()); err != nil {
		return err
	}
	meta, ok := f.tables[id]
	if !ok {
		return notFound()
	}
	if desc, ok := upd.Description.(string); ok {
		meta.Description = desc
	}
	if upd.Schema != nil {
		meta.Schema = upd.Schema
	}
	if upd.TableConstraints != nil {
		meta.TableConstraints = upd.TableConstraints
	}
	if upd.TimePartitioning != nil {
		meta.TimePartitioning = upd.TimePartitioning
	}
	return nil
}

func (f *fakeAPI) DeleteTable(ctx context.Context, id TableID) error {
	if err := f.record("delete " + id.String()); err != nil {
		return err
	}
	if _, ok := f.tables[id]; !ok {
		return notFound()
	}
	delete(f.tables, id)
	delete(f.policies, id)
	return nil
}

func (f *fakeAPI) CopyTable(ctx context.Context, src, dst TableID) error {
	if err := f.record(fmt.Sprintf("copy %s %s", src, dst)); err != nil {
		return err
	}
	if meta, ok := f.tables[src]; ok {
		if _, exists := f.tables[dst]; !exists {
			clone := *meta
			f.tables[dst] = &clone
		}
	}
	return nil
}

var renameQuery = regexp.MustCompile("alter table `([^`]+)` rename to `([^`]+)`")

func (f *fakeAPI) ExecQuery(ctx context.Context, project, query string) error {
	if err := f.record("exec " + query); err != nil {
		return err
	}
	if m := renameQuery.FindStringSubmatch(query); m != nil {
		src, err := ParseTableID(m[1])
		if err != nil {
			return err
		}
		meta, ok := f.tables[src]
		if !ok {
			return notFound()
		}
		dst := src.WithTable(m[2])
		f.tables[dst] = meta
		delete(f.tables, src)
		if p, ok := f.policies[src]; ok {
			f.policies[dst] = p
			delete(f.policies, src)
		}
	}
	return nil
}

func (f *fakeAPI) QueryRows(ctx context.Context, project, query string) ([]map[string]bigquery.Value, error) {
	return f.queryRows, nil
}

func (f *fakeAPI) GetIAMPolicy(ctx context.Context, id TableID) (*iam.Policy, error) {
	if p, ok := f.policies[id]; ok {
		return p, nil
	}
	return &iam.Policy{}, nil
}

func (f *fakeAPI) SetIAMPolicy(ctx context.Context, id TableID, policy *iam.Policy) error {
	if err := f.record("setiam " + id.String()); err != nil {
		return err
	}
	f.policies[id] = policy
	return nil
}

func (f *fakeAPI) DatasetExists(ctx context.Context, project, dataset string) (bool, error) {
	return f.datasets[project+"."+dataset], nil
}

func (f *fakeAPI) CreateDataset(ctx context.Context, project, dataset string) error {
	if err := f.record(fmt.Sprintf("createdataset %s.%s", project, dataset)); err != nil {
		return err
	}
	f.datasets[project+"."+dataset] = true
	return nil
}

func (f *fakeAPI) ListDatasets(ctx context.Context, project string) ([]string, error) {
	var names []string
	for key := range f.datasets {
		names = append(names, key)
	}
	return names, nil
}

func (f *fakeAPI) ListTables(ctx context.Context, project, dataset string) ([]string, error) {
	var names []string
	for id := range f.tables {
		if id.Project == project && id.Dataset == dataset {
			names = append(names, id.Table)
		}
	}
	return names, nil
}
