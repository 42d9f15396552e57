package partition

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/dbtwiz/dbtwiz/internal/bq"
	"github.com/dbtwiz/dbtwiz/internal/manifest"
)

const partitionManifest = `{
	"nodes": {
		"model.proj.events": {
			"name": "events",
			"resource_type": "model",
			"database": "proj",
			"schema": "marts",
			"alias": "events",
			"config": {"materialized": "incremental", "partition_expiration_days": 30}
		},
		"model.proj.sessions": {
			"name": "sessions",
			"resource_type": "model",
			"database": "proj",
			"schema": "marts",
			"alias": "sessions",
			"config": {"materialized": "incremental", "partition_expiration_days": "{{ var('default_expiry') }}"}
		},
		"model.proj.customers": {
			"name": "customers",
			"resource_type": "model",
			"database": "proj",
			"schema": "marts",
			"alias": "customers",
			"config": {"materialized": "table"}
		}
	},
	"sources": {},
	"parent_map": {},
	"child_map": {},
	"metadata": {"vars": {"default_expiry": 90}}
}`

func loadTestManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := manifest.Parse([]byte(partitionManifest), "test")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return m
}

func TestFromManifest(t *testing.T) {
	exps, err := FromManifest(loadTestManifest(t))
	if err != nil {
		t.Fatalf("FromManifest failed: %v", err)
	}
	if len(exps) != 2 {
		t.Fatalf("expected 2 expirations, got %d", len(exps))
	}
	// Sorted by model name: events, sessions.
	if exps[0].ModelName != "events" || exps[0].DefinedDays != 30 {
		t.Errorf("events expiration = %+v", exps[0])
	}
	if exps[1].ModelName != "sessions" || exps[1].DefinedDays != 90 {
		t.Errorf("sessions expiration (var resolution) = %+v", exps[1])
	}
	if exps[0].Table.String() != "proj.marts.events" {
		t.Errorf("events table = %s", exps[0].Table)
	}
}

func TestFilter(t *testing.T) {
	exps, err := FromManifest(loadTestManifest(t))
	if err != nil {
		t.Fatal(err)
	}
	kept := Filter(exps, []string{"sessions"})
	if len(kept) != 1 || kept[0].ModelName != "sessions" {
		t.Errorf("Filter = %+v", kept)
	}
	if got := Filter(exps, nil); len(got) != 2 {
		t.Errorf("empty filter must keep everything, got %d", len(got))
	}
}

// expiryAPI serves table metadata with configurable partition expirations.
type expiryAPI struct {
	bq.API
	days    map[string]int // table name -> days, -1 for unpartitioned
	updated map[string]time.Duration
}

func (f *expiryAPI) GetTable(ctx context.Context, id bq.TableID) (*bigquery.TableMetadata, error) {
	days, ok := f.days[id.Table]
	if !ok {
		return nil, &googleapi.Error{Code: 404}
	}
	meta := &bigquery.TableMetadata{Type: bigquery.RegularTable}
	if days >= 0 {
		meta.TimePartitioning = &bigquery.TimePartitioning{
			Type:       bigquery.DayPartitioningType,
			Expiration: time.Duration(days) * 24 * time.Hour,
		}
	}
	return meta, nil
}

func (f *expiryAPI) UpdateTable(ctx context.Context, id bq.TableID, upd bigquery.TableMetadataToUpdate) error {
	if f.updated == nil {
		f.updated = make(map[string]time.Duration)
	}
	f.updated[id.Table] = upd.TimePartitioning.Expiration
	return nil
}

func TestFindMismatches(t *testing.T) {
	exps, err := FromManifest(loadTestManifest(t))
	if err != nil {
		t.Fatal(err)
	}
	fake := &expiryAPI{days: map[string]int{
		"events":   30, // matches
		"sessions": -1, // no expiration set
	}}
	engine := bq.NewEngine(fake, nil)

	mismatches, err := FindMismatches(context.Background(), engine, nil, exps)
	if err != nil {
		t.Fatalf("FindMismatches failed: %v", err)
	}
	if len(mismatches) != 1 {
		t.Fatalf("expected 1 mismatch, got %d", len(mismatches))
	}
	m := mismatches[0]
	if m.ModelName != "sessions" || m.CurrentDays != -1 || m.DefinedDays != 90 {
		t.Errorf("mismatch = %+v", m)
	}
}

func TestApply(t *testing.T) {
	fake := &expiryAPI{days: map[string]int{"sessions": 30}}
	engine := bq.NewEngine(fake, nil)

	err := Apply(context.Background(), engine, []Mismatch{{
		Expiration: Expiration{
			ModelName:   "sessions",
			Table:       bq.TableID{Project: "proj", Dataset: "marts", Table: "sessions"},
			DefinedDays: 90,
		},
		CurrentDays: 30,
	}})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if got := fake.updated["sessions"]; got != 90*24*time.Hour {
		t.Errorf("updated expiration = %v", got)
	}
}
