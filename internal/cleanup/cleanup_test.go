package cleanup

import (
	"context"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbtwiz/dbtwiz/internal/bq"
	"github.com/dbtwiz/dbtwiz/internal/manifest"
)

// fakeWarehouse implements the subset of bq.API that cleanup exercises.
type fakeWarehouse struct {
	bq.API
	rows    []map[string]bigquery.Value
	tables  map[string][]string // "project.dataset" -> table names
	deleted []string
}

func (f *fakeWarehouse) QueryRows(ctx context.Context, project, query string) ([]map[string]bigquery.Value, error) {
	return f.rows, nil
}

func (f *fakeWarehouse) ListTables(ctx context.Context, project, dataset string) ([]string, error) {
	return f.tables[project+"."+dataset], nil
}

func (f *fakeWarehouse) DeleteTable(ctx context.Context, id bq.TableID) error {
	f.deleted = append(f.deleted, id.String())
	return nil
}

func testModels() map[string]*manifest.ModelInfo {
	return map[string]*manifest.ModelInfo{
		"orders": {
			Name:         "orders",
			Database:     "proj",
			Schema:       "marts",
			Materialized: "table",
			RelationName: "`proj`.`marts`.`orders`",
		},
		"customers": {
			Name:         "customers",
			Database:     "proj",
			Schema:       "marts",
			Materialized: "view",
			RelationName: "`proj`.`marts`.`customers`",
		},
		"helper": {
			Name:         "helper",
			Database:     "proj",
			Schema:       "marts",
			Materialized: "ephemeral",
			RelationName: "`proj`.`marts`.`helper`",
		},
		"monitoring": {
			Name:         "monitoring",
			Database:     "proj",
			Schema:       "elementary",
			Materialized: "table",
			RelationName: "`proj`.`elementary`.`monitoring`",
		},
	}
}

func TestBuildInventory(t *testing.T) {
	fake := &fakeWarehouse{
		rows: []map[string]bigquery.Value{
			{
				"table_schema": "marts",
				"tables": []bigquery.Value{
					"orders", "customers", "stale_leftover",
				},
			},
		},
	}
	cleaner := NewCleaner(fake, nil)

	inv, err := cleaner.BuildInventory(context.Background(), testModels())
	require.NoError(t, err)

	contents := inv["proj"]["marts"]
	require.NotNil(t, contents)
	assert.ElementsMatch(t, []string{"orders", "customers"}, contents.Manifest,
		"ephemeral and elementary models must be excluded")
	assert.Equal(t, []string{"orders", "customers", "stale_leftover"}, contents.BigQuery)
	assert.NotContains(t, inv["proj"], "elementary")
}

func TestFindOrphans(t *testing.T) {
	inv := Inventory{
		"proj": {
			"marts": &DatasetContents{
				Manifest: []string{"orders", "customers"},
				BigQuery: []string{"orders", "customers", "stale_b", "stale_a"},
			},
			// No manifest relations here: everything is off-limits.
			"scratch": &DatasetContents{
				BigQuery: []string{"anything"},
			},
		},
	}

	orphaned := FindOrphans(inv)
	assert.Equal(t, []string{"proj.marts.stale_a", "proj.marts.stale_b"}, orphaned)
}

func TestFindOrphansNone(t *testing.T) {
	inv := Inventory{
		"proj": {
			"marts": &DatasetContents{
				Manifest: []string{"orders"},
				BigQuery: []string{"orders"},
			},
		},
	}
	assert.Empty(t, FindOrphans(inv))
}

func TestEmptyDevDataset(t *testing.T) {
	fake := &fakeWarehouse{
		tables: map[string][]string{"proj.marts": {"orders", "customers"}},
	}
	cleaner := NewCleaner(fake, nil)

	asked := false
	err := cleaner.EmptyDevDataset(context.Background(), testModels(), func(message string) (bool, error) {
		asked = true
		return true, nil
	})
	require.NoError(t, err)
	assert.True(t, asked, "deletion must be confirmed")
	assert.ElementsMatch(t, []string{"proj.marts.orders", "proj.marts.customers"}, fake.deleted)
}

func TestEmptyDevDatasetDeclined(t *testing.T) {
	fake := &fakeWarehouse{
		tables: map[string][]string{"proj.marts": {"orders"}},
	}
	cleaner := NewCleaner(fake, nil)

	err := cleaner.EmptyDevDataset(context.Background(), testModels(), func(message string) (bool, error) {
		return false, nil
	})
	require.NoError(t, err)
	assert.Empty(t, fake.deleted)
}
