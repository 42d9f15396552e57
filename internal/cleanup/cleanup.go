// Package cleanup finds and removes orphaned BigQuery materializations:
// tables and views that exist in the warehouse but are no longer produced by
// any model in the manifest.
package cleanup

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/bigquery"

	"github.com/dbtwiz/dbtwiz/internal/bq"
	"github.com/dbtwiz/dbtwiz/internal/logger"
	"github.com/dbtwiz/dbtwiz/internal/manifest"
)

// elementaryDataset holds third-party observability materializations that
// never appear in the manifest and must not be flagged as orphans.
const elementaryDataset = "elementary"

// tmpTableFragment marks dbt's transient build tables.
const tmpTableFragment = "__dbt_tmp_"

// materializedKinds are the manifest materializations that leave a relation
// behind in the warehouse.
var materializedKinds = map[string]bool{
	"view":        true,
	"table":       true,
	"incremental": true,
}

// DatasetContents pairs the relations the manifest claims for a dataset with
// the relations actually present in BigQuery.
type DatasetContents struct {
	Manifest []string
	BigQuery []string
}

// Inventory maps project -> dataset -> contents.
type Inventory map[string]map[string]*DatasetContents

// Cleaner compares manifest relations against warehouse state.
type Cleaner struct {
	API bq.API
	Log logger.Logger
}

// NewCleaner creates a cleaner on top of the given API.
func NewCleaner(api bq.API, log logger.Logger) *Cleaner {
	if log == nil {
		log = logger.Nop()
	}
	return &Cleaner{API: api, Log: log}
}

// BuildInventory collects every relation the manifest materializes, grouped
// by project and dataset, and joins in the warehouse contents from the
// information schema of each involved project.
func (c *Cleaner) BuildInventory(ctx context.Context, models map[string]*manifest.ModelInfo) (Inventory, error) {
	inv := make(Inventory)
	for _, model := range models {
		if !materializedKinds[model.Materialized] {
			continue
		}
		id, err := bq.ParseTableID(strings.ReplaceAll(model.RelationName, "`", ""))
		if err != nil {
			return nil, fmt.Errorf("model %s has malformed relation name %q: %w", model.Name, model.RelationName, err)
		}
		if id.Dataset == elementaryDataset {
			continue
		}
		if inv[id.Project] == nil {
			inv[id.Project] = make(map[string]*DatasetContents)
		}
		if inv[id.Project][id.Dataset] == nil {
			inv[id.Project][id.Dataset] = &DatasetContents{}
		}
		contents := inv[id.Project][id.Dataset]
		contents.Manifest = append(contents.Manifest, id.Table)
	}

	for project, datasets := range inv {
		c.Log.Info("fetching datasets and tables", logger.String("project", project))
		query := fmt.Sprintf(`
			select table_schema, array_agg(table_name) as tables
			from region-eu.INFORMATION_SCHEMA.TABLES
			where table_catalog = '%s'
				and table_name not like '%%%s%%'
			group by table_schema`, project, tmpTableFragment)
		rows, err := c.API.QueryRows(ctx, project, query)
		if err != nil {
			return nil, fmt.Errorf("failed to query information schema for %s: %w", project, err)
		}
		for _, row := range rows {
			dataset, ok := row["table_schema"].(string)
			if !ok {
				continue
			}
			if datasets[dataset] == nil {
				datasets[dataset] = &DatasetContents{}
			}
			datasets[dataset].BigQuery = tableNames(row["tables"])
		}
	}
	return inv, nil
}

// tableNames unpacks the array_agg result column.
func tableNames(value bigquery.Value) []string {
	items, ok := value.([]bigquery.Value)
	if !ok {
		return nil
	}
	var names []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			names = append(names, s)
		}
	}
	return names
}

// FindOrphans returns the warehouse relations not claimed by the manifest.
// Datasets with no manifest relations at all are skipped: the manifest knows
// nothing about them, so nothing there can be declared orphaned.
func FindOrphans(inv Inventory) []string {
	var orphaned []string
	for project, datasets := range inv {
		for dataset, contents := range datasets {
			if len(contents.Manifest) == 0 {
				continue
			}
			claimed := make(map[string]bool, len(contents.Manifest))
			for _, table := range contents.Manifest {
				claimed[table] = true
			}
			for _, table := range contents.BigQuery {
				if !claimed[table] {
					orphaned = append(orphaned, fmt.Sprintf("%s.%s.%s", project, dataset, table))
				}
			}
		}
	}
	sort.Strings(orphaned)
	return orphaned
}

// DeleteTables removes the given tables, logging each outcome. Failures are
// collected rather than aborting the batch.
func (c *Cleaner) DeleteTables(ctx context.Context, ids []string) error {
	var failed []string
	for _, raw := range ids {
		id, err := bq.ParseTableID(raw)
		if err != nil {
			return err
		}
		if err := c.API.DeleteTable(ctx, id); err != nil {
			c.Log.Error("failed to delete table", logger.String("table", raw), logger.Err(err))
			failed = append(failed, raw)
			continue
		}
		c.Log.Info("deleted table", logger.String("table", raw))
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to delete %d of %d tables: %v", len(failed), len(ids), failed)
	}
	return nil
}

// EmptyDevDataset deletes every relation in the development dataset. The
// dataset is taken from the first non-ephemeral model in the dev manifest.
func (c *Cleaner) EmptyDevDataset(ctx context.Context, models map[string]*manifest.ModelInfo, confirm func(message string) (bool, error)) error {
	var project, dataset string
	for _, name := range sortedModelKeys(models) {
		model := models[name]
		if model.Materialized != "ephemeral" {
			project, dataset = model.Database, model.Schema
			break
		}
	}
	if project == "" {
		return fmt.Errorf("no materialized models found in manifest")
	}

	tables, err := c.API.ListTables(ctx, project, dataset)
	if err != nil {
		return fmt.Errorf("failed to list tables in %s.%s: %w", project, dataset, err)
	}
	if len(tables) == 0 {
		c.Log.Info("dataset is already empty", logger.String("dataset", project+"."+dataset))
		return nil
	}

	c.Log.Info("found tables and views in development dataset",
		logger.String("dataset", project+"."+dataset), logger.Int("count", len(tables)))
	if confirm != nil {
		ok, err := confirm(fmt.Sprintf("Delete all %d tables/views in %s.%s?", len(tables), project, dataset))
		if err != nil || !ok {
			return err
		}
	}

	ids := make([]string, 0, len(tables))
	for _, table := range tables {
		ids = append(ids, fmt.Sprintf("%s.%s.%s", project, dataset, table))
	}
	return c.DeleteTables(ctx, ids)
}

func sortedModelKeys(models map[string]*manifest.ModelInfo) []string {
	keys := make([]string, 0, len(models))
	for key := range models {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
