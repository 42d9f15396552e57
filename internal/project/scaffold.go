package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaFile is the yml file accompanying a model.
type SchemaFile struct {
	Version int           `yaml:"version"`
	Models  []ModelSchema `yaml:"models"`
}

// ModelSchema describes one model in a schema file.
type ModelSchema struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Config      *ModelConfig   `yaml:"config,omitempty"`
	Columns     []ColumnSchema `yaml:"columns,omitempty"`
}

// ColumnSchema is one column entry in a schema file, for models and source
// tables alike.
type ColumnSchema struct {
	Name        string `yaml:"name"`
	DataType    string `yaml:"data_type,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// ModelConfig is the model config block in a schema file.
type ModelConfig struct {
	Materialized            string         `yaml:"materialized,omitempty"`
	IncrementalStrategy     string         `yaml:"incremental_strategy,omitempty"`
	PartitionBy             *PartitionBy   `yaml:"partition_by,omitempty"`
	PartitionExpirationDays string         `yaml:"partition_expiration_days,omitempty"`
	RequirePartitionFilter  bool           `yaml:"require_partition_filter,omitempty"`
	OnSchemaChange          string         `yaml:"on_schema_change,omitempty"`
	FullRefresh             *bool          `yaml:"full_refresh,omitempty"`
	Tags                    []string       `yaml:"tags,omitempty"`
	Access                  string         `yaml:"access,omitempty"`
	Group                   string         `yaml:"group,omitempty"`
	Meta                    map[string]any `yaml:"meta,omitempty"`
}

// CreateOptions describes a new model to scaffold.
type CreateOptions struct {
	Layer           string
	Domain          string
	Name            string
	Description     string
	Materialization string
	// Source is the "source_name.table_name" a staging model reads from.
	Source string
	// ExpirationVar names the project var holding the partition expiration
	// for incremental models. Empty means no expiration.
	ExpirationVar string
	// Frequency becomes a tag ("daily", "hourly").
	Frequency string
	Access    string
	Group     string
}

// placeholderSQL seeds non-staging models, which have no derivable query.
const placeholderSQL = "{# SQL placeholder #}\n"

// stagingSQL returns the starter query for a staging model on a source table.
func stagingSQL(source string) (string, error) {
	parts := strings.SplitN(source, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("invalid source %q (want source_name.table_name)", source)
	}
	return fmt.Sprintf(`with
    source as (select * from {{ source("%s", "%s") }}),

    renamed as (
        select
            *
        from source
    )

select *
from renamed
`, parts[0], parts[1]), nil
}

// buildModelConfig assembles the config block for a new model. Incremental
// models get the standard partitioning setup.
func buildModelConfig(opts CreateOptions) *ModelConfig {
	cfg := &ModelConfig{Materialized: opts.Materialization}
	if opts.Materialization == "incremental" {
		cfg.IncrementalStrategy = "insert_overwrite"
		cfg.PartitionBy = &PartitionBy{Field: "partitiondate", DataType: "date"}
		if opts.ExpirationVar != "" {
			cfg.PartitionExpirationDays = fmt.Sprintf("{{ var('%s') }}", opts.ExpirationVar)
		}
		cfg.RequirePartitionFilter = true
		cfg.OnSchemaChange = "append_new_columns"
	}
	if opts.Frequency != "" {
		cfg.Tags = []string{opts.Frequency}
	}
	cfg.Access = opts.Access
	cfg.Group = opts.Group
	return cfg
}

// PartitionBy is the partitioning clause of a model config.
type PartitionBy struct {
	Field    string `yaml:"field"`
	DataType string `yaml:"data_type"`
}

// RenderSchemaFile marshals the schema file for a new model, for preview and
// writing.
func RenderSchemaFile(opts CreateOptions) ([]byte, error) {
	file := SchemaFile{
		Version: 2,
		Models: []ModelSchema{{
			Name:        modelName(opts),
			Description: opts.Description,
			Config:      buildModelConfig(opts),
		}},
	}
	return yaml.Marshal(file)
}

func modelName(opts CreateOptions) string {
	layer, err := LayerByName(opts.Layer)
	if err != nil {
		return opts.Name
	}
	return fmt.Sprintf("%s_%s__%s", layer.Abbreviation, opts.Domain, opts.Name)
}

// CreateModelFiles writes the .sql and .yml files for a new model under the
// given project root. Refuses to overwrite an existing schema file; an
// existing .sql file is left alone.
func CreateModelFiles(root string, opts CreateOptions) (sqlPath, ymlPath string, err error) {
	base, err := NewBasePath(opts.Layer)
	if err != nil {
		return "", "", err
	}
	rel, err := base.Path(opts.Name, opts.Domain)
	if err != nil {
		return "", "", err
	}
	sqlPath = filepath.Join(root, rel)
	ymlPath = strings.TrimSuffix(sqlPath, ".sql") + ".yml"

	if _, err := os.Stat(ymlPath); err == nil {
		return "", "", fmt.Errorf("model yml file %s already exists", ymlPath)
	}

	ymlContent, err := RenderSchemaFile(opts)
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(filepath.Dir(sqlPath), 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create model directory: %w", err)
	}
	if err := os.WriteFile(ymlPath, ymlContent, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write %s: %w", ymlPath, err)
	}

	if _, err := os.Stat(sqlPath); os.IsNotExist(err) {
		sql := placeholderSQL
		if opts.Layer == "staging" && opts.Source != "" {
			sql, err = stagingSQL(opts.Source)
			if err != nil {
				return "", "", err
			}
		}
		if err := os.WriteFile(sqlPath, []byte(sql), 0o644); err != nil {
			return "", "", fmt.Errorf("failed to write %s: %w", sqlPath, err)
		}
	}
	return sqlPath, ymlPath, nil
}

// MoveModel copies a model to a new location and name. In safe mode the old
// model is kept as a view selecting from the new one, tagged in its meta as a
// temporary old copy, so downstream references keep working until they are
// updated. Otherwise the old files are deleted.
//
// All content is prepared in memory first; files are only touched once every
// transformation has succeeded.
func MoveModel(oldSQLPath, newDir, newName string, safe bool) error {
	oldYmlPath := strings.TrimSuffix(oldSQLPath, ".sql") + ".yml"
	newSQLPath := filepath.Join(newDir, newName+".sql")
	newYmlPath := filepath.Join(newDir, newName+".yml")

	sqlContent, err := os.ReadFile(oldSQLPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", oldSQLPath, err)
	}
	ymlData, err := os.ReadFile(oldYmlPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", oldYmlPath, err)
	}

	var newSchema SchemaFile
	if err := yaml.Unmarshal(ymlData, &newSchema); err != nil {
		return fmt.Errorf("failed to parse %s: %w", oldYmlPath, err)
	}
	if len(newSchema.Models) == 0 {
		return fmt.Errorf("%s declares no models", oldYmlPath)
	}
	oldName := newSchema.Models[0].Name
	newSchema.Models[0].Name = newName
	newYmlContent, err := yaml.Marshal(newSchema)
	if err != nil {
		return err
	}

	var oldSQLUpdated []byte
	var oldYmlUpdated []byte
	if safe {
		oldSQLUpdated = []byte(fmt.Sprintf("select * from {{ ref('%s') }}\n", newName))

		var oldSchema SchemaFile
		if err := yaml.Unmarshal(ymlData, &oldSchema); err != nil {
			return err
		}
		cfg := oldSchema.Models[0].Config
		if cfg == nil {
			cfg = &ModelConfig{}
			oldSchema.Models[0].Config = cfg
		}
		// The old model becomes a plain view, so table-shaped settings no
		// longer apply.
		cfg.FullRefresh = nil
		cfg.IncrementalStrategy = ""
		cfg.OnSchemaChange = ""
		cfg.PartitionBy = nil
		cfg.PartitionExpirationDays = ""
		cfg.RequirePartitionFilter = false
		cfg.Tags = nil
		if cfg.Materialized == "table" || cfg.Materialized == "incremental" {
			cfg.Materialized = "view"
		}
		if cfg.Meta == nil {
			cfg.Meta = map[string]any{}
		}
		cfg.Meta["is_tmp_old_copy"] = true
		oldSchema.Models[0].Name = oldName
		if oldYmlUpdated, err = yaml.Marshal(oldSchema); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(newDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", newDir, err)
	}
	if err := os.WriteFile(newSQLPath, sqlContent, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(newYmlPath, newYmlContent, 0o644); err != nil {
		os.Remove(newSQLPath)
		return err
	}

	if safe {
		if err := os.WriteFile(oldSQLPath, oldSQLUpdated, 0o644); err != nil {
			return err
		}
		return os.WriteFile(oldYmlPath, oldYmlUpdated, 0o644)
	}
	if err := os.Remove(oldSQLPath); err != nil {
		return err
	}
	return os.Remove(oldYmlPath)
}
