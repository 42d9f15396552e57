package project

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SyncModelColumns reconciles a model's yml columns block with the columns
// of its materialized table. Missing columns are added, stale ones removed
// and data types corrected; descriptions already written by hand win over
// the ones found on the table. The resulting block follows table column
// order. Returns whether the file was rewritten, plus one message per
// adjustment.
func SyncModelColumns(ymlPath string, columns []ColumnSchema) (bool, []string, error) {
	data, err := os.ReadFile(ymlPath)
	if err != nil {
		return false, nil, fmt.Errorf("failed to read %s: %w", ymlPath, err)
	}
	var file SchemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return false, nil, fmt.Errorf("failed to parse %s: %w", ymlPath, err)
	}
	if len(file.Models) == 0 {
		return false, nil, fmt.Errorf("%s declares no models", ymlPath)
	}
	model := &file.Models[0]

	declared := make(map[string]ColumnSchema, len(model.Columns))
	for _, col := range model.Columns {
		declared[col.Name] = col
	}

	var messages []string
	synced := make([]ColumnSchema, 0, len(columns))
	for _, col := range columns {
		old, ok := declared[col.Name]
		if !ok {
			messages = append(messages, fmt.Sprintf("added column %s (%s)", col.Name, col.DataType))
			synced = append(synced, col)
			continue
		}
		if old.DataType != col.DataType {
			messages = append(messages, fmt.Sprintf("column %s: data type set to %s", col.Name, col.DataType))
			old.DataType = col.DataType
		}
		if old.Description == "" && col.Description != "" {
			messages = append(messages, fmt.Sprintf("column %s: description taken from the table", col.Name))
			old.Description = col.Description
		}
		synced = append(synced, old)
	}

	inTable := make(map[string]bool, len(columns))
	for _, col := range columns {
		inTable[col.Name] = true
	}
	for _, old := range model.Columns {
		if !inTable[old.Name] {
			messages = append(messages, fmt.Sprintf("removed column %s, which is not in the table", old.Name))
		}
	}

	if len(messages) == 0 {
		return false, nil, nil
	}

	model.Columns = synced
	out, err := yaml.Marshal(file)
	if err != nil {
		return false, nil, err
	}
	if err := os.WriteFile(ymlPath, out, 0o644); err != nil {
		return false, nil, fmt.Errorf("failed to write %s: %w", ymlPath, err)
	}
	return true, messages, nil
}
