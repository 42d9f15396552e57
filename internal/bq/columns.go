package bq

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
)

// Column is one column of a table, flattened: fields nested inside records
// appear with dotted names, the way dbt schema files list them.
type Column struct {
	Name        string
	Type        string
	Description string
}

// TableColumns returns the table's columns in schema order, with record
// fields flattened.
func (e *Engine) TableColumns(ctx context.Context, id TableID) ([]Column, error) {
	meta, err := e.API.GetTable(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema of %s: %w", id, err)
	}
	return flattenSchema("", meta.Schema), nil
}

func flattenSchema(prefix string, schema bigquery.Schema) []Column {
	var cols []Column
	for _, field := range schema {
		name := field.Name
		if prefix != "" {
			name = prefix + "." + field.Name
		}
		cols = append(cols, Column{
			Name:        name,
			Type:        strings.ToLower(string(field.Type)),
			Description: field.Description,
		})
		if field.Type == bigquery.RecordFieldType {
			cols = append(cols, flattenSchema(name, field.Schema)...)
		}
	}
	return cols
}
