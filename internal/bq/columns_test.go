package bq

import (
	"context"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableColumnsFlattensRecords(t *testing.T) {
	fake := newFakeAPI()
	id := TableID{Project: "proj-a", Dataset: "raw", Table: "orders"}
	fake.addTable(id, &bigquery.TableMetadata{Schema: bigquery.Schema{
		{Name: "order_id", Type: bigquery.IntegerFieldType, Description: "Order key"},
		{Name: "customer", Type: bigquery.RecordFieldType, Schema: bigquery.Schema{
			{Name: "name", Type: bigquery.StringFieldType},
			{Name: "address", Type: bigquery.RecordFieldType, Schema: bigquery.Schema{
				{Name: "city", Type: bigquery.StringFieldType, Description: "City name"},
			}},
		}},
		{Name: "amount", Type: bigquery.NumericFieldType},
	}})
	engine := NewEngine(fake, nil)

	cols, err := engine.TableColumns(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, []Column{
		{Name: "order_id", Type: "integer", Description: "Order key"},
		{Name: "customer", Type: "record"},
		{Name: "customer.name", Type: "string"},
		{Name: "customer.address", Type: "record"},
		{Name: "customer.address.city", Type: "string", Description: "City name"},
		{Name: "amount", Type: "numeric"},
	}, cols)
}

func TestTableColumnsMissingTable(t *testing.T) {
	fake := newFakeAPI()
	engine := NewEngine(fake, nil)

	_, err := engine.TableColumns(context.Background(), TableID{Project: "p", Dataset: "d", Table: "gone"})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}
