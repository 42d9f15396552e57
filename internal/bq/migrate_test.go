package bq

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/iam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	oldID    = TableID{Project: "proj-a", Dataset: "old_ds", Table: "customers"}
	newID    = TableID{Project: "proj-b", Dataset: "new_ds", Table: "mrt_sales__customers"}
	backupID = TableID{Project: "proj-a", Dataset: "old_ds", Table: "customers__bck"}
)

func tableMeta() *bigquery.TableMetadata {
	return &bigquery.TableMetadata{
		Type:        bigquery.RegularTable,
		Description: "customer dimension",
		Labels:      map[string]string{"team": "sales"},
		Schema: bigquery.Schema{
			{Name: "id", Type: bigquery.IntegerFieldType},
		},
	}
}

func viewMeta() *bigquery.TableMetadata {
	return &bigquery.TableMetadata{
		Type:        bigquery.ViewTable,
		Description: "customer view",
		ViewQuery:   "select * from `proj-a.raw.customers`",
		Schema: bigquery.Schema{
			{Name: "id", Type: bigquery.IntegerFieldType, Description: "customer key"},
		},
	}
}

func policyWith(member string, role iam.RoleName) *iam.Policy {
	p := &iam.Policy{}
	p.Add(member, role)
	return p
}

func TestClassifyState(t *testing.T) {
	fake := newFakeAPI()
	engine := NewEngine(fake, nil)
	ctx := context.Background()

	backup := tableMeta()
	backup.Description = backupMessage + ". USE proj-b.new_ds.t."
	fake.addTable(TableID{"p", "d", "bck"}, backup)

	deprecated := viewMeta()
	deprecated.Description = deprecationMessage + ". USE proj-b.new_ds.t."
	fake.addTable(TableID{"p", "d", "dep"}, deprecated)

	fake.addTable(TableID{"p", "d", "plain"}, tableMeta())
	fake.forbidden[TableID{"p", "d", "secret"}] = true

	tests := []struct {
		table string
		want  TableState
	}{
		{"bck", StateBackup},
		{"dep", StateDeprecated},
		{"plain", StateExists},
		{"absent", StateMissing},
		{"secret", StateForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.table, func(t *testing.T) {
			state, _, err := engine.classifyState(ctx, TableID{"p", "d", tt.table})
			require.NoError(t, err)
			assert.Equal(t, tt.want, state)
		})
	}
}

func TestCreateTableCopyStateMismatch(t *testing.T) {
	fake := newFakeAPI()
	// Source missing, target already present: both wrong.
	fake.addTable(newID, tableMeta())
	engine := NewEngine(fake, nil)

	err := engine.CreateTableCopy(context.Background(), oldID, newID)

	var mismatch *StateMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Len(t, mismatch.Mismatches, 2)
	assert.Empty(t, fake.calls, "no mutation may happen on a precondition failure")
}

func TestCreateTableCopyTable(t *testing.T) {
	fake := newFakeAPI()
	meta := tableMeta()
	meta.TableConstraints = &bigquery.TableConstraints{
		PrimaryKey: &bigquery.PrimaryKey{Columns: []string{"id"}},
	}
	fake.addTable(oldID, meta)
	fake.policies[oldID] = policyWith("user:ana@example.com", "roles/bigquery.dataViewer")
	engine := NewEngine(fake, nil)

	require.NoError(t, engine.CreateTableCopy(context.Background(), oldID, newID))

	created := fake.tables[newID]
	require.NotNil(t, created, "target table was not created")
	assert.Equal(t, meta.Description, created.Description)
	assert.Equal(t, meta.Labels, created.Labels)
	require.NotNil(t, created.TableConstraints)
	assert.Equal(t, []string{"id"}, created.TableConstraints.PrimaryKey.Columns)

	assert.Contains(t, fake.calls, "copy proj-a.old_ds.customers proj-b.new_ds.mrt_sales__customers")
	assert.True(t, fake.datasets["proj-b.new_ds"], "target dataset was not created")

	policy := fake.policies[newID]
	require.NotNil(t, policy, "grants were not copied")
	assert.Contains(t, policy.Members("roles/bigquery.dataViewer"), "user:ana@example.com")
}

func TestCreateTableCopyView(t *testing.T) {
	fake := newFakeAPI()
	fake.addTable(oldID, viewMeta())
	engine := NewEngine(fake, nil)

	require.NoError(t, engine.CreateTableCopy(context.Background(), oldID, newID))

	created := fake.tables[newID]
	require.NotNil(t, created)
	assert.Equal(t, "select * from `proj-a.raw.customers`", created.ViewQuery)
	assert.Equal(t, "customer key", created.Schema[0].Description)
	assert.NotContains(t, fake.calls, "copy proj-a.old_ds.customers proj-b.new_ds.mrt_sales__customers",
		"views must not run a copy job")
}

func TestMigrateTableStateMismatch(t *testing.T) {
	fake := newFakeAPI()
	fake.addTable(oldID, tableMeta())
	fake.addTable(newID, tableMeta())
	existing := tableMeta()
	existing.Description = backupMessage + ". USE x."
	fake.addTable(backupID, existing)
	engine := NewEngine(fake, nil)

	err := engine.MigrateTable(context.Background(), oldID, newID, backupID)

	var mismatch *StateMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Len(t, mismatch.Mismatches, 1)
	assert.Equal(t, StateMissing, mismatch.Mismatches[0].Expected)
	assert.Equal(t, StateBackup, mismatch.Mismatches[0].Actual)
	assert.Empty(t, fake.calls, "no mutation may happen on a precondition failure")
}

func TestMigrateTable(t *testing.T) {
	fake := newFakeAPI()
	fake.addTable(oldID, tableMeta())
	fake.addTable(newID, tableMeta())
	fake.policies[oldID] = policyWith("user:ana@example.com", "roles/bigquery.dataViewer")
	engine := NewEngine(fake, nil)

	require.NoError(t, engine.MigrateTable(context.Background(), oldID, newID, backupID))

	backup := fake.tables[backupID]
	require.NotNil(t, backup, "backup table missing")
	assert.Equal(t, backupMessage+". USE proj-b.new_ds.mrt_sales__customers.", backup.Description)

	view := fake.tables[oldID]
	require.NotNil(t, view, "replacement view missing")
	assert.Equal(t, "select * from `proj-b.new_ds.mrt_sales__customers`", view.ViewQuery)
	assert.Equal(t, deprecationMessage+". USE proj-b.new_ds.mrt_sales__customers.", view.Description)

	policy := fake.policies[oldID]
	require.NotNil(t, policy, "grants missing on replacement view")
	assert.Contains(t, policy.Members("roles/bigquery.dataViewer"), "user:ana@example.com")
}

func TestMigrateTableRollbackBeforeView(t *testing.T) {
	fake := newFakeAPI()
	fake.addTable(oldID, tableMeta())
	fake.addTable(newID, tableMeta())
	boom := errors.New("quota exceeded")
	fake.failOn["create "+oldID.String()] = boom
	engine := NewEngine(fake, nil)

	err := engine.MigrateTable(context.Background(), oldID, newID, backupID)

	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.ErrorIs(t, err, boom)

	// Backup renamed back; no view, no backup left behind.
	assert.Contains(t, fake.tables, oldID, "original table was not restored")
	assert.NotContains(t, fake.tables, backupID, "backup was left behind")
	assert.Equal(t, bigquery.RegularTable, fake.tables[oldID].Type)
}

func TestMigrateTableRollbackAfterView(t *testing.T) {
	fake := newFakeAPI()
	fake.addTable(oldID, tableMeta())
	fake.addTable(newID, tableMeta())
	boom := errors.New("iam backend unavailable")
	fake.failOn["setiam "+oldID.String()] = boom
	engine := NewEngine(fake, nil)

	err := engine.MigrateTable(context.Background(), oldID, newID, backupID)
	require.ErrorIs(t, err, boom)

	// The view must be deleted before the backup is renamed back, otherwise
	// the rename would collide with the view at the old location.
	deleteIdx, renameIdx := -1, -1
	for i, call := range fake.calls {
		if call == "delete "+oldID.String() {
			deleteIdx = i
		}
		if call == "exec alter table `"+backupID.String()+"` rename to `"+oldID.Table+"`" {
			renameIdx = i
		}
	}
	require.GreaterOrEqual(t, deleteIdx, 0, "replacement view was not deleted")
	require.GreaterOrEqual(t, renameIdx, 0, "backup was not renamed back")
	assert.Less(t, deleteIdx, renameIdx, "view must be deleted before the backup rename")

	assert.Contains(t, fake.tables, oldID)
	assert.Equal(t, bigquery.RegularTable, fake.tables[oldID].Type)
	assert.NotContains(t, fake.tables, backupID)
}

func TestMigrateViewRollback(t *testing.T) {
	fake := newFakeAPI()
	fake.addTable(oldID, viewMeta())
	fake.addTable(newID, tableMeta())
	boom := errors.New("invalid query")
	// The backup view is created first, then the original is deleted, then
	// the replacement view creation fails.
	fake.failOn["create "+oldID.String()] = boom
	engine := NewEngine(fake, nil)

	err := engine.MigrateTable(context.Background(), oldID, newID, backupID)
	require.ErrorIs(t, err, boom)

	assert.NotContains(t, fake.tables, backupID, "backup view was not cleaned up")
}

func TestMigrateTableUnsupportedType(t *testing.T) {
	fake := newFakeAPI()
	meta := tableMeta()
	meta.Type = bigquery.ExternalTable
	fake.addTable(oldID, meta)
	fake.addTable(newID, tableMeta())
	engine := NewEngine(fake, nil)

	err := engine.MigrateTable(context.Background(), oldID, newID, backupID)
	require.Error(t, err)
	assert.Empty(t, fake.calls, "unsupported types must not trigger mutations")
}
