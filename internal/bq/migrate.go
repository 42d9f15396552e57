package bq

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/iam"

	"github.com/dbtwiz/dbtwiz/internal/logger"
)

const (
	// backupMessage tags backup objects so they are never migrated again.
	backupMessage = "THIS OBJECT IS FOR BACKUP PURPOSES ONLY"
	// deprecationMessage tags replacement views left at a migrated table's
	// old location.
	deprecationMessage = "THIS OBJECT IS DEPRECATED"
)

// Engine performs guarded copy and migration operations on BigQuery tables
// and views. Every mutating operation verifies the state of all involved
// tables first and refuses to touch anything on a mismatch.
type Engine struct {
	API API
	Log logger.Logger
}

// NewEngine creates a migration engine on top of the given API.
func NewEngine(api API, log logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{API: api, Log: log}
}

type stateExpectation struct {
	Table    TableID
	Expected TableState
}

// classifyState determines the current state of a table. Permission errors
// classify as StateForbidden; only unexpected errors propagate.
func (e *Engine) classifyState(ctx context.Context, id TableID) (TableState, *bigquery.TableMetadata, error) {
	meta, err := e.API.GetTable(ctx, id)
	switch {
	case IsNotFound(err):
		return StateMissing, nil, nil
	case IsForbidden(err):
		return StateForbidden, nil, nil
	case err != nil:
		return "", nil, fmt.Errorf("failed to inspect %s: %w", id, err)
	}

	if strings.Contains(meta.Description, backupMessage) {
		return StateBackup, meta, nil
	}
	if meta.Type == bigquery.ViewTable && strings.Contains(meta.Description, deprecationMessage) {
		return StateDeprecated, meta, nil
	}
	return StateExists, meta, nil
}

// checkExpectedTableStates verifies every expectation and returns the
// collected metadata for tables that exist. All mismatches are reported
// together so the operator sees the full picture in one run.
func (e *Engine) checkExpectedTableStates(ctx context.Context, action string, expectations []stateExpectation) (map[TableID]*bigquery.TableMetadata, error) {
	metas := make(map[TableID]*bigquery.TableMetadata)
	var mismatches []StateMismatch

	for _, exp := range expectations {
		state, meta, err := e.classifyState(ctx, exp.Table)
		if err != nil {
			return nil, err
		}
		if meta != nil {
			metas[exp.Table] = meta
		}
		if state != exp.Expected {
			mismatches = append(mismatches, StateMismatch{
				Table:    exp.Table,
				Expected: exp.Expected,
				Actual:   state,
			})
		}
	}

	if len(mismatches) > 0 {
		return nil, &StateMismatchError{Action: action, Mismatches: mismatches}
	}
	return metas, nil
}

// CreateTableCopy copies a table or view to a new location, including
// metadata, data and access grants. The source must exist and the target
// must not. There is no rollback: a partial copy can simply be deleted and
// the operation retried.
func (e *Engine) CreateTableCopy(ctx context.Context, old, new TableID) error {
	metas, err := e.checkExpectedTableStates(ctx, "create table copy", []stateExpectation{
		{Table: old, Expected: StateExists},
		{Table: new, Expected: StateMissing},
	})
	if err != nil {
		return err
	}
	oldMeta := metas[old]

	if !old.SameDataset(new) {
		if err := e.ensureDataset(ctx, new); err != nil {
			return &OperationError{Op: "create table copy", Err: err}
		}
	}

	e.Log.Info("creating copy", logger.String("source", old.String()), logger.String("target", new.String()))

	switch oldMeta.Type {
	case bigquery.RegularTable:
		meta := copyTableProperties(oldMeta)
		meta.TableConstraints = oldMeta.TableConstraints
		if err := e.API.CreateTable(ctx, new, meta); err != nil {
			return &OperationError{Op: fmt.Sprintf("failed to create table %s", new), Err: err}
		}
		if err := e.API.CopyTable(ctx, old, new); err != nil {
			return &OperationError{Op: fmt.Sprintf("failed to copy data from %s to %s", old, new), Err: err}
		}

	case bigquery.ViewTable:
		meta := copyViewProperties(oldMeta)
		meta.ViewQuery = oldMeta.ViewQuery
		if err := e.API.CreateTable(ctx, new, meta); err != nil {
			return &OperationError{Op: fmt.Sprintf("failed to create view %s", new), Err: err}
		}
		// A view's schema (with column descriptions) can only be set after
		// creation.
		if err := e.API.UpdateTable(ctx, new, bigquery.TableMetadataToUpdate{Schema: oldMeta.Schema}); err != nil {
			return &OperationError{Op: fmt.Sprintf("failed to update schema of %s", new), Err: err}
		}

	default:
		return &OperationError{
			Op:  "create table copy",
			Err: fmt.Errorf("unsupported table type %q for %s", oldMeta.Type, old),
		}
	}

	if err := e.mergeIAMPolicy(ctx, old, new); err != nil {
		return &OperationError{Op: fmt.Sprintf("failed to copy access grants to %s", new), Err: err}
	}
	return nil
}

// MigrateTable replaces an existing table or view with a deprecation view
// selecting from its replacement, keeping a backup at backup. The
// replacement must already exist. On failure every completed step is rolled
// back on a best-effort basis.
func (e *Engine) MigrateTable(ctx context.Context, old, new, backup TableID) error {
	metas, err := e.checkExpectedTableStates(ctx, "migrate table", []stateExpectation{
		{Table: old, Expected: StateExists},
		{Table: new, Expected: StateExists},
		{Table: backup, Expected: StateMissing},
	})
	if err != nil {
		return err
	}
	oldMeta := metas[old]

	if oldMeta.Type != bigquery.RegularTable && oldMeta.Type != bigquery.ViewTable {
		return &OperationError{
			Op:  "migrate table",
			Err: fmt.Errorf("unsupported table type %q for %s", oldMeta.Type, old),
		}
	}

	if !backup.SameDataset(old) && !backup.SameDataset(new) {
		if err := e.ensureDataset(ctx, backup); err != nil {
			return &OperationError{Op: "migrate table", Err: err}
		}
	}

	// Capture the grants before the backup step moves or deletes the
	// original object.
	oldPolicy, err := e.API.GetIAMPolicy(ctx, old)
	if err != nil {
		return &OperationError{Op: fmt.Sprintf("failed to read access grants of %s", old), Err: err}
	}

	backupCreated := false
	viewCreated := false
	fail := func(op string, err error) error {
		e.rollbackMigration(ctx, oldMeta, old, backup, backupCreated, viewCreated)
		return &OperationError{Op: op, Err: err}
	}

	e.Log.Info("creating backup", logger.String("source", old.String()), logger.String("backup", backup.String()))
	if err := e.createBackup(ctx, oldMeta, old, new, backup); err != nil {
		return fail(fmt.Sprintf("failed to back up %s", old), err)
	}
	backupCreated = true

	e.Log.Info("creating replacement view", logger.String("view", old.String()), logger.String("target", new.String()))
	if err := e.createReplacementView(ctx, oldMeta, old, new); err != nil {
		return fail(fmt.Sprintf("failed to create replacement view %s", old), err)
	}
	viewCreated = true

	if err := e.applyPolicy(ctx, old, oldPolicy); err != nil {
		return fail(fmt.Sprintf("failed to copy access grants to %s", old), err)
	}
	return nil
}

// createBackup moves the original object out of the way. Tables are renamed
// in place which preserves data and avoids a copy; views are recreated at
// the backup location and the original deleted.
func (e *Engine) createBackup(ctx context.Context, oldMeta *bigquery.TableMetadata, old, new, backup TableID) error {
	description := fmt.Sprintf("%s. USE %s.", backupMessage, new)

	if oldMeta.Type == bigquery.RegularTable {
		// Constraints block a rename; drop them and reapply on the backup.
		hadConstraints := oldMeta.TableConstraints != nil
		if hadConstraints {
			if err := e.API.UpdateTable(ctx, old, bigquery.TableMetadataToUpdate{
				TableConstraints: &bigquery.TableConstraints{},
			}); err != nil {
				return fmt.Errorf("failed to remove constraints from %s: %w", old, err)
			}
		}

		query := fmt.Sprintf("alter table `%s` rename to `%s`", old, backup.Table)
		if err := e.API.ExecQuery(ctx, old.Project, query); err != nil {
			return fmt.Errorf("failed to rename %s to %s: %w", old, backup.Table, err)
		}

		upd := bigquery.TableMetadataToUpdate{Description: description}
		if hadConstraints {
			upd.TableConstraints = oldMeta.TableConstraints
		}
		if err := e.API.UpdateTable(ctx, backup, upd); err != nil {
			return fmt.Errorf("failed to tag backup %s: %w", backup, err)
		}
		return nil
	}

	meta := copyViewProperties(oldMeta)
	meta.ViewQuery = oldMeta.ViewQuery
	meta.Description = description
	if err := e.API.CreateTable(ctx, backup, meta); err != nil {
		return fmt.Errorf("failed to create backup view %s: %w", backup, err)
	}
	if err := e.API.UpdateTable(ctx, backup, bigquery.TableMetadataToUpdate{Schema: oldMeta.Schema}); err != nil {
		return fmt.Errorf("failed to update schema of %s: %w", backup, err)
	}
	if err := e.API.DeleteTable(ctx, old); err != nil {
		return fmt.Errorf("failed to delete original view %s: %w", old, err)
	}
	return nil
}

// createReplacementView leaves a deprecation view at the old location that
// forwards to the replacement. Constraints are deliberately not carried
// over; views cannot hold them.
func (e *Engine) createReplacementView(ctx context.Context, oldMeta *bigquery.TableMetadata, old, new TableID) error {
	meta := copyViewProperties(oldMeta)
	meta.ViewQuery = fmt.Sprintf("select * from `%s`", new)
	meta.Description = fmt.Sprintf("%s. USE %s.", deprecationMessage, new)

	if err := e.API.CreateTable(ctx, old, meta); err != nil {
		return err
	}
	return e.API.UpdateTable(ctx, old, bigquery.TableMetadataToUpdate{Schema: oldMeta.Schema})
}

// rollbackMigration undoes completed migration steps in reverse order. The
// replacement view must go first so the old location is free before the
// backup is renamed back. Rollback errors are logged, never returned; the
// original failure is what the caller needs to see.
func (e *Engine) rollbackMigration(ctx context.Context, oldMeta *bigquery.TableMetadata, old, backup TableID, backupCreated, viewCreated bool) {
	if viewCreated {
		if err := e.API.DeleteTable(ctx, old); err != nil {
			e.Log.Error("rollback: failed to delete replacement view", logger.String("view", old.String()), logger.Err(err))
		} else {
			e.Log.Info("rollback: deleted replacement view", logger.String("view", old.String()))
		}
	}

	if !backupCreated {
		return
	}
	if oldMeta.Type == bigquery.RegularTable {
		query := fmt.Sprintf("alter table `%s` rename to `%s`", backup, old.Table)
		if err := e.API.ExecQuery(ctx, backup.Project, query); err != nil {
			e.Log.Error("rollback: failed to rename backup back", logger.String("backup", backup.String()), logger.Err(err))
		} else {
			e.Log.Info("rollback: renamed backup back", logger.String("backup", backup.String()), logger.String("table", old.String()))
		}
		return
	}
	if err := e.API.DeleteTable(ctx, backup); err != nil {
		e.Log.Error("rollback: failed to delete backup view", logger.String("backup", backup.String()), logger.Err(err))
	} else {
		e.Log.Info("rollback: deleted backup view", logger.String("backup", backup.String()))
	}
}

func (e *Engine) ensureDataset(ctx context.Context, id TableID) error {
	exists, err := e.API.DatasetExists(ctx, id.Project, id.Dataset)
	if err != nil {
		return fmt.Errorf("failed to check dataset %s.%s: %w", id.Project, id.Dataset, err)
	}
	if exists {
		return nil
	}
	if err := e.API.CreateDataset(ctx, id.Project, id.Dataset); err != nil {
		return fmt.Errorf("failed to create dataset %s.%s: %w", id.Project, id.Dataset, err)
	}
	e.Log.Info("created dataset", logger.String("project", id.Project), logger.String("dataset", id.Dataset))
	return nil
}

// mergeIAMPolicy adds the source table's grants to the target, keeping any
// grants the target already has.
func (e *Engine) mergeIAMPolicy(ctx context.Context, source, target TableID) error {
	sourcePolicy, err := e.API.GetIAMPolicy(ctx, source)
	if err != nil {
		return err
	}
	return e.applyPolicy(ctx, target, sourcePolicy)
}

func (e *Engine) applyPolicy(ctx context.Context, target TableID, sourcePolicy *iam.Policy) error {
	targetPolicy, err := e.API.GetIAMPolicy(ctx, target)
	if err != nil {
		return err
	}
	for _, role := range sourcePolicy.Roles() {
		for _, member := range sourcePolicy.Members(role) {
			targetPolicy.Add(member, role)
		}
	}
	return e.API.SetIAMPolicy(ctx, target, targetPolicy)
}

// copyTableProperties carries a table's metadata over to a new table
// definition. Schema, partitioning, clustering, expiry, encryption and
// labels all survive the copy.
func copyTableProperties(src *bigquery.TableMetadata) *bigquery.TableMetadata {
	return &bigquery.TableMetadata{
		Name:                   src.Name,
		Description:            src.Description,
		Labels:                 src.Labels,
		DefaultCollation:       src.DefaultCollation,
		Schema:                 src.Schema,
		TimePartitioning:       src.TimePartitioning,
		RangePartitioning:      src.RangePartitioning,
		Clustering:             src.Clustering,
		ExpirationTime:         src.ExpirationTime,
		EncryptionConfig:       src.EncryptionConfig,
		RequirePartitionFilter: src.RequirePartitionFilter,
		MaxStaleness:           src.MaxStaleness,
		ExternalDataConfig:     src.ExternalDataConfig,
		MaterializedView:       src.MaterializedView,
	}
}

// copyViewProperties carries over the subset of metadata that applies to
// views.
func copyViewProperties(src *bigquery.TableMetadata) *bigquery.TableMetadata {
	return &bigquery.TableMetadata{
		Description:      src.Description,
		Labels:           src.Labels,
		DefaultCollation: src.DefaultCollation,
	}
}

