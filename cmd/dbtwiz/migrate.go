package main

import (
	"github.com/spf13/cobra"

	"github.com/dbtwiz/dbtwiz/internal/bq"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <old-table-id> <new-table-id> <backup-table-id>",
	Short: "Migrate a table or view to a new location",
	Long: `Migrate a table or view to a new location.

The old relation is renamed to the backup id, a deprecation view selecting
everything from the new relation is left at the old id, and access grants on
the old relation are carried over to the view. Nothing is changed unless all
three relations are in the expected state.`,
	Args: cobra.ExactArgs(3),
	RunE: runMigrate,
}

var copyTableCmd = &cobra.Command{
	Use:   "copy-table <old-table-id> <new-table-id>",
	Short: "Copy a table or view, including schema, description and access grants",
	Args:  cobra.ExactArgs(2),
	RunE:  runCopyTable,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(copyTableCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	old, new, backup, err := parseTableArgs(args)
	if err != nil {
		return err
	}
	a, engine, closeClient, err := migrationEngine(cmd)
	if err != nil {
		return err
	}
	defer closeClient()
	defer a.log.Sync()

	return engine.MigrateTable(cmd.Context(), old, new, backup)
}

func runCopyTable(cmd *cobra.Command, args []string) error {
	old, new, _, err := parseTableArgs(args)
	if err != nil {
		return err
	}
	a, engine, closeClient, err := migrationEngine(cmd)
	if err != nil {
		return err
	}
	defer closeClient()
	defer a.log.Sync()

	return engine.CreateTableCopy(cmd.Context(), old, new)
}

func parseTableArgs(args []string) (old, new, backup bq.TableID, err error) {
	if old, err = bq.ParseTableID(args[0]); err != nil {
		return
	}
	if new, err = bq.ParseTableID(args[1]); err != nil {
		return
	}
	if len(args) > 2 {
		backup, err = bq.ParseTableID(args[2])
	}
	return
}

// migrationEngine builds an impersonated engine after the auth pre-flight.
func migrationEngine(cmd *cobra.Command) (*app, *bq.Engine, func(), error) {
	a, err := newApp()
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := a.projectConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := a.authChecker().EnsureApplicationDefault(); err != nil {
		return nil, nil, nil, err
	}
	engine, closeClient, err := a.engine(cmd.Context(), cfg, true)
	if err != nil {
		return nil, nil, nil, err
	}
	return a, engine, closeClient, nil
}
