package main

import (
	"github.com/spf13/cobra"

	"github.com/dbtwiz/dbtwiz/internal/bq"
	"github.com/dbtwiz/dbtwiz/internal/logger"
	"github.com/dbtwiz/dbtwiz/internal/restore"
)

var restoreTarget string

var restoreCmd = &cobra.Command{
	Use:   "restore <table-id> <timestamp>",
	Short: "Restore a deleted table from a time-travel snapshot",
	Long: `Restore a deleted BigQuery table from a time-travel snapshot.

The timestamp selects the snapshot and can be epoch milliseconds or a
date/datetime in local time (YYYY-MM-DD[THH:MM:SS]). Time travel reaches at
most 7 days back. By default the data is recovered to <table>_recovered in
the same dataset.`,
	Args: cobra.ExactArgs(2),
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().StringVarP(&restoreTarget, "target", "t", "", "Full table id to restore into (default <table>_recovered)")
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	table, err := bq.ParseTableID(args[0])
	if err != nil {
		return err
	}
	target := table.WithTable(table.Table + "_recovered")
	if restoreTarget != "" {
		target, err = bq.ParseTableID(restoreTarget)
		if err != nil {
			return err
		}
	}

	cfg, err := a.projectConfig()
	if err != nil {
		return err
	}
	if err := a.authChecker().EnsureApplicationDefault(); err != nil {
		return err
	}

	engine, closeClient, err := a.engine(cmd.Context(), cfg, true)
	if err != nil {
		return err
	}
	defer closeClient()

	restored, err := restore.NewService(engine, a.log.Named("restore")).Restore(cmd.Context(), restore.Options{
		Table:     table,
		Timestamp: args[1],
		Target:    target,
	})
	if err != nil {
		return err
	}
	a.log.Info("recovered table data", logger.String("table", restored.String()))
	return nil
}
