package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbtwiz/dbtwiz/internal/backfill"
)

var (
	backfillFullRefresh bool
	backfillParallelism int
	backfillBatchSize   int
	backfillStatus      bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill <selector> <first-date> <last-date>",
	Short: "Backfill models over a date range through a Cloud Run job",
	Args:  cobra.ExactArgs(3),
	RunE:  runBackfill,
}

func init() {
	backfillCmd.Flags().BoolVarP(&backfillFullRefresh, "full-refresh", "f", false, "Full refresh; only supported for a single model and a single day")
	backfillCmd.Flags().IntVarP(&backfillParallelism, "parallelism", "p", 8, "Number of tasks to run in parallel; 1 forces serial processing")
	backfillCmd.Flags().IntVarP(&backfillBatchSize, "batch-size", "b", 1, "Number of days to process per task")
	backfillCmd.Flags().BoolVarP(&backfillStatus, "status", "s", true, "Open the job status page after starting execution")
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	selector := args[0]
	firstDate, err := time.Parse("2006-01-02", args[1])
	if err != nil {
		return fmt.Errorf("dates must be on the YYYY-mm-dd format")
	}
	lastDate, err := time.Parse("2006-01-02", args[2])
	if err != nil {
		return fmt.Errorf("dates must be on the YYYY-mm-dd format")
	}
	if lastDate.Before(firstDate) {
		return fmt.Errorf("last date must be on or after first date")
	}
	if backfillFullRefresh {
		if strings.Contains(selector, "+") {
			return fmt.Errorf("full refresh is only supported on single models")
		}
		if !lastDate.Equal(firstDate) {
			return fmt.Errorf("full refresh is only supported on single day runs")
		}
	}

	cfg, err := a.projectConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(
		"docker_image_url_dbt",
		"service_account_identifier",
		"service_account_project",
		"service_account_region",
	); err != nil {
		return err
	}

	if err := a.authChecker().Ensure(true, true); err != nil {
		return err
	}

	return backfill.NewRunner(cfg, a.log.Named("backfill")).Run(backfill.Options{
		Selector:    selector,
		FirstDate:   firstDate,
		LastDate:    lastDate,
		FullRefresh: backfillFullRefresh,
		Parallelism: backfillParallelism,
		BatchSize:   backfillBatchSize,
		ShowStatus:  backfillStatus,
	})
}
