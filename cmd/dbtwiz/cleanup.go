package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dbtwiz/dbtwiz/internal/cleanup"
	"github.com/dbtwiz/dbtwiz/internal/dbt"
	"github.com/dbtwiz/dbtwiz/internal/logger"
	"github.com/dbtwiz/dbtwiz/internal/manifest"
	"github.com/dbtwiz/dbtwiz/internal/ui"
)

var (
	cleanupForce    bool
	orphanedTarget  string
	orphanedList    bool
	orphanedForce   bool
	orphanedAllowed []string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Warehouse housekeeping",
}

var cleanupDevCmd = &cobra.Command{
	Use:   "dev",
	Short: "Delete all materializations in the development dataset",
	RunE:  runCleanupDev,
}

var cleanupOrphanedCmd = &cobra.Command{
	Use:   "orphaned",
	Short: "List or delete materializations no longer present in the manifest",
	RunE:  runCleanupOrphaned,
}

func init() {
	cleanupDevCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Delete without asking for confirmation first")
	cleanupOrphanedCmd.Flags().StringVarP(&orphanedTarget, "target", "t", "dev", "Target manifest to compare against (dev or prod)")
	cleanupOrphanedCmd.Flags().BoolVarP(&orphanedList, "list", "l", false, "List orphaned materializations without deleting anything")
	cleanupOrphanedCmd.Flags().BoolVarP(&orphanedForce, "force", "f", false, "Delete without asking (dev target only)")
	cleanupOrphanedCmd.Flags().StringSliceVar(&orphanedAllowed, "allow-project", nil, "Projects deletions are allowed in for the prod target")
	cleanupCmd.AddCommand(cleanupDevCmd)
	cleanupCmd.AddCommand(cleanupOrphanedCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanupDev(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	cfg, err := a.projectConfig()
	if err != nil {
		return err
	}
	if err := a.authChecker().EnsureApplicationDefault(); err != nil {
		return err
	}

	svc := a.manifestService(cfg)
	if err := svc.UpdateManifests(cmd.Context(), manifest.UpdateDev, false); err != nil {
		return err
	}
	m, err := manifest.Load(cfg.ManifestPath())
	if err != nil {
		return err
	}

	engine, closeClient, err := a.engine(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer closeClient()

	confirm := ui.Confirm
	if cleanupForce {
		confirm = nil
	}
	cleaner := cleanup.NewCleaner(engine.API, a.log.Named("cleanup"))
	return cleaner.EmptyDevDataset(cmd.Context(), m.Models(), confirm)
}

func runCleanupOrphaned(cmd *cobra.Command, args []string) error {
	if orphanedList && orphanedForce {
		return fmt.Errorf("can't both list and force-delete at the same time")
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	target, err := dbt.ParseTarget(orphanedTarget)
	if err != nil {
		return err
	}

	cfg, err := a.projectConfig()
	if err != nil {
		return err
	}
	if err := a.authChecker().EnsureApplicationDefault(); err != nil {
		return err
	}

	svc := a.manifestService(cfg)
	prod := target != dbt.TargetDev

	var m *manifest.Manifest
	if prod {
		// Deleting in prod always asks, and goes through the service account.
		orphanedForce = false
		if err := svc.UpdateManifests(cmd.Context(), manifest.UpdateProd, false); err != nil {
			return err
		}
		prodPath, err := cfg.ProdManifestPath()
		if err != nil {
			return err
		}
		m, err = manifest.Load(prodPath)
		if err != nil {
			return err
		}
	} else {
		if err := svc.UpdateManifests(cmd.Context(), manifest.UpdateDev, false); err != nil {
			return err
		}
		m, err = manifest.Load(cfg.ManifestPath())
		if err != nil {
			return err
		}
	}

	engine, closeClient, err := a.engine(cmd.Context(), cfg, prod)
	if err != nil {
		return err
	}
	defer closeClient()

	cleaner := cleanup.NewCleaner(engine.API, a.log.Named("cleanup"))
	inv, err := cleaner.BuildInventory(cmd.Context(), m.Models())
	if err != nil {
		return err
	}
	orphaned := cleanup.FindOrphans(inv)
	if len(orphaned) == 0 {
		a.log.Info("there are no orphaned materializations")
		return nil
	}
	a.log.Info(fmt.Sprintf("found %d orphaned materializations", len(orphaned)))

	if orphanedList {
		fmt.Println("Not in manifest:")
		for _, id := range orphaned {
			fmt.Println("- " + id)
		}
		return nil
	}

	var selected []string
	if orphanedForce {
		selected = orphaned
	} else {
		selected, err = ui.MultiSelect("Select orphaned tables to delete", orphaned)
		if err != nil {
			return err
		}
	}

	if prod && len(orphanedAllowed) > 0 {
		var allowed []string
		for _, id := range selected {
			project := strings.SplitN(id, ".", 2)[0]
			if containsString(orphanedAllowed, project) {
				allowed = append(allowed, id)
			} else {
				a.log.Warn("skipping table outside allowed projects",
					logger.String("table", id))
			}
		}
		selected = allowed
	}
	if len(selected) == 0 {
		return nil
	}
	return cleaner.DeleteTables(cmd.Context(), selected)
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
