package main

import (
	"github.com/spf13/cobra"

	"github.com/dbtwiz/dbtwiz/internal/manifest"
	"github.com/dbtwiz/dbtwiz/internal/partition"
	"github.com/dbtwiz/dbtwiz/internal/ui"
)

var partitionModelNames []string

var partitionCmd = &cobra.Command{
	Use:   "partition-expirations",
	Short: "Reconcile partition expirations in BigQuery with the model configs",
	RunE:  runPartitionExpirations,
}

func init() {
	partitionCmd.Flags().StringSliceVarP(&partitionModelNames, "model-name", "m", nil, "Only check the named models (repeatable)")
	rootCmd.AddCommand(partitionCmd)
}

func runPartitionExpirations(cmd *cobra.Command, args []string) error {
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

	// Expirations are declared against production relations, so compare
	// against the production manifest.
	svc := a.manifestService(cfg)
	if err := svc.UpdateManifests(cmd.Context(), manifest.UpdateProd, false); err != nil {
		return err
	}
	prodPath, err := cfg.ProdManifestPath()
	if err != nil {
		return err
	}
	m, err := manifest.Load(prodPath)
	if err != nil {
		return err
	}

	expirations, err := partition.FromManifest(m)
	if err != nil {
		return err
	}
	expirations = partition.Filter(expirations, partitionModelNames)
	if len(expirations) == 0 {
		a.log.Info("no models declare a partition expiration")
		return nil
	}

	engine, closeClient, err := a.engine(cmd.Context(), cfg, true)
	if err != nil {
		return err
	}
	defer closeClient()

	mismatches, err := partition.FindMismatches(cmd.Context(), engine, a.log, expirations)
	if err != nil {
		return err
	}
	if len(mismatches) == 0 {
		a.log.Info("all partition expirations match their model configs")
		return nil
	}

	byDescription := make(map[string]partition.Mismatch, len(mismatches))
	options := make([]string, 0, len(mismatches))
	for _, m := range mismatches {
		desc := m.Describe()
		byDescription[desc] = m
		options = append(options, desc)
	}
	selected, err := ui.MultiSelect("Select tables to update partition expiration for", options)
	if err != nil {
		return err
	}

	apply := make([]partition.Mismatch, 0, len(selected))
	for _, desc := range selected {
		apply = append(apply, byDescription[desc])
	}
	return partition.Apply(cmd.Context(), engine, apply)
}
