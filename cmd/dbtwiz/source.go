package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/dbtwiz/dbtwiz/internal/bq"
	"github.com/dbtwiz/dbtwiz/internal/logger"
	"github.com/dbtwiz/dbtwiz/internal/project"
	"github.com/dbtwiz/dbtwiz/internal/ui"
)

var (
	sourceCreateProject     string
	sourceCreateDataset     string
	sourceCreateName        string
	sourceCreateDescription string
	sourceCreateTables      []string
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage dbt sources",
}

var sourceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Add source tables to a sources yml file",
	Long: `Add source tables to a sources yml file.

Project, dataset and tables are picked interactively from BigQuery unless
given as flags. The yml file is created if it does not exist yet; tables are
appended to the matching source entry otherwise.`,
	RunE: runSourceCreate,
}

func init() {
	sourceCreateCmd.Flags().StringVar(&sourceCreateProject, "project", "", "GCP project the source lives in")
	sourceCreateCmd.Flags().StringVar(&sourceCreateDataset, "dataset", "", "BigQuery dataset of the source")
	sourceCreateCmd.Flags().StringVar(&sourceCreateName, "name", "", "Source name (default: <project>__<dataset>)")
	sourceCreateCmd.Flags().StringVar(&sourceCreateDescription, "description", "", "Source description, used when the source entry is new")
	sourceCreateCmd.Flags().StringArrayVar(&sourceCreateTables, "table", nil, "Table to add (repeatable; default: pick interactively)")
	sourceCmd.AddCommand(sourceCreateCmd)
	rootCmd.AddCommand(sourceCmd)
}

func runSourceCreate(cmd *cobra.Command, args []string) error {
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
	engine, closeClient, err := a.engine(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer closeClient()
	ctx := cmd.Context()

	gcpProject := sourceCreateProject
	if gcpProject == "" {
		if gcpProject, err = ui.Input("Which GCP project does the source data live in", ""); err != nil {
			return err
		}
	}
	dataset := sourceCreateDataset
	if dataset == "" {
		datasets, err := engine.API.ListDatasets(ctx, gcpProject)
		if err != nil {
			return fmt.Errorf("failed to list datasets in %s: %w", gcpProject, err)
		}
		sort.Strings(datasets)
		if dataset, err = ui.Select("Select source dataset", datasets, ""); err != nil {
			return err
		}
	}

	name := sourceCreateName
	if name == "" {
		if name, err = ui.Input("Source name", project.DefaultSourceName(gcpProject, dataset)); err != nil {
			return err
		}
	}
	path := project.SourceFilePath(cfg.RootPath(), gcpProject, name)
	existing, err := project.LoadSourceFile(path)
	if err != nil {
		return err
	}

	description := sourceCreateDescription
	if description == "" && len(existing.TableNames(name)) == 0 {
		if description, err = ui.Input("Give a short description of the source", ""); err != nil {
			return err
		}
	}

	tables, err := chooseSourceTables(cmd, engine, gcpProject, dataset, existing.TableNames(name))
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		a.log.Info("no tables selected, nothing to do")
		return nil
	}

	def := project.SourceDef{
		Name:        name,
		Description: description,
		Database:    gcpProject,
		Schema:      dataset,
	}
	preview, err := project.RenderSourcePreview(def, tables)
	if err != nil {
		return err
	}
	fmt.Printf("The source entries will be:\n\n%s\n", preview)
	ok, err := ui.Confirm(fmt.Sprintf("Add %d table(s) to %s?", len(tables), path))
	if err != nil || !ok {
		return err
	}

	if err := project.AddSourceTables(path, def, tables); err != nil {
		return err
	}
	a.log.Info("updated source file",
		logger.String("source", name), logger.String("path", path))
	return nil
}

// chooseSourceTables resolves the tables to add, from flags or interactively.
// Tables already declared for the source are filtered out of the picker.
func chooseSourceTables(cmd *cobra.Command, engine *bq.Engine, gcpProject, dataset string, declared []string) ([]project.SourceTable, error) {
	if len(sourceCreateTables) > 0 {
		tables := make([]project.SourceTable, len(sourceCreateTables))
		for i, name := range sourceCreateTables {
			tables[i] = project.SourceTable{Name: name}
		}
		return tables, nil
	}

	names, err := engine.API.ListTables(cmd.Context(), gcpProject, dataset)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables in %s.%s: %w", gcpProject, dataset, err)
	}
	taken := make(map[string]bool, len(declared))
	for _, name := range declared {
		taken[name] = true
	}
	var options []string
	for _, name := range names {
		if !taken[name] {
			options = append(options, name)
		}
	}
	sort.Strings(options)
	if len(options) == 0 {
		return nil, fmt.Errorf("every table in %s.%s is already declared", gcpProject, dataset)
	}

	picked, err := ui.MultiSelect("Select tables to add", options)
	if err != nil {
		return nil, err
	}
	tables := make([]project.SourceTable, 0, len(picked))
	for _, name := range picked {
		description, err := ui.Input(fmt.Sprintf("Describe the table %s", name), "")
		if err != nil {
			return nil, err
		}
		tables = append(tables, project.SourceTable{Name: name, Description: description})
	}
	return tables, nil
}
