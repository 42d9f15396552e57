package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dbtwiz/dbtwiz/internal/bq"
	"github.com/dbtwiz/dbtwiz/internal/config"
	"github.com/dbtwiz/dbtwiz/internal/logger"
	"github.com/dbtwiz/dbtwiz/internal/manifest"
	"github.com/dbtwiz/dbtwiz/internal/project"
	"github.com/dbtwiz/dbtwiz/internal/ui"
)

var (
	createLayer           string
	createDomain          string
	createName            string
	createDescription     string
	createMaterialization string
	createSource          string
	createExpiration      string
	createFrequency       string
	createAccess          string
	createGroup           string

	moveLayer  string
	moveDomain string
	moveUnsafe bool
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Create and move dbt models",
}

var modelCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Scaffold a new model with its schema file",
	RunE:  runModelCreate,
}

var modelMoveCmd = &cobra.Command{
	Use:   "move <model-sql-path> <new-identifier>",
	Short: "Move a model to a new name, layer or domain",
	Long: `Move a model to a new name, layer or domain.

By default the old model is kept as a view selecting from the new one, so
downstream references keep working until they are updated. Pass --unsafe to
delete the old files instead.`,
	Args: cobra.ExactArgs(2),
	RunE: runModelMove,
}

var modelValidateCmd = &cobra.Command{
	Use:   "validate <model-name>",
	Short: "Sync a model's yml columns with its BigQuery table",
	Long: `Sync a model's yml columns with its BigQuery table.

The model's relation is looked up in the local manifest, falling back to the
production one for models not built locally yet. Columns missing from the yml
file are added, stale ones removed and data types corrected; hand-written
descriptions are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runModelValidate,
}

func init() {
	modelCreateCmd.Flags().StringVar(&createLayer, "layer", "", "Model layer (staging, intermediate, marts, bespoke)")
	modelCreateCmd.Flags().StringVar(&createDomain, "domain", "", "Domain folder the model belongs to")
	modelCreateCmd.Flags().StringVar(&createName, "name", "", "Model identifier, without the layer/domain prefix")
	modelCreateCmd.Flags().StringVar(&createDescription, "description", "", "Model description")
	modelCreateCmd.Flags().StringVar(&createMaterialization, "materialization", "", "Model materialization")
	modelCreateCmd.Flags().StringVar(&createSource, "source", "", "Source table for staging models (source_name.table_name)")
	modelCreateCmd.Flags().StringVar(&createExpiration, "expiration", "", "Project var holding the partition expiration (incremental only)")
	modelCreateCmd.Flags().StringVar(&createFrequency, "frequency", "", "Update frequency tag (daily, hourly)")
	modelCreateCmd.Flags().StringVar(&createAccess, "access", "", "Model access level")
	modelCreateCmd.Flags().StringVar(&createGroup, "group", "", "Model group")
	modelMoveCmd.Flags().StringVar(&moveLayer, "layer", "", "Destination layer (default: same as the old model)")
	modelMoveCmd.Flags().StringVar(&moveDomain, "domain", "", "Destination domain (default: same as the old model)")
	modelMoveCmd.Flags().BoolVar(&moveUnsafe, "unsafe", false, "Delete the old model instead of keeping a redirecting view")
	modelCmd.AddCommand(modelCreateCmd)
	modelCmd.AddCommand(modelMoveCmd)
	modelCmd.AddCommand(modelValidateCmd)
	rootCmd.AddCommand(modelCmd)
}

func runModelCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	cfg, err := a.projectConfig()
	if err != nil {
		return err
	}

	opts := project.CreateOptions{
		Layer:           createLayer,
		Domain:          createDomain,
		Name:            createName,
		Description:     createDescription,
		Materialization: createMaterialization,
		Source:          createSource,
		ExpirationVar:   createExpiration,
		Frequency:       createFrequency,
		Access:          createAccess,
		Group:           createGroup,
	}
	if err := promptMissingCreateOptions(&opts); err != nil {
		return err
	}

	preview, err := project.RenderSchemaFile(opts)
	if err != nil {
		return err
	}
	fmt.Printf("The model schema file will be:\n\n%s\n", preview)
	ok, err := ui.Confirm("Create the model files?")
	if err != nil || !ok {
		return err
	}

	sqlPath, ymlPath, err := project.CreateModelFiles(cfg.RootPath(), opts)
	if err != nil {
		return err
	}
	a.log.Info("created model files",
		logger.String("sql", sqlPath), logger.String("yml", ymlPath))
	return nil
}

// promptMissingCreateOptions asks interactively for every option not given on
// the command line.
func promptMissingCreateOptions(opts *project.CreateOptions) error {
	var err error
	if opts.Layer == "" {
		if opts.Layer, err = ui.Select("Select model layer", project.LayerNames(), ""); err != nil {
			return err
		}
	}
	if opts.Layer == "staging" && opts.Source == "" {
		if opts.Source, err = ui.Input("Which source table is the staging model built on (source_name.table_name)", ""); err != nil {
			return err
		}
	}
	if opts.Domain == "" {
		if opts.Domain, err = ui.Input("Which domain does the model belong to", ""); err != nil {
			return err
		}
	}
	if opts.Name == "" {
		base, err := project.NewBasePath(opts.Layer)
		if err != nil {
			return err
		}
		prompt := fmt.Sprintf("Name your new model (it will be prefixed by %s)", base.PrefixFor(opts.Domain))
		if opts.Name, err = ui.Input(prompt, ""); err != nil {
			return err
		}
	}
	if opts.Description == "" {
		if opts.Description, err = ui.Input("Give a short description of the model", ""); err != nil {
			return err
		}
	}
	if opts.Materialization == "" {
		if opts.Materialization, err = ui.Select("Select model materialization", project.MaterializationChoices(), ""); err != nil {
			return err
		}
	}
	return nil
}

func runModelMove(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	oldPath, newIdentifier := args[0], args[1]
	base, err := project.ParseBasePath(oldPath)
	if err != nil {
		return err
	}

	dest := base
	if moveLayer != "" && moveLayer != base.Layer().Name {
		if dest, err = project.NewBasePath(moveLayer); err != nil {
			return err
		}
	}
	domain := moveDomain
	if domain == "" {
		if domain, err = base.Domain(); err != nil {
			return err
		}
	}
	newDir, err := dest.DomainDir(domain)
	if err != nil {
		return err
	}
	newName := dest.PrefixFor(domain) + newIdentifier

	if err := project.MoveModel(oldPath, newDir, newName, !moveUnsafe); err != nil {
		return err
	}
	oldName, _ := base.ModelName()
	a.log.Info("moved model",
		logger.String("from", oldName), logger.String("to", newName))
	return nil
}

func runModelValidate(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	cfg, err := a.projectConfig()
	if err != nil {
		return err
	}
	name := args[0]
	info, err := modelWithRelation(cfg, name)
	if err != nil {
		return err
	}
	id, err := bq.ParseTableID(strings.ReplaceAll(info.RelationName, "`", ""))
	if err != nil {
		return fmt.Errorf("model %s has an unusable relation name %q: %w", name, info.RelationName, err)
	}

	if err := a.authChecker().EnsureApplicationDefault(); err != nil {
		return err
	}
	engine, closeClient, err := a.engine(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer closeClient()

	tableCols, err := engine.TableColumns(cmd.Context(), id)
	if err != nil {
		return err
	}
	columns := make([]project.ColumnSchema, len(tableCols))
	for i, col := range tableCols {
		columns[i] = project.ColumnSchema{
			Name:        col.Name,
			DataType:    col.Type,
			Description: col.Description,
		}
	}

	ymlPath := cfg.Path("models", strings.TrimSuffix(info.Path, ".sql")+".yml")
	changed, messages, err := project.SyncModelColumns(ymlPath, columns)
	if err != nil {
		return err
	}
	if !changed {
		a.log.Info("model columns match the table", logger.String("model", name))
		return nil
	}
	for _, msg := range messages {
		a.log.Info(msg, logger.String("model", name))
	}
	a.log.Info("updated model schema file", logger.String("path", ymlPath))
	return nil
}

// modelWithRelation finds the model's manifest record, preferring the local
// manifest and falling back to the production one for models that have not
// been built locally yet.
func modelWithRelation(cfg *config.ProjectConfig, name string) (*manifest.ModelInfo, error) {
	dev, devErr := manifest.Load(cfg.ManifestPath())
	if devErr == nil {
		if info := dev.ModelByName(name); info != nil && info.RelationName != "" {
			return info, nil
		}
	}

	prodPath, err := cfg.ProdManifestPath()
	if err != nil {
		return nil, err
	}
	prod, prodErr := manifest.Load(prodPath)
	if prodErr != nil {
		if devErr != nil {
			return nil, devErr
		}
		return nil, prodErr
	}
	if info := prod.ModelByName(name); info != nil && info.RelationName != "" {
		return info, nil
	}
	return nil, fmt.Errorf("model %q has no relation in the local or production manifest", name)
}
