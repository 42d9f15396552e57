package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbtwiz/dbtwiz/internal/dbt"
	"github.com/dbtwiz/dbtwiz/internal/manifest"
	"github.com/dbtwiz/dbtwiz/internal/render"
)

var (
	buildTarget       string
	buildSelect       string
	buildDate         string
	buildUseTaskIndex bool
	buildSaveState    bool
	buildFullRefresh  bool
	buildUpstream     bool
	buildDownstream   bool
	buildWork         bool
	buildRepeatLast   bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build dbt models",
	RunE:  runBuild,
}

func init() {
	buildCmd.Flags().StringVarP(&buildTarget, "target", "t", "dev", "Target environment (dev, build, prod, prod-ci)")
	buildCmd.Flags().StringVarP(&buildSelect, "select", "s", "", "Model selector passed to dbt")
	buildCmd.Flags().StringVar(&buildDate, "date", "", "Date to run models on [YYYY-mm-dd] (default today)")
	buildCmd.Flags().BoolVar(&buildUseTaskIndex, "use-task-index", false, "Offset the date by the Cloud Run task index")
	buildCmd.Flags().BoolVar(&buildSaveState, "save-state", false, "Upload the manifest to the state bucket after a successful run")
	buildCmd.Flags().BoolVarP(&buildFullRefresh, "full-refresh", "f", false, "Force full refresh when building the models")
	buildCmd.Flags().BoolVarP(&buildUpstream, "upstream", "u", false, "Include upstream dependencies of the selected models")
	buildCmd.Flags().BoolVarP(&buildDownstream, "downstream", "d", false, "Include downstream dependencies of the selected models")
	buildCmd.Flags().BoolVarP(&buildWork, "work", "w", false, "Only offer new or changed models in interactive selection")
	buildCmd.Flags().BoolVarP(&buildRepeatLast, "last", "l", false, "Build the last built models again")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	target, err := dbt.ParseTarget(buildTarget)
	if err != nil {
		return err
	}
	runDate := time.Now()
	if buildDate != "" {
		runDate, err = time.Parse("2006-01-02", buildDate)
		if err != nil {
			return fmt.Errorf("date must be on the YYYY-mm-dd format")
		}
	}

	cfg, err := a.projectConfig()
	if err != nil {
		return err
	}
	cache, err := a.modelsCache(cfg)
	if err != nil {
		return err
	}

	builder := dbt.NewBuilder(cfg, dbt.NewRunner(cfg.RootPath(), cfg.DockerImageProfilesPath, a.log.Named("dbt")), cache, a.log)
	builder.EnsureAuth = a.authChecker().EnsureApplicationDefault
	builder.Choose = chooser()
	builder.UpdateModelsInfo = func(models map[string]*manifest.ModelInfo) error {
		infoDir, err := cfg.ModelsInfoPath()
		if err != nil {
			return err
		}
		renderer, err := render.NewRenderer(infoDir, cfg.RootPath(), a.log.Named("render"))
		if err != nil {
			return err
		}
		return renderer.UpdateAll(models)
	}
	builder.UploadState = a.manifestService(cfg).UploadProd

	return builder.Build(cmd.Context(), dbt.BuildOptions{
		Target:       target,
		Select:       buildSelect,
		Date:         runDate,
		UseTaskIndex: buildUseTaskIndex,
		SaveState:    buildSaveState,
		FullRefresh:  buildFullRefresh,
		Upstream:     buildUpstream,
		Downstream:   buildDownstream,
		WorkOnly:     buildWork,
		RepeatLast:   buildRepeatLast,
	})
}
