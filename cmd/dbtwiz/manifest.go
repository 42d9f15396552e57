package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbtwiz/dbtwiz/internal/manifest"
	"github.com/dbtwiz/dbtwiz/internal/render"
)

var (
	manifestUpdateType  string
	manifestUpdateForce bool
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Manage the local and production manifests",
}

var manifestUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Rebuild the local manifest and/or download the production one",
	RunE:  runManifestUpdate,
}

var manifestInfoCmd = &cobra.Command{
	Use:   "info <model-name>",
	Short: "Show information about a model",
	Args:  cobra.ExactArgs(1),
	RunE:  runManifestInfo,
}

func init() {
	manifestUpdateCmd.Flags().StringVarP(&manifestUpdateType, "type", "t", "all", "Which manifests to update (all, dev or prod)")
	manifestUpdateCmd.Flags().BoolVarP(&manifestUpdateForce, "force", "f", false, "Download the production manifest even when the local copy is fresh")
	manifestCmd.AddCommand(manifestUpdateCmd)
	manifestCmd.AddCommand(manifestInfoCmd)
	rootCmd.AddCommand(manifestCmd)
}

func runManifestUpdate(cmd *cobra.Command, args []string) error {
	which := manifest.Which(manifestUpdateType)
	switch which {
	case manifest.UpdateAll, manifest.UpdateDev, manifest.UpdateProd:
	default:
		return fmt.Errorf("invalid manifest type %q (want all, dev or prod)", manifestUpdateType)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	cfg, err := a.projectConfig()
	if err != nil {
		return err
	}
	return a.manifestService(cfg).UpdateManifests(cmd.Context(), which, manifestUpdateForce)
}

func runManifestInfo(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.log.Sync()

	cfg, err := a.projectConfig()
	if err != nil {
		return err
	}
	cache, err := a.modelsCache(cfg)
	if err != nil {
		return err
	}
	models, err := cache.Models()
	if err != nil {
		return err
	}
	if _, ok := models[args[0]]; !ok {
		return fmt.Errorf("no model named %q in the manifest", args[0])
	}

	infoDir, err := cfg.ModelsInfoPath()
	if err != nil {
		return err
	}
	renderer, err := render.NewRenderer(infoDir, cfg.RootPath(), a.log.Named("render"))
	if err != nil {
		return err
	}
	if err := renderer.UpdateAll(models); err != nil {
		return err
	}
	content, err := os.ReadFile(renderer.InfoPath(args[0]))
	if err != nil {
		return err
	}
	fmt.Print(string(content))
	return nil
}
