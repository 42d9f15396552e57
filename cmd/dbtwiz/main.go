// dbtwiz is a helper CLI for dbt projects on BigQuery: interactive builds,
// backfills, table migrations and warehouse housekeeping.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbtwiz/dbtwiz/internal/bq"
	"github.com/dbtwiz/dbtwiz/internal/config"
	"github.com/dbtwiz/dbtwiz/internal/dbt"
	"github.com/dbtwiz/dbtwiz/internal/gcpauth"
	"github.com/dbtwiz/dbtwiz/internal/gitx"
	"github.com/dbtwiz/dbtwiz/internal/logger"
	"github.com/dbtwiz/dbtwiz/internal/manifest"
	"github.com/dbtwiz/dbtwiz/internal/ui"
)

var rootCmd = &cobra.Command{
	Use:           "dbtwiz",
	Short:         "Helper tool for dbt projects on BigQuery",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// app bundles the shared collaborators the subcommands need. Built lazily so
// commands that don't need a project (or GCP) don't pay for it.
type app struct {
	userCfg *config.UserConfig
	log     logger.Logger
}

func newApp() (*app, error) {
	userCfg, err := config.LoadUser()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(logger.WithLevel(userCfg.LogLevel))
	if err != nil {
		return nil, err
	}
	return &app{userCfg: userCfg, log: log}, nil
}

func (a *app) projectConfig() (*config.ProjectConfig, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.LoadProject(wd)
}

func (a *app) authChecker() *gcpauth.Checker {
	return gcpauth.NewChecker(a.log.Named("auth"), a.userCfg.AuthCheck)
}

// modelsCache wires the on-disk cache with git-based local change detection.
func (a *app) modelsCache(cfg *config.ProjectConfig) (*manifest.Cache, error) {
	cachePath, err := cfg.ModelsCachePath()
	if err != nil {
		return nil, err
	}
	return &manifest.Cache{
		ManifestPath: cfg.ManifestPath(),
		CachePath:    cachePath,
		Log:          a.log.Named("cache"),
		LocalChanges: func(nameByPath map[string]string) ([]string, error) {
			return gitx.ModelsWithLocalChanges(cfg.RootPath(), nameByPath)
		},
	}, nil
}

func (a *app) manifestService(cfg *config.ProjectConfig) *manifest.Service {
	return &manifest.Service{
		Cfg:        cfg,
		Log:        a.log.Named("manifest"),
		Rebuild:    dbt.NewRunner(cfg.RootPath(), cfg.DockerImageProfilesPath, a.log.Named("dbt")).Parse,
		EnsureAuth: a.authChecker().EnsureApplicationDefault,
	}
}

// engine builds a migration engine. Impersonation routes operations through
// the project's service account, used for anything touching production.
func (a *app) engine(ctx context.Context, cfg *config.ProjectConfig, impersonate bool) (*bq.Engine, func(), error) {
	opts := bq.ClientOptions{Location: cfg.GCPLocation}
	if impersonate {
		if err := cfg.Validate("service_account_identifier", "service_account_project"); err != nil {
			return nil, nil, err
		}
		opts.ImpersonateServiceAccount = cfg.ServiceAccountIdentifier
		opts.Project = cfg.ServiceAccountProject
	}
	client, err := bq.NewClient(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	engine := bq.NewEngine(client, a.log.Named("bq"))
	return engine, func() { _ = client.Close() }, nil
}

// chooser adapts the survey prompts to the manifest chooser contract.
func chooser() manifest.ChooserFunc {
	return func(options []string, query string, multi bool) ([]string, error) {
		if multi {
			return ui.MultiSelect("Select models", options)
		}
		selected, err := ui.Select("Select model", options, query)
		if err != nil {
			return nil, err
		}
		return []string{selected}, nil
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal(err.Error())
	}
}
