package dbt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dbtwiz/dbtwiz/internal/config"
	"github.com/dbtwiz/dbtwiz/internal/logger"
	"github.com/dbtwiz/dbtwiz/internal/manifest"
)

// lastSelectFileName stores the most recent interactive model selection so
// it can be repeated without re-prompting.
const lastSelectFileName = "last_select.json"

// ErrNoModels is returned when a build ends up with nothing to run.
var ErrNoModels = errors.New("no models chosen")

// BuildOptions are the flags of one build run.
type BuildOptions struct {
	Target Target
	Select string
	// Date is the data interval start passed to dbt as a var.
	Date time.Time
	// UseTaskIndex offsets Date by the Cloud Run task index, for batched
	// backfill jobs.
	UseTaskIndex bool
	// SaveState uploads the manifest to the state bucket after the build.
	SaveState   bool
	FullRefresh bool
	// Upstream and Downstream extend the selection with graph operators.
	Upstream   bool
	Downstream bool
	// WorkOnly restricts interactive selection to models with local changes.
	WorkOnly bool
	// RepeatLast reuses the previous interactive selection.
	RepeatLast bool
}

// Builder orchestrates a dbt build: model selection, date handling and the
// final dbt invocation.
type Builder struct {
	Cfg    *config.ProjectConfig
	Runner *Runner
	Cache  *manifest.Cache
	Log    logger.Logger

	// EnsureAuth checks credentials before dev builds.
	EnsureAuth func() error
	// UpdateModelsInfo refreshes the preview files shown by the chooser.
	UpdateModelsInfo func(models map[string]*manifest.ModelInfo) error
	// Choose is the interactive model chooser.
	Choose manifest.ChooserFunc
	// UploadState publishes the manifest after state-saving builds.
	UploadState func(ctx context.Context) error

	taskIndex func() int
}

// NewBuilder creates a builder. The caller wires the collaborators.
func NewBuilder(cfg *config.ProjectConfig, runner *Runner, cache *manifest.Cache, log logger.Logger) *Builder {
	if log == nil {
		log = logger.Nop()
	}
	return &Builder{
		Cfg:       cfg,
		Runner:    runner,
		Cache:     cache,
		Log:       log,
		taskIndex: cloudRunTaskIndex,
	}
}

// cloudRunTaskIndex reads the task index Cloud Run injects into job
// containers. Zero outside of Cloud Run.
func cloudRunTaskIndex() int {
	idx, err := strconv.Atoi(os.Getenv("CLOUD_RUN_TASK_INDEX"))
	if err != nil {
		return 0
	}
	return idx
}

// Build resolves the model selection and runs `dbt build`.
func (b *Builder) Build(ctx context.Context, opts BuildOptions) error {
	if opts.Target == TargetDev && b.EnsureAuth != nil {
		if err := b.EnsureAuth(); err != nil {
			return err
		}
	}

	chosen, err := b.resolveSelection(opts)
	if err != nil {
		return err
	}
	if err := b.saveSelection(chosen); err != nil {
		return err
	}

	var decorated []string
	for _, model := range chosen {
		if model == "" {
			continue
		}
		sel := model
		if opts.Upstream {
			sel = "+" + sel
		}
		if opts.Downstream {
			sel = sel + "+"
		}
		decorated = append(decorated, sel)
	}
	selector := strings.Join(decorated, " ")
	b.Log.Debug("resolved selection", logger.String("select", selector))

	buildDate := opts.Date
	if opts.UseTaskIndex {
		offset := b.taskIndex()
		b.Log.Info("applying task index date offset",
			logger.Int("task_index", offset),
			logger.String("base_date", buildDate.Format("2006-01-02")))
		buildDate = buildDate.AddDate(0, 0, offset)
		b.Log.Info("backfill date", logger.String("date", buildDate.Format("2006-01-02")))
	}

	args := map[string]any{
		"target": string(opts.Target),
		"vars":   fmt.Sprintf("{data_interval_start: %q}", buildDate.Format("2006-01-02")),
	}

	switch {
	case selector != "":
		b.Log.Info("building selected models", logger.String("select", selector))
		args["select"] = selector
	case opts.Target != TargetDev:
		b.Log.Info("building modified models and their downstream dependencies")
		prodManifest, err := b.Cfg.ProdManifestPath()
		if err != nil {
			return err
		}
		args["select"] = "state:modified+"
		args["defer"] = true
		args["state"] = prodManifest
	default:
		return fmt.Errorf("a selector is required with the dev target")
	}

	if opts.FullRefresh {
		b.Log.Info("full refresh requested")
		args["full-refresh"] = true
	}
	if opts.UseTaskIndex {
		// Backfill tasks don't need artifacts.
		args["write-json"] = false
	}

	if err := b.Runner.Invoke([]string{"build"}, args); err != nil {
		return err
	}

	if opts.SaveState && opts.Target != TargetDev && b.UploadState != nil {
		return b.UploadState(ctx)
	}
	return nil
}

// resolveSelection turns the select flag into concrete model names,
// prompting interactively when needed.
func (b *Builder) resolveSelection(opts BuildOptions) ([]string, error) {
	direct, err := b.canSelectDirectly(opts.Select)
	if err != nil {
		return nil, err
	}
	if opts.Target != TargetDev || direct {
		return []string{opts.Select}, nil
	}
	if opts.RepeatLast {
		return b.loadSelection()
	}

	if b.UpdateModelsInfo != nil {
		models, err := b.Cache.Models()
		if err != nil {
			return nil, err
		}
		if err := b.UpdateModelsInfo(models); err != nil {
			return nil, err
		}
	}

	chosen, err := b.Cache.ChooseModels(opts.Select, true, opts.WorkOnly, b.Choose)
	if err != nil {
		return nil, err
	}
	if len(chosen) == 0 {
		return nil, ErrNoModels
	}
	return chosen, nil
}

func (b *Builder) canSelectDirectly(selector string) (bool, error) {
	if selector == "" {
		return false, nil
	}
	return b.Cache.CanSelectDirectly(selector)
}

func (b *Builder) saveSelection(models []string) error {
	path, err := b.Cfg.DotPath(lastSelectFileName)
	if err != nil {
		return err
	}
	data, err := json.Marshal(models)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (b *Builder) loadSelection() ([]string, error) {
	path, err := b.Cfg.DotPath(lastSelectFileName)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("no previously selected models found")
	}
	if err != nil {
		return nil, err
	}
	var models []string
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", lastSelectFileName, err)
	}
	return models, nil
}
