package dbt

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dbtwiz/dbtwiz/internal/config"
	"github.com/dbtwiz/dbtwiz/internal/logger"
	"github.com/dbtwiz/dbtwiz/internal/manifest"
)

const buildTestManifest = `{
	"nodes": {
		"model.proj.orders": {
			"name": "orders",
			"resource_type": "model",
			"path": "3_marts/sales/orders.sql",
			"config": {"materialized": "table"}
		},
		"model.proj.customers": {
			"name": "customers",
			"resource_type": "model",
			"path": "3_marts/sales/customers.sql",
			"config": {"materialized": "view"}
		}
	},
	"sources": {},
	"parent_map": {},
	"child_map": {}
}`

type buildFixture struct {
	builder *Builder
	invoked [][]string
}

func newBuildFixture(t *testing.T) *buildFixture {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, config.ProjectFileName), []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.LoadProject(dir)
	if err != nil {
		t.Fatalf("LoadProject failed: %v", err)
	}

	manifestPath := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(manifestPath, []byte(buildTestManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	cache := &manifest.Cache{
		ManifestPath: manifestPath,
		CachePath:    filepath.Join(dir, "models-cache.json"),
	}

	f := &buildFixture{}
	runner := NewRunner(dir, "", logger.Nop())
	runner.execCommand = func(name string, args ...string) *exec.Cmd {
		f.invoked = append(f.invoked, append([]string{name}, args...))
		return exec.Command("true")
	}

	b := NewBuilder(cfg, runner, cache, logger.Nop())
	b.taskIndex = func() int { return 0 }
	f.builder = b
	return f
}

func (f *buildFixture) lastInvocation(t *testing.T) string {
	t.Helper()
	if len(f.invoked) == 0 {
		t.Fatal("dbt was not invoked")
	}
	return strings.Join(f.invoked[len(f.invoked)-1], " ")
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestBuildDirectSelect(t *testing.T) {
	f := newBuildFixture(t)
	f.builder.Choose = func(options []string, query string, multi bool) ([]string, error) {
		t.Fatal("chooser must not run for a direct selection")
		return nil, nil
	}

	err := f.builder.Build(context.Background(), BuildOptions{
		Target:     TargetProd,
		Select:     "orders",
		Date:       day("2024-03-01"),
		Upstream:   true,
		Downstream: true,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	cmd := f.lastInvocation(t)
	for _, want := range []string{
		"dbt build",
		"--select +orders+",
		"--target prod",
		`data_interval_start: "2024-03-01"`,
	} {
		if !strings.Contains(cmd, want) {
			t.Errorf("invocation missing %q: %s", want, cmd)
		}
	}
}

func TestBuildInteractiveSelection(t *testing.T) {
	f := newBuildFixture(t)
	f.builder.Choose = func(options []string, query string, multi bool) ([]string, error) {
		return []string{"orders", "customers"}, nil
	}

	err := f.builder.Build(context.Background(), BuildOptions{
		Target: TargetDev,
		Select: "nonexistent_name",
		Date:   day("2024-03-01"),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	cmd := f.lastInvocation(t)
	if !strings.Contains(cmd, "--select orders customers") {
		t.Errorf("invocation missing chosen models: %s", cmd)
	}

	// The selection must be saved for --repeat-last.
	path, err := f.builder.Cfg.DotPath(lastSelectFileName)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("last selection not saved: %v", err)
	}
	var saved []string
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatal(err)
	}
	if len(saved) != 2 {
		t.Errorf("saved selection = %v", saved)
	}
}

func TestBuildRepeatLast(t *testing.T) {
	f := newBuildFixture(t)
	f.builder.Choose = func(options []string, query string, multi bool) ([]string, error) {
		return []string{"orders"}, nil
	}
	err := f.builder.Build(context.Background(), BuildOptions{
		Target: TargetDev,
		Select: "zzz",
		Date:   day("2024-03-01"),
	})
	if err != nil {
		t.Fatalf("first Build failed: %v", err)
	}

	f.builder.Choose = func(options []string, query string, multi bool) ([]string, error) {
		t.Fatal("chooser must not run with repeat-last")
		return nil, nil
	}
	err = f.builder.Build(context.Background(), BuildOptions{
		Target:     TargetDev,
		Select:     "zzz",
		Date:       day("2024-03-02"),
		RepeatLast: true,
	})
	if err != nil {
		t.Fatalf("repeat Build failed: %v", err)
	}
	if !strings.Contains(f.lastInvocation(t), "--select orders") {
		t.Errorf("repeat did not reuse last selection: %s", f.lastInvocation(t))
	}
}

func TestBuildModifiedState(t *testing.T) {
	f := newBuildFixture(t)

	err := f.builder.Build(context.Background(), BuildOptions{
		Target: TargetBuild,
		Date:   day("2024-03-01"),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	cmd := f.lastInvocation(t)
	for _, want := range []string{"--select state:modified+", "--defer", "--state"} {
		if !strings.Contains(cmd, want) {
			t.Errorf("invocation missing %q: %s", want, cmd)
		}
	}
}

func TestBuildDevRequiresSelector(t *testing.T) {
	f := newBuildFixture(t)
	f.builder.Choose = func(options []string, query string, multi bool) ([]string, error) {
		return nil, nil
	}

	err := f.builder.Build(context.Background(), BuildOptions{
		Target: TargetDev,
		Date:   day("2024-03-01"),
	})
	if !errors.Is(err, ErrNoModels) {
		t.Errorf("expected ErrNoModels, got %v", err)
	}
}

func TestBuildTaskIndexOffset(t *testing.T) {
	f := newBuildFixture(t)
	f.builder.taskIndex = func() int { return 3 }

	err := f.builder.Build(context.Background(), BuildOptions{
		Target:       TargetProd,
		Select:       "orders",
		Date:         day("2024-03-01"),
		UseTaskIndex: true,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	cmd := f.lastInvocation(t)
	if !strings.Contains(cmd, `data_interval_start: "2024-03-04"`) {
		t.Errorf("task index offset not applied: %s", cmd)
	}
	if !strings.Contains(cmd, "--no-write-json") {
		t.Errorf("backfill build must disable artifacts: %s", cmd)
	}
}

func TestBuildSaveState(t *testing.T) {
	f := newBuildFixture(t)
	uploaded := false
	f.builder.UploadState = func(ctx context.Context) error {
		uploaded = true
		return nil
	}

	err := f.builder.Build(context.Background(), BuildOptions{
		Target:    TargetProd,
		Select:    "orders",
		Date:      day("2024-03-01"),
		SaveState: true,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !uploaded {
		t.Error("state upload did not run")
	}

	uploaded = false
	err = f.builder.Build(context.Background(), BuildOptions{
		Target:    TargetDev,
		Select:    "orders",
		Date:      day("2024-03-01"),
		SaveState: true,
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if uploaded {
		t.Error("dev builds must never upload state")
	}
}
