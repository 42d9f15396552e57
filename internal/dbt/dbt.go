// Package dbt shells out to the dbt CLI. dbtwiz never reimplements dbt
// behavior; it only assembles arguments and runs the binary.
package dbt

import (
	"fmt"
	"os"
	"os/exec"
	"sort"

	"github.com/dbtwiz/dbtwiz/internal/logger"
)

// Target is a dbt target environment.
type Target string

const (
	TargetDev    Target = "dev"
	TargetBuild  Target = "build"
	TargetProd   Target = "prod"
	TargetProdCI Target = "prod-ci"
)

// ParseTarget validates a target name.
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case TargetDev, TargetBuild, TargetProd, TargetProdCI:
		return Target(s), nil
	}
	return "", fmt.Errorf("invalid target %q (must be dev, build, prod or prod-ci)", s)
}

// Runner invokes the dbt CLI.
type Runner struct {
	// ProfilesDir overrides the dbt profiles directory for non-dev targets
	// (inside the docker image profiles live at a fixed path).
	ProfilesDir string
	// Dir is the working directory for invocations.
	Dir string

	Log logger.Logger

	// execCommand is swapped out in tests.
	execCommand func(name string, args ...string) *exec.Cmd
}

// NewRunner returns a Runner for the given project directory.
func NewRunner(dir, profilesDir string, log logger.Logger) *Runner {
	return &Runner{
		ProfilesDir: profilesDir,
		Dir:         dir,
		Log:         log,
		execCommand: exec.Command,
	}
}

// Invoke runs dbt with the given subcommands and flag arguments. Boolean
// flags render as --flag / --no-flag; other values as --flag value. Flags are
// emitted in sorted order so invocations are reproducible.
func (r *Runner) Invoke(commands []string, args map[string]any) error {
	target, _ := args["target"].(string)
	if target != "" && target != string(TargetDev) {
		args["use-colors"] = false
		if r.ProfilesDir != "" {
			args["profiles-dir"] = r.ProfilesDir
		}
	}

	dbtArgs := append([]string{}, commands...)
	keys := make([]string, 0, len(args))
	for key := range args {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		switch v := args[key].(type) {
		case bool:
			if v {
				dbtArgs = append(dbtArgs, "--"+key)
			} else {
				dbtArgs = append(dbtArgs, "--no-"+key)
			}
		default:
			dbtArgs = append(dbtArgs, "--"+key, fmt.Sprint(v))
		}
	}

	if r.Log != nil {
		r.Log.Debug("invoking dbt", logger.Strings("args", dbtArgs))
	}

	execCommand := r.execCommand
	if execCommand == nil {
		execCommand = exec.Command
	}
	cmd := execCommand("dbt", dbtArgs...)
	cmd.Dir = r.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("dbt invocation failed: %w", err)
	}
	return nil
}

// Parse rebuilds the local manifest by running `dbt parse`.
func (r *Runner) Parse() error {
	return r.Invoke([]string{"parse"}, map[string]any{"quiet": true})
}
