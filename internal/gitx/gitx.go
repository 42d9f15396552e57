// Package gitx runs git plumbing queries used to narrow interactive
// selections: which model files are staged or locally modified.
package gitx

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// StatusLine is one parsed line of `git status --porcelain` output.
type StatusLine struct {
	State string // index state letter, e.g. "A" or "M"
	Path  string
}

// Status returns the parsed porcelain status of the repository at dir.
func Status(dir string) ([]StatusLine, error) {
	cmd := exec.Command("git", "status", "--porcelain",
		"--untracked-files=no", "--no-ahead-behind", "--no-renames")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("git status failed: %s", strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("git status failed: %w", err)
	}

	var lines []StatusLine
	for _, line := range strings.Split(string(out), "\n") {
		if len(line) < 4 {
			continue
		}
		lines = append(lines, StatusLine{
			State: line[:1],
			Path:  strings.TrimSpace(line[3:]),
		})
	}
	return lines, nil
}

// StagedFiles returns paths of staged (added or modified) files under any of
// the given top-level folders with one of the given extensions.
func StagedFiles(dir string, folders, exts []string) ([]string, error) {
	lines, err := Status(dir)
	if err != nil {
		return nil, err
	}

	folderSet := make(map[string]bool, len(folders))
	for _, f := range folders {
		folderSet[f] = true
	}
	extSet := make(map[string]bool, len(exts))
	for _, e := range exts {
		extSet[e] = true
	}

	var files []string
	for _, line := range lines {
		if line.State != "A" && line.State != "M" {
			continue
		}
		parts := strings.Split(filepath.ToSlash(line.Path), "/")
		if len(parts) < 2 {
			continue
		}
		if folderSet[parts[0]] && extSet[filepath.Ext(line.Path)] {
			files = append(files, line.Path)
		}
	}
	return files, nil
}

// ModelsWithLocalChanges maps staged model .sql paths back to model names
// using the given path→name index.
func ModelsWithLocalChanges(dir string, nameByPath map[string]string) ([]string, error) {
	files, err := StagedFiles(dir, []string{"models"}, []string{".sql"})
	if err != nil {
		return nil, err
	}
	var names []string
	for _, f := range files {
		if name, ok := nameByPath[filepath.ToSlash(f)]; ok {
			names = append(names, name)
		}
	}
	return names, nil
}
