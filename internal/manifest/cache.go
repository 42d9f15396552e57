package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dbtwiz/dbtwiz/internal/logger"
)

// ErrNoCandidates is returned by ChooseModels when the candidate list is
// empty before any interaction. Callers must treat it distinctly from an
// empty selection (the user was shown choices and picked none).
var ErrNoCandidates = errors.New("no models to choose from")

// ChooserFunc presents options to the user and returns the selection. The
// query preseeds any filtering the chooser supports.
type ChooserFunc func(options []string, query string, multi bool) ([]string, error)

// Cache is the on-disk models cache: a JSON projection of the manifest's
// models rebuilt whenever the manifest file is newer than the cache file.
type Cache struct {
	ManifestPath string
	CachePath    string
	Log          logger.Logger

	// LocalChanges returns names of models with uncommitted local changes,
	// given the model path to name index. Wired to the git query by the
	// command layer; injected in tests.
	LocalChanges func(nameByPath map[string]string) ([]string, error)
}

// Models returns the cached model mapping, rebuilding the cache first when
// it is absent or older than the manifest file.
func (c *Cache) Models() (map[string]*ModelInfo, error) {
	stale, err := c.stale()
	if err != nil {
		return nil, err
	}
	if stale {
		if c.Log != nil {
			c.Log.Debug("updating models cache", logger.String("path", c.CachePath))
		}
		if err := c.Rebuild(); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(c.CachePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read models cache: %w", err)
	}
	var models map[string]*ModelInfo
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("failed to parse models cache: %w", err)
	}
	return models, nil
}

// Rebuild loads the manifest and writes a fresh cache file.
func (c *Cache) Rebuild() error {
	m, err := Load(c.ManifestPath)
	if err != nil {
		return err
	}
	return c.Write(m.Models())
}

// Write serializes the given model mapping to the cache path.
func (c *Cache) Write(models map[string]*ModelInfo) error {
	if err := os.MkdirAll(filepath.Dir(c.CachePath), 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	data, err := json.Marshal(models)
	if err != nil {
		return fmt.Errorf("failed to encode models cache: %w", err)
	}
	if err := os.WriteFile(c.CachePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write models cache: %w", err)
	}
	return nil
}

// stale reports whether the cache must be rebuilt: it does not exist, or its
// modification time is older than the manifest's.
func (c *Cache) stale() (bool, error) {
	cacheInfo, err := os.Stat(c.CachePath)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	manifestInfo, err := os.Stat(c.ManifestPath)
	if err != nil {
		return false, &ManifestError{Path: c.ManifestPath, Err: err}
	}
	return cacheInfo.ModTime().Before(manifestInfo.ModTime()), nil
}

// CanSelectDirectly reports whether the selector should bypass interactive
// selection and be handed straight to dbt: either it names a cached model
// exactly, or it contains characters meaningful to dbt's selection syntax.
func (c *Cache) CanSelectDirectly(selector string) (bool, error) {
	models, err := c.Models()
	if err != nil {
		return false, err
	}
	return CanSelectDirectly(models, selector), nil
}

// CanSelectDirectly is the pure predicate behind Cache.CanSelectDirectly.
func CanSelectDirectly(models map[string]*ModelInfo, selector string) bool {
	if _, ok := models[selector]; ok {
		return true
	}
	return strings.ContainsAny(selector, ":+*, ")
}

// ChooseModels lets the user pick one or more models interactively. When
// workOnly is set the candidate list is narrowed to models with local
// uncommitted changes. Returns ErrNoCandidates when there is nothing to
// choose from.
func (c *Cache) ChooseModels(query string, multi, workOnly bool, choose ChooserFunc) ([]string, error) {
	models, err := c.Models()
	if err != nil {
		return nil, err
	}

	var names []string
	if workOnly {
		if c.LocalChanges == nil {
			return nil, errors.New("local change detection not configured")
		}
		nameByPath := make(map[string]string, len(models))
		for _, m := range models {
			nameByPath[path.Join("models", m.Path)] = m.Name
		}
		names, err = c.LocalChanges(nameByPath)
		if err != nil {
			return nil, err
		}
	} else {
		for name := range models {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, ErrNoCandidates
	}
	SortModelNames(names)

	return choose(names, query, multi)
}
