// Package config loads the project and user configuration for dbtwiz.
//
// Both files are TOML. The project file lives at the root of the dbt project
// and is found by searching upward from the working directory; the user file
// lives under the OS user config directory. Unknown keys are rejected at load
// time so typos surface immediately instead of silently falling back to
// defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// ProjectFileName is the project configuration file searched for upward from
// the working directory. Its presence also marks the project root.
const ProjectFileName = "dbtwiz.toml"

// DotDirName is the per-project scratch directory for caches, downloaded
// manifests and generated job specs.
const DotDirName = ".dbtwiz"

// ProjectConfig holds project-level settings from dbtwiz.toml.
type ProjectConfig struct {
	// BucketStateProject is the GCP project owning the state bucket.
	BucketStateProject string `toml:"bucket_state_project"`
	// BucketStateIdentifier is the bucket holding the production manifest.
	BucketStateIdentifier string `toml:"bucket_state_identifier"`
	// DockerImageURLDbt is the image used by backfill Cloud Run jobs.
	DockerImageURLDbt string `toml:"docker_image_url_dbt"`
	// DockerImageProfilesPath is the profiles dir inside the image.
	DockerImageProfilesPath string `toml:"docker_image_profiles_path"`
	// ServiceAccountIdentifier is the service account jobs run as.
	ServiceAccountIdentifier string `toml:"service_account_identifier"`
	// ServiceAccountProject is the project jobs are launched in.
	ServiceAccountProject string `toml:"service_account_project"`
	// ServiceAccountRegion is the Cloud Run region for jobs.
	ServiceAccountRegion string `toml:"service_account_region"`
	// GCPLocation is the BigQuery location for datasets and query jobs.
	GCPLocation string `toml:"gcp_location"`

	root string
}

// ErrNoProject is returned when no dbtwiz.toml is found in the working
// directory or any of its parents.
var ErrNoProject = errors.New("no " + ProjectFileName + " found in current or upstream directories")

// LoadProject locates the project root starting at dir and parses its
// configuration. Unknown keys in the file are an error.
func LoadProject(dir string) (*ProjectConfig, error) {
	root, err := findRoot(dir)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(root, ProjectFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read project config: %w", err)
	}

	cfg := &ProjectConfig{GCPLocation: "EU"}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("unknown keys in %s:\n%s", ProjectFileName, strict.String())
		}
		return nil, fmt.Errorf("failed to parse %s: %w", ProjectFileName, err)
	}
	cfg.root = root
	return cfg, nil
}

// Validate checks that every setting a given command needs is present. The
// required list names toml keys; commands pass only the keys they use so a
// partially configured project still supports the commands it can.
func (c *ProjectConfig) Validate(required ...string) error {
	values := map[string]string{
		"bucket_state_project":       c.BucketStateProject,
		"bucket_state_identifier":    c.BucketStateIdentifier,
		"docker_image_url_dbt":       c.DockerImageURLDbt,
		"docker_image_profiles_path": c.DockerImageProfilesPath,
		"service_account_identifier": c.ServiceAccountIdentifier,
		"service_account_project":    c.ServiceAccountProject,
		"service_account_region":     c.ServiceAccountRegion,
		"gcp_location":               c.GCPLocation,
	}
	var missing []string
	for _, key := range required {
		v, ok := values[key]
		if !ok {
			return fmt.Errorf("unknown config key %q", key)
		}
		if v == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings in %s: %v", ProjectFileName, missing)
	}
	return nil
}

// RootPath returns the project root directory.
func (c *ProjectConfig) RootPath() string { return c.root }

// Path returns a path relative to the project root.
func (c *ProjectConfig) Path(elem ...string) string {
	return filepath.Join(append([]string{c.root}, elem...)...)
}

// DotPath returns a path under the project .dbtwiz directory, creating the
// directory if needed.
func (c *ProjectConfig) DotPath(elem ...string) (string, error) {
	dot := filepath.Join(c.root, DotDirName)
	if err := os.MkdirAll(dot, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dot, err)
	}
	return filepath.Join(append([]string{dot}, elem...)...), nil
}

// ManifestPath returns the path to the locally built dbt manifest.
func (c *ProjectConfig) ManifestPath() string {
	return c.Path("target", "manifest.json")
}

// ProdManifestPath returns the path the downloaded production manifest is
// stored at.
func (c *ProjectConfig) ProdManifestPath() (string, error) {
	return c.DotPath("prod-state", "manifest.json")
}

// ModelsCachePath returns the path of the models cache file.
func (c *ProjectConfig) ModelsCachePath() (string, error) {
	return c.DotPath("models-cache.json")
}

// ModelsInfoPath returns the directory rendered model info files go in.
func (c *ProjectConfig) ModelsInfoPath() (string, error) {
	return c.DotPath("models")
}

func findRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(abs, ProjectFileName)); err == nil {
			return abs, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", ErrNoProject
		}
		abs = parent
	}
}
