package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// UserFileName is the per-user configuration file under the OS config dir.
const UserFileName = "config.toml"

// UserConfig holds user-level settings. Every recognized option is an
// explicit field with a default; unknown keys fail at load time.
type UserConfig struct {
	// AuthCheck enables the credential freshness check before GCP calls.
	AuthCheck bool `toml:"auth_check"`
	// LogLevel is the minimum level for terminal logging.
	LogLevel string `toml:"log_level"`
	// ModelInfo configures the rendered model info preview.
	ModelInfo ModelInfoConfig `toml:"model_info"`

	path string
}

// ModelInfoConfig configures model info rendering and preview.
type ModelInfoConfig struct {
	// Formatter is the command used to display model info files in the
	// chooser preview pane.
	Formatter string `toml:"formatter"`
}

// DefaultUserConfig returns the user configuration defaults.
func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		AuthCheck: true,
		LogLevel:  "info",
		ModelInfo: ModelInfoConfig{Formatter: "cat"},
	}
}

// LoadUser reads the user configuration, falling back to defaults when the
// file does not exist yet.
func LoadUser() (*UserConfig, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return loadUserFrom(filepath.Join(base, "dbtwiz", UserFileName))
}

func loadUserFrom(path string) (*UserConfig, error) {
	cfg := DefaultUserConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user config: %w", err)
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("unknown keys in user config %s:\n%s", path, strict.String())
		}
		return nil, fmt.Errorf("failed to parse user config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration back to its file.
func (c *UserConfig) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode user config: %w", err)
	}
	return os.WriteFile(c.path, data, 0o644)
}
