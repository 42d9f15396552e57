package project

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrNotFromPath is returned when a field derived from a concrete model path
// is requested on a ModelBasePath constructed from a layer name only.
var ErrNotFromPath = errors.New("not available: constructed from layer only")

// ModelBasePath identifies the canonical location of a model: its layer, its
// domain folder, and its base identifier. It can be constructed either from a
// layer name alone (when creating a new model interactively) or from an
// existing model file path (when moving or inspecting one). Only the latter
// carries domain and identifier information.
type ModelBasePath struct {
	layer Layer

	// Fields below are set only when constructed from a path.
	fromPath   bool
	domain     string
	identifier string
	modelName  string
	prefix     string
	ext        string
	baseDir    string // everything up to and including "models"
}

// NewBasePath returns a ModelBasePath for the given layer name. Domain and
// identifier are unavailable until provided explicitly.
func NewBasePath(layerName string) (*ModelBasePath, error) {
	layer, err := LayerByName(layerName)
	if err != nil {
		return nil, err
	}
	return &ModelBasePath{layer: layer}, nil
}

// ParseBasePath derives layer, domain and identifier from a concrete model
// file path such as "models/1_staging/sales/stg_sales__orders.sql".
//
// The file name is expected to carry the "{abbr}_{domain}__" prefix; when it
// doesn't, the whole stem is treated as the identifier and the prefix is
// empty.
func ParseBasePath(path string) (*ModelBasePath, error) {
	clean := filepath.ToSlash(path)
	parts := strings.Split(clean, "/")

	modelsPos := -1
	for i, p := range parts {
		if p == "models" {
			modelsPos = i
			break
		}
	}
	if modelsPos < 0 || len(parts) <= modelsPos+3 {
		return nil, fmt.Errorf("invalid model path structure: %q", path)
	}

	layerFolder := parts[modelsPos+1]
	layer, ok := layerByFolder(layerFolder)
	if !ok {
		return nil, fmt.Errorf("unknown layer folder %q in path %q", layerFolder, path)
	}

	domain := parts[modelsPos+2]
	file := parts[len(parts)-1]
	ext := filepath.Ext(file)
	name := strings.TrimSuffix(file, ext)

	b := &ModelBasePath{
		layer:     layer,
		fromPath:  true,
		domain:    domain,
		modelName: name,
		ext:       ext,
		baseDir:   filepath.Join(parts[:modelsPos+1]...),
	}

	expectedPrefix := fmt.Sprintf("%s_%s__", layer.Abbreviation, domain)
	if strings.HasPrefix(name, expectedPrefix) {
		b.prefix = expectedPrefix
		b.identifier = strings.TrimPrefix(name, expectedPrefix)
	} else {
		b.prefix = ""
		b.identifier = name
	}
	return b, nil
}

// Layer returns the model layer.
func (b *ModelBasePath) Layer() Layer { return b.layer }

// FromPath reports whether domain and identifier information is available.
func (b *ModelBasePath) FromPath() bool { return b.fromPath }

// Domain returns the domain folder name.
func (b *ModelBasePath) Domain() (string, error) {
	if !b.fromPath {
		return "", ErrNotFromPath
	}
	return b.domain, nil
}

// Identifier returns the base model name without prefix, e.g. "orders".
func (b *ModelBasePath) Identifier() (string, error) {
	if !b.fromPath {
		return "", ErrNotFromPath
	}
	return b.identifier, nil
}

// ModelName returns the full model name with prefix,
// e.g. "stg_sales__orders".
func (b *ModelBasePath) ModelName() (string, error) {
	if !b.fromPath {
		return "", ErrNotFromPath
	}
	return b.modelName, nil
}

// Prefix returns the file name prefix, e.g. "stg_sales__". Empty when the
// parsed file name did not follow the prefix convention.
func (b *ModelBasePath) Prefix() (string, error) {
	if !b.fromPath {
		return "", ErrNotFromPath
	}
	return b.prefix, nil
}

// PrefixFor builds the prefix for the given domain,
// e.g. "stg_marketing__" for domain "marketing" on a staging base path.
func (b *ModelBasePath) PrefixFor(domain string) string {
	return fmt.Sprintf("%s_%s__", b.layer.Abbreviation, domain)
}

// DomainDir returns the directory for the given domain within the layer. An
// empty domain falls back to the parsed one when available.
func (b *ModelBasePath) DomainDir(domain string) (string, error) {
	if domain == "" {
		if !b.fromPath {
			return "", errors.New("must provide domain when constructed from layer")
		}
		domain = b.domain
	}
	base := b.baseDir
	if base == "" {
		base = "models"
	}
	return filepath.Join(base, b.layer.Folder, domain), nil
}

// Path returns the full model file path. With empty arguments it reproduces
// the originally parsed path exactly; with explicit identifier and domain it
// builds the canonical path for a new model location.
func (b *ModelBasePath) Path(identifier, domain string) (string, error) {
	if identifier == "" && b.fromPath {
		dir, err := b.DomainDir(domain)
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, b.modelName+b.ext), nil
	}
	if identifier == "" {
		return "", errors.New("must provide identifier when constructed from layer")
	}
	dir, err := b.DomainDir(domain)
	if err != nil {
		return "", err
	}
	if domain == "" {
		domain = b.domain
	}
	return filepath.Join(dir, b.PrefixFor(domain)+identifier+".sql"), nil
}
