package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SourceFile is a dbt sources yml file.
type SourceFile struct {
	Version int         `yaml:"version"`
	Sources []SourceDef `yaml:"sources"`
}

// SourceDef declares one source: a GCP project and dataset with the tables
// read from it.
type SourceDef struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description,omitempty"`
	Database    string        `yaml:"database"`
	Schema      string        `yaml:"schema"`
	Tables      []SourceTable `yaml:"tables,omitempty"`
}

// SourceTable is one table entry under a source.
type SourceTable struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Columns     []ColumnSchema `yaml:"columns,omitempty"`
}

// DefaultSourceName derives the conventional source name from a project and
// dataset: backticks stripped, lowercased, hyphens replaced by underscores,
// joined by a double underscore.
func DefaultSourceName(gcpProject, dataset string) string {
	return cleanSourcePart(gcpProject) + "__" + cleanSourcePart(dataset)
}

func cleanSourcePart(s string) string {
	s = strings.Trim(s, "`")
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "-", "_")
}

// SourceFilePath returns where a source's yml file lives under the project
// root: one directory per GCP project, one file per source.
func SourceFilePath(root, gcpProject, sourceName string) string {
	return filepath.Join(root, "sources", cleanSourcePart(gcpProject), sourceName+".yml")
}

// LoadSourceFile reads a sources yml file. A missing file is not an error;
// it loads as an empty version-2 file so callers can treat first use and
// later additions uniformly.
func LoadSourceFile(path string) (SourceFile, error) {
	file := SourceFile{Version: 2}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return file, nil
	}
	if err != nil {
		return file, err
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return file, nil
}

// TableNames returns the names of all tables declared for the named source.
func (f SourceFile) TableNames(sourceName string) []string {
	for _, src := range f.Sources {
		if src.Name != sourceName {
			continue
		}
		names := make([]string, len(src.Tables))
		for i, tbl := range src.Tables {
			names[i] = tbl.Name
		}
		return names
	}
	return nil
}

// RenderSourcePreview marshals a single-source file for preview before
// writing.
func RenderSourcePreview(def SourceDef, tables []SourceTable) ([]byte, error) {
	def.Tables = tables
	return yaml.Marshal(SourceFile{Version: 2, Sources: []SourceDef{def}})
}

// AddSourceTables adds table entries to a source yml file, creating the file
// and the source entry as needed. Adding a table that is already declared is
// an error.
func AddSourceTables(path string, def SourceDef, tables []SourceTable) error {
	file, err := LoadSourceFile(path)
	if err != nil {
		return err
	}

	idx := -1
	for i, src := range file.Sources {
		if src.Name == def.Name {
			idx = i
			break
		}
	}
	if idx < 0 {
		def.Tables = nil
		file.Sources = append(file.Sources, def)
		idx = len(file.Sources) - 1
	}
	src := &file.Sources[idx]

	declared := make(map[string]bool, len(src.Tables))
	for _, tbl := range src.Tables {
		declared[tbl.Name] = true
	}
	for _, tbl := range tables {
		if declared[tbl.Name] {
			return fmt.Errorf("table %s is already declared in source %s", tbl.Name, def.Name)
		}
		src.Tables = append(src.Tables, tbl)
	}

	out, err := yaml.Marshal(file)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create source directory: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
