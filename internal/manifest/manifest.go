// Package manifest loads the dbt build manifest and answers queries about
// models, sources and their dependency graph. It also maintains the on-disk
// models cache used to make interactive selection fast.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
)

// ManifestError indicates the manifest file is missing, unreadable or
// structurally invalid. It is fatal; there is no retry.
type ManifestError struct {
	Path string
	Err  error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest %s: %v", e.Path, e.Err)
}

func (e *ManifestError) Unwrap() error { return e.Err }

// Node is one dbt node (model or source) as recorded in the manifest.
// Field names follow the dbt manifest JSON schema.
type Node struct {
	UniqueID     string         `json:"unique_id"`
	ResourceType string         `json:"resource_type"`
	Name         string         `json:"name"`
	Database     string         `json:"database"`
	Schema       string         `json:"schema"`
	Alias        string         `json:"alias"`
	Path         string         `json:"path"`
	RelationName string         `json:"relation_name"`
	Description  string         `json:"description"`
	Tags         []string       `json:"tags"`
	Meta         map[string]any `json:"meta"`
	Group        string         `json:"group"`
	Config       NodeConfig     `json:"config"`

	// Source-only fields.
	SourceName        string         `json:"source_name,omitempty"`
	SourceDescription string         `json:"source_description,omitempty"`
	Identifier        string         `json:"identifier,omitempty"`
	SourceMeta        map[string]any `json:"source_meta,omitempty"`
}

// NodeConfig is the subset of dbt node config the tool cares about.
type NodeConfig struct {
	Materialized string         `json:"materialized"`
	Meta         map[string]any `json:"meta,omitempty"`
	// PartitionExpirationDays is either a number or a "{{ var('...') }}"
	// reference into the manifest vars.
	PartitionExpirationDays any `json:"partition_expiration_days,omitempty"`
}

// Metadata is the manifest-level metadata block. Only the project vars are
// used.
type Metadata struct {
	Vars map[string]any `json:"vars"`
}

// Manifest is a loaded dbt manifest with derived indexes. The caches it
// carries are owned by the value; loading a fresh manifest starts from empty
// caches, so lifetime and invalidation are explicit.
type Manifest struct {
	Nodes       map[string]*Node
	SourceNodes map[string]*Node
	ParentMap map[string][]string
	ChildMap  map[string][]string
	Metadata  Metadata

	models     map[string]*ModelInfo
	sources    map[string]*SourceInfo
	upstream   map[string][]Dependency
	downstream map[string][]Dependency
}

// ModelInfo is the flattened, cacheable projection of a model node together
// with its immediate sorted parent and child model names.
type ModelInfo struct {
	UniqueID     string         `json:"unique_id"`
	Name         string         `json:"name"`
	Database     string         `json:"database"`
	Schema       string         `json:"schema"`
	Alias        string         `json:"alias"`
	Path         string         `json:"path"`
	Folder       string         `json:"folder"`
	Tags         []string       `json:"tags"`
	Meta         map[string]any `json:"meta"`
	Group        string         `json:"group"`
	RelationName string         `json:"relation_name"`
	Description  string         `json:"description"`
	Materialized string         `json:"materialized"`
	ParentModels []string       `json:"parent_models"`
	ChildModels  []string       `json:"child_models"`
	Deprecated   bool           `json:"deprecated"`
}

// SourceInfo is the flattened projection of a source node.
type SourceInfo struct {
	UniqueID          string         `json:"unique_id"`
	Name              string         `json:"name"`
	SourceName        string         `json:"source_name"`
	SourceDescription string         `json:"source_description"`
	Database          string         `json:"database"`
	Schema            string         `json:"schema"`
	Identifier        string         `json:"identifier"`
	Path              string         `json:"path"`
	Description       string         `json:"description"`
	Tags              []string       `json:"tags"`
	Meta              map[string]any `json:"meta"`
	SourceMeta        map[string]any `json:"source_meta"`
}

// Load reads and parses the manifest at the given path. The document must
// carry the four top-level collections nodes, sources, parent_map and
// child_map.
func Load(manifestPath string) (*Manifest, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &ManifestError{Path: manifestPath, Err: err}
	}
	return Parse(data, manifestPath)
}

// Parse parses raw manifest JSON. The name is used in error messages only.
func Parse(data []byte, name string) (*Manifest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ManifestError{Path: name, Err: fmt.Errorf("malformed JSON: %w", err)}
	}
	for _, key := range []string{"nodes", "sources", "parent_map", "child_map"} {
		if _, ok := raw[key]; !ok {
			return nil, &ManifestError{Path: name, Err: fmt.Errorf("missing required key %q", key)}
		}
	}

	m := &Manifest{
		upstream:   make(map[string][]Dependency),
		downstream: make(map[string][]Dependency),
	}
	if err := json.Unmarshal(raw["nodes"], &m.Nodes); err != nil {
		return nil, &ManifestError{Path: name, Err: fmt.Errorf("invalid nodes: %w", err)}
	}
	if err := json.Unmarshal(raw["sources"], &m.SourceNodes); err != nil {
		return nil, &ManifestError{Path: name, Err: fmt.Errorf("invalid sources: %w", err)}
	}
	if err := json.Unmarshal(raw["parent_map"], &m.ParentMap); err != nil {
		return nil, &ManifestError{Path: name, Err: fmt.Errorf("invalid parent_map: %w", err)}
	}
	if err := json.Unmarshal(raw["child_map"], &m.ChildMap); err != nil {
		return nil, &ManifestError{Path: name, Err: fmt.Errorf("invalid child_map: %w", err)}
	}
	if meta, ok := raw["metadata"]; ok {
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return nil, &ManifestError{Path: name, Err: fmt.Errorf("invalid metadata: %w", err)}
		}
	}

	// The map key is the authoritative unique id.
	for id, node := range m.Nodes {
		node.UniqueID = id
	}
	for id, node := range m.SourceNodes {
		node.UniqueID = id
	}
	return m, nil
}

// Models returns a mapping from model name to its flattened record for every
// node of resource kind "model". Built once per Manifest value.
func (m *Manifest) Models() map[string]*ModelInfo {
	if m.models != nil {
		return m.models
	}
	models := make(map[string]*ModelInfo)
	for id, node := range m.Nodes {
		if node.ResourceType != "model" {
			continue
		}
		folder := path.Join("models", path.Dir(node.Path))
		models[node.Name] = &ModelInfo{
			UniqueID:     id,
			Name:         node.Name,
			Database:     node.Database,
			Schema:       node.Schema,
			Alias:        node.Alias,
			Path:         node.Path,
			Folder:       folder,
			Tags:         node.Tags,
			Meta:         node.Meta,
			Group:        node.Group,
			RelationName: node.RelationName,
			Description:  node.Description,
			Materialized: node.Config.Materialized,
			ParentModels: m.ParentModels(id),
			ChildModels:  m.ChildModels(id),
			Deprecated:   strings.HasPrefix(strings.ToLower(node.Description), "deprecated"),
		}
	}
	m.models = models
	return models
}

// ModelByName returns the model record with the given name, or nil.
func (m *Manifest) ModelByName(name string) *ModelInfo {
	return m.Models()[name]
}

// Sources returns a mapping from source name to its flattened record.
func (m *Manifest) Sources() map[string]*SourceInfo {
	if m.sources != nil {
		return m.sources
	}
	sources := make(map[string]*SourceInfo)
	for id, node := range m.SourceNodes {
		if node.ResourceType != "source" {
			continue
		}
		sources[node.Name] = &SourceInfo{
			UniqueID:          id,
			Name:              node.Name,
			SourceName:        node.SourceName,
			SourceDescription: node.SourceDescription,
			Database:          node.Database,
			Schema:            node.Schema,
			Identifier:        node.Identifier,
			Path:              node.Path,
			Description:       node.Description,
			Tags:              node.Tags,
			Meta:              node.Meta,
			SourceMeta:        node.SourceMeta,
		}
	}
	m.sources = sources
	return sources
}

// ParentModels returns the sorted names of the immediate model-kind parents
// of the node with the given unique id. Non-model neighbors (seeds, tests,
// macros) are filtered out.
func (m *Manifest) ParentModels(id string) []string {
	return m.neighborModels(m.ParentMap[id])
}

// ChildModels returns the sorted names of the immediate model-kind children
// of the node with the given unique id.
func (m *Manifest) ChildModels(id string) []string {
	return m.neighborModels(m.ChildMap[id])
}

func (m *Manifest) neighborModels(ids []string) []string {
	names := []string{}
	for _, id := range ids {
		if node, ok := m.Nodes[id]; ok && node.ResourceType == "model" {
			names = append(names, node.Name)
		}
	}
	SortModelNames(names)
	return names
}

// SortModelNames sorts model names in place with the three-tier ordering:
// stg_-prefixed names first, int_-prefixed second, everything else last,
// alphabetically within each tier.
func SortModelNames(names []string) {
	sort.Slice(names, func(i, j int) bool {
		return modelOrdering(names[i]) < modelOrdering(names[j])
	})
}

func modelOrdering(name string) string {
	switch {
	case strings.HasPrefix(name, "stg_"):
		return "0_" + name
	case strings.HasPrefix(name, "int_"):
		return "1_" + name
	default:
		return "2_" + name
	}
}
