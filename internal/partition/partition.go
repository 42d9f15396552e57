// Package partition reconciles partition expirations declared on dbt models
// with the actual expirations configured in BigQuery.
package partition

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dbtwiz/dbtwiz/internal/bq"
	"github.com/dbtwiz/dbtwiz/internal/logger"
	"github.com/dbtwiz/dbtwiz/internal/manifest"
)

// varReference matches "{{ var('some_name') }}" style config values.
var varReference = regexp.MustCompile(`\{\{\s*var\(\s*['"]([^'"]+)['"]\s*\)\s*\}\}`)

// Expiration is one model's declared partition expiration.
type Expiration struct {
	ModelName   string
	Table       bq.TableID
	DefinedDays int
}

// Mismatch pairs a declared expiration with a differing actual one.
// CurrentDays is -1 when the table has no expiration set.
type Mismatch struct {
	Expiration
	CurrentDays int
}

// Describe renders a one-line summary for interactive selection.
func (m Mismatch) Describe() string {
	diff := m.DefinedDays
	if m.CurrentDays != -1 {
		diff = m.DefinedDays - m.CurrentDays
	}
	return fmt.Sprintf("%-95s %5d → %5d (%+d)", m.Table, m.CurrentDays, m.DefinedDays, diff)
}

// FromManifest collects declared partition expirations from every model in
// the manifest, resolving var references against the manifest vars. Models
// whose declaration cannot be resolved to a number are skipped with an
// error.
func FromManifest(m *manifest.Manifest) ([]Expiration, error) {
	var expirations []Expiration
	for _, node := range m.Nodes {
		if node.ResourceType != "model" || node.Config.PartitionExpirationDays == nil {
			continue
		}
		days, err := resolveDays(node.Config.PartitionExpirationDays, m.Metadata.Vars)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", node.Name, err)
		}
		expirations = append(expirations, Expiration{
			ModelName:   node.Name,
			Table:       bq.TableID{Project: node.Database, Dataset: node.Schema, Table: node.Alias},
			DefinedDays: days,
		})
	}
	sort.Slice(expirations, func(i, j int) bool {
		return expirations[i].ModelName < expirations[j].ModelName
	})
	return expirations, nil
}

// resolveDays converts a declared expiration to days, resolving a var
// reference first when needed.
func resolveDays(value any, vars map[string]any) (int, error) {
	if s, ok := value.(string); ok {
		match := varReference.FindStringSubmatch(strings.TrimSpace(s))
		if match == nil {
			return 0, fmt.Errorf("unresolvable partition expiration %q", s)
		}
		resolved, ok := vars[match[1]]
		if !ok {
			return 0, fmt.Errorf("partition expiration references unknown var %q", match[1])
		}
		value = resolved
	}
	switch v := value.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("partition expiration has unsupported type %T", value)
	}
}

// Filter keeps only the expirations for the named models. Empty names keep
// everything.
func Filter(expirations []Expiration, names []string) []Expiration {
	if len(names) == 0 {
		return expirations
	}
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	var kept []Expiration
	for _, exp := range expirations {
		if wanted[exp.ModelName] {
			kept = append(kept, exp)
		}
	}
	return kept
}

// FindMismatches compares each declared expiration with the table's actual
// one and returns those that differ.
func FindMismatches(ctx context.Context, engine *bq.Engine, log logger.Logger, expirations []Expiration) ([]Mismatch, error) {
	if log == nil {
		log = logger.Nop()
	}
	var mismatches []Mismatch
	for _, exp := range expirations {
		current, err := engine.PartitionExpirationDays(ctx, exp.Table)
		if err != nil {
			if bq.IsNotFound(err) {
				log.Warn("table not found, skipping", logger.String("table", exp.Table.String()))
				continue
			}
			return nil, fmt.Errorf("failed to read expiration of %s: %w", exp.Table, err)
		}
		if current != exp.DefinedDays {
			mismatches = append(mismatches, Mismatch{Expiration: exp, CurrentDays: current})
		}
	}
	return mismatches, nil
}

// Apply updates the tables of the given mismatches to their declared
// expirations.
func Apply(ctx context.Context, engine *bq.Engine, mismatches []Mismatch) error {
	for _, m := range mismatches {
		if err := engine.UpdatePartitionExpiration(ctx, m.Table, m.DefinedDays); err != nil {
			return fmt.Errorf("failed to update %s: %w", m.Table, err)
		}
	}
	return nil
}
