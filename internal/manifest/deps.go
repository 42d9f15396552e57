package manifest

import (
	"sort"
	"strings"
)

// Dependency is one node reached by transitive dependency traversal.
type Dependency struct {
	ID           string
	Materialized string
}

// DependenciesUpstream returns the transitive set of model dependencies
// reachable by following parent edges from the node with the given unique
// id. Each node appears exactly once regardless of how many paths reach it,
// and the traversal visits every edge at most once. Results are memoized on
// the Manifest value.
func (m *Manifest) DependenciesUpstream(id string) []Dependency {
	if deps, ok := m.upstream[id]; ok {
		return deps
	}
	deps := m.collect(id, m.ParentMap)
	m.upstream[id] = deps
	return deps
}

// DependenciesDownstream is the child-edge counterpart of
// DependenciesUpstream.
func (m *Manifest) DependenciesDownstream(id string) []Dependency {
	if deps, ok := m.downstream[id]; ok {
		return deps
	}
	deps := m.collect(id, m.ChildMap)
	m.downstream[id] = deps
	return deps
}

// collect walks edges depth-first with an explicit visited set, restricting
// traversal to nodes with a "model." id prefix. The visited set bounds work
// to O(nodes+edges) even on wide diamond graphs.
func (m *Manifest) collect(start string, edges map[string][]string) []Dependency {
	visited := map[string]bool{start: true}
	var deps []Dependency

	var walk func(id string)
	walk = func(id string) {
		for _, next := range edges[id] {
			if !strings.HasPrefix(next, "model.") || visited[next] {
				continue
			}
			visited[next] = true
			var materialized string
			if node, ok := m.Nodes[next]; ok {
				materialized = node.Config.Materialized
			}
			deps = append(deps, Dependency{ID: next, Materialized: materialized})
			walk(next)
		}
	}
	walk(start)

	sort.Slice(deps, func(i, j int) bool { return deps[i].ID < deps[j].ID })
	return deps
}
