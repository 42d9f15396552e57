package manifest

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// graphManifest builds a Manifest from parent edges alone; child edges are
// derived. All nodes are table-materialized models.
func graphManifest(parents map[string][]string) *Manifest {
	m := &Manifest{
		Nodes:      make(map[string]*Node),
		ParentMap:  make(map[string][]string),
		ChildMap:   make(map[string][]string),
		upstream:   make(map[string][]Dependency),
		downstream: make(map[string][]Dependency),
	}
	addNode := func(id string) {
		if _, ok := m.Nodes[id]; !ok {
			m.Nodes[id] = &Node{
				UniqueID:     id,
				ResourceType: "model",
				Name:         id,
				Config:       NodeConfig{Materialized: "table"},
			}
		}
	}
	for child, ps := range parents {
		addNode(child)
		m.ParentMap[child] = ps
		for _, p := range ps {
			addNode(p)
			m.ChildMap[p] = append(m.ChildMap[p], child)
		}
	}
	return m
}

func TestDependenciesUpstreamDiamond(t *testing.T) {
	// A -> B, A -> C, B -> D, C -> D: two paths reach A from D.
	m := graphManifest(map[string][]string{
		"model.p.b": {"model.p.a"},
		"model.p.c": {"model.p.a"},
		"model.p.d": {"model.p.b", "model.p.c"},
	})

	deps := m.DependenciesUpstream("model.p.d")
	counts := make(map[string]int)
	for _, d := range deps {
		counts[d.ID]++
	}
	for _, id := range []string{"model.p.a", "model.p.b", "model.p.c"} {
		if counts[id] != 1 {
			t.Errorf("%s appears %d times, want exactly once", id, counts[id])
		}
	}
	if len(deps) != 3 {
		t.Errorf("expected 3 upstream dependencies, got %d", len(deps))
	}
}

func TestDependenciesDownstream(t *testing.T) {
	m := graphManifest(map[string][]string{
		"model.p.b": {"model.p.a"},
		"model.p.c": {"model.p.b"},
	})

	deps := m.DependenciesDownstream("model.p.a")
	if len(deps) != 2 {
		t.Fatalf("expected 2 downstream dependencies, got %d", len(deps))
	}
	if deps[0].Materialized != "table" {
		t.Errorf("materialization not carried: %+v", deps[0])
	}
}

func TestDependenciesSkipNonModelEdges(t *testing.T) {
	m := graphManifest(map[string][]string{
		"model.p.b": {"model.p.a"},
	})
	m.ParentMap["model.p.b"] = append(m.ParentMap["model.p.b"], "source.p.raw.events", "test.p.check")

	deps := m.DependenciesUpstream("model.p.b")
	if len(deps) != 1 || deps[0].ID != "model.p.a" {
		t.Errorf("expected only model.p.a, got %v", deps)
	}
}

// TestDependenciesLayeredDiamondLinear checks that traversal over a deep,
// wide diamond lattice visits each node exactly once and touches each edge a
// bounded number of times. A naive traversal without the visited guard is
// exponential in the number of layers on this shape.
func TestDependenciesLayeredDiamondLinear(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("each node reached exactly once", prop.ForAll(
		func(layers, width int) bool {
			parents := make(map[string][]string)
			nodeID := func(layer, i int) string {
				return fmt.Sprintf("model.p.l%d_n%d", layer, i)
			}
			// Fully connect adjacent layers: every node in layer k has
			// every node in layer k-1 as a parent.
			for layer := 1; layer <= layers; layer++ {
				for i := 0; i < width; i++ {
					var ps []string
					for j := 0; j < width; j++ {
						ps = append(ps, nodeID(layer-1, j))
					}
					parents[nodeID(layer, i)] = ps
				}
			}
			m := graphManifest(parents)

			deps := m.DependenciesUpstream(nodeID(layers, 0))
			// Everything except the start's own layer mates is upstream.
			want := layers * width
			if len(deps) != want {
				return false
			}
			seen := make(map[string]bool, len(deps))
			for _, d := range deps {
				if seen[d.ID] {
					return false
				}
				seen[d.ID] = true
			}
			return true
		},
		gen.IntRange(1, 12).WithLabel("layers"),
		gen.IntRange(1, 8).WithLabel("width"),
	))

	properties.TestingRun(t)
}

func TestDependenciesMemoized(t *testing.T) {
	m := graphManifest(map[string][]string{
		"model.p.b": {"model.p.a"},
	})

	first := m.DependenciesUpstream("model.p.b")
	// Mutating the graph after the first call must not change the memoized
	// result: the cache is owned by the Manifest value.
	m.ParentMap["model.p.b"] = append(m.ParentMap["model.p.b"], "model.p.c")
	m.Nodes["model.p.c"] = &Node{UniqueID: "model.p.c", ResourceType: "model", Name: "c"}

	second := m.DependenciesUpstream("model.p.b")
	if len(first) != len(second) {
		t.Errorf("memoized result changed: %v vs %v", first, second)
	}
}
