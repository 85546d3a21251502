package allocation

import (
	"fmt"
	"sync"

	"github.com/heimdalr/dag"

	"github.com/ethpandaops/dynalloc/pkg/measures"
)

// Lattice is the subset/superset graph over the nodes of an allocation. An
// edge a -> b means a is a proper subset of b with no other present node in
// between, so ancestors are subsets and descendants are supersets.
type Lattice struct {
	dag   *dag.DAG
	nodes map[measures.MeasureSet]struct{}
	mutex sync.RWMutex
}

// NewLattice builds the lattice over the given nodes.
func NewLattice(nodes []measures.MeasureSet) (*Lattice, error) {
	l := &Lattice{
		dag:   dag.NewDAG(),
		nodes: make(map[measures.MeasureSet]struct{}, len(nodes)),
	}

	sorted := make([]measures.MeasureSet, 0, len(nodes))
	for _, ms := range nodes {
		if _, ok := l.nodes[ms]; ok {
			continue
		}
		l.nodes[ms] = struct{}{}
		sorted = append(sorted, ms)
	}
	measures.Sort(sorted)

	for _, ms := range sorted {
		if err := l.dag.AddVertexByID(ms.String(), ms); err != nil {
			return nil, fmt.Errorf("failed to add vertex %s: %w", ms, err)
		}
	}

	for _, ms := range sorted {
		for _, parent := range l.nearestPresentSubsets(ms) {
			if err := l.dag.AddEdge(parent.String(), ms.String()); err != nil {
				return nil, fmt.Errorf("failed to add edge %s -> %s: %w", parent, ms, err)
			}
		}
	}

	return l, nil
}

// nearestPresentSubsets walks down from ms one measure at a time until it
// reaches nodes present in the lattice.
func (l *Lattice) nearestPresentSubsets(ms measures.MeasureSet) []measures.MeasureSet {
	found := make(map[measures.MeasureSet]struct{})
	visited := make(map[measures.MeasureSet]struct{})

	var walk func(measures.MeasureSet)
	walk = func(current measures.MeasureSet) {
		for _, id := range current.Measures() {
			sub := current.Without(id)
			if _, seen := visited[sub]; seen {
				continue
			}
			visited[sub] = struct{}{}

			if _, ok := l.nodes[sub]; ok {
				found[sub] = struct{}{}

				continue
			}
			walk(sub)
		}
	}
	walk(ms)

	parents := make([]measures.MeasureSet, 0, len(found))
	for sub := range found {
		covered := false
		for other := range found {
			if sub.IsProperSubsetOf(other) {
				covered = true

				break
			}
		}
		if !covered {
			parents = append(parents, sub)
		}
	}
	measures.Sort(parents)

	return parents
}

// Contains reports whether ms is a node of the lattice.
func (l *Lattice) Contains(ms measures.MeasureSet) bool {
	_, ok := l.nodes[ms]

	return ok
}

// Ancestors returns every present proper subset of ms in lattice order.
func (l *Lattice) Ancestors(ms measures.MeasureSet) []measures.MeasureSet {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if !l.Contains(ms) {
		return []measures.MeasureSet{}
	}

	ancestors, err := l.dag.GetAncestors(ms.String())
	if err != nil {
		return []measures.MeasureSet{}
	}

	return sortedVertices(ancestors)
}

// Descendants returns every present proper superset of ms in lattice order.
func (l *Lattice) Descendants(ms measures.MeasureSet) []measures.MeasureSet {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if !l.Contains(ms) {
		return []measures.MeasureSet{}
	}

	descendants, err := l.dag.GetDescendants(ms.String())
	if err != nil {
		return []measures.MeasureSet{}
	}

	return sortedVertices(descendants)
}

// Parents returns the nearest present subsets of ms.
func (l *Lattice) Parents(ms measures.MeasureSet) []measures.MeasureSet {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	if !l.Contains(ms) {
		return []measures.MeasureSet{}
	}

	parents, err := l.dag.GetParents(ms.String())
	if err != nil {
		return []measures.MeasureSet{}
	}

	return sortedVertices(parents)
}

func sortedVertices(vertices map[string]interface{}) []measures.MeasureSet {
	result := make([]measures.MeasureSet, 0, len(vertices))
	for _, v := range vertices {
		if ms, ok := v.(measures.MeasureSet); ok {
			result = append(result, ms)
		}
	}
	measures.Sort(result)

	return result
}
