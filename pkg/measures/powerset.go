package measures

import "slices"

// PowerSet returns every subset of the given measures, including the
// persona node, in Compare order. An empty input yields just the persona node.
func PowerSet(ids []int64) []MeasureSet {
	return PowerSetMaxTier(ids, 0)
}

// PowerSetMaxTier is PowerSet restricted to subsets with at most maxTier
// measures. A maxTier of zero or less means no restriction.
func PowerSetMaxTier(ids []int64, maxTier int) []MeasureSet {
	distinct := New(ids...).Measures()

	subsets := [][]int64{{}}
	for _, id := range distinct {
		n := len(subsets)
		for i := 0; i < n; i++ {
			if maxTier > 0 && len(subsets[i]) >= maxTier {
				continue
			}

			next := make([]int64, len(subsets[i]), len(subsets[i])+1)
			copy(next, subsets[i])
			subsets = append(subsets, append(next, id))
		}
	}

	sets := make([]MeasureSet, 0, len(subsets))
	for _, subset := range subsets {
		sets = append(sets, New(subset...))
	}

	Sort(sets)

	return sets
}

// Subsets returns the power set of m's own measures.
func (m MeasureSet) Subsets() []MeasureSet {
	return PowerSet(m.Measures())
}

// ProperSubsets returns every subset of m except m itself. The persona node
// is included unless includePersona is false.
func (m MeasureSet) ProperSubsets(includePersona bool) []MeasureSet {
	return slices.DeleteFunc(m.Subsets(), func(s MeasureSet) bool {
		return s == m || (!includePersona && s.IsPersona())
	})
}

// Universe returns the distinct measures appearing in any of the sets.
func Universe(sets []MeasureSet) []int64 {
	var ids []int64
	for _, s := range sets {
		ids = append(ids, s.Measures()...)
	}

	return New(ids...).Measures()
}
