package allocation

import (
	"slices"

	"github.com/ethpandaops/dynalloc/pkg/measures"
)

// Scorer ranks lattice nodes from observed delivery.
type Scorer struct {
	calc   *Calculator
	params *Parameters
}

// NewScorer creates a scorer sharing the calculator's parameters and cost model.
func NewScorer(calc *Calculator) *Scorer {
	return &Scorer{
		calc:   calc,
		params: calc.params,
	}
}

// ObservedScore is the return on total spend the node delivered within the
// lookback window. ok is false for nodes without usable delivery.
func (s *Scorer) ObservedScore(ms measures.MeasureSet, alloc *BudgetAllocation) (score float64, ok bool) {
	result, exists := alloc.PerNodeResults[ms]
	if !exists {
		return 0, false
	}

	m := alloc.Metrics(ms)
	if m == nil || m.TotalEligibleHours() <= 0 {
		return 0, false
	}

	lookback := s.params.LookbackHours
	impressions := m.CalcEffectiveImpressions(lookback)
	total := m.CalcEffectiveTotalSpend(s.calc.costs, ms, lookback, s.params.Margin, s.params.PerMilleFees)

	if impressions <= 0 || total <= 0 {
		return 0, false
	}

	return result.Valuation * impressions / 1000 / total, true
}

// CalculateTupleScore apportions every observed node's score evenly over its
// measures so overlapping combinations are not counted twice. A measure's
// tuple score is the mean share it received; the persona tuple is the
// persona node's own score.
func (s *Scorer) CalculateTupleScore(alloc *BudgetAllocation) map[measures.MeasureSet]float64 {
	sums := make(map[int64]float64)
	counts := make(map[int64]int)
	tuples := make(map[measures.MeasureSet]float64)

	for _, ms := range alloc.Nodes() {
		score, ok := s.ObservedScore(ms, alloc)
		if !ok {
			continue
		}

		if ms.IsPersona() {
			tuples[ms] = score

			continue
		}

		share := score / float64(ms.Count())
		for _, id := range ms.Measures() {
			sums[id] += share
			counts[id]++
		}
	}

	for id, sum := range sums {
		tuples[measures.New(id)] = sum / float64(counts[id])
	}

	return tuples
}

// CalculateNodeScore sums the tuple scores of every subset of ms, persona included.
func CalculateNodeScore(ms measures.MeasureSet, tuples map[measures.MeasureSet]float64) float64 {
	var score float64
	for _, sub := range ms.Subsets() {
		score += tuples[sub]
	}

	return score
}

// CalculateLineagePenalty returns the penalty multiplier of ms. Nodes with
// their own signal are neutral; otherwise the penalty applies only when both
// an ineligible subset and an ineligible superset exist.
func (s *Scorer) CalculateLineagePenalty(ms measures.MeasureSet, alloc *BudgetAllocation, lattice *Lattice, ineligible map[measures.MeasureSet]struct{}) float64 {
	if result, ok := alloc.PerNodeResults[ms]; ok && (result.ExportCount > 0 || result.IsExplicit) {
		return s.params.LineagePenaltyNeutral
	}

	if anyIneligible(lattice.Ancestors(ms), ineligible) && anyIneligible(lattice.Descendants(ms), ineligible) {
		return s.params.LineagePenalty
	}

	return s.params.LineagePenaltyNeutral
}

func anyIneligible(nodes []measures.MeasureSet, ineligible map[measures.MeasureSet]struct{}) bool {
	for _, ms := range nodes {
		if _, ok := ineligible[ms]; ok {
			return true
		}
	}

	return false
}

// CalculateLineageScores sets NodeScore and LineagePenalty on every node.
func (s *Scorer) CalculateLineageScores(alloc *BudgetAllocation, lattice *Lattice, ineligible map[measures.MeasureSet]struct{}) {
	tuples := s.CalculateTupleScore(alloc)

	for ms, result := range alloc.PerNodeResults {
		result.NodeScore = CalculateNodeScore(ms, tuples)
		result.LineagePenalty = s.CalculateLineagePenalty(ms, alloc, lattice, ineligible)
	}
}

// IsPenalized reports whether the node carries a lineage penalty.
func (s *Scorer) IsPenalized(result *PerNodeBudgetAllocationResult) bool {
	return result.LineagePenalty != s.params.LineagePenaltyNeutral
}

// SortByRank orders nodes by NodeScore descending with every penalized node
// after every unpenalized one. Ties fall back to lattice order.
func (s *Scorer) SortByRank(nodes []measures.MeasureSet, alloc *BudgetAllocation) {
	slices.SortStableFunc(nodes, func(a, b measures.MeasureSet) int {
		return s.compareRank(a, b, alloc)
	})
}

// SortByTierThenRank orders nodes by ascending tier, then by rank.
func (s *Scorer) SortByTierThenRank(nodes []measures.MeasureSet, alloc *BudgetAllocation) {
	slices.SortStableFunc(nodes, func(a, b measures.MeasureSet) int {
		if a.Count() != b.Count() {
			return a.Count() - b.Count()
		}

		return s.compareRank(a, b, alloc)
	})
}

func (s *Scorer) compareRank(a, b measures.MeasureSet, alloc *BudgetAllocation) int {
	ra, rb := alloc.PerNodeResults[a], alloc.PerNodeResults[b]
	if ra == nil || rb == nil {
		return a.Compare(b)
	}

	pa, pb := s.IsPenalized(ra), s.IsPenalized(rb)
	if pa != pb {
		if pa {
			return 1
		}

		return -1
	}

	switch {
	case ra.NodeScore > rb.NodeScore:
		return -1
	case ra.NodeScore < rb.NodeScore:
		return 1
	}

	return a.Compare(b)
}

// CalculateInsightScore is the fraction of nodes in tiers 1 to the top tier
// that were exported before or carry a lineage penalty.
func (s *Scorer) CalculateInsightScore(alloc *BudgetAllocation) float64 {
	var inScope, insightful int

	for ms, result := range alloc.PerNodeResults {
		if ms.IsPersona() || ms.Count() > s.params.AllocationTopTier {
			continue
		}
		inScope++

		if result.ExportCount > 0 || s.IsPenalized(result) {
			insightful++
		}
	}

	if inScope == 0 {
		return 0
	}

	return float64(insightful) / float64(inScope)
}

// HaveInsight reports whether the allocation's insight score meets the threshold.
func (s *Scorer) HaveInsight(alloc *BudgetAllocation) bool {
	return alloc.InsightScore >= s.params.InsightThreshold
}
