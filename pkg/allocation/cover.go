package allocation

import (
	"cmp"
	"math"
	"slices"

	"github.com/ethpandaops/dynalloc/pkg/measures"
)

// maxTierSpread bounds the geometric tier weights so 2^k stays exact.
const maxTierSpread = 30

// CoverState is the accumulator threaded through a greedy cover. It records
// which non-persona nodes are already covered by a selection and the
// selection order.
type CoverState struct {
	covered  map[measures.MeasureSet]struct{}
	selected map[measures.MeasureSet]struct{}
	Selected []measures.MeasureSet
}

// NewCoverState creates an empty cover accumulator.
func NewCoverState() *CoverState {
	return &CoverState{
		covered:  make(map[measures.MeasureSet]struct{}),
		selected: make(map[measures.MeasureSet]struct{}),
		Selected: make([]measures.MeasureSet, 0),
	}
}

// IsCovered reports whether ms is the subset of an earlier selection.
func (s *CoverState) IsCovered(ms measures.MeasureSet) bool {
	_, ok := s.covered[ms]

	return ok
}

// Gain is the number of ms's non-persona subsets, ms included, not yet covered.
func (s *CoverState) Gain(ms measures.MeasureSet) int {
	var gain int
	for _, sub := range ms.Subsets() {
		if sub.IsPersona() {
			continue
		}
		if !s.IsCovered(sub) {
			gain++
		}
	}

	return gain
}

// Cover selects ms and marks all of its non-persona subsets covered.
func (s *CoverState) Cover(ms measures.MeasureSet) {
	for _, sub := range ms.Subsets() {
		if sub.IsPersona() {
			continue
		}
		s.covered[sub] = struct{}{}
	}
	if _, ok := s.selected[ms]; !ok {
		s.selected[ms] = struct{}{}
		s.Selected = append(s.Selected, ms)
	}
}

// UncoveredCount returns how many distinct non-persona subsets of the
// candidates are still uncovered.
func (s *CoverState) UncoveredCount(candidates []measures.MeasureSet) int {
	seen := make(map[measures.MeasureSet]struct{})
	for _, ms := range candidates {
		for _, sub := range ms.Subsets() {
			if sub.IsPersona() || s.IsCovered(sub) {
				continue
			}
			seen[sub] = struct{}{}
		}
	}

	return len(seen)
}

func (s *CoverState) isSelected(ms measures.MeasureSet) bool {
	_, ok := s.selected[ms]

	return ok
}

// AddBestGreedyMeasureSet selects the candidate with the largest gain. Ties go
// to the candidate first in lattice order. It returns false once every
// candidate is selected.
func AddBestGreedyMeasureSet(candidates []measures.MeasureSet, state *CoverState) (measures.MeasureSet, bool) {
	var (
		best     measures.MeasureSet
		bestGain = -1
		found    bool
	)

	for _, ms := range candidates {
		if state.isSelected(ms) {
			continue
		}

		gain := state.Gain(ms)
		if gain > bestGain || (gain == bestGain && ms.Less(best)) {
			best = ms
			bestGain = gain
			found = true
		}
	}

	if !found {
		return measures.MeasureSet{}, false
	}

	state.Cover(best)

	return best, true
}

// GreedyMaxCover selects up to quota candidates by repeated greedy picks and
// returns them in selection order.
func GreedyMaxCover(candidates []measures.MeasureSet, quota int, state *CoverState) []measures.MeasureSet {
	picked := make([]measures.MeasureSet, 0, quota)

	for len(picked) < quota {
		ms, ok := AddBestGreedyMeasureSet(candidates, state)
		if !ok {
			break
		}
		picked = append(picked, ms)
	}

	return picked
}

// NumberOfNodesToAllocateOnThisTier splits totalNodes over numberOfTiers with
// each tier receiving about twice the share of the next deeper one. tierIndex
// 0 is the shallowest tier. Summed over every index the result is exactly
// totalNodes.
func NumberOfNodesToAllocateOnThisTier(tierIndex, numberOfTiers, totalNodes int) int {
	if numberOfTiers <= 0 || totalNodes <= 0 || tierIndex < 0 || tierIndex >= numberOfTiers {
		return 0
	}

	return tierQuotas(numberOfTiers, totalNodes)[tierIndex]
}

func tierQuotas(numberOfTiers, totalNodes int) []int {
	quotas := make([]int, numberOfTiers)

	// Shallow tiers beyond maxTierSpread share the largest weight.
	weights := make([]float64, numberOfTiers)
	var weightSum float64
	for i := range weights {
		exp := min(numberOfTiers-1-i, maxTierSpread)
		weights[i] = math.Ldexp(1, exp)
		weightSum += weights[i]
	}

	assigned := 0
	for i, w := range weights {
		quotas[i] = int(math.Floor(float64(totalNodes) * w / weightSum))
		assigned += quotas[i]
	}

	for i := 0; assigned < totalNodes; i = (i + 1) % numberOfTiers {
		quotas[i]++
		assigned++
	}

	return quotas
}

// BudgetMeasureSets splits periodBudget over the selected nodes and the persona
// node, weighting each node by 1/(tier+1). Shares are whole cents split by
// largest remainder, so no share is negative and the total is exact.
func BudgetMeasureSets(selected []measures.MeasureSet, periodBudget float64) map[measures.MeasureSet]float64 {
	return budgetNodes(append([]measures.MeasureSet{measures.Persona()}, selected...), periodBudget)
}

func budgetNodes(selected []measures.MeasureSet, periodBudget float64) map[measures.MeasureSet]float64 {
	nodes := make([]measures.MeasureSet, 0, len(selected))
	seen := make(map[measures.MeasureSet]struct{}, len(selected))

	for _, ms := range selected {
		if _, ok := seen[ms]; ok {
			continue
		}
		seen[ms] = struct{}{}
		nodes = append(nodes, ms)
	}
	measures.Sort(nodes)

	budgets := make(map[measures.MeasureSet]float64, len(nodes))
	if periodBudget <= 0 || len(nodes) == 0 {
		return budgets
	}

	var weightSum float64
	for _, ms := range nodes {
		weightSum += tierWeight(ms)
	}

	totalCents := int64(math.Round(periodBudget * 100))
	if totalCents <= 0 {
		budgets[nodes[0]] = periodBudget

		return budgets
	}

	cents := make([]int64, len(nodes))
	remainders := make([]float64, len(nodes))

	var assigned int64
	for i, ms := range nodes {
		exact := float64(totalCents) * tierWeight(ms) / weightSum
		cents[i] = int64(math.Floor(exact))
		remainders[i] = exact - float64(cents[i])
		assigned += cents[i]
	}

	// Leftover cents go to the largest remainders, ties in node order.
	order := make([]int, len(nodes))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(remainders[b], remainders[a])
	})

	extra := min(max(totalCents-assigned, 0), int64(len(order)))
	for _, i := range order[:extra] {
		cents[i]++
	}

	largest := 0
	for i, ms := range nodes {
		budgets[ms] = float64(cents[i]) / 100
		if cents[i] > cents[largest] {
			largest = i
		}
	}

	// Sub-cent residue of the period budget stays on the largest share.
	budgets[nodes[largest]] += periodBudget - float64(totalCents)/100

	return budgets
}

func tierWeight(ms measures.MeasureSet) float64 {
	return 1 / float64(ms.Count()+1)
}
