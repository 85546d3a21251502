package allocation

import (
	"math"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dynalloc/pkg/measures"
)

// InitialAllocation spreads a cold-start budget over a greedy cover of the lattice.
type InitialAllocation struct {
	log    logrus.FieldLogger
	params *Parameters
	calc   *Calculator
}

// NewInitialAllocation creates the cold-start allocator.
func NewInitialAllocation(log logrus.FieldLogger, calc *Calculator) *InitialAllocation {
	return &InitialAllocation{
		log:    log.WithField("component", "initial_allocation"),
		params: calc.params,
		calc:   calc,
	}
}

// AllocateBudget selects nodes tier by tier, budgets them by depth and prices
// every node. ExportCount is left to the caller.
func (i *InitialAllocation) AllocateBudget(alloc *BudgetAllocation) *BudgetAllocation {
	alloc.resetPass()
	alloc.PeriodBudget = periodBudget(alloc, i.params)
	alloc.AnticipatedSpendForDay = 0
	alloc.InsightScore = 0
	alloc.Phase = PhaseInitial

	tiers := i.candidateTiers(alloc)
	selected := i.SelectNodes(tiers)

	budgeted := selected
	if persona := measures.Persona(); i.isCandidate(persona, alloc) {
		budgeted = append([]measures.MeasureSet{persona}, selected...)
	}
	budgets := budgetNodes(budgeted, alloc.PeriodBudget)

	for ms, result := range alloc.PerNodeResults {
		i.calc.CalculateCaps(ms, alloc, budgets[ms])
		result.ExportBudget = result.PeriodMediaBudget
		result.LineagePenalty = i.params.LineagePenaltyNeutral
	}

	i.log.WithFields(logrus.Fields{
		"campaign":      alloc.CampaignID,
		"period_budget": alloc.PeriodBudget,
		"tiers":         len(tiers),
		"selected":      len(selected),
	}).Debug("Initial allocation selected nodes")

	return alloc
}

func (i *InitialAllocation) isCandidate(ms measures.MeasureSet, alloc *BudgetAllocation) bool {
	if _, ok := alloc.PerNodeResults[ms]; !ok {
		return false
	}

	return !i.calc.IsCostly(ms, alloc)
}

// candidateTiers groups every affordable node up to the top tier by its tier.
// The persona node is budgeted separately and never competes in a tier.
func (i *InitialAllocation) candidateTiers(alloc *BudgetAllocation) map[int][]measures.MeasureSet {
	tiers := make(map[int][]measures.MeasureSet)

	for _, ms := range alloc.Nodes() {
		if ms.IsPersona() || ms.Count() > i.params.AllocationTopTier {
			continue
		}
		if !i.isCandidate(ms, alloc) {
			continue
		}
		tiers[ms.Count()] = append(tiers[ms.Count()], ms)
	}

	return tiers
}

// SelectNodes covers the deepest AllocationNumberOfTiersToAllocateTo tiers,
// deepest first, each with its share of AllocationNumberOfNodes.
func (i *InitialAllocation) SelectNodes(tiers map[int][]measures.MeasureSet) []measures.MeasureSet {
	available := make([]int, 0, len(tiers))
	for tier := range tiers {
		available = append(available, tier)
	}
	slices.Sort(available)

	k := min(i.params.AllocationNumberOfTiersToAllocateTo, len(available))
	if k == 0 {
		return []measures.MeasureSet{}
	}
	chosen := available[len(available)-k:]

	state := NewCoverState()
	for idx := k - 1; idx >= 0; idx-- {
		quota := NumberOfNodesToAllocateOnThisTier(idx, k, i.params.AllocationNumberOfNodes)
		GreedyMaxCover(tiers[chosen[idx]], quota, state)
	}

	return state.Selected
}

// periodBudget paces the remaining budget over the time left from the period start.
func periodBudget(alloc *BudgetAllocation, params *Parameters) float64 {
	period := alloc.PeriodDuration
	if period <= 0 {
		period = params.PeriodDuration
	}

	return CalculatePeriodBudget(math.Max(0, alloc.RemainingBudget), alloc.CampaignEnd.Sub(alloc.PeriodStart), period)
}
