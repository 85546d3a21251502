package allocation

import (
	"cmp"
	"math"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dynalloc/pkg/measures"
)

// Reallocation moves budget towards the best performing nodes once delivery
// history exists.
type Reallocation struct {
	log    logrus.FieldLogger
	params *Parameters
	calc   *Calculator
	scorer *Scorer
}

// NewReallocation creates the steady-state allocator.
func NewReallocation(log logrus.FieldLogger, calc *Calculator) *Reallocation {
	return &Reallocation{
		log:    log.WithField("component", "reallocation"),
		params: calc.params,
		calc:   calc,
		scorer: NewScorer(calc),
	}
}

// passState carries what every phase of one pass needs to see.
type passState struct {
	alloc      *BudgetAllocation
	lattice    *Lattice
	previous   map[measures.MeasureSet]struct{}
	ineligible map[measures.MeasureSet]struct{}
	budgets    map[measures.MeasureSet]float64
}

// AllocateBudget runs one reallocation pass and returns the updated
// allocation. ExportCount is incremented for the final export set only.
func (r *Reallocation) AllocateBudget(alloc *BudgetAllocation) (*BudgetAllocation, error) {
	previous := make(map[measures.MeasureSet]struct{})
	for _, ms := range alloc.ExportSet() {
		previous[ms] = struct{}{}
	}

	alloc.resetPass()
	alloc.PeriodBudget = periodBudget(alloc, r.params)

	lattice, err := NewLattice(alloc.Nodes())
	if err != nil {
		return nil, err
	}

	state := &passState{
		alloc:    alloc,
		lattice:  lattice,
		previous: previous,
	}
	state.ineligible = r.ineligibleNodes(state)

	r.scorer.CalculateLineageScores(alloc, lattice, state.ineligible)
	alloc.InsightScore = r.scorer.CalculateInsightScore(alloc)
	alloc.AnticipatedSpendForDay = r.anticipatedSpend(state)

	state.budgets = r.nodeBudgets(state)

	plan := NewExportPlan()

	if r.IsRisePhase(alloc) {
		alloc.Phase = PhaseRise
		r.RisePhaseAllocation(state, plan)
	} else {
		alloc.Phase = PhaseSteady
		r.AddTopNodeRankNodes(state, plan)
	}

	r.AddHighBudgetNodesToMakeSpend(state, plan, alloc.PeriodBudget*r.params.BudgetBuffer)
	r.PhaseThreePointFive(state, plan)
	r.PhaseFour(state, plan)

	for ms, result := range alloc.PerNodeResults {
		r.calc.CalculateCaps(ms, alloc, plan.Budget(ms))
		result.ExportBudget = result.PeriodMediaBudget

		if result.ExportBudget > 0 {
			result.ExportCount++
		}
	}

	r.log.WithFields(logrus.Fields{
		"campaign":      alloc.CampaignID,
		"phase":         alloc.Phase.String(),
		"exported":      plan.Len(),
		"planned":       plan.Total(),
		"period_budget": alloc.PeriodBudget,
		"insight_score": alloc.InsightScore,
		"ineligible":    len(state.ineligible),
	}).Debug("Reallocation planned export set")

	return alloc, nil
}

// ineligibleNodes marks nodes that are filtered by cost, or that were exported
// for long enough to deliver and never did.
func (r *Reallocation) ineligibleNodes(state *passState) map[measures.MeasureSet]struct{} {
	ineligible := make(map[measures.MeasureSet]struct{})

	for ms, result := range state.alloc.PerNodeResults {
		if r.isIneligible(ms, result, state) {
			ineligible[ms] = struct{}{}
			result.NodeIsIneligible = true
		}
	}

	return ineligible
}

func (r *Reallocation) isIneligible(ms measures.MeasureSet, result *PerNodeBudgetAllocationResult, state *passState) bool {
	if r.calc.IsCostly(ms, state.alloc) {
		return true
	}

	_, exported := state.previous[ms]
	if !exported && result.ExportCount == 0 {
		return false
	}

	m := state.alloc.Metrics(ms)
	if m == nil {
		return false
	}

	hours := m.TotalEligibleHours()
	if hours < int64(r.params.IneligibleAfterEligibleHours) {
		return false
	}

	return m.CalcEffectiveImpressions(int(hours)) <= 0
}

func (r *Reallocation) isEligible(ms measures.MeasureSet, state *passState) bool {
	if ms.Count() > r.params.AllocationTopTier {
		return false
	}

	_, ineligible := state.ineligible[ms]

	return !ineligible
}

// anticipatedSpend is the spend the previous export set is on course to deliver this period.
func (r *Reallocation) anticipatedSpend(state *passState) float64 {
	var total float64
	for ms := range state.previous {
		total += r.calc.ExpectedSpend(ms, state.alloc)
	}

	return total
}

// EstimatedExperimentalSpend is the average period spend of the previously
// exported nodes, floored at MinBudget. Without any exported delivery the
// period budget is split over InitialMaxNumberOfNodes.
func (r *Reallocation) EstimatedExperimentalSpend(alloc *BudgetAllocation, previous map[measures.MeasureSet]struct{}) float64 {
	var (
		total float64
		count int
	)

	for ms := range previous {
		if spend := r.calc.ExpectedSpend(ms, alloc); spend > 0 {
			total += spend
			count++
		}
	}

	estimate := alloc.PeriodBudget / float64(r.params.InitialMaxNumberOfNodes)
	if count > 0 {
		estimate = total / float64(count)
	}

	return math.Max(estimate, r.params.MinBudget)
}

// nodeBudgets is the budget each eligible node would be exported with: its
// expected spend when it has delivered, the experimental estimate otherwise.
func (r *Reallocation) nodeBudgets(state *passState) map[measures.MeasureSet]float64 {
	experimental := r.EstimatedExperimentalSpend(state.alloc, state.previous)
	budgets := make(map[measures.MeasureSet]float64, len(state.alloc.PerNodeResults))

	for ms := range state.alloc.PerNodeResults {
		if !r.isEligible(ms, state) {
			continue
		}

		budget := r.calc.ExpectedSpend(ms, state.alloc)
		if budget <= 0 {
			budget = experimental
		}
		budgets[ms] = math.Max(budget, r.params.MinBudget)
	}

	return budgets
}

// IsRisePhase keeps the campaign exploring until PhaseOneExitPercentage of its
// time has passed, unless spend already meets budget. After that it leaves the
// rise phase once spend meets budget and there is enough insight.
func (r *Reallocation) IsRisePhase(alloc *BudgetAllocation) bool {
	budgetMet := alloc.PeriodBudget > 0 && alloc.AnticipatedSpendForDay >= alloc.PeriodBudget

	if elapsedFraction(alloc) < r.params.PhaseOneExitPercentage {
		return !budgetMet
	}

	return !budgetMet || !r.scorer.HaveInsight(alloc)
}

func elapsedFraction(alloc *BudgetAllocation) float64 {
	window := alloc.CampaignEnd.Sub(alloc.CampaignStart)
	if window <= 0 {
		return 1
	}

	elapsed := alloc.PeriodStart.Sub(alloc.CampaignStart)

	return math.Min(1, math.Max(0, float64(elapsed)/float64(window)))
}

// RisePhaseAllocation keeps previously exported nodes that still have budget
// and fills up to InitialMaxNumberOfNodes with the best scoring unexported
// nodes, taking nodes without insight first.
func (r *Reallocation) RisePhaseAllocation(state *passState, plan *ExportPlan) {
	ranked := r.rankedEligible(state)
	limit := min(r.params.InitialMaxNumberOfNodes, r.params.MaxNodesToExport)

	for _, ms := range ranked {
		if plan.Len() >= limit {
			return
		}
		if _, ok := state.previous[ms]; ok {
			plan.Add(ms, state.budgets[ms])
		}
	}

	noInsight := make([]measures.MeasureSet, 0)
	withInsight := make([]measures.MeasureSet, 0)

	for _, ms := range ranked {
		if plan.Has(ms) {
			continue
		}

		result := state.alloc.PerNodeResults[ms]
		if result.ExportCount == 0 && !r.scorer.IsPenalized(result) {
			noInsight = append(noInsight, ms)
		} else {
			withInsight = append(withInsight, ms)
		}
	}

	target := state.alloc.PeriodBudget * r.params.BudgetBuffer
	for _, ms := range append(noInsight, withInsight...) {
		if plan.Len() >= limit || plan.Total() >= target {
			break
		}
		plan.Add(ms, state.budgets[ms])
	}

	r.log.WithField("planned", plan.Len()).Debug("Rise phase selected nodes")
}

// AddTopNodeRankNodes fills the plan in rank order until the buffered period
// budget or MaxNodesToExport is reached.
func (r *Reallocation) AddTopNodeRankNodes(state *passState, plan *ExportPlan) {
	target := state.alloc.PeriodBudget * r.params.BudgetBuffer

	for _, ms := range r.rankedEligible(state) {
		if plan.Len() >= r.params.MaxNodesToExport || plan.Total() >= target {
			break
		}
		plan.Add(ms, state.budgets[ms])
	}

	r.log.WithField("planned", plan.Len()).Debug("Steady phase selected top ranked nodes")
}

// AddHighBudgetNodesToMakeSpend adds the nodes with the largest budgets until
// the plan reaches target. A full plan swaps its smallest node for a larger one.
func (r *Reallocation) AddHighBudgetNodesToMakeSpend(state *passState, plan *ExportPlan, target float64) {
	if plan.Total() >= target {
		return
	}

	pool := make([]measures.MeasureSet, 0)
	for _, ms := range r.rankedEligible(state) {
		if !plan.Has(ms) {
			pool = append(pool, ms)
		}
	}
	sortByBudget(pool, state.budgets)

	for _, ms := range pool {
		if plan.Total() >= target {
			break
		}

		if plan.Len() < r.params.MaxNodesToExport {
			plan.Add(ms, state.budgets[ms])

			continue
		}

		smallest, ok := plan.Smallest()
		if !ok || state.budgets[ms] <= plan.Budget(smallest) {
			break
		}
		plan.Remove(smallest)
		plan.Add(ms, state.budgets[ms])
	}
}

// PhaseThreePointFive injects experimental nodes once the plan covers the
// period budget and trims the plan back to exactly the period budget.
func (r *Reallocation) PhaseThreePointFive(state *passState, plan *ExportPlan) {
	if state.alloc.PeriodBudget <= 0 || plan.Total() < state.alloc.PeriodBudget {
		return
	}

	r.AddExperimentationNodes(state, plan)
	plan.ScaleTo(state.alloc.PeriodBudget)
}

// AddExperimentationNodes adds up to ExperimentalNodeCount never exported
// nodes, broadest tier first and by rank within a tier.
func (r *Reallocation) AddExperimentationNodes(state *passState, plan *ExportPlan) {
	experimental := r.EstimatedExperimentalSpend(state.alloc, state.previous)
	added := 0

	pool := make([]measures.MeasureSet, 0, len(state.budgets))
	for ms := range state.budgets {
		pool = append(pool, ms)
	}
	r.scorer.SortByTierThenRank(pool, state.alloc)

	for _, ms := range pool {
		if added >= r.params.ExperimentalNodeCount || plan.Len() >= r.params.MaxNodesToExport {
			break
		}

		result := state.alloc.PerNodeResults[ms]
		if plan.Has(ms) || result.ExportCount > 0 || r.scorer.IsPenalized(result) {
			continue
		}

		if plan.Add(ms, experimental) {
			added++
		}
	}

	if added > 0 {
		r.log.WithField("added", added).Debug("Added experimental nodes")
	}
}

// PhaseFour rarifies an under-subscribed plan: the shortfall is split evenly
// over newly added nodes up to MaxNodesToExport, or spread over the existing
// nodes when nothing can be added. The planned total never decreases.
func (r *Reallocation) PhaseFour(state *passState, plan *ExportPlan) {
	shortfall := state.alloc.PeriodBudget - plan.Total()
	if state.alloc.PeriodBudget <= 0 || shortfall <= 0 {
		return
	}

	candidates := make([]measures.MeasureSet, 0)
	for _, ms := range r.rankedEligible(state) {
		if !plan.Has(ms) {
			candidates = append(candidates, ms)
		}
	}

	n := min(r.params.MaxNodesToExport-plan.Len(), len(candidates))
	if r.params.MinBudget > 0 {
		n = min(n, int(math.Floor(shortfall/r.params.MinBudget)))
	}

	if n > 0 {
		share := shortfall / float64(n)
		for _, ms := range candidates[:n] {
			plan.Add(ms, share)
		}

		r.log.WithField("added", n).Debug("Rarified export set")

		return
	}

	if plan.Total() > 0 {
		plan.ScaleTo(state.alloc.PeriodBudget)
	}
}

// rankedEligible returns the eligible nodes in rank order.
func (r *Reallocation) rankedEligible(state *passState) []measures.MeasureSet {
	nodes := make([]measures.MeasureSet, 0, len(state.budgets))
	for ms := range state.budgets {
		nodes = append(nodes, ms)
	}
	r.scorer.SortByRank(nodes, state.alloc)

	return nodes
}

// sortByBudget orders nodes by budget descending; equal budgets keep their rank order.
func sortByBudget(nodes []measures.MeasureSet, budgets map[measures.MeasureSet]float64) {
	slices.SortStableFunc(nodes, func(a, b measures.MeasureSet) int {
		return cmp.Compare(budgets[b], budgets[a])
	})
}
