package allocation

import (
	"math"
	"time"

	"github.com/ethpandaops/dynalloc/pkg/costmodel"
	"github.com/ethpandaops/dynalloc/pkg/measures"
)

// CalculatePeriodBudget paces the total budget evenly over the remaining
// campaign time. Less than one period left spends the whole budget.
func CalculatePeriodBudget(totalBudget float64, remainingTime, periodDuration time.Duration) float64 {
	if remainingTime <= 0 || periodDuration <= 0 {
		return 0
	}

	if remainingTime <= periodDuration {
		return totalBudget
	}

	return totalBudget * float64(periodDuration) / float64(remainingTime)
}

// HistoryMetrics is a node's expected delivery for a given budget.
type HistoryMetrics struct {
	MediaSpend                    float64
	Impressions                   float64
	EstimatedNonMediaCostPerMille float64
}

// Calculator derives bids, caps and delivery estimates for single nodes.
type Calculator struct {
	params *Parameters
	costs  costmodel.Model
}

// NewCalculator creates a calculator for the given parameters and cost model.
func NewCalculator(params *Parameters, costs costmodel.Model) *Calculator {
	return &Calculator{
		params: params,
		costs:  costs,
	}
}

// GetHistoryMetrics estimates what nodeBudget buys on the node. Nodes with real
// delivery are scaled from their own history; anything else falls back to the
// default CPM with the cost model's data cost.
func (c *Calculator) GetHistoryMetrics(ms measures.MeasureSet, alloc *BudgetAllocation, nodeBudget float64) HistoryMetrics {
	if m := alloc.Metrics(ms); m != nil && m.TotalEligibleHours() > 0 {
		lookback := c.params.LookbackHours
		media := m.CalcEffectiveMediaSpend(lookback)
		impressions := m.CalcEffectiveImpressions(lookback)

		if media > 0 && impressions > 0 {
			total := m.CalcEffectiveTotalSpend(c.costs, ms, lookback, c.params.Margin, c.params.PerMilleFees)
			nonMedia := math.Max(0, (total-media)*1000/impressions)

			scale := 0.0
			if total > 0 {
				scale = nodeBudget / total
			}

			return HistoryMetrics{
				MediaSpend:                    media * scale,
				Impressions:                   math.Round(impressions * scale),
				EstimatedNonMediaCostPerMille: nonMedia,
			}
		}
	}

	return c.modelEstimate(ms, nodeBudget)
}

func (c *Calculator) modelEstimate(ms measures.MeasureSet, nodeBudget float64) HistoryMetrics {
	cpm := c.params.DefaultEstimatedCostPerMille
	nonMedia := c.costs.DataCostPerMille(ms) + c.params.PerMilleFees

	media := nodeBudget / (1 + nonMedia/cpm)

	var impressions float64
	if mediaCPM := cpm - nonMedia; mediaCPM > 0 {
		impressions = math.Round(media * 1000 / mediaCPM)
	}

	return HistoryMetrics{
		MediaSpend:                    media,
		Impressions:                   impressions,
		EstimatedNonMediaCostPerMille: nonMedia,
	}
}

// ExpectedSpend is the total spend the node's recent delivery rate would
// produce over one period, or zero without history.
func (c *Calculator) ExpectedSpend(ms measures.MeasureSet, alloc *BudgetAllocation) float64 {
	m := alloc.Metrics(ms)
	if m == nil || m.TotalEligibleHours() <= 0 {
		return 0
	}

	lookback := c.params.LookbackHours
	media := m.CalcEffectiveMediaSpend(lookback)
	if media <= 0 {
		return 0
	}

	total := m.CalcEffectiveTotalSpend(c.costs, ms, lookback, c.params.Margin, c.params.PerMilleFees)

	// Media rate per hour, grossed up to total spend and stretched over the period.
	rate := m.CalcEffectiveMediaSpendRate(lookback)

	return rate * (total / media) * c.periodHours(alloc)
}

func (c *Calculator) periodHours(alloc *BudgetAllocation) float64 {
	if alloc.PeriodDuration > 0 {
		return alloc.PeriodDuration.Hours()
	}

	return c.params.PeriodHours()
}

// CalculateCaps prices the node for overallBudget. A node whose non-media cost
// meets or exceeds its valuation is filtered: it stays in the allocation with
// every budget and cap at zero.
func (c *Calculator) CalculateCaps(ms measures.MeasureSet, alloc *BudgetAllocation, overallBudget float64) {
	result, ok := alloc.PerNodeResults[ms]
	if !ok {
		return
	}

	history := c.GetHistoryMetrics(ms, alloc, overallBudget)

	result.PeriodTotalBudget = overallBudget
	result.MaxBid = math.Max(0, result.Valuation-history.EstimatedNonMediaCostPerMille)

	if result.MaxBid <= 0 || overallBudget <= 0 {
		result.PeriodTotalBudget = 0
		result.PeriodMediaBudget = 0
		result.PeriodImpressionCap = 0
		result.ExportBudget = 0
		result.ReturnOnAdSpend = 0

		if result.MaxBid <= 0 {
			result.NodeIsIneligible = true
		}

		return
	}

	result.PeriodMediaBudget = history.MediaSpend
	result.PeriodImpressionCap = int64(history.Impressions)
	result.ReturnOnAdSpend = result.Valuation * history.Impressions / 1000 / overallBudget
}

// IsCostly reports whether the node's non-media cost leaves nothing to bid.
func (c *Calculator) IsCostly(ms measures.MeasureSet, alloc *BudgetAllocation) bool {
	result, ok := alloc.PerNodeResults[ms]
	if !ok {
		return true
	}

	// Budget is irrelevant to the per-mille estimate; one unit keeps the scaling defined.
	history := c.GetHistoryMetrics(ms, alloc, 1)

	return result.Valuation <= history.EstimatedNonMediaCostPerMille
}
