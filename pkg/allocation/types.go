// Package allocation splits a campaign's period budget across the lattice of measure-set nodes.
package allocation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ethpandaops/dynalloc/pkg/delivery"
	"github.com/ethpandaops/dynalloc/pkg/measures"
)

// Phase is the stage of a campaign's allocation lifecycle
type Phase int

const (
	// PhaseInitial is a cold start without usable delivery history
	PhaseInitial Phase = iota
	// PhaseRise explores the lattice while insight is gathered
	PhaseRise
	// PhaseSteady exploits the best ranked nodes
	PhaseSteady
)

// String returns the phase name used in logs and metric labels
func (p Phase) String() string {
	switch p {
	case PhaseInitial:
		return "initial"
	case PhaseRise:
		return "rise"
	case PhaseSteady:
		return "steady"
	default:
		return "unknown"
	}
}

// PerNodeBudgetAllocationResult holds everything computed for one node in a pass.
type PerNodeBudgetAllocationResult struct {
	Valuation           float64 `json:"valuation"`
	MaxBid              float64 `json:"maxBid"`
	PeriodTotalBudget   float64 `json:"periodTotalBudget"`
	PeriodMediaBudget   float64 `json:"periodMediaBudget"`
	PeriodImpressionCap int64   `json:"periodImpressionCap"`
	ExportBudget        float64 `json:"exportBudget"`

	// ExportCount is owned by the caller and survives across passes
	ExportCount int `json:"exportCount"`

	NodeScore        float64 `json:"nodeScore"`
	LineagePenalty   float64 `json:"lineagePenalty"`
	NodeIsIneligible bool    `json:"nodeIsIneligible"`
	ReturnOnAdSpend  float64 `json:"returnOnAdSpend"`

	// IsExplicit marks nodes with their own campaign-defined valuation
	IsExplicit bool `json:"isExplicit"`
}

// IsFiltered reports whether the node's non-media cost swallowed its whole valuation.
func (r *PerNodeBudgetAllocationResult) IsFiltered() bool {
	return r.MaxBid <= 0
}

// BudgetAllocation is the working plan of one campaign for one period. A single
// allocation is mutated in place by a pass and must not be shared between writers.
type BudgetAllocation struct {
	AllocationID   string                                                 `json:"allocationId"`
	CampaignID     string                                                 `json:"campaignId"`
	PerNodeResults map[measures.MeasureSet]*PerNodeBudgetAllocationResult `json:"perNodeResults"`

	// NodeDeliveryMetricsCollection is supplied by the caller; a missing node has no history
	NodeDeliveryMetricsCollection map[measures.MeasureSet]delivery.EffectiveNodeMetrics `json:"-"`

	TotalBudget            float64       `json:"totalBudget"`
	RemainingBudget        float64       `json:"remainingBudget"`
	PeriodBudget           float64       `json:"periodBudget"`
	AnticipatedSpendForDay float64       `json:"anticipatedSpendForDay"`
	CampaignStart          time.Time     `json:"campaignStart"`
	CampaignEnd            time.Time     `json:"campaignEnd"`
	PeriodStart            time.Time     `json:"periodStart"`
	PeriodDuration         time.Duration `json:"periodDuration"`

	InsightScore float64 `json:"insightScore"`
	Phase        Phase   `json:"phase"`
}

// NewBudgetAllocation creates an empty allocation for a campaign window.
func NewBudgetAllocation(campaignID string, totalBudget float64, start, end time.Time) *BudgetAllocation {
	return &BudgetAllocation{
		CampaignID:                    campaignID,
		PerNodeResults:                make(map[measures.MeasureSet]*PerNodeBudgetAllocationResult),
		NodeDeliveryMetricsCollection: make(map[measures.MeasureSet]delivery.EffectiveNodeMetrics),
		TotalBudget:                   totalBudget,
		RemainingBudget:               totalBudget,
		CampaignStart:                 start,
		CampaignEnd:                   end,
	}
}

// ApplyValuations seeds or refreshes node valuations. Nodes that are no longer
// valued are dropped; caller-owned fields of surviving nodes are preserved.
func (a *BudgetAllocation) ApplyValuations(valuations map[measures.MeasureSet]decimal.Decimal, explicit func(measures.MeasureSet) bool) {
	if a.PerNodeResults == nil {
		a.PerNodeResults = make(map[measures.MeasureSet]*PerNodeBudgetAllocationResult, len(valuations))
	}

	for ms := range a.PerNodeResults {
		if _, ok := valuations[ms]; !ok {
			delete(a.PerNodeResults, ms)
		}
	}

	for ms, value := range valuations {
		result, ok := a.PerNodeResults[ms]
		if !ok {
			result = &PerNodeBudgetAllocationResult{}
			a.PerNodeResults[ms] = result
		}

		result.Valuation = value.InexactFloat64()
		result.IsExplicit = explicit != nil && explicit(ms)
	}
}

// Nodes returns the allocation's nodes in lattice order.
func (a *BudgetAllocation) Nodes() []measures.MeasureSet {
	nodes := make([]measures.MeasureSet, 0, len(a.PerNodeResults))
	for ms := range a.PerNodeResults {
		nodes = append(nodes, ms)
	}
	measures.Sort(nodes)

	return nodes
}

// ExportSet returns the nodes with a positive export budget in lattice order.
func (a *BudgetAllocation) ExportSet() []measures.MeasureSet {
	nodes := make([]measures.MeasureSet, 0)
	for ms, result := range a.PerNodeResults {
		if result.ExportBudget > 0 {
			nodes = append(nodes, ms)
		}
	}
	measures.Sort(nodes)

	return nodes
}

// TotalExportBudget sums the export budget of every node.
func (a *BudgetAllocation) TotalExportBudget() float64 {
	var total float64
	for _, result := range a.PerNodeResults {
		total += result.ExportBudget
	}

	return total
}

// FilteredCount returns the number of nodes whose non-media cost exceeds their valuation.
func (a *BudgetAllocation) FilteredCount() int {
	var count int
	for _, result := range a.PerNodeResults {
		if result.IsFiltered() {
			count++
		}
	}

	return count
}

// Metrics returns a node's delivery metrics, or nil when the node has no history.
func (a *BudgetAllocation) Metrics(ms measures.MeasureSet) delivery.EffectiveNodeMetrics {
	if a.NodeDeliveryMetricsCollection == nil {
		return nil
	}

	m, ok := a.NodeDeliveryMetricsCollection[ms]
	if !ok {
		return nil
	}

	return m
}

// hasHistory reports whether the node has any eligible hour on record.
func (a *BudgetAllocation) hasHistory(ms measures.MeasureSet) bool {
	m := a.Metrics(ms)

	return m != nil && m.TotalEligibleHours() > 0
}

// resetPass clears the per-pass fields of every node before a new pass.
func (a *BudgetAllocation) resetPass() {
	for _, result := range a.PerNodeResults {
		result.MaxBid = 0
		result.PeriodTotalBudget = 0
		result.PeriodMediaBudget = 0
		result.PeriodImpressionCap = 0
		result.ExportBudget = 0
		result.NodeScore = 0
		result.LineagePenalty = 0
		result.NodeIsIneligible = false
		result.ReturnOnAdSpend = 0
	}
}
