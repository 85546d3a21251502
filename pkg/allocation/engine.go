package allocation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dynalloc/pkg/costmodel"
	"github.com/ethpandaops/dynalloc/pkg/measures"
	"github.com/ethpandaops/dynalloc/pkg/observability"
	"github.com/ethpandaops/dynalloc/pkg/valuation"
)

const (
	modeInitial      = "initial"
	modeReallocation = "reallocation"
)

// Engine chooses between a cold start and a reallocation for each pass. An
// engine holds no per-campaign state and may serve many campaigns at once;
// each allocation it is handed must only be used by one pass at a time.
type Engine struct {
	log          logrus.FieldLogger
	params       *Parameters
	calc         *Calculator
	initial      *InitialAllocation
	reallocation *Reallocation
}

// NewEngine creates an allocation engine.
func NewEngine(log logrus.FieldLogger, params *Parameters, costs costmodel.Model) (*Engine, error) {
	if params == nil {
		return nil, ErrNilParameters
	}

	if costs == nil {
		return nil, ErrNilCostModel
	}

	calc := NewCalculator(params, costs)
	log = log.WithField("service", "allocation")

	return &Engine{
		log:          log,
		params:       params,
		calc:         calc,
		initial:      NewInitialAllocation(log, calc),
		reallocation: NewReallocation(log, calc),
	}, nil
}

// Parameters returns the engine's parameters.
func (e *Engine) Parameters() *Parameters {
	return e.params
}

// GetValuations resolves a campaign definition into node valuations up to the top tier.
func (e *Engine) GetValuations(def *valuation.CampaignDefinition) (map[measures.MeasureSet]decimal.Decimal, error) {
	return valuation.GetValuations(def, e.params.AllocationTopTier)
}

// HasUsableHistory reports whether any node of the allocation has delivered.
func HasUsableHistory(alloc *BudgetAllocation) bool {
	for ms := range alloc.PerNodeResults {
		if alloc.hasHistory(ms) {
			return true
		}
	}

	return false
}

// GetBudgetAllocations runs one pass over the allocation: a cold start when
// forced or when no node has history, a reallocation otherwise.
func (e *Engine) GetBudgetAllocations(alloc *BudgetAllocation, forceInitial bool) (*BudgetAllocation, error) {
	if alloc == nil {
		return nil, ErrNilAllocation
	}

	if len(alloc.PerNodeResults) == 0 {
		return nil, ErrNoNodes
	}

	if !alloc.CampaignEnd.After(alloc.CampaignStart) {
		return nil, ErrInvalidCampaignWindow
	}

	if alloc.PeriodDuration <= 0 {
		alloc.PeriodDuration = e.params.PeriodDuration
	}

	alloc.AllocationID = uuid.New().String()

	mode := modeReallocation
	if forceInitial || !HasUsableHistory(alloc) {
		mode = modeInitial
	}

	start := time.Now()

	var err error
	if mode == modeInitial {
		alloc = e.initial.AllocateBudget(alloc)
	} else {
		alloc, err = e.reallocation.AllocateBudget(alloc)
	}

	if err != nil {
		observability.RecordAllocationPass(mode, "failed", time.Since(start).Seconds())
		observability.RecordError("allocation", mode)

		return nil, err
	}

	observability.RecordAllocationPass(mode, "success", time.Since(start).Seconds())

	exported := alloc.ExportSet()
	observability.RecordAllocationSummary(observability.AllocationSummary{
		CampaignID:     alloc.CampaignID,
		Phase:          int(alloc.Phase),
		ExportedNodes:  len(exported),
		ExportedBudget: alloc.TotalExportBudget(),
		PeriodBudget:   alloc.PeriodBudget,
		InsightScore:   alloc.InsightScore,
		FilteredNodes:  alloc.FilteredCount(),
	})

	e.log.WithFields(logrus.Fields{
		"campaign":        alloc.CampaignID,
		"allocation_id":   alloc.AllocationID,
		"mode":            mode,
		"phase":           alloc.Phase.String(),
		"exported_nodes":  len(exported),
		"exported_budget": alloc.TotalExportBudget(),
		"insight_score":   alloc.InsightScore,
	}).Info("Allocation pass completed")

	return alloc, nil
}

// IncrementExportCounts bumps ExportCount of every node in exportSet and
// leaves all other nodes untouched.
func IncrementExportCounts(alloc *BudgetAllocation, exportSet []measures.MeasureSet) {
	for _, ms := range exportSet {
		if result, ok := alloc.PerNodeResults[ms]; ok {
			result.ExportCount++
		}
	}
}
