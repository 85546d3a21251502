package tasks

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dynalloc/pkg/allocation"
	"github.com/ethpandaops/dynalloc/pkg/costmodel"
	"github.com/ethpandaops/dynalloc/pkg/delivery"
	"github.com/ethpandaops/dynalloc/pkg/store"
)

// Allocator runs one allocation pass for a stored campaign.
type Allocator struct {
	log      logrus.FieldLogger
	defaults map[string]any
	costs    costmodel.Model
}

// NewAllocator creates an allocator. defaults are the service-wide parameter
// values that each campaign's own parameters override.
func NewAllocator(log logrus.FieldLogger, defaults map[string]any, costs costmodel.Model) *Allocator {
	return &Allocator{
		log:      log.WithField("component", "allocator"),
		defaults: defaults,
		costs:    costs,
	}
}

// Engine builds the allocation engine for a campaign's parameters.
func (a *Allocator) Engine(campaign *store.Campaign) (*allocation.Engine, error) {
	params, err := allocation.NewParameters(a.defaults, campaign.Parameters)
	if err != nil {
		return nil, fmt.Errorf("campaign %s: %w", campaign.ID, err)
	}

	return allocation.NewEngine(a.log, params, a.costs)
}

// Allocate runs a pass for the campaign starting at periodStart. previous is
// the last stored allocation or nil; its export history carries over. Export
// counts of the returned allocation are up to date for both modes.
func (a *Allocator) Allocate(
	campaign *store.Campaign,
	previous *allocation.BudgetAllocation,
	history delivery.Collection,
	periodStart time.Time,
	forceInitial bool,
) (*allocation.BudgetAllocation, error) {
	engine, err := a.Engine(campaign)
	if err != nil {
		return nil, err
	}

	valuations, err := engine.GetValuations(campaign.Definition)
	if err != nil {
		return nil, fmt.Errorf("campaign %s: %w", campaign.ID, err)
	}

	alloc := previous
	if alloc == nil {
		alloc = allocation.NewBudgetAllocation(campaign.ID, campaign.TotalBudget, campaign.CampaignStart, campaign.CampaignEnd)
	}

	alloc.CampaignID = campaign.ID
	alloc.TotalBudget = campaign.TotalBudget
	alloc.RemainingBudget = campaign.RemainingBudget
	alloc.CampaignStart = campaign.CampaignStart
	alloc.CampaignEnd = campaign.CampaignEnd
	alloc.PeriodDuration = campaign.PeriodDuration
	alloc.PeriodStart = periodStart.UTC()
	alloc.NodeDeliveryMetricsCollection = history.Effective()
	alloc.ApplyValuations(valuations, campaign.Definition.IsExplicit)

	result, err := engine.GetBudgetAllocations(alloc, forceInitial)
	if err != nil {
		return nil, fmt.Errorf("campaign %s: %w", campaign.ID, err)
	}

	if result.Phase == allocation.PhaseInitial {
		allocation.IncrementExportCounts(result, result.ExportSet())
	}

	return result, nil
}
