// Package costmodel prices the non-media part of serving a lattice node.
package costmodel

import (
	"errors"

	"github.com/ethpandaops/dynalloc/pkg/measures"
)

var (
	// ErrNegativeCost is returned when a configured data cost is negative
	ErrNegativeCost = errors.New("data cost per mille must not be negative")
)

// Model is the cost model the allocation engine consumes.
type Model interface {
	// DataCostPerMille returns the data cost charged per thousand impressions for the node.
	DataCostPerMille(ms measures.MeasureSet) float64

	// CalculateTotalSpend returns the total spend (media, data, margin and fees) for delivering
	// impressions at the given media spend.
	CalculateTotalSpend(ms measures.MeasureSet, impressions, mediaSpend, margin, perMilleFees float64) float64
}

// Config describes a per-measure cost model.
type Config struct {
	// DefaultCostPerMille applies to measures without an explicit entry
	DefaultCostPerMille float64 `yaml:"defaultCostPerMille" json:"defaultCostPerMille"`
	// Measures maps measure IDs to their data cost per mille
	Measures map[int64]float64 `yaml:"measures" json:"measures"`
}

// Validate checks that no cost is negative
func (c *Config) Validate() error {
	if c.DefaultCostPerMille < 0 {
		return ErrNegativeCost
	}

	for _, cost := range c.Measures {
		if cost < 0 {
			return ErrNegativeCost
		}
	}

	return nil
}

// PerMeasure charges the sum of each measure's data cost. The persona node carries no data cost.
type PerMeasure struct {
	defaultCost float64
	costs       map[int64]float64
}

// NewPerMeasure creates a cost model from its configuration
func NewPerMeasure(cfg *Config) (*PerMeasure, error) {
	if cfg == nil {
		return &PerMeasure{costs: map[int64]float64{}}, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	costs := make(map[int64]float64, len(cfg.Measures))
	for id, cost := range cfg.Measures {
		costs[id] = cost
	}

	return &PerMeasure{
		defaultCost: cfg.DefaultCostPerMille,
		costs:       costs,
	}, nil
}

// DataCostPerMille sums the per-measure data costs of the node.
func (p *PerMeasure) DataCostPerMille(ms measures.MeasureSet) float64 {
	var total float64
	for _, id := range ms.Measures() {
		cost, ok := p.costs[id]
		if !ok {
			cost = p.defaultCost
		}
		total += cost
	}

	return total
}

// CalculateTotalSpend grosses media and data cost up by the margin and adds per-mille fees.
// A non-positive margin is treated as no margin.
func (p *PerMeasure) CalculateTotalSpend(ms measures.MeasureSet, impressions, mediaSpend, margin, perMilleFees float64) float64 {
	if margin <= 0 {
		margin = 1
	}

	dataCost := p.DataCostPerMille(ms) * impressions / 1000

	return (mediaSpend+dataCost)/margin + perMilleFees*impressions/1000
}

var _ Model = (*PerMeasure)(nil)
