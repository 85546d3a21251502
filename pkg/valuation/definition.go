// Package valuation resolves a campaign's explicit valuations into a value for every lattice node.
package valuation

import (
	"errors"
	"fmt"

	"github.com/ethpandaops/dynalloc/pkg/measures"
	"github.com/shopspring/decimal"
)

var (
	// ErrNoValuations is returned when a campaign defines no explicit valuations
	ErrNoValuations = errors.New("campaign has no explicit valuations")
	// ErrNegativeValuation is returned when an explicit valuation is negative
	ErrNegativeValuation = errors.New("valuation must not be negative")
	// ErrInvalidValuation is returned when a valuation value cannot be parsed
	ErrInvalidValuation = errors.New("invalid valuation value")
)

// CampaignDefinition holds the targeting inputs of a campaign.
type CampaignDefinition struct {
	// ExplicitValuations maps single measures and measure combinations to their value per mille
	ExplicitValuations map[measures.MeasureSet]decimal.Decimal `json:"explicitValuations"`
	// MaxPersonaValuation caps the persona node when set
	MaxPersonaValuation decimal.NullDecimal `json:"maxPersonaValuation"`
	// PinnedMeasures restricts valued nodes to those carrying a pinned measure of every pinned group
	PinnedMeasures []int64 `json:"pinnedMeasures,omitempty"`
	// MeasureGroupings tags measures with a group; measures without a tag form their own group
	MeasureGroupings map[int64]string `json:"measureGroupings,omitempty"`
}

// Validate checks the definition can be valued
func (d *CampaignDefinition) Validate() error {
	if len(d.ExplicitValuations) == 0 {
		return ErrNoValuations
	}

	for ms, v := range d.ExplicitValuations {
		if v.IsNegative() {
			return fmt.Errorf("%w: %s", ErrNegativeValuation, ms)
		}
	}

	if d.MaxPersonaValuation.Valid && d.MaxPersonaValuation.Decimal.IsNegative() {
		return fmt.Errorf("%w: max persona valuation", ErrNegativeValuation)
	}

	return nil
}

// IsExplicit reports whether the node has its own explicit valuation.
func (d *CampaignDefinition) IsExplicit(ms measures.MeasureSet) bool {
	_, ok := d.ExplicitValuations[ms]

	return ok
}

// Measures returns every measure mentioned by an explicit valuation.
func (d *CampaignDefinition) Measures() []int64 {
	sets := make([]measures.MeasureSet, 0, len(d.ExplicitValuations))
	for ms := range d.ExplicitValuations {
		sets = append(sets, ms)
	}

	return measures.Universe(sets)
}

// groupOf returns the grouping tag of a measure.
func (d *CampaignDefinition) groupOf(id int64) string {
	if tag, ok := d.MeasureGroupings[id]; ok && tag != "" {
		return "tag:" + tag
	}

	return fmt.Sprintf("measure:%d", id)
}

// ValuationEntry is the file form of one explicit valuation.
type ValuationEntry struct {
	Measures []int64 `yaml:"measures" json:"measures"`
	Value    string  `yaml:"value" json:"value"`
}

// DefinitionFile is the YAML form of a CampaignDefinition.
type DefinitionFile struct {
	Valuations          []ValuationEntry `yaml:"valuations" json:"valuations"`
	MaxPersonaValuation string           `yaml:"maxPersonaValuation" json:"maxPersonaValuation,omitempty"`
	PinnedMeasures      []int64          `yaml:"pinnedMeasures" json:"pinnedMeasures,omitempty"`
	MeasureGroupings    map[int64]string `yaml:"measureGroupings" json:"measureGroupings,omitempty"`
}

// Definition converts the file form, parsing every decimal value.
func (f *DefinitionFile) Definition() (*CampaignDefinition, error) {
	def := &CampaignDefinition{
		ExplicitValuations: make(map[measures.MeasureSet]decimal.Decimal, len(f.Valuations)),
		PinnedMeasures:     f.PinnedMeasures,
		MeasureGroupings:   f.MeasureGroupings,
	}

	for _, entry := range f.Valuations {
		v, err := decimal.NewFromString(entry.Value)
		if err != nil {
			return nil, fmt.Errorf("%w %q for %v: %w", ErrInvalidValuation, entry.Value, entry.Measures, err)
		}
		def.ExplicitValuations[measures.New(entry.Measures...)] = v
	}

	if f.MaxPersonaValuation != "" {
		v, err := decimal.NewFromString(f.MaxPersonaValuation)
		if err != nil {
			return nil, fmt.Errorf("%w %q for max persona valuation: %w", ErrInvalidValuation, f.MaxPersonaValuation, err)
		}
		def.MaxPersonaValuation = decimal.NewNullDecimal(v)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return def, nil
}
