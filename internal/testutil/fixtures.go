package testutil

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/dynalloc/pkg/measures"
	"github.com/ethpandaops/dynalloc/pkg/valuation"
)

// DefinitionOption is a functional option for customizing test definitions.
type DefinitionOption func(*valuation.CampaignDefinition)

// WithMaxPersonaValuation caps the persona valuation.
func WithMaxPersonaValuation(value string) DefinitionOption {
	return func(def *valuation.CampaignDefinition) {
		def.MaxPersonaValuation = decimal.NewNullDecimal(decimal.RequireFromString(value))
	}
}

// WithPinnedMeasures restricts valuations to nodes holding the pinned measures.
func WithPinnedMeasures(ids ...int64) DefinitionOption {
	return func(def *valuation.CampaignDefinition) {
		def.PinnedMeasures = ids
	}
}

// WithMeasureGroupings assigns measures to OR-groups.
func WithMeasureGroupings(groupings map[int64]string) DefinitionOption {
	return func(def *valuation.CampaignDefinition) {
		def.MeasureGroupings = groupings
	}
}

// NewTestDefinition builds a campaign definition from entries such as
// "{1,2}": "4.5" and validates it.
func NewTestDefinition(t *testing.T, valuations map[string]string, opts ...DefinitionOption) *valuation.CampaignDefinition {
	t.Helper()

	def := &valuation.CampaignDefinition{
		ExplicitValuations: make(map[measures.MeasureSet]decimal.Decimal, len(valuations)),
	}

	for key, value := range valuations {
		ms, err := measures.Parse(key)
		require.NoError(t, err)

		parsed, err := decimal.NewFromString(value)
		require.NoError(t, err)

		def.ExplicitValuations[ms] = parsed
	}

	for _, opt := range opts {
		opt(def)
	}

	require.NoError(t, def.Validate())

	return def
}

// MustMeasureSet parses a "{1,2,3}" literal or fails the test.
func MustMeasureSet(t *testing.T, s string) measures.MeasureSet {
	t.Helper()

	ms, err := measures.Parse(s)
	require.NoError(t, err)

	return ms
}
