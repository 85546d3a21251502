package valuation

import (
	"testing"

	"github.com/ethpandaops/dynalloc/pkg/measures"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s", want, got)
}

func baseDefinition() *CampaignDefinition {
	return &CampaignDefinition{
		ExplicitValuations: map[measures.MeasureSet]decimal.Decimal{
			measures.New(1):    d("1.0"),
			measures.New(2):    d("2.0"),
			measures.New(3):    d("0.5"),
			measures.New(1, 2): d("4.0"),
		},
	}
}

func TestGetValuations(t *testing.T) {
	vals, err := GetValuations(baseDefinition(), 0)
	require.NoError(t, err)
	require.Len(t, vals, 8)

	tests := []struct {
		node measures.MeasureSet
		want string
	}{
		{node: measures.New(1), want: "1.0"},
		{node: measures.New(2), want: "2.0"},
		{node: measures.New(3), want: "0.5"},
		{node: measures.New(1, 2), want: "4.0"},
		{node: measures.New(1, 3), want: "1.5"},
		{node: measures.New(2, 3), want: "2.5"},
		// base 3.5, override {1,2} replaces 3.0 of it with 4.0
		{node: measures.New(1, 2, 3), want: "4.5"},
		{node: measures.Persona(), want: "3.5"},
	}

	for _, tt := range tests {
		t.Run(tt.node.String(), func(t *testing.T) {
			assertDecimal(t, tt.want, vals[tt.node])
		})
	}
}

func TestGetValuations_ClosestOverride(t *testing.T) {
	def := baseDefinition()
	def.ExplicitValuations[measures.New(4)] = d("1")
	def.ExplicitValuations[measures.New(2, 3)] = d("1")
	def.ExplicitValuations[measures.New(1, 2, 3)] = d("10")

	vals, err := GetValuations(def, 0)
	require.NoError(t, err)

	assertDecimal(t, "5", vals[measures.New(1, 2, 4)])
	// the three-measure override beats both pairs
	assertDecimal(t, "11", vals[measures.New(1, 2, 3, 4)])
	assertDecimal(t, "10", vals[measures.New(1, 2, 3)])
	assertDecimal(t, "2", vals[measures.New(2, 3, 4)])

	// equal-sized overrides: the higher value wins
	def = baseDefinition()
	def.ExplicitValuations[measures.New(2, 3)] = d("1")

	vals, err = GetValuations(def, 0)
	require.NoError(t, err)
	assertDecimal(t, "4.5", vals[measures.New(1, 2, 3)])
}

func TestGetValuations_MaxTier(t *testing.T) {
	vals, err := GetValuations(baseDefinition(), 2)
	require.NoError(t, err)

	assert.Len(t, vals, 7)
	assert.NotContains(t, vals, measures.New(1, 2, 3))
}

func TestGetValuations_Persona(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CampaignDefinition)
		want   string
	}{
		{
			name:   "sum of singleton groups",
			mutate: func(_ *CampaignDefinition) {},
			want:   "3.5",
		},
		{
			name:   "capped",
			mutate: func(def *CampaignDefinition) { def.MaxPersonaValuation = decimal.NewNullDecimal(d("2.5")) },
			want:   "2.5",
		},
		{
			name:   "zero cap",
			mutate: func(def *CampaignDefinition) { def.MaxPersonaValuation = decimal.NewNullDecimal(decimal.Zero) },
			want:   "0",
		},
		{
			name:   "cap above the sum",
			mutate: func(def *CampaignDefinition) { def.MaxPersonaValuation = decimal.NewNullDecimal(d("10")) },
			want:   "3.5",
		},
		{
			name: "best measure per group",
			mutate: func(def *CampaignDefinition) {
				def.MeasureGroupings = map[int64]string{1: "age", 2: "age", 3: "geo"}
			},
			want: "2.5",
		},
		{
			name:   "explicit persona wins",
			mutate: func(def *CampaignDefinition) { def.ExplicitValuations[measures.Persona()] = d("0.2") },
			want:   "0.2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := baseDefinition()
			tt.mutate(def)

			vals, err := GetValuations(def, 0)
			require.NoError(t, err)
			assertDecimal(t, tt.want, vals[measures.Persona()])
		})
	}
}

func TestGetValuations_Pinned(t *testing.T) {
	tests := []struct {
		name      string
		groupings map[int64]string
		want      []measures.MeasureSet
	}{
		{
			name: "every ungrouped pin is required",
			want: []measures.MeasureSet{measures.New(1, 3), measures.New(1, 2, 3)},
		},
		{
			name:      "grouped pins are alternatives",
			groupings: map[int64]string{1: "a", 3: "a"},
			want: []measures.MeasureSet{
				measures.New(1), measures.New(3), measures.New(1, 2), measures.New(1, 3),
				measures.New(2, 3), measures.New(1, 2, 3),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := baseDefinition()
			def.PinnedMeasures = []int64{1, 3}
			def.MeasureGroupings = tt.groupings

			vals, err := GetValuations(def, 0)
			require.NoError(t, err)

			got := make([]measures.MeasureSet, 0, len(vals))
			for ms := range vals {
				got = append(got, ms)
			}
			measures.Sort(got)

			assert.Equal(t, tt.want, got)
			assert.NotContains(t, vals, measures.Persona())
		})
	}
}

func TestCampaignDefinition_Validate(t *testing.T) {
	assert.ErrorIs(t, (&CampaignDefinition{}).Validate(), ErrNoValuations)

	def := baseDefinition()
	def.ExplicitValuations[measures.New(9)] = d("-1")
	assert.ErrorIs(t, def.Validate(), ErrNegativeValuation)

	def = baseDefinition()
	def.MaxPersonaValuation = decimal.NewNullDecimal(d("-0.1"))
	assert.ErrorIs(t, def.Validate(), ErrNegativeValuation)

	_, err := GetValuations(&CampaignDefinition{}, 0)
	assert.ErrorIs(t, err, ErrNoValuations)
}

func TestCampaignDefinition_IsExplicit(t *testing.T) {
	def := baseDefinition()

	assert.True(t, def.IsExplicit(measures.New(2, 1)))
	assert.False(t, def.IsExplicit(measures.New(1, 3)))
	assert.Equal(t, []int64{1, 2, 3}, def.Measures())
}

func TestDefinitionFile(t *testing.T) {
	raw := `
valuations:
  - measures: [1]
    value: "1.25"
  - measures: [2, 1]
    value: "3"
maxPersonaValuation: "0.75"
pinnedMeasures: [1]
measureGroupings:
  1: age
`

	var file DefinitionFile
	require.NoError(t, yaml.Unmarshal([]byte(raw), &file))

	def, err := file.Definition()
	require.NoError(t, err)

	assertDecimal(t, "1.25", def.ExplicitValuations[measures.New(1)])
	assertDecimal(t, "3", def.ExplicitValuations[measures.New(1, 2)])
	require.True(t, def.MaxPersonaValuation.Valid)
	assertDecimal(t, "0.75", def.MaxPersonaValuation.Decimal)
	assert.Equal(t, []int64{1}, def.PinnedMeasures)
	assert.Equal(t, "age", def.MeasureGroupings[1])

	file.Valuations[0].Value = "abc"
	_, err = file.Definition()
	assert.ErrorIs(t, err, ErrInvalidValuation)
}
