package report

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/dynalloc/pkg/allocation"
	"github.com/ethpandaops/dynalloc/pkg/measures"
)

func testAllocation() *allocation.BudgetAllocation {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	alloc := allocation.NewBudgetAllocation("spring", 1000, start, start.Add(10*24*time.Hour))
	alloc.AllocationID = "alloc-1"
	alloc.PeriodStart = start
	alloc.PeriodBudget = 100
	alloc.PerNodeResults[measures.New(1, 2)] = &allocation.PerNodeBudgetAllocationResult{
		Valuation:           4,
		MaxBid:              3.5,
		ExportBudget:        60,
		PeriodImpressionCap: 17000,
		ExportCount:         1,
	}
	alloc.PerNodeResults[measures.New(1)] = &allocation.PerNodeBudgetAllocationResult{
		Valuation:    1,
		MaxBid:       0.5,
		ExportBudget: 40,
	}
	alloc.PerNodeResults[measures.New(2)] = &allocation.PerNodeBudgetAllocationResult{
		Valuation: 2,
	}

	return alloc
}

func TestRenderAllocation_Default(t *testing.T) {
	out, err := NewTemplateEngine().RenderAllocation(DefaultAllocationTemplate, testAllocation())
	require.NoError(t, err)

	assert.Contains(t, out, "campaign:        spring")
	assert.Contains(t, out, "phase:           initial")
	assert.Contains(t, out, "period start:    2024-01-01T00:00:00Z")
	assert.Contains(t, out, "period budget:   100.00")
	assert.Contains(t, out, "exported nodes:  2 (100.00 total, 1 filtered)")
	assert.Contains(t, out, "cap=17000 exports=1")

	// Lattice order puts singletons before pairs
	assert.Less(t, strings.Index(out, "{1} "), strings.Index(out, "{1,2}"))
}

func TestRenderAllocation_Custom(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantErr bool
	}{
		{
			name: "sprig functions",
			text: `{{ .allocation.campaign | upper }} {{ .exported | len }}`,
			want: "SPRING 2",
		},
		{
			name: "node list",
			text: `{{ range .exported }}{{ .measures }};{{ end }}`,
			want: "{1};{1,2};",
		},
		{
			name:    "parse error",
			text:    `{{ .allocation.campaign `,
			wantErr: true,
		},
		{
			name:    "execution error",
			text:    `{{ template "missing" }}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NewTemplateEngine().RenderAllocation(tt.text, testAllocation())
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestRenderValuations(t *testing.T) {
	valuations := map[measures.MeasureSet]decimal.Decimal{
		measures.New(1, 2): decimal.NewFromInt(4),
		measures.New(2):    decimal.RequireFromString("2.5"),
	}

	out, err := NewTemplateEngine().RenderValuations(DefaultValuationsTemplate, valuations)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "2 valued nodes"))
	assert.Contains(t, out, "2.5")
	assert.Less(t, strings.Index(out, "{2}"), strings.Index(out, "{1,2}"))
}
