// Package report renders allocation results for humans with text/template and Sprig functions.
package report

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/shopspring/decimal"

	"github.com/ethpandaops/dynalloc/pkg/allocation"
	"github.com/ethpandaops/dynalloc/pkg/measures"
)

// DefaultAllocationTemplate summarizes a pass and lists the exported nodes
const DefaultAllocationTemplate = `campaign:        {{ .allocation.campaign }}
allocation id:   {{ .allocation.id }}
phase:           {{ .allocation.phase }}
period start:    {{ dateInZone "2006-01-02T15:04:05Z07:00" .allocation.periodStart "UTC" }}
period budget:   {{ .allocation.periodBudget | printf "%.2f" }}
remaining:       {{ .allocation.remainingBudget | printf "%.2f" }}
insight score:   {{ .allocation.insightScore | printf "%.3f" }}
exported nodes:  {{ len .exported }} ({{ .allocation.exportedBudget | printf "%.2f" }} total, {{ .allocation.filtered }} filtered)
{{- range .exported }}
  {{ .measures | printf "%-24s" }} budget={{ .exportBudget | printf "%.2f" }} maxBid={{ .maxBid | printf "%.4f" }} cap={{ .impressionCap }} exports={{ .exportCount }}
{{- end }}
`

// DefaultValuationsTemplate lists node valuations in lattice order
const DefaultValuationsTemplate = `{{ len .valuations }} valued nodes
{{- range .valuations }}
  {{ .measures | printf "%-24s" }} {{ .value }}
{{- end }}
`

// TemplateEngine provides template rendering with Sprig functions
type TemplateEngine struct {
	funcMap template.FuncMap
}

// NewTemplateEngine creates a new template engine
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		funcMap: sprig.TxtFuncMap(),
	}
}

// RenderAllocation renders an allocation with the given template text
func (t *TemplateEngine) RenderAllocation(text string, alloc *allocation.BudgetAllocation) (string, error) {
	return t.render("allocation", text, buildAllocationVariables(alloc))
}

// RenderValuations renders a valuation map with the given template text
func (t *TemplateEngine) RenderValuations(text string, valuations map[measures.MeasureSet]decimal.Decimal) (string, error) {
	nodes := make([]measures.MeasureSet, 0, len(valuations))
	for ms := range valuations {
		nodes = append(nodes, ms)
	}
	measures.Sort(nodes)

	rows := make([]map[string]any, 0, len(nodes))
	for _, ms := range nodes {
		rows = append(rows, map[string]any{
			"measures": ms.String(),
			"value":    valuations[ms].String(),
		})
	}

	return t.render("valuations", text, map[string]any{"valuations": rows})
}

func (t *TemplateEngine) render(name, text string, variables map[string]any) (string, error) {
	tmpl, err := template.New(name).Funcs(t.funcMap).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, variables); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// buildAllocationVariables creates the template variables of an allocation
func buildAllocationVariables(alloc *allocation.BudgetAllocation) map[string]any {
	exportSet := alloc.ExportSet()

	exported := make([]map[string]any, 0, len(exportSet))
	for _, ms := range exportSet {
		result := alloc.PerNodeResults[ms]
		exported = append(exported, map[string]any{
			"measures":      ms.String(),
			"valuation":     result.Valuation,
			"maxBid":        result.MaxBid,
			"exportBudget":  result.ExportBudget,
			"impressionCap": result.PeriodImpressionCap,
			"exportCount":   result.ExportCount,
			"nodeScore":     result.NodeScore,
		})
	}

	return map[string]any{
		"allocation": map[string]any{
			"campaign":        alloc.CampaignID,
			"id":              alloc.AllocationID,
			"phase":           alloc.Phase.String(),
			"periodStart":     alloc.PeriodStart,
			"periodBudget":    alloc.PeriodBudget,
			"remainingBudget": alloc.RemainingBudget,
			"totalBudget":     alloc.TotalBudget,
			"insightScore":    alloc.InsightScore,
			"exportedBudget":  alloc.TotalExportBudget(),
			"filtered":        alloc.FilteredCount(),
			"nodes":           len(alloc.PerNodeResults),
		},
		"exported": exported,
	}
}
