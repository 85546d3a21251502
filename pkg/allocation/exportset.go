package allocation

import (
	"github.com/ethpandaops/dynalloc/pkg/measures"
)

// ExportPlan accumulates the export set of a reallocation pass. The phases
// of a pass receive the plan, add, swap or rescale entries, and hand it on.
type ExportPlan struct {
	budgets map[measures.MeasureSet]float64
	order   []measures.MeasureSet
	total   float64
}

// NewExportPlan creates an empty plan.
func NewExportPlan() *ExportPlan {
	return &ExportPlan{
		budgets: make(map[measures.MeasureSet]float64),
		order:   make([]measures.MeasureSet, 0),
	}
}

// Add puts ms into the plan with the given budget. Existing entries are left alone.
func (p *ExportPlan) Add(ms measures.MeasureSet, budget float64) bool {
	if _, ok := p.budgets[ms]; ok || budget <= 0 {
		return false
	}

	p.budgets[ms] = budget
	p.order = append(p.order, ms)
	p.total += budget

	return true
}

// Remove drops ms from the plan.
func (p *ExportPlan) Remove(ms measures.MeasureSet) {
	budget, ok := p.budgets[ms]
	if !ok {
		return
	}

	delete(p.budgets, ms)
	p.total -= budget

	for i, node := range p.order {
		if node == ms {
			p.order = append(p.order[:i], p.order[i+1:]...)

			break
		}
	}
}

// Has reports whether ms is planned for export.
func (p *ExportPlan) Has(ms measures.MeasureSet) bool {
	_, ok := p.budgets[ms]

	return ok
}

// Budget returns the planned budget of ms.
func (p *ExportPlan) Budget(ms measures.MeasureSet) float64 {
	return p.budgets[ms]
}

// Len returns the number of planned nodes.
func (p *ExportPlan) Len() int {
	return len(p.order)
}

// Total returns the sum of planned budgets.
func (p *ExportPlan) Total() float64 {
	return p.total
}

// Nodes returns the planned nodes in the order they were added.
func (p *ExportPlan) Nodes() []measures.MeasureSet {
	return append([]measures.MeasureSet(nil), p.order...)
}

// Smallest returns the planned node with the lowest budget.
func (p *ExportPlan) Smallest() (measures.MeasureSet, bool) {
	var (
		smallest measures.MeasureSet
		found    bool
	)

	for _, ms := range p.order {
		if !found || p.budgets[ms] < p.budgets[smallest] {
			smallest = ms
			found = true
		}
	}

	return smallest, found
}

// ScaleTo rescales every planned budget proportionally so they sum to target.
func (p *ExportPlan) ScaleTo(target float64) {
	if p.total <= 0 || target < 0 {
		return
	}

	factor := target / p.total

	var total float64
	for i, ms := range p.order {
		if i == len(p.order)-1 {
			p.budgets[ms] = target - total

			break
		}

		p.budgets[ms] *= factor
		total += p.budgets[ms]
	}

	p.total = target
}
