package valuation

import (
	"slices"

	"github.com/ethpandaops/dynalloc/pkg/measures"
	"github.com/shopspring/decimal"
)

type override struct {
	ms    measures.MeasureSet
	value decimal.Decimal
}

// resolver splits explicit valuations into single-measure base values and
// multi-measure overrides.
type resolver struct {
	def       *CampaignDefinition
	base      map[int64]decimal.Decimal
	overrides []override
}

func newResolver(def *CampaignDefinition) *resolver {
	r := &resolver{
		def:  def,
		base: make(map[int64]decimal.Decimal),
	}

	for ms, v := range def.ExplicitValuations {
		switch ms.Count() {
		case 0:
			// persona override, handled by persona()
		case 1:
			r.base[ms.Measures()[0]] = v
		default:
			r.overrides = append(r.overrides, override{ms: ms, value: v})
		}
	}

	// Closest match first: most measures, then highest value, then lattice order.
	slices.SortFunc(r.overrides, func(a, b override) int {
		if a.ms.Count() != b.ms.Count() {
			return b.ms.Count() - a.ms.Count()
		}
		if c := b.value.Cmp(a.value); c != 0 {
			return c
		}

		return a.ms.Compare(b.ms)
	})

	return r
}

func (r *resolver) sumBase(ms measures.MeasureSet) decimal.Decimal {
	sum := decimal.Zero
	for _, id := range ms.Measures() {
		sum = sum.Add(r.base[id])
	}

	return sum
}

// value replaces the base values of the closest override's measures with the
// override's own value. Without a matching override the node is worth the sum
// of its measures.
func (r *resolver) value(ms measures.MeasureSet) decimal.Decimal {
	sum := r.sumBase(ms)

	for _, o := range r.overrides {
		if o.ms.IsSubsetOf(ms) {
			return sum.Sub(r.sumBase(o.ms)).Add(o.value)
		}
	}

	return sum
}

// persona sums the best measure of each group, capped by MaxPersonaValuation.
func (r *resolver) persona() decimal.Decimal {
	if v, ok := r.def.ExplicitValuations[measures.Persona()]; ok {
		return v
	}

	best := make(map[string]decimal.Decimal)
	for id, v := range r.base {
		group := r.def.groupOf(id)
		if current, ok := best[group]; !ok || v.GreaterThan(current) {
			best[group] = v
		}
	}

	total := decimal.Zero
	for _, v := range best {
		total = total.Add(v)
	}

	if limit := r.def.MaxPersonaValuation; limit.Valid && total.GreaterThan(limit.Decimal) {
		return limit.Decimal
	}

	return total
}

// GetValuations returns a valuation for every node of the lattice spanned by
// the campaign's measures, up to maxTier measures per node (zero for no limit).
// Pinned measures, when present, filter the result.
func GetValuations(def *CampaignDefinition, maxTier int) (map[measures.MeasureSet]decimal.Decimal, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	r := newResolver(def)
	nodes := measures.PowerSetMaxTier(def.Measures(), maxTier)

	valuations := make(map[measures.MeasureSet]decimal.Decimal, len(nodes))
	for _, ms := range nodes {
		if ms.IsPersona() {
			valuations[ms] = r.persona()
			continue
		}
		valuations[ms] = r.value(ms)
	}

	return FilterPinned(def, valuations), nil
}

// FilterPinned keeps only nodes holding at least one pinned measure from each
// pinned group. Pinned measures sharing a grouping tag are alternatives; the
// persona node never survives pinning.
func FilterPinned(def *CampaignDefinition, valuations map[measures.MeasureSet]decimal.Decimal) map[measures.MeasureSet]decimal.Decimal {
	if len(def.PinnedMeasures) == 0 {
		return valuations
	}

	groups := make(map[string][]int64)
	for _, id := range def.PinnedMeasures {
		group := def.groupOf(id)
		groups[group] = append(groups[group], id)
	}

	filtered := make(map[measures.MeasureSet]decimal.Decimal, len(valuations))
	for ms, v := range valuations {
		if ms.IsPersona() {
			continue
		}

		if satisfiesAll(ms, groups) {
			filtered[ms] = v
		}
	}

	return filtered
}

func satisfiesAll(ms measures.MeasureSet, groups map[string][]int64) bool {
	for _, ids := range groups {
		if !slices.ContainsFunc(ids, ms.Contains) {
			return false
		}
	}

	return true
}
