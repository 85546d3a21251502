package testutil

import (
	"github.com/ethpandaops/dynalloc/pkg/costmodel"
	"github.com/ethpandaops/dynalloc/pkg/delivery"
	"github.com/ethpandaops/dynalloc/pkg/measures"
)

// StubNodeMetrics is a fixed-value EffectiveNodeMetrics. Lookback windows are
// ignored; every call reports the configured totals and rates.
type StubNodeMetrics struct {
	Hours          int64
	MediaSpend     float64
	Impressions    float64
	MediaSpendRate float64
	ImpressionRate float64
	// TotalSpend overrides the cost model when positive
	TotalSpend float64
}

// NewStubNodeMetrics creates a stub that delivered impressions for mediaSpend
// over hours, with rates derived per hour.
func NewStubNodeMetrics(hours int64, impressions, mediaSpend float64) *StubNodeMetrics {
	stub := &StubNodeMetrics{
		Hours:       hours,
		MediaSpend:  mediaSpend,
		Impressions: impressions,
	}

	if hours > 0 {
		stub.MediaSpendRate = mediaSpend / float64(hours)
		stub.ImpressionRate = impressions / float64(hours)
	}

	return stub
}

// TotalEligibleHours implements delivery.EffectiveNodeMetrics.
func (s *StubNodeMetrics) TotalEligibleHours() int64 {
	return s.Hours
}

// CalcEffectiveMediaSpendRate implements delivery.EffectiveNodeMetrics.
func (s *StubNodeMetrics) CalcEffectiveMediaSpendRate(_ int) float64 {
	return s.MediaSpendRate
}

// CalcEffectiveImpressionRate implements delivery.EffectiveNodeMetrics.
func (s *StubNodeMetrics) CalcEffectiveImpressionRate(_ int) float64 {
	return s.ImpressionRate
}

// CalcEffectiveMediaSpend implements delivery.EffectiveNodeMetrics.
func (s *StubNodeMetrics) CalcEffectiveMediaSpend(_ int) float64 {
	return s.MediaSpend
}

// CalcEffectiveImpressions implements delivery.EffectiveNodeMetrics.
func (s *StubNodeMetrics) CalcEffectiveImpressions(_ int) float64 {
	return s.Impressions
}

// CalcEffectiveTotalSpend implements delivery.EffectiveNodeMetrics.
func (s *StubNodeMetrics) CalcEffectiveTotalSpend(model costmodel.Model, ms measures.MeasureSet, _ int, margin, perMilleFees float64) float64 {
	if s.TotalSpend > 0 {
		return s.TotalSpend
	}

	return model.CalculateTotalSpend(ms, s.Impressions, s.MediaSpend, margin, perMilleFees)
}

var _ delivery.EffectiveNodeMetrics = (*StubNodeMetrics)(nil)
