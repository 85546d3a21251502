// Package delivery keeps per-node delivery history in an hour-of-week ring buffer.
package delivery

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/dynalloc/pkg/costmodel"
	"github.com/ethpandaops/dynalloc/pkg/measures"
)

const (
	// HoursPerWeek is the number of slots in the ring
	HoursPerWeek = 168
	// LastNMax bounds the most-recent-actuals kept per slot
	LastNMax = 3
)

var (
	// ErrHourAlreadyProcessed is returned when an hour at or before the high-water mark is recorded
	ErrHourAlreadyProcessed = errors.New("eligibility hour already processed")
	// ErrNegativeDelivery is returned for negative impressions or spend
	ErrNegativeDelivery = errors.New("delivery values must not be negative")
)

// EffectiveNodeMetrics is the view of a node's delivery history the allocator consumes.
type EffectiveNodeMetrics interface {
	// TotalEligibleHours returns the number of hours the node has been eligible to deliver
	TotalEligibleHours() int64

	// CalcEffectiveMediaSpendRate returns media spend per eligible hour
	CalcEffectiveMediaSpendRate(lookback int) float64

	// CalcEffectiveImpressionRate returns impressions per eligible hour
	CalcEffectiveImpressionRate(lookback int) float64

	// CalcEffectiveMediaSpend returns the media spent within the lookback window
	CalcEffectiveMediaSpend(lookback int) float64

	// CalcEffectiveImpressions returns the impressions delivered within the lookback window
	CalcEffectiveImpressions(lookback int) float64

	// CalcEffectiveTotalSpend prices the lookback window's delivery with the cost model
	CalcEffectiveTotalSpend(model costmodel.Model, ms measures.MeasureSet, lookback int, margin, perMilleFees float64) float64
}

// NodeHourMetrics aggregates every eligible occurrence of one hour-of-week.
type NodeHourMetrics struct {
	AverageImpressions float64   `json:"averageImpressions"`
	AverageMediaSpend  float64   `json:"averageMediaSpend"`
	EligibilityCount   int64     `json:"eligibilityCount"`
	LastNImpressions   []float64 `json:"lastNImpressions,omitempty"`
	LastNMediaSpend    []float64 `json:"lastNMediaSpend,omitempty"`
}

func (h *NodeHourMetrics) record(impressions, mediaSpend float64) {
	h.EligibilityCount++
	n := float64(h.EligibilityCount)
	h.AverageImpressions += (impressions - h.AverageImpressions) / n
	h.AverageMediaSpend += (mediaSpend - h.AverageMediaSpend) / n

	h.LastNImpressions = pushBounded(h.LastNImpressions, impressions)
	h.LastNMediaSpend = pushBounded(h.LastNMediaSpend, mediaSpend)
}

func pushBounded(fifo []float64, v float64) []float64 {
	fifo = append(fifo, v)
	if len(fifo) > LastNMax {
		fifo = append(fifo[:0:0], fifo[len(fifo)-LastNMax:]...)
	}

	return fifo
}

// NodeDeliveryMetrics is the delivery history of a single node.
//
// It is not safe for concurrent writers.
type NodeDeliveryMetrics struct {
	Hours            [HoursPerWeek]NodeHourMetrics `json:"hours"`
	TotalImpressions float64                       `json:"totalImpressions"`
	TotalMediaSpend  float64                       `json:"totalMediaSpend"`
	EligibleHours    int64                         `json:"eligibleHours"`
	// LastProcessedEligibilityHour is the zero time until the first hour is recorded
	LastProcessedEligibilityHour time.Time `json:"lastProcessedEligibilityHour"`
}

// NewNodeDeliveryMetrics returns an empty history
func NewNodeDeliveryMetrics() *NodeDeliveryMetrics {
	return &NodeDeliveryMetrics{}
}

// HourOfWeek maps a time to its ring slot; Sunday 00:00 UTC is slot 0.
func HourOfWeek(t time.Time) int {
	t = t.UTC()

	return int(t.Weekday())*24 + t.Hour()
}

// HasData reports whether any eligible hour has been recorded.
func (n *NodeDeliveryMetrics) HasData() bool {
	return !n.LastProcessedEligibilityHour.IsZero()
}

// RecordEligibleHour folds one hour of delivery into the history.
// Hours must be recorded in increasing order.
func (n *NodeDeliveryMetrics) RecordEligibleHour(hour time.Time, impressions, mediaSpend float64) error {
	if impressions < 0 || mediaSpend < 0 {
		return ErrNegativeDelivery
	}

	hour = hour.UTC().Truncate(time.Hour)
	if n.HasData() && !hour.After(n.LastProcessedEligibilityHour) {
		return fmt.Errorf("%w: %s (last %s)", ErrHourAlreadyProcessed,
			hour.Format(time.RFC3339), n.LastProcessedEligibilityHour.Format(time.RFC3339))
	}

	n.Hours[HourOfWeek(hour)].record(impressions, mediaSpend)
	n.TotalImpressions += impressions
	n.TotalMediaSpend += mediaSpend
	n.EligibleHours++
	n.LastProcessedEligibilityHour = hour

	return nil
}

// GetHourMetricsInRange walks the ring backward from lastEligibleHour over
// at most lookback slots (never more than a week), returning the slots that
// have seen an eligible hour, most recent first. It returns nil until the
// first hour has been recorded.
func (n *NodeDeliveryMetrics) GetHourMetricsInRange(lastEligibleHour time.Time, lookback int) []NodeHourMetrics {
	if !n.HasData() || lookback <= 0 {
		return nil
	}

	slots := min(lookback, HoursPerWeek)
	start := HourOfWeek(lastEligibleHour)

	out := make([]NodeHourMetrics, 0, slots)
	for i := 0; i < slots; i++ {
		slot := n.Hours[(start-i+HoursPerWeek)%HoursPerWeek]
		if slot.EligibilityCount == 0 {
			continue
		}
		out = append(out, slot)
	}

	return out
}

// CalcImpressions returns the impressions delivered over the lookback window.
func (n *NodeDeliveryMetrics) CalcImpressions(lookback int) float64 {
	return n.calcWindow(lookback, n.TotalImpressions, func(h NodeHourMetrics) (float64, []float64) {
		return h.AverageImpressions, h.LastNImpressions
	})
}

// CalcMediaSpend returns the media spend over the lookback window.
func (n *NodeDeliveryMetrics) CalcMediaSpend(lookback int) float64 {
	return n.calcWindow(lookback, n.TotalMediaSpend, func(h NodeHourMetrics) (float64, []float64) {
		return h.AverageMediaSpend, h.LastNMediaSpend
	})
}

// calcWindow sums slot averages across the window, except that the most
// recent slot contributes the sum of its last actuals instead of its average.
func (n *NodeDeliveryMetrics) calcWindow(lookback int, lifetime float64, pick func(NodeHourMetrics) (float64, []float64)) float64 {
	if lookback <= 0 {
		return 0
	}

	if int64(lookback) >= n.EligibleHours {
		return lifetime
	}

	var total float64
	for i, h := range n.GetHourMetricsInRange(n.LastProcessedEligibilityHour, lookback) {
		avg, lastN := pick(h)
		if i > 0 {
			total += avg
			continue
		}

		for _, v := range lastN {
			total += v
		}
	}

	return total
}

// CalcImpressionRate averages the per-slot average impressions over the window.
func (n *NodeDeliveryMetrics) CalcImpressionRate(lookback int) float64 {
	return n.calcRate(lookback, func(h NodeHourMetrics) float64 { return h.AverageImpressions })
}

// CalcMediaSpendRate averages the per-slot average media spend over the window.
func (n *NodeDeliveryMetrics) CalcMediaSpendRate(lookback int) float64 {
	return n.calcRate(lookback, func(h NodeHourMetrics) float64 { return h.AverageMediaSpend })
}

func (n *NodeDeliveryMetrics) calcRate(lookback int, pick func(NodeHourMetrics) float64) float64 {
	if lookback <= 0 {
		return 0
	}

	hours := n.GetHourMetricsInRange(n.LastProcessedEligibilityHour, lookback)
	if len(hours) == 0 {
		return 0
	}

	var sum float64
	for _, h := range hours {
		sum += pick(h)
	}

	return sum / float64(len(hours))
}

// LifetimeImpressionRate is lifetime impressions per eligible hour.
func (n *NodeDeliveryMetrics) LifetimeImpressionRate() float64 {
	if n.EligibleHours == 0 {
		return 0
	}

	return n.TotalImpressions / float64(n.EligibleHours)
}

// LifetimeMediaSpendRate is lifetime media spend per eligible hour.
func (n *NodeDeliveryMetrics) LifetimeMediaSpendRate() float64 {
	if n.EligibleHours == 0 {
		return 0
	}

	return n.TotalMediaSpend / float64(n.EligibleHours)
}

// TotalEligibleHours implements EffectiveNodeMetrics.
func (n *NodeDeliveryMetrics) TotalEligibleHours() int64 {
	return n.EligibleHours
}

// CalcEffectiveMediaSpendRate uses the lifetime rate once the window covers the whole history.
func (n *NodeDeliveryMetrics) CalcEffectiveMediaSpendRate(lookback int) float64 {
	if lookback > 0 && int64(lookback) >= n.EligibleHours {
		return n.LifetimeMediaSpendRate()
	}

	return n.CalcMediaSpendRate(lookback)
}

// CalcEffectiveImpressionRate uses the lifetime rate once the window covers the whole history.
func (n *NodeDeliveryMetrics) CalcEffectiveImpressionRate(lookback int) float64 {
	if lookback > 0 && int64(lookback) >= n.EligibleHours {
		return n.LifetimeImpressionRate()
	}

	return n.CalcImpressionRate(lookback)
}

// CalcEffectiveMediaSpend implements EffectiveNodeMetrics.
func (n *NodeDeliveryMetrics) CalcEffectiveMediaSpend(lookback int) float64 {
	return n.CalcMediaSpend(lookback)
}

// CalcEffectiveImpressions implements EffectiveNodeMetrics.
func (n *NodeDeliveryMetrics) CalcEffectiveImpressions(lookback int) float64 {
	return n.CalcImpressions(lookback)
}

// CalcEffectiveTotalSpend implements EffectiveNodeMetrics.
func (n *NodeDeliveryMetrics) CalcEffectiveTotalSpend(model costmodel.Model, ms measures.MeasureSet, lookback int, margin, perMilleFees float64) float64 {
	return model.CalculateTotalSpend(ms, n.CalcImpressions(lookback), n.CalcMediaSpend(lookback), margin, perMilleFees)
}

var _ EffectiveNodeMetrics = (*NodeDeliveryMetrics)(nil)
