package delivery

import (
	"testing"
	"time"

	"github.com/ethpandaops/dynalloc/pkg/costmodel"
	"github.com/ethpandaops/dynalloc/pkg/measures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sunday is 2024-01-07 00:00 UTC, slot 0 of the ring.
var sunday = time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC) //nolint:gochecknoglobals // test fixture

func TestHourOfWeek(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{name: "sunday midnight", at: sunday, want: 0},
		{name: "monday 05:00", at: sunday.Add(29 * time.Hour), want: 29},
		{name: "saturday 23:00", at: sunday.Add(167 * time.Hour), want: 167},
		{name: "next sunday wraps", at: sunday.Add(168 * time.Hour), want: 0},
		{name: "non-utc input", at: sunday.In(time.FixedZone("x", 3600)), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HourOfWeek(tt.at))
		})
	}
}

func TestRecordEligibleHour(t *testing.T) {
	m := NewNodeDeliveryMetrics()
	assert.False(t, m.HasData())

	require.NoError(t, m.RecordEligibleHour(sunday.Add(90*time.Minute), 10, 1))
	assert.True(t, m.HasData())
	assert.Equal(t, sunday.Add(time.Hour), m.LastProcessedEligibilityHour, "truncated to the hour")
	assert.Equal(t, int64(1), m.TotalEligibleHours())
	assert.InDelta(t, 10.0, m.TotalImpressions, 1e-9)
	assert.InDelta(t, 1.0, m.TotalMediaSpend, 1e-9)

	err := m.RecordEligibleHour(sunday.Add(time.Hour), 5, 1)
	require.ErrorIs(t, err, ErrHourAlreadyProcessed)

	err = m.RecordEligibleHour(sunday, 5, 1)
	require.ErrorIs(t, err, ErrHourAlreadyProcessed)

	err = m.RecordEligibleHour(sunday.Add(5*time.Hour), -1, 1)
	require.ErrorIs(t, err, ErrNegativeDelivery)

	assert.Equal(t, int64(1), m.EligibleHours)
}

func TestRecordEligibleHour_SlotAggregation(t *testing.T) {
	m := NewNodeDeliveryMetrics()

	values := []float64{10, 20, 30, 40, 50}
	for week, v := range values {
		require.NoError(t, m.RecordEligibleHour(sunday.Add(time.Duration(week)*7*24*time.Hour), v, v/10))
	}

	slot := m.Hours[0]
	assert.Equal(t, int64(5), slot.EligibilityCount)
	assert.InDelta(t, 30.0, slot.AverageImpressions, 1e-9)
	assert.InDelta(t, 3.0, slot.AverageMediaSpend, 1e-9)
	assert.Equal(t, []float64{30, 40, 50}, slot.LastNImpressions)
	assert.Len(t, slot.LastNMediaSpend, LastNMax)
}

func TestGetHourMetricsInRange(t *testing.T) {
	full := NewNodeDeliveryMetrics()
	for h := 0; h < HoursPerWeek; h++ {
		require.NoError(t, full.RecordEligibleHour(sunday.Add(time.Duration(h)*time.Hour), 10, 1))
	}

	sparse := NewNodeDeliveryMetrics()
	for _, h := range []int{0, 5, 10} {
		require.NoError(t, sparse.RecordEligibleHour(sunday.Add(time.Duration(h)*time.Hour), float64(h), 1))
	}

	tests := []struct {
		name     string
		metrics  *NodeDeliveryMetrics
		lookback int
		want     int
	}{
		{name: "never recorded", metrics: NewNodeDeliveryMetrics(), lookback: 24, want: 0},
		{name: "full week, day lookback", metrics: full, lookback: 24, want: 24},
		{name: "full week, week lookback", metrics: full, lookback: 168, want: 168},
		{name: "full week, capped at a week", metrics: full, lookback: 500, want: 168},
		{name: "zero lookback", metrics: full, lookback: 0, want: 0},
		{name: "sparse, all history", metrics: sparse, lookback: 168, want: 3},
		{name: "sparse, partial window", metrics: sparse, lookback: 6, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.metrics.GetHourMetricsInRange(tt.metrics.LastProcessedEligibilityHour, tt.lookback)
			assert.Len(t, got, tt.want)
			assert.LessOrEqual(t, len(got), HoursPerWeek)
		})
	}

	t.Run("most recent first with wraparound", func(t *testing.T) {
		got := sparse.GetHourMetricsInRange(sparse.LastProcessedEligibilityHour, 168)
		require.Len(t, got, 3)
		assert.InDelta(t, 10.0, got[0].AverageImpressions, 1e-9)
		assert.InDelta(t, 5.0, got[1].AverageImpressions, 1e-9)
		assert.InDelta(t, 0.0, got[2].AverageImpressions, 1e-9)
	})

	t.Run("walks backward across the week boundary", func(t *testing.T) {
		m := NewNodeDeliveryMetrics()
		require.NoError(t, m.RecordEligibleHour(sunday.Add(-time.Hour), 7, 1)) // saturday 23:00
		require.NoError(t, m.RecordEligibleHour(sunday, 3, 1))

		got := m.GetHourMetricsInRange(m.LastProcessedEligibilityHour, 2)
		require.Len(t, got, 2)
		assert.InDelta(t, 3.0, got[0].AverageImpressions, 1e-9)
		assert.InDelta(t, 7.0, got[1].AverageImpressions, 1e-9)
	})
}

// twoWeeks returns history for slots 0 and 1 over two weeks:
// slot 0 saw 10 then 30 impressions, slot 1 saw 20 then 40.
func twoWeeks(t *testing.T) *NodeDeliveryMetrics {
	t.Helper()

	m := NewNodeDeliveryMetrics()
	week := 7 * 24 * time.Hour
	require.NoError(t, m.RecordEligibleHour(sunday, 10, 1))
	require.NoError(t, m.RecordEligibleHour(sunday.Add(time.Hour), 20, 2))
	require.NoError(t, m.RecordEligibleHour(sunday.Add(week), 30, 3))
	require.NoError(t, m.RecordEligibleHour(sunday.Add(week+time.Hour), 40, 5))

	return m
}

func TestCalcImpressionsAndMediaSpend(t *testing.T) {
	m := twoWeeks(t)

	tests := []struct {
		name      string
		lookback  int
		wantImps  float64
		wantSpend float64
	}{
		{name: "non-positive lookback", lookback: 0, wantImps: 0, wantSpend: 0},
		{name: "lookback covers lifetime", lookback: 4, wantImps: 100, wantSpend: 11},
		{name: "lookback beyond lifetime", lookback: 1000, wantImps: 100, wantSpend: 11},
		// slot 1 contributes its last actuals (20+40), slot 0 its average (20)
		{name: "most recent hour uses last actuals", lookback: 2, wantImps: 80, wantSpend: 9},
		{name: "single hour window", lookback: 1, wantImps: 60, wantSpend: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.wantImps, m.CalcImpressions(tt.lookback), 1e-9)
			assert.InDelta(t, tt.wantSpend, m.CalcMediaSpend(tt.lookback), 1e-9)
		})
	}
}

func TestCalcImpressions_EmptyLastNContributesZero(t *testing.T) {
	m := &NodeDeliveryMetrics{
		EligibleHours:                10,
		LastProcessedEligibilityHour: sunday.Add(5 * time.Hour),
	}
	m.Hours[5] = NodeHourMetrics{AverageImpressions: 10, EligibilityCount: 2}
	m.Hours[4] = NodeHourMetrics{AverageImpressions: 7, EligibilityCount: 1, LastNImpressions: []float64{7}}

	assert.InDelta(t, 7.0, m.CalcImpressions(3), 1e-9)
}

func TestCalcRates(t *testing.T) {
	m := twoWeeks(t)

	assert.InDelta(t, 0.0, m.CalcImpressionRate(0), 1e-9)
	assert.InDelta(t, 25.0, m.CalcImpressionRate(2), 1e-9)
	assert.InDelta(t, 30.0, m.CalcImpressionRate(1), 1e-9, "no last-actuals substitution")
	assert.InDelta(t, 2.75, m.CalcMediaSpendRate(168), 1e-9)

	assert.InDelta(t, 0.0, NewNodeDeliveryMetrics().CalcImpressionRate(24), 1e-9)
	assert.InDelta(t, 0.0, NewNodeDeliveryMetrics().LifetimeImpressionRate(), 1e-9)
}

func TestEffectiveMetrics(t *testing.T) {
	m := twoWeeks(t)

	assert.InDelta(t, 25.0, m.CalcEffectiveImpressionRate(168), 1e-9, "lifetime rate")
	assert.InDelta(t, 30.0, m.CalcEffectiveImpressionRate(1), 1e-9, "window rate")
	assert.InDelta(t, 2.75, m.CalcEffectiveMediaSpendRate(4), 1e-9)
	assert.InDelta(t, 100.0, m.CalcEffectiveImpressions(168), 1e-9)
	assert.InDelta(t, 11.0, m.CalcEffectiveMediaSpend(168), 1e-9)

	model, err := costmodel.NewPerMeasure(&costmodel.Config{Measures: map[int64]float64{1: 0.25}})
	require.NoError(t, err)

	total := m.CalcEffectiveTotalSpend(model, measures.New(1), 168, 1, 0)
	assert.InDelta(t, 11.025, total, 1e-9)
}

func TestCollection_Ingest(t *testing.T) {
	a := measures.New(1)
	b := measures.New(1, 2)

	c := Collection{}
	result, err := c.Ingest([]Record{
		{Measures: a, Hour: sunday.Add(time.Hour), Impressions: 20, MediaSpend: 2},
		{Measures: a, Hour: sunday, Impressions: 10, MediaSpend: 1},
		{Measures: b, Hour: sunday, Impressions: 5, MediaSpend: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Applied: 3}, result)
	assert.Equal(t, int64(2), c[a].EligibleHours)

	result, err = c.Ingest([]Record{
		{Measures: a, Hour: sunday.Add(time.Hour), Impressions: 20, MediaSpend: 2},
		{Measures: b, Hour: sunday.Add(2 * time.Hour), Impressions: 5, MediaSpend: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Applied: 1, Skipped: 1}, result)

	_, err = c.Ingest([]Record{{Measures: b, Hour: sunday.Add(9 * time.Hour), Impressions: -1}})
	require.ErrorIs(t, err, ErrNegativeDelivery)

	effective := c.Effective()
	require.Len(t, effective, 2)
	assert.Equal(t, int64(2), effective[b].TotalEligibleHours())
}

func TestCollection_IngestRejectedRecordAddsNoNode(t *testing.T) {
	fresh := measures.New(3)

	c := Collection{}
	_, err := c.Ingest([]Record{{Measures: fresh, Hour: sunday, Impressions: -1}})
	require.ErrorIs(t, err, ErrNegativeDelivery)

	assert.NotContains(t, c, fresh)
	assert.Empty(t, c)
}
