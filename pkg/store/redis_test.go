package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/dynalloc/internal/testutil"
	"github.com/ethpandaops/dynalloc/pkg/allocation"
	"github.com/ethpandaops/dynalloc/pkg/delivery"
	"github.com/ethpandaops/dynalloc/pkg/measures"
)

var campaignStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (Store, *miniredis.Miniredis) {
	t.Helper()

	mr, client := testutil.NewMiniredisClient(t)
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return NewRedisStore(log, client, "test"), mr
}

func newTestCampaign(t *testing.T, id string) *Campaign {
	t.Helper()

	return &Campaign{
		ID: id,
		Definition: testutil.NewTestDefinition(t, map[string]string{
			"{1}":   "1",
			"{2}":   "2",
			"{1,2}": "4",
		}),
		TotalBudget:     1000,
		RemainingBudget: 800,
		CampaignStart:   campaignStart,
		CampaignEnd:     campaignStart.Add(10 * 24 * time.Hour),
		Parameters:      map[string]any{"margin": 0.8},
	}
}

func TestRedisStore_CampaignLifecycle(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	_, err := s.GetCampaign(ctx, "missing")
	require.ErrorIs(t, err, ErrCampaignNotFound)

	require.NoError(t, s.SaveCampaign(ctx, newTestCampaign(t, "b")))
	require.NoError(t, s.SaveCampaign(ctx, newTestCampaign(t, "a")))

	ids, err := s.ListCampaigns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	got, err := s.GetCampaign(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, DefaultSchedule, got.Schedule)
	assert.InDelta(t, 800, got.RemainingBudget, 1e-9)
	assert.True(t, got.CampaignStart.Equal(campaignStart))
	assert.True(t, decimal.NewFromInt(4).Equal(got.Definition.ExplicitValuations[measures.New(1, 2)]))
	assert.InDelta(t, 0.8, got.Parameters["margin"], 1e-9)

	assert.Contains(t, mr.Keys(), "test:campaign:a:definition")
	assert.Contains(t, mr.Keys(), "test:campaigns")

	require.NoError(t, s.DeleteCampaign(ctx, "a"))
	require.ErrorIs(t, s.DeleteCampaign(ctx, "a"), ErrCampaignNotFound)

	ids, err = s.ListCampaigns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestRedisStore_SaveCampaignValidates(t *testing.T) {
	s, _ := newTestStore(t)

	campaign := newTestCampaign(t, "a")
	campaign.CampaignEnd = campaign.CampaignStart

	require.ErrorIs(t, s.SaveCampaign(context.Background(), campaign), ErrInvalidWindow)
}

func TestRedisStore_Delivery(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	empty, err := s.GetDelivery(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, empty)

	collection := make(delivery.Collection)
	_, err = collection.Ingest([]delivery.Record{
		{Measures: measures.New(1), Hour: campaignStart, Impressions: 100, MediaSpend: 0.5},
		{Measures: measures.New(1), Hour: campaignStart.Add(time.Hour), Impressions: 50, MediaSpend: 0.25},
	})
	require.NoError(t, err)

	require.NoError(t, s.SaveDelivery(ctx, "a", collection))

	got, err := s.GetDelivery(ctx, "a")
	require.NoError(t, err)

	node := got[measures.New(1)]
	require.NotNil(t, node)
	assert.Equal(t, int64(2), node.TotalEligibleHours())
	assert.InDelta(t, 150, node.TotalImpressions, 1e-9)
	assert.True(t, node.LastProcessedEligibilityHour.Equal(campaignStart.Add(time.Hour)))
}

func TestRedisStore_Allocation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.GetAllocation(ctx, "a")
	require.ErrorIs(t, err, ErrAllocationNotFound)

	alloc := allocation.NewBudgetAllocation("a", 1000, campaignStart, campaignStart.Add(24*time.Hour))
	alloc.PerNodeResults[measures.New(1, 2)] = &allocation.PerNodeBudgetAllocationResult{
		Valuation:    4,
		ExportBudget: 12.5,
		ExportCount:  3,
	}
	alloc.Phase = allocation.PhaseSteady

	require.NoError(t, s.SaveAllocation(ctx, alloc))

	got, err := s.GetAllocation(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, allocation.PhaseSteady, got.Phase)
	assert.Equal(t, []measures.MeasureSet{measures.New(1, 2)}, got.ExportSet())
	assert.Equal(t, 3, got.PerNodeResults[measures.New(1, 2)].ExportCount)
	assert.Nil(t, got.NodeDeliveryMetricsCollection)
}

func TestRedisStore_Lock(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	token, ok, err := s.Lock(ctx, "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.Lock(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lock is exclusive")

	require.ErrorIs(t, s.Unlock(ctx, "a", "someone-else"), ErrLockNotHeld)
	require.NoError(t, s.Unlock(ctx, "a", token))

	_, ok, err = s.Lock(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)

	_, ok, err = s.Lock(ctx, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock is free")
}
