package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/dynalloc/pkg/tasks"
)

// fakeEnqueuer records enqueued payloads
type fakeEnqueuer struct {
	mu          sync.Mutex
	allocations []tasks.AllocatePayload
	seen        map[string]bool
	err         error
}

func newFakeEnqueuer() *fakeEnqueuer {
	return &fakeEnqueuer{seen: make(map[string]bool)}
}

func (f *fakeEnqueuer) EnqueueAllocation(_ context.Context, payload tasks.AllocatePayload, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	id := payload.UniqueID()
	if f.seen[id] {
		return nil, asynq.ErrTaskIDConflict
	}

	f.seen[id] = true
	f.allocations = append(f.allocations, payload)

	return &asynq.TaskInfo{ID: id, Queue: tasks.QueueName, Type: tasks.TypeCampaignAllocate}, nil
}

func (f *fakeEnqueuer) EnqueueDelivery(_ context.Context, _ tasks.DeliveryPayload, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	return &asynq.TaskInfo{Queue: tasks.QueueName, Type: tasks.TypeCampaignDelivery}, nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.allocations)
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func mustScheduledCampaign(t *testing.T, id, spec string) scheduledCampaign {
	t.Helper()

	c, err := newScheduledCampaign(id, spec)
	require.NoError(t, err)

	return c
}

func newTestTicker(tracker scheduleTracker, enqueuer tasks.Enqueuer, now *time.Time) *tickerServiceImpl {
	ticker := newTickerService(quietLogger(), tracker, enqueuer, time.Second, time.Minute)
	ticker.now = func() time.Time { return *now }

	return ticker
}

func TestNewScheduledCampaign(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		wantErr bool
	}{
		{name: "every descriptor", spec: "@every 24h"},
		{name: "daily descriptor", spec: "@daily"},
		{name: "five field cron", spec: "0 6 * * *"},
		{name: "garbage", spec: "whenever", wantErr: true},
		{name: "six fields not supported", spec: "0 0 6 * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := newScheduledCampaign("spring", tt.spec)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "spring", c.CampaignID)
			assert.NotNil(t, c.Schedule)
		})
	}
}

func TestTicker_CheckSchedules(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("never run campaign is due immediately", func(t *testing.T) {
		tracker := newMockTracker()
		enqueuer := newFakeEnqueuer()
		ticker := newTestTicker(tracker, enqueuer, &now)
		ticker.SetCampaigns([]scheduledCampaign{mustScheduledCampaign(t, "spring", "@every 1h")})

		ticker.checkSchedules(ctx)

		require.Len(t, enqueuer.allocations, 1)
		payload := enqueuer.allocations[0]
		assert.Equal(t, "spring", payload.CampaignID)
		assert.Equal(t, tasks.TriggerSchedule, payload.Trigger)
		assert.Equal(t, now, payload.PeriodStart)
		assert.Equal(t, now, tracker.setRuns["spring"])
	})

	t.Run("campaign not yet due is skipped", func(t *testing.T) {
		tracker := newMockTracker()
		tracker.lastRuns["spring"] = now.Add(-30 * time.Minute)

		enqueuer := newFakeEnqueuer()
		ticker := newTestTicker(tracker, enqueuer, &now)
		ticker.SetCampaigns([]scheduledCampaign{mustScheduledCampaign(t, "spring", "@every 1h")})

		ticker.checkSchedules(ctx)

		assert.Zero(t, enqueuer.count())
		assert.Empty(t, tracker.setRuns)
	})

	t.Run("campaign past its next run is enqueued", func(t *testing.T) {
		tracker := newMockTracker()
		tracker.lastRuns["spring"] = now.Add(-2 * time.Hour)

		enqueuer := newFakeEnqueuer()
		ticker := newTestTicker(tracker, enqueuer, &now)
		ticker.SetCampaigns([]scheduledCampaign{mustScheduledCampaign(t, "spring", "@every 1h")})

		ticker.checkSchedules(ctx)

		assert.Equal(t, 1, enqueuer.count())
	})

	t.Run("cached next run avoids re-enqueue until due", func(t *testing.T) {
		clock := now
		tracker := newMockTracker()
		enqueuer := newFakeEnqueuer()
		ticker := newTestTicker(tracker, enqueuer, &clock)
		ticker.SetCampaigns([]scheduledCampaign{mustScheduledCampaign(t, "spring", "@every 1h")})

		ticker.checkSchedules(ctx)
		clock = now.Add(30 * time.Minute)
		ticker.checkSchedules(ctx)
		assert.Equal(t, 1, enqueuer.count())

		clock = now.Add(time.Hour)
		ticker.checkSchedules(ctx)
		assert.Equal(t, 2, enqueuer.count())
	})

	t.Run("duplicate period counts as enqueued", func(t *testing.T) {
		tracker := newMockTracker()
		enqueuer := newFakeEnqueuer()
		enqueuer.seen[tasks.AllocatePayload{CampaignID: "spring", PeriodStart: now}.UniqueID()] = true

		ticker := newTestTicker(tracker, enqueuer, &now)
		ticker.SetCampaigns([]scheduledCampaign{mustScheduledCampaign(t, "spring", "@every 1h")})

		ticker.checkSchedules(ctx)

		assert.Zero(t, enqueuer.count())
		assert.Equal(t, now, tracker.setRuns["spring"])
	})

	t.Run("enqueue failure leaves last run untouched", func(t *testing.T) {
		tracker := newMockTracker()
		enqueuer := newFakeEnqueuer()
		enqueuer.err = errors.New("redis down")

		ticker := newTestTicker(tracker, enqueuer, &now)
		ticker.SetCampaigns([]scheduledCampaign{mustScheduledCampaign(t, "spring", "@every 1h")})

		ticker.checkSchedules(ctx)

		assert.Empty(t, tracker.setRuns)
	})
}

func TestTicker_SetCampaignsKeepsCache(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tracker := newMockTracker()
	enqueuer := newFakeEnqueuer()
	ticker := newTestTicker(tracker, enqueuer, &now)

	ticker.SetCampaigns([]scheduledCampaign{mustScheduledCampaign(t, "spring", "@every 1h")})
	ticker.checkSchedules(context.Background())
	require.NotNil(t, ticker.campaigns[0].nextRun)

	ticker.SetCampaigns([]scheduledCampaign{
		mustScheduledCampaign(t, "spring", "@every 1h"),
		mustScheduledCampaign(t, "summer", "@every 1h"),
	})
	require.NotNil(t, ticker.campaigns[0].nextRun)
	assert.Nil(t, ticker.campaigns[1].nextRun)

	ticker.SetCampaigns([]scheduledCampaign{mustScheduledCampaign(t, "spring", "@every 2h")})
	assert.Nil(t, ticker.campaigns[0].nextRun, "changed schedule drops the cached run")
}

func TestTicker_StartStop(t *testing.T) {
	tracker := newMockTracker()
	enqueuer := newFakeEnqueuer()
	ticker := newTickerService(quietLogger(), tracker, enqueuer, 10*time.Millisecond, time.Minute)

	errCh := make(chan error, 1)
	go func() { errCh <- ticker.Start(context.Background()) }()

	require.NoError(t, ticker.Stop())
	require.NoError(t, ticker.Stop())

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ticker did not stop")
	}
}
