package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/dynalloc/internal/testutil"
	"github.com/ethpandaops/dynalloc/pkg/store"
)

func validConfig() *Config {
	return &Config{
		Resync:       "@every 1m",
		TickInterval: time.Second,
		TaskTimeout:  time.Minute,
		LeaderLease:  2 * time.Second,
		LeaderRenew:  100 * time.Millisecond,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "cron resync", mutate: func(c *Config) { c.Resync = "*/5 * * * *" }},
		{name: "zero tick", mutate: func(c *Config) { c.TickInterval = 0 }, wantErr: ErrInvalidTickInterval},
		{name: "bad resync", mutate: func(c *Config) { c.Resync = "often" }, wantErr: ErrInvalidResync},
		{name: "lease shorter than renew", mutate: func(c *Config) { c.LeaderLease = 50 * time.Millisecond }, wantErr: ErrInvalidLeaderLease},
		{name: "zero renew", mutate: func(c *Config) { c.LeaderRenew = 0 }, wantErr: ErrInvalidLeaderLease},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
		})
	}
}

func newTestService(t *testing.T) (*service, store.Store) {
	t.Helper()

	_, client := testutil.NewMiniredisClient(t)
	st := store.NewRedisStore(quietLogger(), client, "test")

	svc, err := NewService(quietLogger(), validConfig(), client, "test", st, newFakeEnqueuer())
	require.NoError(t, err)

	return svc.(*service), st
}

func saveCampaign(t *testing.T, st store.Store, id, schedule string, start time.Time) {
	t.Helper()

	require.NoError(t, st.SaveCampaign(context.Background(), &store.Campaign{
		ID:              id,
		Definition:      testutil.NewTestDefinition(t, map[string]string{"{1}": "1"}),
		TotalBudget:     100,
		RemainingBudget: 100,
		CampaignStart:   start,
		CampaignEnd:     start.Add(7 * 24 * time.Hour),
		Schedule:        schedule,
	}))
}

func TestService_Resync(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)

	svc, st := newTestService(t)
	svc.now = func() time.Time { return now }

	saveCampaign(t, st, "spring", "@every 6h", now.Add(-24*time.Hour))
	saveCampaign(t, st, "summer", "", now.Add(-24*time.Hour))
	saveCampaign(t, st, "winter", "@daily", now.Add(-30*24*time.Hour))

	require.NoError(t, svc.tracker.SetLastRun(ctx, "winter", now.Add(-time.Hour)))
	require.NoError(t, svc.tracker.SetLastRun(ctx, "deleted", now.Add(-time.Hour)))

	require.NoError(t, svc.resync(ctx))

	ids := make(map[string]string)
	for _, c := range svc.ticker.campaigns {
		ids[c.CampaignID] = c.Spec
	}

	assert.Equal(t, map[string]string{
		"spring": "@every 6h",
		"summer": store.DefaultSchedule,
	}, ids, "ended campaigns are not scheduled")

	tracked, err := svc.tracker.GetAllCampaignIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"winter"}, tracked, "run history of deleted campaigns is dropped")
}

func TestService_StartStop(t *testing.T) {
	svc, _ := newTestService(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.Stop())
}

func TestNewService_InvalidConfig(t *testing.T) {
	_, client := testutil.NewMiniredisClient(t)
	cfg := validConfig()
	cfg.TickInterval = -time.Second

	_, err := NewService(quietLogger(), cfg, client, "test", nil, newFakeEnqueuer())
	require.ErrorIs(t, err, ErrInvalidTickInterval)
}
