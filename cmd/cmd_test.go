package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/dynalloc/internal/testutil"
	"github.com/ethpandaops/dynalloc/pkg/allocation"
	"github.com/ethpandaops/dynalloc/pkg/store"
	"github.com/ethpandaops/dynalloc/pkg/tasks"
)

const campaignYAML = `
id: spring
totalBudget: 1000
campaignStart: 2024-01-01T00:00:00Z
campaignEnd: 2024-01-11T00:00:00Z
periodDuration: 24h
definition:
  valuations:
    - measures: [1]
      value: "1"
    - measures: [2]
      value: "2"
    - measures: [1, 2]
      value: "4"
delivery:
  - measures: [1, 2]
    hour: 2024-01-01T05:00:00Z
    impressions: 120
    mediaSpend: 0.3
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadCLIConfig(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := LoadCLIConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)

		assert.Equal(t, "error", cfg.Logging)
		assert.Equal(t, "dynalloc", cfg.Redis.Prefix)
		assert.Equal(t, "allocation", cfg.Worker.Queue)
	})

	t.Run("file values override defaults", func(t *testing.T) {
		path := writeFile(t, "config.yaml", `
redis:
  url: redis://localhost:6379/0
  prefix: staging
worker:
  queue: passes
allocation:
  margin: 0.7
costModel:
  defaultCostPerMille: 0.1
`)

		cfg, err := LoadCLIConfig(path)
		require.NoError(t, err)

		assert.Equal(t, "staging", cfg.Redis.Prefix)
		assert.Equal(t, "passes", cfg.Worker.Queue)
		assert.Equal(t, 0.7, cfg.Allocation["margin"])
		assert.InDelta(t, 0.1, cfg.CostModel.DefaultCostPerMille, 1e-9)
	})

	t.Run("invalid cost model", func(t *testing.T) {
		path := writeFile(t, "config.yaml", "costModel:\n  defaultCostPerMille: -1\n")

		_, err := LoadCLIConfig(path)
		require.Error(t, err)
	})
}

func TestLoadCampaignFile(t *testing.T) {
	file, campaign, err := loadCampaignFile(writeFile(t, "spring.yaml", campaignYAML))
	require.NoError(t, err)

	assert.Equal(t, "spring", campaign.ID)
	assert.Len(t, file.Delivery, 1)

	_, _, err = loadCampaignFile(writeFile(t, "broken.yaml", "id: [unterminated"))
	require.Error(t, err)
}

func TestRunOfflineAllocation(t *testing.T) {
	cfg, err := LoadCLIConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	file, campaign, err := loadCampaignFile(writeFile(t, "spring.yaml", campaignYAML))
	require.NoError(t, err)

	alloc, err := runOfflineAllocation(cfg, offlineRequest{
		File:         file,
		Campaign:     campaign,
		PeriodStart:  campaign.CampaignStart,
		ForceInitial: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "spring", alloc.CampaignID)
	assert.Equal(t, allocation.PhaseInitial, alloc.Phase)
	require.NotEmpty(t, alloc.PerNodeResults)

	// The allocation survives a round trip through --output and --previous
	path := filepath.Join(t.TempDir(), "alloc.json")
	require.NoError(t, writeAllocationFile(path, alloc))

	previous, err := loadAllocationFile(path)
	require.NoError(t, err)
	assert.Equal(t, alloc.CampaignID, previous.CampaignID)
	assert.Len(t, previous.PerNodeResults, len(alloc.PerNodeResults))

	for ms, result := range alloc.PerNodeResults {
		require.Contains(t, previous.PerNodeResults, ms)
		assert.Equal(t, result.ExportCount, previous.PerNodeResults[ms].ExportCount)
	}
}

type recordingEnqueuer struct {
	deliveries []tasks.DeliveryPayload
}

func (r *recordingEnqueuer) EnqueueAllocation(context.Context, tasks.AllocatePayload, ...asynq.Option) (*asynq.TaskInfo, error) {
	return &asynq.TaskInfo{}, nil
}

func (r *recordingEnqueuer) EnqueueDelivery(_ context.Context, payload tasks.DeliveryPayload, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	r.deliveries = append(r.deliveries, payload)
	return &asynq.TaskInfo{}, nil
}

func TestRegisterCampaign(t *testing.T) {
	_, client := testutil.NewMiniredisClient(t)
	st := store.NewRedisStore(logger, client, "test")
	queue := &recordingEnqueuer{}

	file, campaign, err := loadCampaignFile(writeFile(t, "spring.yaml", campaignYAML))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, registerCampaign(ctx, st, queue, file, campaign))

	stored, err := st.GetCampaign(ctx, "spring")
	require.NoError(t, err)
	assert.InDelta(t, 1000, stored.TotalBudget, 1e-9)

	require.Len(t, queue.deliveries, 1)
	assert.Equal(t, tasks.TriggerCLI, queue.deliveries[0].Trigger)
	assert.Len(t, queue.deliveries[0].Records, 1)
}

func TestLoadDeliveryFile(t *testing.T) {
	entries, err := loadDeliveryFile(writeFile(t, "delivery.yaml", `
- measures: [1]
  hour: 2024-01-01T10:00:00Z
  impressions: 1200
  mediaSpend: 3.4
- measures: [1, 2]
  hour: 2024-01-01T11:00:00Z
  impressions: 50
  mediaSpend: 0.2
`))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, []int64{1, 2}, entries[1].Measures)
}
