package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/dynalloc/pkg/store"
	"github.com/ethpandaops/dynalloc/pkg/tasks"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	ingestCampaignID   string
	ingestDeliveryFile string
)

// ingestCmd represents the ingest command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Queue delivery records for a registered campaign",
	Long: `Ingest reads a YAML list of hourly delivery records and queues them for the
worker, which folds them into the campaign's stored history.

Example file:
  - measures: [1, 2]
    hour: 2024-01-01T10:00:00Z
    impressions: 1200
    mediaSpend: 3.4`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().StringVar(&ingestCampaignID, "campaign", "", "Campaign ID")
	ingestCmd.Flags().StringVar(&ingestDeliveryFile, "file", "", "Delivery file (YAML list)")

	_ = ingestCmd.MarkFlagRequired("campaign")
	_ = ingestCmd.MarkFlagRequired("file")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cfg, err := LoadCLIConfig(cfgFile)
	if err != nil {
		return err
	}

	if err := applyConfigLogLevel(cmd, cfg.Logging); err != nil {
		return err
	}

	entries, err := loadDeliveryFile(ingestDeliveryFile)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	clients, err := newAdminClients(ctx, cfg)
	if err != nil {
		return err
	}
	defer clients.Close()

	// Campaign must exist or the worker would drop the task
	if _, err := clients.store.GetCampaign(ctx, ingestCampaignID); err != nil {
		return err
	}

	info, err := clients.queue.EnqueueDelivery(ctx, tasks.DeliveryPayload{
		CampaignID: ingestCampaignID,
		Records:    store.DeliveryRecords(entries),
		Trigger:    tasks.TriggerCLI,
	})
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"campaign": ingestCampaignID,
		"records":  len(entries),
		"task_id":  info.ID,
	}).Info("Queued delivery records")

	return nil
}

func loadDeliveryFile(path string) ([]store.DeliveryEntry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided delivery file path
	if err != nil {
		return nil, err
	}

	var entries []store.DeliveryEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse delivery file %s: %w", path, err)
	}

	return entries, nil
}
