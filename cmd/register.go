package cmd

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/dynalloc/pkg/store"
	"github.com/ethpandaops/dynalloc/pkg/tasks"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var registerCampaignFile string

// registerCmd represents the register command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Store a campaign file in the engine's Redis",
	Long: `Register saves a campaign so the scheduler picks it up on its next resync.
Delivery entries in the file are queued for ingestion.

Examples:
  dynalloc register --config config.yaml --campaign spring.yaml`,
	RunE: runRegister,
}

func init() {
	rootCmd.AddCommand(registerCmd)

	registerCmd.Flags().StringVar(&registerCampaignFile, "campaign", "", "Campaign file (YAML)")

	_ = registerCmd.MarkFlagRequired("campaign")
}

func runRegister(cmd *cobra.Command, _ []string) error {
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

	file, campaign, err := loadCampaignFile(registerCampaignFile)
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

	return registerCampaign(ctx, clients.store, clients.queue, file, campaign)
}

// registerCampaign saves the campaign and queues its delivery entries
func registerCampaign(ctx context.Context, st store.Store, queue tasks.Enqueuer, file *store.CampaignFile, campaign *store.Campaign) error {
	if err := st.SaveCampaign(ctx, campaign); err != nil {
		return err
	}

	if len(file.Delivery) > 0 {
		if _, err := queue.EnqueueDelivery(ctx, tasks.DeliveryPayload{
			CampaignID: campaign.ID,
			Records:    store.DeliveryRecords(file.Delivery),
			Trigger:    tasks.TriggerCLI,
		}); err != nil {
			return err
		}
	}

	logger.WithFields(logrus.Fields{
		"campaign": campaign.ID,
		"delivery": len(file.Delivery),
	}).Info("Registered campaign")

	return nil
}
