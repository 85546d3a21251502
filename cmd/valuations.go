package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/dynalloc/pkg/report"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	valuationsCampaignFile string
	valuationsTemplateFile string
)

// valuationsCmd represents the valuations command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var valuationsCmd = &cobra.Command{
	Use:   "valuations",
	Short: "Print the node valuations of a campaign file",
	Long: `Valuations derives every valued node of a campaign definition, including
the nodes reached through explicit and implicit ancestors, and prints them in
lattice order.`,
	RunE: runValuations,
}

func init() {
	rootCmd.AddCommand(valuationsCmd)

	valuationsCmd.Flags().StringVar(&valuationsCampaignFile, "campaign", "", "Campaign file (YAML)")
	valuationsCmd.Flags().StringVar(&valuationsTemplateFile, "template", "", "Go template used to render the valuations")

	_ = valuationsCmd.MarkFlagRequired("campaign")
}

func runValuations(cmd *cobra.Command, _ []string) error {
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

	_, campaign, err := loadCampaignFile(valuationsCampaignFile)
	if err != nil {
		return err
	}

	allocator, err := newOfflineAllocator(cfg)
	if err != nil {
		return err
	}

	engine, err := allocator.Engine(campaign)
	if err != nil {
		return err
	}

	valuations, err := engine.GetValuations(campaign.Definition)
	if err != nil {
		return err
	}

	text, err := readTemplate(valuationsTemplateFile, report.DefaultValuationsTemplate)
	if err != nil {
		return err
	}

	out, err := report.NewTemplateEngine().RenderValuations(text, valuations)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), out)

	return nil
}
