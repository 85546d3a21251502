package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/dynalloc/pkg/allocation"
	"github.com/ethpandaops/dynalloc/pkg/costmodel"
	"github.com/ethpandaops/dynalloc/pkg/delivery"
	"github.com/ethpandaops/dynalloc/pkg/measures"
	"github.com/ethpandaops/dynalloc/pkg/report"
	"github.com/ethpandaops/dynalloc/pkg/store"
	"github.com/ethpandaops/dynalloc/pkg/tasks"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	allocateCampaignFile string
	allocateForceInitial bool
	allocateTemplateFile string
	allocatePreviousFile string
	allocateOutputFile   string
	allocatePeriodStart  string
)

// allocateCmd represents the allocate command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Run one allocation pass for a campaign file",
	Long: `Allocate runs a single pass offline, without Redis. The campaign file's
delivery entries become the node history, so a file without delivery always
gets an initial allocation.

Examples:
  # Allocate the first period of a campaign
  dynalloc allocate --campaign spring.yaml

  # Chain passes by feeding the previous allocation back in
  dynalloc allocate --campaign spring.yaml --output day1.json
  dynalloc allocate --campaign spring.yaml --previous day1.json --period-start 2024-01-02T00:00:00Z`,
	RunE: runAllocate,
}

func init() {
	rootCmd.AddCommand(allocateCmd)

	allocateCmd.Flags().StringVar(&allocateCampaignFile, "campaign", "", "Campaign file (YAML)")
	allocateCmd.Flags().BoolVar(&allocateForceInitial, "force-initial", false, "Ignore delivery history and allocate from scratch")
	allocateCmd.Flags().StringVar(&allocateTemplateFile, "template", "", "Go template used to render the result")
	allocateCmd.Flags().StringVar(&allocatePreviousFile, "previous", "", "Previous allocation (JSON) whose export counts carry over")
	allocateCmd.Flags().StringVar(&allocateOutputFile, "output", "", "Write the allocation as JSON to this file")
	allocateCmd.Flags().StringVar(&allocatePeriodStart, "period-start", "", "Period start (RFC3339, default is the campaign start)")

	_ = allocateCmd.MarkFlagRequired("campaign")
}

// offlineRequest is one offline pass
type offlineRequest struct {
	File         *store.CampaignFile
	Campaign     *store.Campaign
	Previous     *allocation.BudgetAllocation
	PeriodStart  time.Time
	ForceInitial bool
}

func runAllocate(cmd *cobra.Command, _ []string) error {
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

	file, campaign, err := loadCampaignFile(allocateCampaignFile)
	if err != nil {
		return err
	}

	req := offlineRequest{
		File:         file,
		Campaign:     campaign,
		PeriodStart:  campaign.CampaignStart,
		ForceInitial: allocateForceInitial,
	}

	if allocatePeriodStart != "" {
		req.PeriodStart, err = time.Parse(time.RFC3339, allocatePeriodStart)
		if err != nil {
			return fmt.Errorf("invalid --period-start: %w", err)
		}
	}

	if allocatePreviousFile != "" {
		req.Previous, err = loadAllocationFile(allocatePreviousFile)
		if err != nil {
			return err
		}
	}

	alloc, err := runOfflineAllocation(cfg, req)
	if err != nil {
		return err
	}

	if allocateOutputFile != "" {
		if err := writeAllocationFile(allocateOutputFile, alloc); err != nil {
			return err
		}
	}

	text, err := readTemplate(allocateTemplateFile, report.DefaultAllocationTemplate)
	if err != nil {
		return err
	}

	out, err := report.NewTemplateEngine().RenderAllocation(text, alloc)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), out)

	return nil
}

// newOfflineAllocator builds an allocator from the CLI configuration
func newOfflineAllocator(cfg *CLIConfig) (*tasks.Allocator, error) {
	costs, err := costmodel.NewPerMeasure(&cfg.CostModel)
	if err != nil {
		return nil, err
	}

	return tasks.NewAllocator(logger, cfg.Allocation, costs), nil
}

// runOfflineAllocation runs a pass with the campaign file's delivery as history
func runOfflineAllocation(cfg *CLIConfig, req offlineRequest) (*allocation.BudgetAllocation, error) {
	allocator, err := newOfflineAllocator(cfg)
	if err != nil {
		return nil, err
	}

	history := delivery.Collection{}
	if _, err := history.Ingest(store.DeliveryRecords(req.File.Delivery)); err != nil {
		return nil, fmt.Errorf("campaign %s: %w", req.Campaign.ID, err)
	}

	return allocator.Allocate(req.Campaign, req.Previous, history, req.PeriodStart, req.ForceInitial)
}

func loadAllocationFile(path string) (*allocation.BudgetAllocation, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided allocation file path
	if err != nil {
		return nil, err
	}

	alloc := &allocation.BudgetAllocation{}
	if err := json.Unmarshal(data, alloc); err != nil {
		return nil, fmt.Errorf("failed to parse allocation file %s: %w", path, err)
	}

	if alloc.PerNodeResults == nil {
		alloc.PerNodeResults = make(map[measures.MeasureSet]*allocation.PerNodeBudgetAllocationResult)
	}

	return alloc, nil
}

func writeAllocationFile(path string, alloc *allocation.BudgetAllocation) error {
	data, err := json.MarshalIndent(alloc, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func readTemplate(path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // User-provided template path
	if err != nil {
		return "", err
	}

	return string(data), nil
}
