package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/dynalloc/pkg/engine"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the allocation engine",
	Long: `Starts the worker, scheduler and API against the configured Redis and
runs until SIGINT or SIGTERM.`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runEngine(cmd *cobra.Command, _ []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	config, err := loadEngineConfigFromFile(cfgFile)
	if err != nil {
		return err
	}

	if err := applyConfigLogLevel(cmd, config.Logging); err != nil {
		return err
	}

	logger.WithField("config", cfgFile).Info("Configuration loaded")

	svc, err := engine.NewService(logger, config)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		_ = svc.Stop()
		return err
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	cancel()

	// Graceful shutdown
	return svc.Stop()
}
