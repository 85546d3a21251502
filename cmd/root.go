// Package cmd contains the CLI commands for dynalloc
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Global vars needed for cobra CLI
var (
	cfgFile   string
	logLevel  string
	logFormat string
	logger    *logrus.Logger
)

// rootCmd represents the base command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var rootCmd = &cobra.Command{
	Use:   "dynalloc",
	Short: "Dynamic budget allocation across audience measure combinations",
	Long: `dynalloc splits a campaign's budget across the lattice of measure
combinations it values. Each period it either seeds a cold-start allocation or
reallocates from observed delivery, exploring new combinations until enough
insight is gathered and then exploiting the best ranked ones.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Logs go to stderr so rendered allocations can be piped
	logger = logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func initConfig() {
	if cfgFile == "" {
		cfgFile = "./config.yaml"
	}

	if logFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, defaulting to info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

// applyConfigLogLevel uses the config file's level unless --log-level was given
func applyConfigLogLevel(cmd *cobra.Command, configured string) error {
	if cmd.Flags().Changed("log-level") || configured == "" {
		return nil
	}

	level, err := logrus.ParseLevel(configured)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	return nil
}
