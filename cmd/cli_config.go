package cmd

import (
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/dynalloc/pkg/costmodel"
	"github.com/ethpandaops/dynalloc/pkg/engine"
	"github.com/ethpandaops/dynalloc/pkg/redis"
	"github.com/ethpandaops/dynalloc/pkg/store"
)

// CLIConfig represents minimal configuration for offline and admin commands
type CLIConfig struct {
	// Logging level
	Logging string `yaml:"logging" default:"error" validate:"oneof=panic fatal error warn info debug trace"`

	// Redis configuration (optional, only needed by commands that touch the store or queue)
	Redis redis.Config `yaml:"redis"`

	// Worker queue (without prefix) that delivery tasks are sent to
	Worker struct {
		Queue string `yaml:"queue" default:"allocation"`
	} `yaml:"worker"`

	// Allocation parameter defaults and cost model used by offline passes
	Allocation map[string]any   `yaml:"allocation"`
	CostModel  costmodel.Config `yaml:"costModel"`
}

// LoadCLIConfig loads CLI configuration from the engine YAML file. A missing
// file yields the defaults.
func LoadCLIConfig(path string) (*CLIConfig, error) {
	if path == "" {
		path = "config.yaml"
	}

	config := &CLIConfig{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	// Try to read the file, but allow it to not exist
	yamlFile, err := os.ReadFile(path) //nolint:gosec // User-provided config file path
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(yamlFile, config); err != nil {
		return nil, err
	}

	if err := config.CostModel.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// loadEngineConfigFromFile loads the full service configuration
func loadEngineConfigFromFile(file string) (*engine.Config, error) {
	if file == "" {
		file = "config.yaml"
	}

	config := &engine.Config{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	yamlFile, err := os.ReadFile(file) //nolint:gosec // User-provided config file path
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(yamlFile, config); err != nil {
		return nil, err
	}

	return config, nil
}

// loadCampaignFile reads a campaign fixture and converts it
func loadCampaignFile(path string) (*store.CampaignFile, *store.Campaign, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided campaign file path
	if err != nil {
		return nil, nil, err
	}

	file := &store.CampaignFile{}
	if err := yaml.Unmarshal(data, file); err != nil {
		return nil, nil, fmt.Errorf("failed to parse campaign file %s: %w", path, err)
	}

	campaign, err := file.Campaign()
	if err != nil {
		return nil, nil, err
	}

	return file, campaign, nil
}
