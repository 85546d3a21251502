// Package engine wires the allocation service together
package engine

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/ethpandaops/dynalloc/pkg/allocation"
	"github.com/ethpandaops/dynalloc/pkg/api"
	"github.com/ethpandaops/dynalloc/pkg/costmodel"
	"github.com/ethpandaops/dynalloc/pkg/redis"
	"github.com/ethpandaops/dynalloc/pkg/scheduler"
	"github.com/ethpandaops/dynalloc/pkg/worker"
)

// Config represents the complete engine configuration
type Config struct {
	// Core settings
	Logging         string `yaml:"logging" default:"info" validate:"oneof=panic fatal error warn info debug trace"`
	MetricsAddr     string `yaml:"metricsAddr" default:":9091"`
	HealthCheckAddr string `yaml:"healthCheckAddr"`
	PProfAddr       string `yaml:"pprofAddr"`

	// Dependencies
	Redis redis.Config `yaml:"redis"`

	// Scheduler enqueues periodic allocation passes
	Scheduler scheduler.Config `yaml:"scheduler"`

	// Worker runs allocation and delivery tasks
	Worker worker.Config `yaml:"worker"`

	// API service configuration
	API api.Config `yaml:"api"`

	// Allocation holds service-wide allocation parameters; campaigns override them
	Allocation map[string]any `yaml:"allocation"`

	// CostModel prices measure data
	CostModel costmodel.Config `yaml:"costModel"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Redis.Validate(); err != nil {
		return err
	}

	if err := c.Scheduler.Validate(); err != nil {
		return err
	}

	if err := c.Worker.Validate(); err != nil {
		return err
	}

	if err := c.API.Validate(); err != nil {
		return err
	}

	if err := c.CostModel.Validate(); err != nil {
		return err
	}

	// Service-wide parameters must be valid without campaign overrides
	if _, err := allocation.NewParameters(c.Allocation, nil); err != nil {
		return err
	}

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}
