// Package scheduler enqueues periodic allocation passes for every stored campaign
package scheduler

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidTickInterval is returned when the tick interval is not positive
	ErrInvalidTickInterval = errors.New("tick interval must be positive")
	// ErrInvalidResync is returned when the resync schedule cannot be parsed
	ErrInvalidResync = errors.New("invalid resync schedule")
	// ErrInvalidLeaderLease is returned when the lease is not longer than its renew interval
	ErrInvalidLeaderLease = errors.New("leader lease must be longer than its renew interval")
)

// Config defines scheduler configuration
type Config struct {
	// Resync is the cron spec on which the campaign list is reloaded from the store
	Resync string `yaml:"resync" default:"@every 1m"`
	// TickInterval is how often due campaigns are checked
	TickInterval time.Duration `yaml:"tickInterval" default:"1s"`
	// TaskTimeout bounds a single scheduled allocation pass
	TaskTimeout time.Duration `yaml:"taskTimeout" default:"5m"`

	// LeaderLease is how long a leader keeps the scheduler after its last renewal
	LeaderLease time.Duration `yaml:"leaderLease" default:"10s"`
	// LeaderRenew is how often the lease is renewed or contended for
	LeaderRenew time.Duration `yaml:"leaderRenew" default:"3s"`
}

// Validate checks if the scheduler configuration is valid
func (c *Config) Validate() error {
	if c.TickInterval <= 0 {
		return ErrInvalidTickInterval
	}

	if _, err := scheduleParser.Parse(c.Resync); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidResync, c.Resync, err)
	}

	if c.LeaderRenew <= 0 || c.LeaderLease <= c.LeaderRenew {
		return ErrInvalidLeaderLease
	}

	return nil
}
