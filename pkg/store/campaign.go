// Package store persists campaign state between allocation passes.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cast"

	"github.com/ethpandaops/dynalloc/pkg/delivery"
	"github.com/ethpandaops/dynalloc/pkg/measures"
	"github.com/ethpandaops/dynalloc/pkg/valuation"
)

// DefaultSchedule is used for campaigns that do not name one
const DefaultSchedule = "@every 24h"

var (
	// ErrCampaignIDRequired is returned when a campaign has no ID
	ErrCampaignIDRequired = errors.New("campaign ID is required")
	// ErrDefinitionRequired is returned when a campaign has no definition
	ErrDefinitionRequired = errors.New("campaign definition is required")
	// ErrInvalidBudget is returned for a non-positive total or a remaining budget outside [0, total]
	ErrInvalidBudget = errors.New("invalid campaign budget")
	// ErrInvalidWindow is returned when the campaign ends before it starts
	ErrInvalidWindow = errors.New("campaign end must be after campaign start")
	// ErrInvalidSchedule is returned when the schedule is not a valid cron spec
	ErrInvalidSchedule = errors.New("invalid campaign schedule")
)

//nolint:gochecknoglobals // shared parser, safe for concurrent use
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Campaign is the stored state of a campaign that is not derived by an allocation pass.
type Campaign struct {
	ID              string                        `json:"id"`
	Definition      *valuation.CampaignDefinition `json:"definition"`
	TotalBudget     float64                       `json:"totalBudget"`
	RemainingBudget float64                       `json:"remainingBudget"`
	CampaignStart   time.Time                     `json:"campaignStart"`
	CampaignEnd     time.Time                     `json:"campaignEnd"`
	// PeriodDuration of zero falls back to the engine's parameters
	PeriodDuration time.Duration `json:"periodDuration"`
	// Parameters override the service's allocation parameters for this campaign
	Parameters map[string]any `json:"parameters,omitempty"`
	Schedule   string         `json:"schedule"`
}

// Validate checks the campaign can be allocated and fills the default schedule
func (c *Campaign) Validate() error {
	if c.ID == "" {
		return ErrCampaignIDRequired
	}

	if c.Definition == nil {
		return ErrDefinitionRequired
	}

	if err := c.Definition.Validate(); err != nil {
		return fmt.Errorf("campaign %s: %w", c.ID, err)
	}

	if c.TotalBudget <= 0 || c.RemainingBudget < 0 || c.RemainingBudget > c.TotalBudget {
		return fmt.Errorf("%w: total %v, remaining %v", ErrInvalidBudget, c.TotalBudget, c.RemainingBudget)
	}

	if !c.CampaignEnd.After(c.CampaignStart) {
		return ErrInvalidWindow
	}

	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}

	if _, err := scheduleParser.Parse(c.Schedule); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidSchedule, c.Schedule, err)
	}

	return nil
}

// DeliveryEntry is the file form of one delivery record.
type DeliveryEntry struct {
	Measures    []int64   `yaml:"measures" json:"measures"`
	Hour        time.Time `yaml:"hour" json:"hour"`
	Impressions float64   `yaml:"impressions" json:"impressions"`
	MediaSpend  float64   `yaml:"mediaSpend" json:"mediaSpend"`
}

// DeliveryRecords converts file entries to delivery records.
func DeliveryRecords(entries []DeliveryEntry) []delivery.Record {
	records := make([]delivery.Record, 0, len(entries))
	for _, entry := range entries {
		records = append(records, delivery.Record{
			Measures:    measures.New(entry.Measures...),
			Hour:        entry.Hour,
			Impressions: entry.Impressions,
			MediaSpend:  entry.MediaSpend,
		})
	}

	return records
}

// CampaignFile is the YAML/JSON form of a campaign, used by the CLI and the API.
type CampaignFile struct {
	ID         string                   `yaml:"id" json:"id"`
	Definition valuation.DefinitionFile `yaml:"definition" json:"definition"`
	// RemainingBudget defaults to TotalBudget when omitted
	TotalBudget     float64        `yaml:"totalBudget" json:"totalBudget"`
	RemainingBudget *float64       `yaml:"remainingBudget" json:"remainingBudget,omitempty"`
	CampaignStart   time.Time      `yaml:"campaignStart" json:"campaignStart"`
	CampaignEnd     time.Time      `yaml:"campaignEnd" json:"campaignEnd"`
	PeriodDuration  string         `yaml:"periodDuration" json:"periodDuration,omitempty"`
	Parameters      map[string]any `yaml:"parameters" json:"parameters,omitempty"`
	Schedule        string         `yaml:"schedule" json:"schedule,omitempty"`
	// Delivery seeds the campaign's history; only read by offline passes
	Delivery []DeliveryEntry `yaml:"delivery" json:"delivery,omitempty"`
}

// Campaign converts the file form and validates the result.
func (f *CampaignFile) Campaign() (*Campaign, error) {
	def, err := f.Definition.Definition()
	if err != nil {
		return nil, fmt.Errorf("campaign %s: %w", f.ID, err)
	}

	campaign := &Campaign{
		ID:              f.ID,
		Definition:      def,
		TotalBudget:     f.TotalBudget,
		RemainingBudget: f.TotalBudget,
		CampaignStart:   f.CampaignStart.UTC(),
		CampaignEnd:     f.CampaignEnd.UTC(),
		Parameters:      f.Parameters,
		Schedule:        f.Schedule,
	}

	if f.RemainingBudget != nil {
		campaign.RemainingBudget = *f.RemainingBudget
	}

	if f.PeriodDuration != "" {
		d, err := cast.ToDurationE(f.PeriodDuration)
		if err != nil {
			return nil, fmt.Errorf("campaign %s: invalid period duration %q: %w", f.ID, f.PeriodDuration, err)
		}
		campaign.PeriodDuration = d
	}

	if err := campaign.Validate(); err != nil {
		return nil, err
	}

	return campaign, nil
}
