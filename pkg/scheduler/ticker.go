package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dynalloc/pkg/tasks"
)

//nolint:gochecknoglobals // shared parser, safe for concurrent use
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// tickerService enqueues allocation passes for campaigns whose schedule is due
type tickerService interface {
	// Start runs the tick loop until ctx is canceled or Stop is called
	Start(ctx context.Context) error

	// Stop ends the tick loop
	Stop() error

	// SetCampaigns replaces the scheduled campaigns
	SetCampaigns(campaigns []scheduledCampaign)
}

// scheduledCampaign is a campaign with a parsed allocation schedule
type scheduledCampaign struct {
	CampaignID string
	Spec       string
	Schedule   cron.Schedule
	nextRun    *time.Time // cached to avoid a Redis lookup per tick
}

// newScheduledCampaign parses the campaign's cron spec
func newScheduledCampaign(campaignID, spec string) (scheduledCampaign, error) {
	schedule, err := scheduleParser.Parse(spec)
	if err != nil {
		return scheduledCampaign{}, fmt.Errorf("invalid schedule %q for campaign %s: %w", spec, campaignID, err)
	}

	return scheduledCampaign{
		CampaignID: campaignID,
		Spec:       spec,
		Schedule:   schedule,
	}, nil
}

type tickerServiceImpl struct {
	log         logrus.FieldLogger
	tracker     scheduleTracker
	enqueuer    tasks.Enqueuer
	interval    time.Duration
	taskTimeout time.Duration

	campaigns   []scheduledCampaign
	campaignsMu sync.Mutex

	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// newTickerService creates a new ticker service
func newTickerService(
	log logrus.FieldLogger,
	tracker scheduleTracker,
	enqueuer tasks.Enqueuer,
	interval, taskTimeout time.Duration,
) *tickerServiceImpl {
	return &tickerServiceImpl{
		log:         log.WithField("component", "ticker"),
		tracker:     tracker,
		enqueuer:    enqueuer,
		interval:    interval,
		taskTimeout: taskTimeout,
		done:        make(chan struct{}),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (t *tickerServiceImpl) SetCampaigns(campaigns []scheduledCampaign) {
	t.campaignsMu.Lock()
	defer t.campaignsMu.Unlock()

	// Keep cached next runs of campaigns whose schedule did not change
	cached := make(map[string]scheduledCampaign, len(t.campaigns))
	for _, c := range t.campaigns {
		cached[c.CampaignID] = c
	}

	for i := range campaigns {
		if prev, ok := cached[campaigns[i].CampaignID]; ok && prev.Spec == campaigns[i].Spec {
			campaigns[i].nextRun = prev.nextRun
		}
	}

	t.campaigns = campaigns
}

func (t *tickerServiceImpl) Start(ctx context.Context) error {
	t.log.WithField("interval", t.interval).Info("Starting ticker service")

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.log.Info("Ticker context canceled, stopping")
			return ctx.Err()
		case <-t.done:
			t.log.Info("Ticker stopped via Stop()")
			return nil
		case <-ticker.C:
			t.checkSchedules(ctx)
		}
	}
}

func (t *tickerServiceImpl) checkSchedules(ctx context.Context) {
	now := t.now()

	t.campaignsMu.Lock()
	defer t.campaignsMu.Unlock()

	for i := range t.campaigns {
		campaign := &t.campaigns[i]

		if campaign.nextRun != nil && now.Before(*campaign.nextRun) {
			continue
		}

		lastRun, err := t.tracker.GetLastRun(ctx, campaign.CampaignID)
		if err != nil {
			t.log.WithError(err).WithField("campaign", campaign.CampaignID).Warn("Failed to get last run, will retry next tick")

			continue
		}

		// A campaign that never ran is due immediately
		nextRun := now
		if !lastRun.IsZero() {
			nextRun = campaign.Schedule.Next(lastRun)
		}
		campaign.nextRun = &nextRun

		if now.Before(nextRun) {
			continue
		}

		if err := t.enqueue(ctx, campaign.CampaignID, now); err != nil {
			t.log.WithError(err).WithField("campaign", campaign.CampaignID).Error("Failed to enqueue allocation")

			continue
		}

		if err := t.tracker.SetLastRun(ctx, campaign.CampaignID, now); err != nil {
			t.log.WithError(err).WithField("campaign", campaign.CampaignID).Error("Failed to update last run timestamp")
		}

		updated := campaign.Schedule.Next(now)
		campaign.nextRun = &updated
	}
}

func (t *tickerServiceImpl) enqueue(ctx context.Context, campaignID string, now time.Time) error {
	payload := tasks.AllocatePayload{
		CampaignID:  campaignID,
		PeriodStart: now.Truncate(time.Second),
		Trigger:     tasks.TriggerSchedule,
		EnqueuedAt:  now,
	}

	info, err := t.enqueuer.EnqueueAllocation(ctx, payload, asynq.Timeout(t.taskTimeout))
	if err != nil {
		// The same period is already queued
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			t.log.WithField("campaign", campaignID).Debug("Allocation already queued, skipping")

			return nil
		}

		return err
	}

	t.log.WithFields(logrus.Fields{
		"campaign":     campaignID,
		"task_id":      info.ID,
		"queue":        info.Queue,
		"period_start": payload.PeriodStart,
	}).Info("Enqueued scheduled allocation")

	return nil
}

func (t *tickerServiceImpl) Stop() error {
	t.log.Info("Stopping ticker service")

	t.stopOnce.Do(func() { close(t.done) })

	return nil
}

// Verify interface compliance at compile time
var _ tickerService = (*tickerServiceImpl)(nil)
