package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dynalloc/pkg/observability"
	"github.com/ethpandaops/dynalloc/pkg/store"
	"github.com/ethpandaops/dynalloc/pkg/tasks"
)

// Service defines the public interface for the scheduler
type Service interface {
	// Start joins leader election and schedules allocation passes while leading
	Start(ctx context.Context) error

	// Stop gracefully shuts down the scheduler service
	Stop() error
}

// service enqueues scheduled allocation passes for stored campaigns
type service struct {
	log logrus.FieldLogger
	cfg *Config

	done chan struct{}
	wg   sync.WaitGroup

	store   store.Store
	elector LeaderElector
	tracker scheduleTracker
	ticker  *tickerServiceImpl
	cron    *cron.Cron

	leaderMu     sync.Mutex
	leaderCancel context.CancelFunc

	now func() time.Time
}

// NewService creates a new scheduler service. Keys live under prefix so
// several deployments can share one Redis.
func NewService(
	log logrus.FieldLogger,
	cfg *Config,
	client *redis.Client,
	prefix string,
	st store.Store,
	enqueuer tasks.Enqueuer,
) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log = log.WithField("service", "scheduler")
	tracker := newScheduleTracker(log, client, prefix+":scheduler:campaign:")

	return &service{
		log:     log,
		cfg:     cfg,
		done:    make(chan struct{}),
		store:   st,
		elector: NewLeaderElector(log, client, prefix+":scheduler:leader", cfg.LeaderLease, cfg.LeaderRenew),
		tracker: tracker,
		ticker:  newTickerService(log, tracker, enqueuer, cfg.TickInterval, cfg.TaskTimeout),
		cron:    cron.New(cron.WithParser(scheduleParser), cron.WithLocation(time.UTC)),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start joins leader election and starts the resync cron
func (s *service) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.Resync, func() {
		if !s.elector.IsLeader() {
			return
		}

		if err := s.resync(ctx); err != nil {
			s.log.WithError(err).Error("Failed to resync campaign schedules")
		}
	}); err != nil {
		return fmt.Errorf("failed to register resync job: %w", err)
	}

	if err := s.elector.Start(ctx); err != nil {
		return fmt.Errorf("failed to start leader election: %w", err)
	}

	s.cron.Start()

	s.wg.Add(1)
	go s.handleLeaderElection(ctx)

	s.log.Info("Scheduler service started (participating in leader election)")

	return nil
}

// Stop gracefully shuts down the scheduler service
func (s *service) Stop() error {
	close(s.done)

	<-s.cron.Stop().Done()

	s.stopLeading()

	if err := s.elector.Stop(); err != nil {
		s.log.WithError(err).Warn("Failed to stop leader elector")
	}

	if err := s.ticker.Stop(); err != nil {
		s.log.WithError(err).Warn("Failed to stop ticker")
	}

	s.wg.Wait()

	s.log.Info("Scheduler service stopped successfully")

	return nil
}

// handleLeaderElection runs the ticker while this instance leads
func (s *service) handleLeaderElection(ctx context.Context) {
	defer s.wg.Done()

	promoted := s.elector.PromotedChan()
	demoted := s.elector.DemotedChan()

	for {
		select {
		case <-s.done:
			return

		case <-ctx.Done():
			s.stopLeading()
			return

		case <-promoted:
			s.log.Info("Promoted to scheduler leader - starting ticker")

			if err := s.resync(ctx); err != nil {
				s.log.WithError(err).Error("Failed to load campaign schedules as leader")
			}

			s.startLeading(ctx)

		case <-demoted:
			s.log.Info("Demoted from scheduler leader - stopping ticker")
			s.stopLeading()
		}
	}
}

func (s *service) startLeading(ctx context.Context) {
	s.leaderMu.Lock()
	defer s.leaderMu.Unlock()

	if s.leaderCancel != nil {
		s.log.Warn("Received promotion but ticker already running")
		return
	}

	leaderCtx, cancel := context.WithCancel(ctx)
	s.leaderCancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := s.ticker.Start(leaderCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.WithError(err).Error("Ticker stopped with error")
		}
	}()
}

func (s *service) stopLeading() {
	s.leaderMu.Lock()
	defer s.leaderMu.Unlock()

	if s.leaderCancel != nil {
		s.leaderCancel()
		s.leaderCancel = nil
	}
}

// resync reloads campaign schedules from the store and forgets the run
// history of campaigns that no longer exist
func (s *service) resync(ctx context.Context) error {
	ids, err := s.store.ListCampaigns(ctx)
	if err != nil {
		return fmt.Errorf("failed to list campaigns: %w", err)
	}

	now := s.now()
	scheduled := make([]scheduledCampaign, 0, len(ids))
	known := make(map[string]struct{}, len(ids))

	for _, id := range ids {
		campaign, err := s.store.GetCampaign(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrCampaignNotFound) {
				continue
			}

			return fmt.Errorf("failed to load campaign %s: %w", id, err)
		}

		known[id] = struct{}{}

		if !now.Before(campaign.CampaignEnd) {
			s.log.WithField("campaign", id).Debug("Campaign has ended, not scheduling")
			continue
		}

		entry, err := newScheduledCampaign(id, campaign.Schedule)
		if err != nil {
			observability.RecordError("scheduler", "invalid_schedule")
			s.log.WithError(err).Warn("Skipping campaign with invalid schedule")

			continue
		}

		scheduled = append(scheduled, entry)
	}

	s.ticker.SetCampaigns(scheduled)
	observability.RecordScheduledCampaigns(len(scheduled))

	tracked, err := s.tracker.GetAllCampaignIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tracked campaigns: %w", err)
	}

	removed := 0

	for _, id := range tracked {
		if _, ok := known[id]; ok {
			continue
		}

		if err := s.tracker.DeleteLastRun(ctx, id); err != nil {
			s.log.WithError(err).WithField("campaign", id).Warn("Failed to delete stale last run")
			continue
		}

		removed++
	}

	s.log.WithFields(logrus.Fields{
		"campaigns": len(ids),
		"scheduled": len(scheduled),
		"removed":   removed,
	}).Info("Campaign schedules resynced")

	return nil
}
