package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// scheduleTracker records when each campaign's allocation pass was last enqueued
type scheduleTracker interface {
	// GetLastRun returns zero time if the campaign has never been scheduled
	GetLastRun(ctx context.Context, campaignID string) (time.Time, error)

	// SetLastRun persists the timestamp with no TTL
	SetLastRun(ctx context.Context, campaignID string, timestamp time.Time) error

	// DeleteLastRun forgets a campaign that is no longer stored
	DeleteLastRun(ctx context.Context, campaignID string) error

	// GetAllCampaignIDs returns every campaign ID with a recorded run
	GetAllCampaignIDs(ctx context.Context) ([]string, error)
}

type redisScheduleTracker struct {
	log       logrus.FieldLogger
	redis     *redis.Client
	keyPrefix string // <prefix>:scheduler:campaign:
}

// newScheduleTracker creates a Redis-backed schedule tracker. keyPrefix is
// prepended to every campaign ID.
func newScheduleTracker(log logrus.FieldLogger, redisClient *redis.Client, keyPrefix string) scheduleTracker {
	return &redisScheduleTracker{
		log:       log.WithField("component", "schedule_tracker"),
		redis:     redisClient,
		keyPrefix: keyPrefix,
	}
}

func (r *redisScheduleTracker) GetLastRun(ctx context.Context, campaignID string) (time.Time, error) {
	key := r.keyPrefix + campaignID
	val, err := r.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Key doesn't exist, return zero time (not an error)
			r.log.WithField("campaign", campaignID).Debug("No last run found for campaign")
			return time.Time{}, nil
		}
		r.log.WithError(err).WithField("campaign", campaignID).Error("Failed to get last run from Redis")
		return time.Time{}, fmt.Errorf("failed to get last run for campaign %s: %w", campaignID, err)
	}

	timestamp, err := time.Parse(time.RFC3339, val)
	if err != nil {
		r.log.WithError(err).
			WithFields(logrus.Fields{
				"campaign":  campaignID,
				"raw_value": val,
			}).
			Error("Failed to parse timestamp")
		return time.Time{}, fmt.Errorf("failed to parse timestamp for campaign %s: %w", campaignID, err)
	}

	r.log.WithFields(logrus.Fields{
		"campaign": campaignID,
		"last_run": timestamp,
	}).Debug("Retrieved last run for campaign")

	return timestamp, nil
}

func (r *redisScheduleTracker) SetLastRun(ctx context.Context, campaignID string, timestamp time.Time) error {
	key := r.keyPrefix + campaignID
	val := timestamp.Format(time.RFC3339)

	err := r.redis.Set(ctx, key, val, 0).Err()
	if err != nil {
		r.log.WithError(err).
			WithFields(logrus.Fields{
				"campaign":  campaignID,
				"timestamp": timestamp,
			}).
			Error("Failed to set last run in Redis")
		return fmt.Errorf("failed to set last run for campaign %s: %w", campaignID, err)
	}

	r.log.WithFields(logrus.Fields{
		"campaign":  campaignID,
		"timestamp": timestamp,
	}).Debug("Updated last run for campaign")

	return nil
}

func (r *redisScheduleTracker) DeleteLastRun(ctx context.Context, campaignID string) error {
	key := r.keyPrefix + campaignID

	err := r.redis.Del(ctx, key).Err()
	if err != nil {
		r.log.WithError(err).
			WithField("campaign", campaignID).
			Error("Failed to delete last run from Redis")
		return fmt.Errorf("failed to delete last run for campaign %s: %w", campaignID, err)
	}

	r.log.WithField("campaign", campaignID).Debug("Deleted last run for campaign")

	return nil
}

func (r *redisScheduleTracker) GetAllCampaignIDs(ctx context.Context) ([]string, error) {
	pattern := r.keyPrefix + "*"

	// Count is a per-iteration hint; the iterator walks every matching key
	const scanBatchSize = 100

	var campaignIDs []string

	iter := r.redis.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		campaignID := key[len(r.keyPrefix):]
		campaignIDs = append(campaignIDs, campaignID)
	}

	if err := iter.Err(); err != nil {
		r.log.WithError(err).Error("Failed to scan campaign IDs from Redis")

		return nil, fmt.Errorf("failed to scan campaign IDs: %w", err)
	}

	r.log.WithField("count", len(campaignIDs)).Debug("Retrieved all tracked campaign IDs")

	return campaignIDs, nil
}

// Verify interface compliance at compile time
var _ scheduleTracker = (*redisScheduleTracker)(nil)
