package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dynalloc/pkg/allocation"
	"github.com/ethpandaops/dynalloc/pkg/delivery"
	"github.com/ethpandaops/dynalloc/pkg/measures"
)

const (
	campaignsKey = "campaigns"

	kindCampaign   = "definition"
	kindDelivery   = "delivery"
	kindAllocation = "allocation"
	kindLock       = "lock"
)

var (
	// ErrCampaignNotFound is returned when a campaign is not stored
	ErrCampaignNotFound = errors.New("campaign not found")
	// ErrAllocationNotFound is returned when a campaign has not been allocated yet
	ErrAllocationNotFound = errors.New("allocation not found")
	// ErrLockNotHeld is returned when releasing a lock owned by someone else
	ErrLockNotHeld = errors.New("campaign lock not held")
)

// Store persists campaigns, their delivery history and their last allocation.
type Store interface {
	// SaveCampaign validates and stores a campaign, registering its ID
	SaveCampaign(ctx context.Context, campaign *Campaign) error

	// GetCampaign returns ErrCampaignNotFound for unknown IDs
	GetCampaign(ctx context.Context, id string) (*Campaign, error)

	// ListCampaigns returns every registered campaign ID, sorted
	ListCampaigns(ctx context.Context) ([]string, error)

	// DeleteCampaign removes a campaign and everything stored for it
	DeleteCampaign(ctx context.Context, id string) error

	// SaveDelivery replaces the delivery history of a campaign
	SaveDelivery(ctx context.Context, id string, collection delivery.Collection) error

	// GetDelivery returns an empty collection when nothing was ingested yet
	GetDelivery(ctx context.Context, id string) (delivery.Collection, error)

	// SaveAllocation stores the result of a pass, without its delivery metrics
	SaveAllocation(ctx context.Context, alloc *allocation.BudgetAllocation) error

	// GetAllocation returns ErrAllocationNotFound before the first pass
	GetAllocation(ctx context.Context, id string) (*allocation.BudgetAllocation, error)

	// Lock takes an exclusive lease on a campaign; ok is false if another holder has it
	Lock(ctx context.Context, id string, ttl time.Duration) (token string, ok bool, err error)

	// Unlock releases a lease taken by Lock
	Unlock(ctx context.Context, id, token string) error
}

// unlockScript deletes the lock only if it still holds the caller's token
//
//nolint:gochecknoglobals // scripts are safe to share
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisStore struct {
	log    logrus.FieldLogger
	redis  *redis.Client
	prefix string
}

// NewRedisStore creates a store keeping JSON documents in Redis
func NewRedisStore(log logrus.FieldLogger, client *redis.Client, prefix string) Store {
	return &redisStore{
		log:    log.WithField("component", "store"),
		redis:  client,
		prefix: prefix,
	}
}

func (s *redisStore) key(parts ...string) string {
	key := s.prefix
	for _, part := range parts {
		if key == "" {
			key = part

			continue
		}
		key += ":" + part
	}

	return key
}

func (s *redisStore) campaignKey(id, kind string) string {
	return s.key("campaign", id, kind)
}

func (s *redisStore) SaveCampaign(ctx context.Context, campaign *Campaign) error {
	if err := campaign.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(campaign)
	if err != nil {
		return fmt.Errorf("failed to encode campaign %s: %w", campaign.ID, err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.campaignKey(campaign.ID, kindCampaign), data, 0)
	pipe.SAdd(ctx, s.key(campaignsKey), campaign.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save campaign %s: %w", campaign.ID, err)
	}

	s.log.WithField("campaign", campaign.ID).Debug("Saved campaign")

	return nil
}

func (s *redisStore) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	var campaign Campaign
	if err := s.getJSON(ctx, s.campaignKey(id, kindCampaign), &campaign); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrCampaignNotFound, id)
		}

		return nil, fmt.Errorf("failed to load campaign %s: %w", id, err)
	}

	return &campaign, nil
}

func (s *redisStore) ListCampaigns(ctx context.Context) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.key(campaignsKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	slices.Sort(ids)

	return ids, nil
}

func (s *redisStore) DeleteCampaign(ctx context.Context, id string) error {
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx,
		s.campaignKey(id, kindCampaign),
		s.campaignKey(id, kindDelivery),
		s.campaignKey(id, kindAllocation),
	)
	removed := pipe.SRem(ctx, s.key(campaignsKey), id)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete campaign %s: %w", id, err)
	}

	if removed.Val() == 0 {
		return fmt.Errorf("%w: %s", ErrCampaignNotFound, id)
	}

	s.log.WithField("campaign", id).Info("Deleted campaign")

	return nil
}

func (s *redisStore) SaveDelivery(ctx context.Context, id string, collection delivery.Collection) error {
	return s.setJSON(ctx, s.campaignKey(id, kindDelivery), collection)
}

func (s *redisStore) GetDelivery(ctx context.Context, id string) (delivery.Collection, error) {
	collection := make(delivery.Collection)

	if err := s.getJSON(ctx, s.campaignKey(id, kindDelivery), &collection); err != nil {
		if errors.Is(err, redis.Nil) {
			return make(delivery.Collection), nil
		}

		return nil, fmt.Errorf("failed to load delivery for %s: %w", id, err)
	}

	return collection, nil
}

func (s *redisStore) SaveAllocation(ctx context.Context, alloc *allocation.BudgetAllocation) error {
	return s.setJSON(ctx, s.campaignKey(alloc.CampaignID, kindAllocation), alloc)
}

func (s *redisStore) GetAllocation(ctx context.Context, id string) (*allocation.BudgetAllocation, error) {
	var alloc allocation.BudgetAllocation
	if err := s.getJSON(ctx, s.campaignKey(id, kindAllocation), &alloc); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrAllocationNotFound, id)
		}

		return nil, fmt.Errorf("failed to load allocation for %s: %w", id, err)
	}

	if alloc.PerNodeResults == nil {
		alloc.PerNodeResults = make(map[measures.MeasureSet]*allocation.PerNodeBudgetAllocationResult)
	}

	return &alloc, nil
}

func (s *redisStore) Lock(ctx context.Context, id string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()

	ok, err := s.redis.SetNX(ctx, s.campaignKey(id, kindLock), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to lock campaign %s: %w", id, err)
	}

	if !ok {
		s.log.WithField("campaign", id).Debug("Campaign lock held elsewhere")

		return "", false, nil
	}

	return token, true, nil
}

func (s *redisStore) Unlock(ctx context.Context, id, token string) error {
	released, err := unlockScript.Run(ctx, s.redis, []string{s.campaignKey(id, kindLock)}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to unlock campaign %s: %w", id, err)
	}

	if released == 0 {
		return fmt.Errorf("%w: %s", ErrLockNotHeld, id)
	}

	return nil
}

func (s *redisStore) setJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	if err := s.redis.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}

	return nil
}

func (s *redisStore) getJSON(ctx context.Context, key string, out any) error {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}

	return nil
}

// Verify interface compliance at compile time
var _ Store = (*redisStore)(nil)
