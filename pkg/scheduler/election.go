package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	// ErrElectorStopped is returned when the elector is stopped while waiting for leadership
	ErrElectorStopped = errors.New("elector stopped while waiting for leadership")
)

// renewScript extends the lease only while it still holds our instance ID
//
//nolint:gochecknoglobals // Scripts are loaded once and shared
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only while it still holds our instance ID
//
//nolint:gochecknoglobals // Scripts are loaded once and shared
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaderElector decides which engine instance runs the campaign scheduler.
// Only the leader enqueues scheduled allocation passes.
type LeaderElector interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	WaitForLeadership(ctx context.Context) error
	PromotedChan() <-chan struct{}
	DemotedChan() <-chan struct{}
}

type elector struct {
	log        logrus.FieldLogger
	redis      *redis.Client
	instanceID string
	leaderKey  string
	lease      time.Duration
	renew      time.Duration

	isLeader bool
	mu       sync.RWMutex

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	promoted chan struct{}
	demoted  chan struct{}
}

// NewLeaderElector creates an elector contending for leaderKey with a lease
// that is renewed every renew interval. The client is shared and stays open
// when the elector stops.
func NewLeaderElector(log logrus.FieldLogger, client *redis.Client, leaderKey string, lease, renew time.Duration) LeaderElector {
	instanceID := uuid.New().String()

	return &elector{
		log: log.WithFields(logrus.Fields{
			"component":   "election",
			"instance_id": instanceID,
		}),
		redis:      client,
		instanceID: instanceID,
		leaderKey:  leaderKey,
		lease:      lease,
		renew:      renew,
		done:       make(chan struct{}),
		promoted:   make(chan struct{}, 1),
		demoted:    make(chan struct{}, 1),
	}
}

func (e *elector) Start(ctx context.Context) error {
	e.log.WithField("lease", e.lease).Info("Starting leader election")

	e.wg.Add(1)
	go e.run(ctx)

	return nil
}

func (e *elector) Stop() error {
	e.stopOnce.Do(func() {
		close(e.done)
		e.wg.Wait()

		e.release(context.Background())

		e.log.Info("Leader election stopped")
	})

	return nil
}

func (e *elector) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.renew)
	defer ticker.Stop()

	// First attempt does not wait for a tick
	e.transition(e.contend(ctx))

	for {
		select {
		case <-e.done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			e.transition(e.contend(ctx))
		}
	}
}

// contend renews our lease or takes a free one and reports whether we hold it
func (e *elector) contend(ctx context.Context) bool {
	if e.IsLeader() {
		renewed, err := renewScript.Run(ctx, e.redis, []string{e.leaderKey}, e.instanceID, e.lease.Milliseconds()).Int()
		if err != nil {
			e.log.WithError(err).Warn("Failed to renew leader lease")
			return false
		}

		return renewed == 1
	}

	acquired, err := e.redis.SetNX(ctx, e.leaderKey, e.instanceID, e.lease).Result()
	if err != nil {
		e.log.WithError(err).Debug("Failed to acquire leader lease")
		return false
	}

	return acquired
}

// transition updates the leader flag and signals promotion or demotion
func (e *elector) transition(leader bool) {
	e.mu.Lock()
	changed := e.isLeader != leader
	e.isLeader = leader
	e.mu.Unlock()

	if !changed {
		return
	}

	signal := e.demoted
	if leader {
		signal = e.promoted
		e.log.Info("Promoted to leader")
	} else {
		e.log.Info("Demoted from leader")
	}

	select {
	case signal <- struct{}{}:
	default:
	}
}

func (e *elector) release(ctx context.Context) {
	if !e.IsLeader() {
		return
	}

	deleted, err := releaseScript.Run(ctx, e.redis, []string{e.leaderKey}, e.instanceID).Int()
	switch {
	case err != nil:
		e.log.WithError(err).Warn("Failed to release leader lease")
	case deleted == 1:
		e.log.Info("Released leader lease")
	}

	e.mu.Lock()
	e.isLeader = false
	e.mu.Unlock()
}

func (e *elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.isLeader
}

func (e *elector) WaitForLeadership(ctx context.Context) error {
	if e.IsLeader() {
		return nil
	}

	select {
	case <-e.promoted:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context canceled while waiting for leadership: %w", ctx.Err())
	case <-e.done:
		return ErrElectorStopped
	}
}

func (e *elector) PromotedChan() <-chan struct{} {
	return e.promoted
}

func (e *elector) DemotedChan() <-chan struct{} {
	return e.demoted
}

var _ LeaderElector = (*elector)(nil)
