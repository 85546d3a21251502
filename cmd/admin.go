package cmd

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ethpandaops/dynalloc/pkg/store"
	"github.com/ethpandaops/dynalloc/pkg/tasks"
)

// adminClients bundles the store and queue used by commands that talk to a running engine
type adminClients struct {
	client *goredis.Client
	store  store.Store
	queue  *tasks.QueueManager
}

func newAdminClients(ctx context.Context, cfg *CLIConfig) (*adminClients, error) {
	if err := cfg.Redis.Validate(); err != nil {
		return nil, err
	}

	opts, asynqOpts, err := cfg.Redis.ClientOptions()
	if err != nil {
		return nil, err
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &adminClients{
		client: client,
		store:  store.NewRedisStore(logger, client, cfg.Redis.Prefix),
		queue:  tasks.NewQueueManager(asynqOpts, cfg.Redis.PrefixQueue(cfg.Worker.Queue)),
	}, nil
}

func (a *adminClients) Close() {
	if err := a.queue.Close(); err != nil {
		logger.WithError(err).Error("Failed to close queue manager")
	}

	if err := a.client.Close(); err != nil {
		logger.WithError(err).Error("Failed to close Redis client")
	}
}
