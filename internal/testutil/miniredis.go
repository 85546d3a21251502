package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// NewMiniredis starts an in-memory Redis that is closed with the test.
func NewMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()

	return miniredis.RunT(t)
}

// NewMiniredisClient starts an in-memory Redis and a client for it; the store,
// tracker and elector tests share the client the way the engine does.
func NewMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := NewMiniredis(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Logf("failed to close miniredis client: %v", err)
		}
	})

	return mr, client
}

// AsynqOptions points asynq clients and inspectors at a miniredis server.
func AsynqOptions(mr *miniredis.Miniredis) *asynq.RedisClientOpt {
	return &asynq.RedisClientOpt{Addr: mr.Addr()}
}
