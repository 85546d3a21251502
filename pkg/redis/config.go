// Package redis provides the Redis configuration shared by the store, the
// scheduler and the asynq task queue
package redis

import (
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key and queue unless configured otherwise
const DefaultPrefix = "dynalloc"

// Define static errors
var (
	ErrURLRequired = errors.New("redis URL is required")
)

// Config holds Redis client configuration
type Config struct {
	URL    string `yaml:"url" validate:"required,url"`
	Prefix string `yaml:"prefix" default:"dynalloc"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrURLRequired
	}

	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}

	return nil
}

// Options parses the configured URL into client options
func (c *Config) Options() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	return opts, nil
}

// PrefixKey adds the configured prefix to a Redis key
func (c *Config) PrefixKey(key string) string {
	if c.Prefix == "" {
		return key
	}

	return fmt.Sprintf("%s:%s", c.Prefix, key)
}

// PrefixQueue adds the configured prefix to an Asynq queue name
func (c *Config) PrefixQueue(queue string) string {
	if c.Prefix == "" {
		return queue
	}

	return fmt.Sprintf("%s:%s", c.Prefix, queue)
}

// ClientOptions parses the configured URL into go-redis options and asynq
// options for the same server
func (c *Config) ClientOptions() (*redis.Options, *asynq.RedisClientOpt, error) {
	opts, err := c.Options()
	if err != nil {
		return nil, nil, err
	}

	return opts, AsynqOptions(opts), nil
}

// AsynqOptions mirrors go-redis options for asynq, which manages its own pool
func AsynqOptions(opt *redis.Options) *asynq.RedisClientOpt {
	asynqOpt := &asynq.RedisClientOpt{
		Network:  opt.Network,
		Addr:     opt.Addr,
		Username: opt.Username,
		Password: opt.Password,
		DB:       opt.DB,
		PoolSize: opt.PoolSize,
	}

	asynqOpt.DialTimeout = opt.DialTimeout
	asynqOpt.ReadTimeout = opt.ReadTimeout
	asynqOpt.WriteTimeout = opt.WriteTimeout
	asynqOpt.TLSConfig = opt.TLSConfig

	return asynqOpt
}
