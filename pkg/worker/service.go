// Package worker runs the asynq server that processes campaign tasks
package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Service defines the public interface for the worker service
type Service interface {
	// Start initializes and starts the worker service
	Start(ctx context.Context) error

	// Stop gracefully shuts down the worker service
	Stop() error
}

// Router supplies the task handlers served by the worker
type Router interface {
	Routes() map[string]asynq.HandlerFunc
}

// service encapsulates the worker application logic
type service struct {
	config *Config
	log    logrus.FieldLogger

	router   Router
	redisOpt *asynq.RedisClientOpt

	server *asynq.Server
}

// NewService creates a new worker service
func NewService(log logrus.FieldLogger, cfg *Config, router Router, redisOpt *asynq.RedisClientOpt) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &service{
		log:      log.WithField("service", "worker"),
		config:   cfg,
		router:   router,
		redisOpt: redisOpt,
	}, nil
}

// NewServeMux registers every route of the router
func NewServeMux(router Router) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for taskType, handlerFunc := range router.Routes() {
		mux.HandleFunc(taskType, handlerFunc)
	}

	return mux
}

// Start initializes and starts the worker service
func (s *service) Start(_ context.Context) error {
	srv := asynq.NewServer(s.redisOpt, asynq.Config{
		Concurrency:     s.config.Concurrency,
		Queues:          map[string]int{s.config.Queue: 10},
		ShutdownTimeout: s.config.ShutdownTimeout,
		Logger:          s.log.WithField("component", "asynq"),
	})

	mux := NewServeMux(s.router)

	s.log.WithFields(logrus.Fields{
		"queue":       s.config.Queue,
		"concurrency": s.config.Concurrency,
	}).Info("Starting worker service")

	// Start returns once the processors are running; Shutdown in Stop drains them
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}

	s.server = srv

	s.log.Info("Worker service started successfully")

	return nil
}

// Stop gracefully shuts down the worker service
func (s *service) Stop() error {
	if s.server != nil {
		s.server.Shutdown()
	}

	s.log.Info("Worker service stopped successfully")

	return nil
}

// Ensure service implements the interface
var _ Service = (*service)(nil)
