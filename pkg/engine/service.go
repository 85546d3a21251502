package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // pprof is intentionally exposed when pprofAddr is configured
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dynalloc/pkg/api"
	"github.com/ethpandaops/dynalloc/pkg/costmodel"
	"github.com/ethpandaops/dynalloc/pkg/observability"
	"github.com/ethpandaops/dynalloc/pkg/scheduler"
	"github.com/ethpandaops/dynalloc/pkg/store"
	"github.com/ethpandaops/dynalloc/pkg/tasks"
	"github.com/ethpandaops/dynalloc/pkg/worker"
)

const shutdownTimeout = 10 * time.Second

// component is a long-running part of the engine
type component struct {
	name  string
	start func(ctx context.Context) error
	stop  func() error
}

// Service runs the allocation engine: worker, scheduler and API over a shared Redis
type Service struct {
	config *Config
	log    *logrus.Logger

	store     store.Store
	queue     *tasks.QueueManager
	scheduler scheduler.Service
	worker    worker.Service
	api       api.Service

	// components in start order; stopped in reverse
	components []component
	started    int

	servers []*http.Server

	redisClient *redis.Client
}

// NewService creates the engine service from a validated configuration
func NewService(log *logrus.Logger, cfg *Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	redisOptions, asynqOptions, err := cfg.Redis.ClientOptions()
	if err != nil {
		return nil, err
	}

	costs, err := costmodel.NewPerMeasure(&cfg.CostModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create cost model: %w", err)
	}

	redisClient := redis.NewClient(redisOptions)
	st := store.NewRedisStore(log, redisClient, cfg.Redis.Prefix)

	// Queues are prefixed like keys so deployments can share a Redis
	workerConfig := cfg.Worker
	workerConfig.Queue = cfg.Redis.PrefixQueue(cfg.Worker.Queue)

	queue := tasks.NewQueueManager(asynqOptions, workerConfig.Queue)
	allocator := tasks.NewAllocator(log, cfg.Allocation, costs)

	cleanup := func() {
		_ = queue.Close()
		_ = redisClient.Close()
	}

	workerService, err := worker.NewService(log, &workerConfig, tasks.NewTaskHandler(log, st, allocator), asynqOptions)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create worker service: %w", err)
	}

	schedulerService, err := scheduler.NewService(log, &cfg.Scheduler, redisClient, cfg.Redis.Prefix, st, queue)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create scheduler service: %w", err)
	}

	apiService := api.NewService(&cfg.API, st, queue, allocator, log)

	return &Service{
		log:         log,
		config:      cfg,
		redisClient: redisClient,
		store:       st,
		queue:       queue,
		scheduler:   schedulerService,
		worker:      workerService,
		api:         apiService,
		// Worker first so scheduled passes always have a consumer; API last
		// so on-demand passes are never accepted before then.
		components: []component{
			{name: "worker", start: workerService.Start, stop: workerService.Stop},
			{name: "scheduler", start: schedulerService.Start, stop: schedulerService.Stop},
			{name: "API", start: apiService.Start, stop: apiService.Stop},
		},
	}, nil
}

// Start brings up the side servers, checks Redis and starts every component
func (s *Service) Start(ctx context.Context) error {
	s.log.Info("Starting allocation engine...")

	observability.StartMetricsServer(s.log, s.config.MetricsAddr)

	if s.config.HealthCheckAddr != "" {
		s.serve("health check", s.config.HealthCheckAddr, s.healthHandler())
	}

	if s.config.PProfAddr != "" {
		// nil handler serves the pprof routes registered on the default mux
		s.serve("pprof", s.config.PProfAddr, nil)
	}

	if err := s.redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	for _, c := range s.components {
		if err := c.start(ctx); err != nil {
			return fmt.Errorf("failed to start %s: %w", c.name, err)
		}
		s.started++
	}

	s.log.WithFields(logrus.Fields{
		"queue":  s.config.Redis.PrefixQueue(s.config.Worker.Queue),
		"prefix": s.config.Redis.Prefix,
	}).Info("Allocation engine started successfully")

	return nil
}

// Stop shuts started components down in reverse order, then releases Redis
// and the side servers. Failures are logged and do not stop the shutdown.
func (s *Service) Stop() error {
	s.log.Info("Shutting down allocation engine...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := s.started - 1; i >= 0; i-- {
		s.logStop(s.components[i].name, s.components[i].stop())
	}
	s.started = 0

	s.logStop("queue manager", s.queue.Close())
	s.logStop("Redis client", s.redisClient.Close())
	s.logStop("metrics server", observability.StopMetricsServer(ctx))

	for _, srv := range s.servers {
		s.logStop(srv.Addr, srv.Shutdown(ctx))
	}
	s.servers = nil

	return nil
}

func (s *Service) logStop(name string, err error) {
	if err != nil {
		s.log.WithError(err).Errorf("Failed to stop %s", name)
	}
}

// healthHandler reports liveness on /health and Redis reachability on /ready
func (s *Service) healthHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, req *http.Request) {
		if err := s.redisClient.Ping(req.Context()).Err(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("redis unavailable"))

			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}

func (s *Service) serve(name, addr string, handler http.Handler) {
	log := s.log.WithFields(logrus.Fields{"server": name, "addr": addr})
	log.Info("Starting server")

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.servers = append(s.servers, srv)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Server failed")
		}
	}()
}
