// Package handlers implements the campaign REST endpoints.
package handlers

import (
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dynalloc/pkg/store"
	"github.com/ethpandaops/dynalloc/pkg/tasks"
)

// Server serves stored campaign state and queues allocation passes
type Server struct {
	store     store.Store
	queue     tasks.Queue
	allocator *tasks.Allocator
	log       logrus.FieldLogger
}

// NewServer creates a new API server instance
func NewServer(st store.Store, queue tasks.Queue, allocator *tasks.Allocator, log logrus.FieldLogger) *Server {
	return &Server{
		store:     st,
		queue:     queue,
		allocator: allocator,
		log:       log.WithField("component", "api.handlers"),
	}
}

// Register mounts the campaign routes on router
func (s *Server) Register(router fiber.Router) {
	router.Get("/queue", s.GetQueueStats)

	campaigns := router.Group("/campaigns")

	campaigns.Get("/", s.ListCampaigns)
	campaigns.Get("/:id", s.GetCampaign)
	campaigns.Put("/:id", s.PutCampaign)
	campaigns.Delete("/:id", s.DeleteCampaign)
	campaigns.Get("/:id/allocation", s.GetAllocation)
	campaigns.Get("/:id/allocation/pending", s.GetAllocationPending)
	campaigns.Get("/:id/valuations", s.GetValuations)
	campaigns.Post("/:id/allocate", s.Allocate)
}
