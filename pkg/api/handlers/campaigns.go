package handlers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"

	"github.com/ethpandaops/dynalloc/pkg/measures"
	"github.com/ethpandaops/dynalloc/pkg/observability"
	"github.com/ethpandaops/dynalloc/pkg/store"
	"github.com/ethpandaops/dynalloc/pkg/tasks"
)

// CampaignsResponse lists stored campaign ids
type CampaignsResponse struct {
	Campaigns []string `json:"campaigns"`
	Total     int      `json:"total"`
}

// ValuationsResponse is the resolved valuation of every node
type ValuationsResponse struct {
	CampaignID string                                  `json:"campaignId"`
	Valuations map[measures.MeasureSet]decimal.Decimal `json:"valuations"`
	Total      int                                     `json:"total"`
}

// AllocateResponse describes a queued allocation pass
type AllocateResponse struct {
	CampaignID    string `json:"campaignId"`
	TaskID        string `json:"taskId"`
	Queue         string `json:"queue,omitempty"`
	AlreadyQueued bool   `json:"alreadyQueued"`
}

// ListCampaigns handles GET /api/v1/campaigns
func (s *Server) ListCampaigns(c fiber.Ctx) error {
	ids, err := s.store.ListCampaigns(c.Context())
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(CampaignsResponse{Campaigns: ids, Total: len(ids)})
}

// GetCampaign handles GET /api/v1/campaigns/:id
func (s *Server) GetCampaign(c fiber.Ctx) error {
	campaign, err := s.loadCampaign(c)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(campaign)
}

// PutCampaign handles PUT /api/v1/campaigns/:id. Delivery entries in the
// body are queued for ingestion after the campaign is stored.
func (s *Server) PutCampaign(c fiber.Ctx) error {
	id := c.Params("id")

	var file store.CampaignFile
	if err := json.Unmarshal(c.Body(), &file); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid campaign document: "+err.Error())
	}

	if file.ID != "" && file.ID != id {
		return ErrCampaignIDMismatch
	}

	file.ID = id

	campaign, err := file.Campaign()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if err := s.store.SaveCampaign(c.Context(), campaign); err != nil {
		return err
	}

	if len(file.Delivery) > 0 {
		if _, err := s.queue.EnqueueDelivery(c.Context(), tasks.DeliveryPayload{
			CampaignID: id,
			Records:    store.DeliveryRecords(file.Delivery),
			Trigger:    tasks.TriggerAPI,
		}); err != nil {
			return err
		}
	}

	s.log.WithFields(logrus.Fields{
		"campaign": id,
		"delivery": len(file.Delivery),
	}).Info("Stored campaign")

	return c.Status(fiber.StatusOK).JSON(campaign)
}

// DeleteCampaign handles DELETE /api/v1/campaigns/:id
func (s *Server) DeleteCampaign(c fiber.Ctx) error {
	id := c.Params("id")

	if err := s.store.DeleteCampaign(c.Context(), id); err != nil {
		if errors.Is(err, store.ErrCampaignNotFound) {
			return ErrCampaignNotFound
		}

		return err
	}

	observability.ForgetCampaign(id)
	s.log.WithField("campaign", id).Info("Deleted campaign")

	return c.SendStatus(fiber.StatusNoContent)
}

// GetAllocation handles GET /api/v1/campaigns/:id/allocation
func (s *Server) GetAllocation(c fiber.Ctx) error {
	alloc, err := s.store.GetAllocation(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrAllocationNotFound) {
			return ErrAllocationNotFound
		}

		return err
	}

	return c.Status(fiber.StatusOK).JSON(alloc)
}

// GetValuations handles GET /api/v1/campaigns/:id/valuations
func (s *Server) GetValuations(c fiber.Ctx) error {
	campaign, err := s.loadCampaign(c)
	if err != nil {
		return err
	}

	engine, err := s.allocator.Engine(campaign)
	if err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}

	valuations, err := engine.GetValuations(campaign.Definition)
	if err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	}

	return c.Status(fiber.StatusOK).JSON(ValuationsResponse{
		CampaignID: campaign.ID,
		Valuations: valuations,
		Total:      len(valuations),
	})
}

// Allocate handles POST /api/v1/campaigns/:id/allocate?force=true
func (s *Server) Allocate(c fiber.Ctx) error {
	campaign, err := s.loadCampaign(c)
	if err != nil {
		return err
	}

	force, err := cast.ToBoolE(c.Query("force", "false"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "force must be a boolean")
	}

	payload := tasks.AllocatePayload{
		CampaignID:   campaign.ID,
		ForceInitial: force,
		Trigger:      tasks.TriggerAPI,
	}

	response := AllocateResponse{CampaignID: campaign.ID, TaskID: payload.UniqueID()}

	info, err := s.queue.EnqueueAllocation(c.Context(), payload)
	switch {
	case errors.Is(err, asynq.ErrTaskIDConflict):
		response.AlreadyQueued = true
	case err != nil:
		return err
	default:
		response.Queue = info.Queue
	}

	s.log.WithFields(logrus.Fields{
		"campaign":       campaign.ID,
		"force_initial":  force,
		"already_queued": response.AlreadyQueued,
	}).Info("Allocation requested")

	return c.Status(fiber.StatusAccepted).JSON(response)
}

func (s *Server) loadCampaign(c fiber.Ctx) (*store.Campaign, error) {
	campaign, err := s.store.GetCampaign(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, store.ErrCampaignNotFound) {
			return nil, ErrCampaignNotFound
		}

		return nil, err
	}

	return campaign, nil
}
