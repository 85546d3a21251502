package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/hibiken/asynq"
	"github.com/spf13/cast"

	"github.com/ethpandaops/dynalloc/pkg/tasks"
)

// QueueStatsResponse summarizes the task queue
type QueueStatsResponse struct {
	Queue     string `json:"queue"`
	Size      int    `json:"size"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Paused    bool   `json:"paused"`
}

// PendingResponse reports whether an allocation pass is waiting or running
type PendingResponse struct {
	CampaignID string `json:"campaignId"`
	TaskID     string `json:"taskId"`
	Pending    bool   `json:"pending"`
}

// GetQueueStats handles GET /api/v1/queue
func (s *Server) GetQueueStats(c fiber.Ctx) error {
	info, err := s.queue.GetQueueStats()
	if err != nil {
		// Queues are created by their first task
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return c.Status(fiber.StatusOK).JSON(QueueStatsResponse{})
		}

		return err
	}

	return c.Status(fiber.StatusOK).JSON(QueueStatsResponse{
		Queue:     info.Queue,
		Size:      info.Size,
		Pending:   info.Pending,
		Active:    info.Active,
		Scheduled: info.Scheduled,
		Retry:     info.Retry,
		Archived:  info.Archived,
		Processed: info.Processed,
		Failed:    info.Failed,
		Paused:    info.Paused,
	})
}

// GetAllocationPending handles GET /api/v1/campaigns/:id/allocation/pending.
// The optional periodStart query (unix seconds) selects a scheduled pass.
func (s *Server) GetAllocationPending(c fiber.Ctx) error {
	payload := tasks.AllocatePayload{CampaignID: c.Params("id")}

	if raw := c.Query("periodStart"); raw != "" {
		unix, err := cast.ToInt64E(raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "periodStart must be a unix timestamp")
		}
		payload.PeriodStart = time.Unix(unix, 0).UTC()
	}

	pending, err := s.queue.IsAllocationPending(payload)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(PendingResponse{
		CampaignID: payload.CampaignID,
		TaskID:     payload.UniqueID(),
		Pending:    pending,
	})
}
