package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/dynalloc/pkg/allocation"
	"github.com/ethpandaops/dynalloc/pkg/observability"
	"github.com/ethpandaops/dynalloc/pkg/store"
)

const defaultLockTTL = 5 * time.Minute

var (
	// ErrCampaignBusy is returned when another worker holds the campaign lock
	ErrCampaignBusy = errors.New("campaign is being processed by another worker")
)

// TaskHandler handles campaign tasks
type TaskHandler struct {
	log       logrus.FieldLogger
	store     store.Store
	allocator *Allocator
	lockTTL   time.Duration
	now       func() time.Time
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(log logrus.FieldLogger, st store.Store, allocator *Allocator) *TaskHandler {
	return &TaskHandler{
		log:       log.WithField("component", "task-handler"),
		store:     st,
		allocator: allocator,
		lockTTL:   defaultLockTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// HandleAllocate runs one allocation pass and stores the result
func (h *TaskHandler) HandleAllocate(ctx context.Context, t *asynq.Task) error {
	var payload AllocatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		observability.RecordError("task-handler", "unmarshal_error")
		return fmt.Errorf("failed to unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	startTime := time.Now()
	log := h.log.WithFields(logrus.Fields{
		"campaign":      payload.CampaignID,
		"force_initial": payload.ForceInitial,
		"trigger":       payload.Trigger,
	})

	err := h.withLock(ctx, payload.CampaignID, func() error {
		return h.allocate(ctx, payload, log)
	})
	if err != nil {
		observability.RecordTaskComplete(TypeCampaignAllocate, "failed", time.Since(startTime).Seconds())
		log.WithError(err).Error("Allocation task failed")

		return err
	}

	observability.RecordTaskComplete(TypeCampaignAllocate, "success", time.Since(startTime).Seconds())

	return nil
}

func (h *TaskHandler) allocate(ctx context.Context, payload AllocatePayload, log logrus.FieldLogger) error {
	campaign, err := h.store.GetCampaign(ctx, payload.CampaignID)
	if err != nil {
		if errors.Is(err, store.ErrCampaignNotFound) {
			observability.RecordError("task-handler", "campaign_not_found")
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}

		return err
	}

	history, err := h.store.GetDelivery(ctx, campaign.ID)
	if err != nil {
		return err
	}

	previous, err := h.store.GetAllocation(ctx, campaign.ID)
	if err != nil && !errors.Is(err, store.ErrAllocationNotFound) {
		return err
	}

	periodStart := payload.PeriodStart
	if periodStart.IsZero() {
		periodStart = h.now()
	}

	result, err := h.allocator.Allocate(campaign, previous, history, periodStart, payload.ForceInitial)
	if err != nil {
		observability.RecordError("task-handler", "allocation_error")

		if errors.Is(err, allocation.ErrInvalidParameter) || errors.Is(err, allocation.ErrNoNodes) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}

		return err
	}

	if err := h.store.SaveAllocation(ctx, result); err != nil {
		observability.RecordError("task-handler", "save_error")
		return err
	}

	log.WithFields(logrus.Fields{
		"allocation_id": result.AllocationID,
		"phase":         result.Phase.String(),
		"period_budget": result.PeriodBudget,
	}).Info("Stored allocation")

	return nil
}

// HandleDelivery folds delivery records into the campaign's history
func (h *TaskHandler) HandleDelivery(ctx context.Context, t *asynq.Task) error {
	var payload DeliveryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		observability.RecordError("task-handler", "unmarshal_error")
		return fmt.Errorf("failed to unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	startTime := time.Now()

	err := h.withLock(ctx, payload.CampaignID, func() error {
		return h.ingest(ctx, payload)
	})
	if err != nil {
		observability.RecordTaskComplete(TypeCampaignDelivery, "failed", time.Since(startTime).Seconds())
		h.log.WithError(err).WithField("campaign", payload.CampaignID).Error("Delivery task failed")

		return err
	}

	observability.RecordTaskComplete(TypeCampaignDelivery, "success", time.Since(startTime).Seconds())

	return nil
}

func (h *TaskHandler) ingest(ctx context.Context, payload DeliveryPayload) error {
	if _, err := h.store.GetCampaign(ctx, payload.CampaignID); err != nil {
		if errors.Is(err, store.ErrCampaignNotFound) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}

		return err
	}

	history, err := h.store.GetDelivery(ctx, payload.CampaignID)
	if err != nil {
		return err
	}

	result, ingestErr := history.Ingest(payload.Records)
	observability.RecordDeliveryRecords(result.Applied, result.Skipped)

	log := h.log.WithFields(logrus.Fields{
		"campaign": payload.CampaignID,
		"applied":  result.Applied,
		"skipped":  result.Skipped,
	})

	if result.Skipped > 0 {
		log.Warn("Skipped delivery records for hours already processed")
	}

	// Records applied before an invalid one are kept
	if err := h.store.SaveDelivery(ctx, payload.CampaignID, history); err != nil {
		return err
	}

	if ingestErr != nil {
		observability.RecordError("task-handler", "invalid_delivery")
		return fmt.Errorf("%w: %w", ingestErr, asynq.SkipRetry)
	}

	log.Info("Ingested delivery records")

	return nil
}

func (h *TaskHandler) withLock(ctx context.Context, campaignID string, fn func() error) error {
	token, ok, err := h.store.Lock(ctx, campaignID, h.lockTTL)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("%w: %s", ErrCampaignBusy, campaignID)
	}

	defer func() {
		if err := h.store.Unlock(context.WithoutCancel(ctx), campaignID, token); err != nil {
			h.log.WithError(err).WithField("campaign", campaignID).Warn("Failed to release campaign lock")
		}
	}()

	return fn()
}

// Routes returns the task handler routes for Asynq
func (h *TaskHandler) Routes() map[string]asynq.HandlerFunc {
	return map[string]asynq.HandlerFunc{
		TypeCampaignAllocate: h.HandleAllocate,
		TypeCampaignDelivery: h.HandleDelivery,
	}
}
