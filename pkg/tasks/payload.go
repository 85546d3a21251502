// Package tasks provides the asynq tasks that drive allocation passes
package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ethpandaops/dynalloc/pkg/delivery"
)

const (
	// TypeCampaignAllocate is the task type for an allocation pass
	TypeCampaignAllocate = "campaign:allocate"
	// TypeCampaignDelivery is the task type for folding delivery records into a campaign's history
	TypeCampaignDelivery = "campaign:delivery"

	// QueueName is the queue every campaign task is routed to
	QueueName = "allocation"
)

const (
	// TriggerSchedule marks passes enqueued by the scheduler
	TriggerSchedule = "schedule"
	// TriggerAPI marks passes requested over HTTP
	TriggerAPI = "api"
	// TriggerCLI marks tasks enqueued from the command line
	TriggerCLI = "cli"
)

// AllocatePayload requests one allocation pass for a campaign
type AllocatePayload struct {
	CampaignID   string `json:"campaign_id"`
	ForceInitial bool   `json:"force_initial"`
	// PeriodStart of zero means the time the pass runs
	PeriodStart time.Time `json:"period_start"`
	Trigger     string    `json:"trigger"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// UniqueID identifies the pass so a period is allocated at most once
func (p AllocatePayload) UniqueID() string {
	if p.PeriodStart.IsZero() {
		return fmt.Sprintf("%s:%s", TypeCampaignAllocate, p.CampaignID)
	}

	return fmt.Sprintf("%s:%s:%d", TypeCampaignAllocate, p.CampaignID, p.PeriodStart.Unix())
}

// DeliveryPayload carries delivery records for a campaign
type DeliveryPayload struct {
	CampaignID string            `json:"campaign_id"`
	Records    []delivery.Record `json:"records"`
	Trigger    string            `json:"trigger"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// NewAllocateTask encodes an allocation pass request
func NewAllocateTask(payload AllocatePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal allocate payload: %w", err)
	}

	return asynq.NewTask(TypeCampaignAllocate, data), nil
}

// NewDeliveryTask encodes a delivery ingest request
func NewDeliveryTask(payload DeliveryPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal delivery payload: %w", err)
	}

	return asynq.NewTask(TypeCampaignDelivery, data), nil
}
