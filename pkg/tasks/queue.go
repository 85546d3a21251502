package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ethpandaops/dynalloc/pkg/observability"
)

// Enqueuer submits campaign tasks
type Enqueuer interface {
	// EnqueueAllocation submits a pass; asynq.ErrTaskIDConflict means it is already queued
	EnqueueAllocation(ctx context.Context, payload AllocatePayload, opts ...asynq.Option) (*asynq.TaskInfo, error)

	// EnqueueDelivery submits delivery records for ingestion
	EnqueueDelivery(ctx context.Context, payload DeliveryPayload, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Queue is an Enqueuer that also reports on queued work
type Queue interface {
	Enqueuer

	// IsAllocationPending checks if a pass is queued, running or awaiting retry
	IsAllocationPending(payload AllocatePayload) (bool, error)

	// GetQueueStats returns statistics of the task queue
	GetQueueStats() (*asynq.QueueInfo, error)
}

// QueueManager manages task queuing
type QueueManager struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
}

// NewQueueManager creates a new queue manager for the given queue
func NewQueueManager(redisOpt *asynq.RedisClientOpt, queue string) *QueueManager {
	return &QueueManager{
		client:    asynq.NewClient(*redisOpt),
		inspector: asynq.NewInspector(*redisOpt),
		queue:     queue,
	}
}

// EnqueueAllocation enqueues an allocation pass
func (q *QueueManager) EnqueueAllocation(ctx context.Context, payload AllocatePayload, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if payload.EnqueuedAt.IsZero() {
		payload.EnqueuedAt = time.Now().UTC()
	}

	task, err := NewAllocateTask(payload)
	if err != nil {
		return nil, err
	}

	defaultOpts := []asynq.Option{
		asynq.TaskID(payload.UniqueID()),
		asynq.Queue(q.queue),
		asynq.MaxRetry(3),
		asynq.Timeout(5 * time.Minute),
	}

	info, err := q.client.EnqueueContext(ctx, task, append(defaultOpts, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue allocation for %s: %w", payload.CampaignID, err)
	}

	observability.RecordTaskEnqueued(TypeCampaignAllocate, payload.Trigger)

	return info, nil
}

// EnqueueDelivery enqueues a delivery ingest
func (q *QueueManager) EnqueueDelivery(ctx context.Context, payload DeliveryPayload, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if payload.EnqueuedAt.IsZero() {
		payload.EnqueuedAt = time.Now().UTC()
	}

	task, err := NewDeliveryTask(payload)
	if err != nil {
		return nil, err
	}

	defaultOpts := []asynq.Option{
		asynq.Queue(q.queue),
		asynq.MaxRetry(5),
		asynq.Timeout(5 * time.Minute),
	}

	info, err := q.client.EnqueueContext(ctx, task, append(defaultOpts, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue delivery for %s: %w", payload.CampaignID, err)
	}

	observability.RecordTaskEnqueued(TypeCampaignDelivery, payload.Trigger)

	return info, nil
}

// IsAllocationPending checks if a pass is queued, running or awaiting retry
func (q *QueueManager) IsAllocationPending(payload AllocatePayload) (bool, error) {
	info, err := q.inspector.GetTaskInfo(q.queue, payload.UniqueID())
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return false, nil
		}

		return false, err
	}

	return info.State == asynq.TaskStatePending ||
		info.State == asynq.TaskStateActive ||
		info.State == asynq.TaskStateRetry, nil
}

// GetQueueStats returns queue statistics
func (q *QueueManager) GetQueueStats() (*asynq.QueueInfo, error) {
	return q.inspector.GetQueueInfo(q.queue)
}

// Close closes the queue manager
func (q *QueueManager) Close() error {
	if err := q.inspector.Close(); err != nil {
		return err
	}

	return q.client.Close()
}

// Verify interface compliance at compile time
var _ Queue = (*QueueManager)(nil)
