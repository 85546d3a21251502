package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// AllocationPassesTotal counts allocation passes by mode and outcome
	AllocationPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynalloc_allocation_passes_total",
			Help: "Total number of allocation passes",
		},
		[]string{"mode", "status"}, // mode: initial, reallocation; status: success, failed
	)

	// AllocationDuration measures how long a single allocation pass takes
	AllocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dynalloc_allocation_duration_seconds",
			Help:    "Allocation pass duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"mode"},
	)

	// ExportedNodes tracks the size of the last export set per campaign
	ExportedNodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dynalloc_exported_nodes",
			Help: "Number of nodes in the last export set",
		},
		[]string{"campaign"},
	)

	// ExportedBudget tracks the media budget exported by the last pass per campaign
	ExportedBudget = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dynalloc_exported_budget",
			Help: "Media budget exported by the last allocation pass",
		},
		[]string{"campaign"},
	)

	// PeriodBudget tracks the period budget targeted by the last pass per campaign
	PeriodBudget = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dynalloc_period_budget",
			Help: "Period budget targeted by the last allocation pass",
		},
		[]string{"campaign"},
	)

	// InsightScore tracks the insight score computed by the last reallocation pass
	InsightScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dynalloc_insight_score",
			Help: "Fraction of in-scope nodes with export history or lineage signal",
		},
		[]string{"campaign"},
	)

	// FilteredNodes tracks nodes whose non-media cost exceeds their valuation
	FilteredNodes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dynalloc_filtered_nodes",
			Help: "Number of nodes filtered because non-media cost exceeds valuation",
		},
		[]string{"campaign"},
	)

	// CampaignPhase tracks the allocation phase per campaign
	CampaignPhase = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dynalloc_campaign_phase",
			Help: "Allocation phase of the last pass (0 initial, 1 rise, 2 steady)",
		},
		[]string{"campaign"},
	)

	// TasksTotal tracks the total number of tasks processed
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynalloc_tasks_total",
			Help: "Total number of tasks processed",
		},
		[]string{"type", "status"}, // status: success, failed
	)

	// TaskDuration measures task execution duration in seconds
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dynalloc_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		},
		[]string{"type"},
	)

	// TasksEnqueued counts tasks enqueued by trigger
	TasksEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynalloc_tasks_enqueued_total",
			Help: "Total number of tasks enqueued",
		},
		[]string{"type", "trigger"}, // trigger: schedule, api, cli
	)

	// DeliveryRecordsTotal counts ingested delivery records
	DeliveryRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynalloc_delivery_records_total",
			Help: "Total number of delivery records ingested",
		},
		[]string{"result"}, // result: applied, skipped
	)

	// ScheduledCampaigns tracks the number of campaigns with a registered schedule
	ScheduledCampaigns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dynalloc_scheduled_campaigns",
			Help: "Number of campaigns with a registered allocation schedule",
		},
	)

	// ErrorsTotal counts errors by component
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dynalloc_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// AllocationSummary carries the gauges recorded after a successful pass
type AllocationSummary struct {
	CampaignID     string
	Phase          int
	ExportedNodes  int
	ExportedBudget float64
	PeriodBudget   float64
	InsightScore   float64
	FilteredNodes  int
}

// RecordAllocationPass records the outcome and duration of an allocation pass
func RecordAllocationPass(mode, status string, duration float64) {
	AllocationPassesTotal.WithLabelValues(mode, status).Inc()
	AllocationDuration.WithLabelValues(mode).Observe(duration)
}

// RecordAllocationSummary records the per-campaign gauges of a pass
func RecordAllocationSummary(s AllocationSummary) {
	ExportedNodes.WithLabelValues(s.CampaignID).Set(float64(s.ExportedNodes))
	ExportedBudget.WithLabelValues(s.CampaignID).Set(s.ExportedBudget)
	PeriodBudget.WithLabelValues(s.CampaignID).Set(s.PeriodBudget)
	InsightScore.WithLabelValues(s.CampaignID).Set(s.InsightScore)
	FilteredNodes.WithLabelValues(s.CampaignID).Set(float64(s.FilteredNodes))
	CampaignPhase.WithLabelValues(s.CampaignID).Set(float64(s.Phase))
}

// ForgetCampaign drops the per-campaign gauges of a deleted campaign
func ForgetCampaign(campaignID string) {
	ExportedNodes.DeleteLabelValues(campaignID)
	ExportedBudget.DeleteLabelValues(campaignID)
	PeriodBudget.DeleteLabelValues(campaignID)
	InsightScore.DeleteLabelValues(campaignID)
	FilteredNodes.DeleteLabelValues(campaignID)
	CampaignPhase.DeleteLabelValues(campaignID)
}

// RecordTaskComplete records task completion
func RecordTaskComplete(taskType, status string, duration float64) {
	TasksTotal.WithLabelValues(taskType, status).Inc()
	TaskDuration.WithLabelValues(taskType).Observe(duration)
}

// RecordTaskEnqueued records task enqueue
func RecordTaskEnqueued(taskType, trigger string) {
	TasksEnqueued.WithLabelValues(taskType, trigger).Inc()
}

// RecordDeliveryRecords records the outcome of a delivery ingest
func RecordDeliveryRecords(applied, skipped int) {
	DeliveryRecordsTotal.WithLabelValues("applied").Add(float64(applied))
	DeliveryRecordsTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordScheduledCampaigns records the number of scheduled campaigns
func RecordScheduledCampaigns(count int) {
	ScheduledCampaigns.Set(float64(count))
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
