package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "issuedigger_webhook_events_total",
			Help: "Webhook deliveries by event type and outcome",
		},
		[]string{"event", "outcome"},
	)
	WorkItemsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "issuedigger_work_items_submitted_total",
			Help: "Work items handed to the queue, or suppressed before it, by kind",
		},
		[]string{"kind", "result"},
	)
	WorkItemsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "issuedigger_work_items_processed_total",
			Help: "Work items consumed from the queue by kind and result",
		},
		[]string{"kind", "result"},
	)
	WorkItemDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "issuedigger_work_item_duration_seconds",
			Help:    "Time spent dispatching one work item",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"kind"},
	)
	EmbeddedParagraphs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "issuedigger_embedded_paragraphs_total",
			Help: "Paragraph embedding attempts by path: direct, summarized or dropped",
		},
		[]string{"path"},
	)
	OffboardedVectors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "issuedigger_offboarded_vectors_total",
			Help: "Vectors removed while offboarding repositories",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		WebhookEvents,
		WorkItemsSubmitted,
		WorkItemsProcessed,
		WorkItemDuration,
		EmbeddedParagraphs,
		OffboardedVectors,
	)
}
