package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters and histograms for the conversation pipeline. Registered on the
// default registerer so every binary that imports this package exposes them
// on /metrics.
var (
	InboundWebhooks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carscout",
		Subsystem: "messaging",
		Name:      "inbound_webhook_total",
		Help:      "Total inbound SMS webhooks by outcome",
	}, []string{"status"})

	OutboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carscout",
		Subsystem: "messaging",
		Name:      "outbound_total",
		Help:      "Total outbound SMS sends by outcome",
	}, []string{"status"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "carscout",
		Subsystem: "agent",
		Name:      "llm_request_seconds",
		Help:      "Latency of language model calls",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	VisitsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "carscout",
		Subsystem: "scheduler",
		Name:      "visits_scheduled_total",
		Help:      "Total viewing visits booked",
	})

	ConversationJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carscout",
		Subsystem: "worker",
		Name:      "conversation_jobs_total",
		Help:      "Conversation jobs processed by outcome",
	}, []string{"status"})
)
