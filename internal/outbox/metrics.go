package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	deliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daisy",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Ledger and streak events published to Kafka, by topic and event type.",
	}, []string{"topic", "event_type"})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daisy",
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Ledger and streak events that failed to publish, by topic and event type.",
	}, []string{"topic", "event_type"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "daisy",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent fetching, delivering, and marking outbox batches.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daisy",
		Subsystem: "outbox",
		Name:      "events_dlq_total",
		Help:      "Events routed to the dead-letter queue, by topic and event type.",
	}, []string{"topic", "event_type"})

	eventLagSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "daisy",
		Subsystem: "outbox",
		Name:      "event_publish_lag_seconds",
		Help:      "Delay between a ledger write and its publication to Kafka, by event type.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, batchDuration, dlqCounter, eventLagSeconds)
}

func recordDelivered(messages []Message, now func() time.Time) {
	at := now()
	for _, msg := range messages {
		deliveredCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
		if !msg.CreatedAt.IsZero() {
			eventLagSeconds.WithLabelValues(msg.EventType).Observe(at.Sub(msg.CreatedAt).Seconds())
		}
	}
}

func recordFailed(messages []Message) {
	for _, msg := range messages {
		failedCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
	}
}
