package consumer

import (
	"encoding/json"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ivasann/daisy-copilot/internal/domain"
)

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daisy",
		Subsystem: "consumer",
		Name:      "messages_processed_total",
		Help:      "Number of Kafka messages successfully handled.",
	}, []string{"topic", "event_type"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daisy",
		Subsystem: "consumer",
		Name:      "handler_errors_total",
		Help:      "Number of handler errors grouped by topic and event type.",
	}, []string{"topic", "event_type"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daisy",
		Subsystem: "consumer",
		Name:      "decode_errors_total",
		Help:      "Number of decode failures per topic.",
	}, []string{"topic"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "daisy",
		Subsystem: "consumer",
		Name:      "last_message_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successfully processed message per topic.",
	}, []string{"topic"})

	auditedCoinsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daisy",
		Subsystem: "consumer",
		Name:      "audited_coins_total",
		Help:      "Coins carried by ledger entries written to the audit log, by category and kind.",
	}, []string{"category", "kind"})

	auditedStreakCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "daisy",
		Subsystem: "consumer",
		Name:      "audited_streak_changes_total",
		Help:      "Streak changes written to the audit log, by transition.",
	}, []string{"transition"})
)

func init() {
	prometheus.MustRegister(processedCounter, handlerErrorCounter, decodeErrorCounter, lastMessageGauge, auditedCoinsCounter, auditedStreakCounter)
}

func recordProcessed(msg Message) {
	processedCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
	if !msg.Timestamp.IsZero() {
		lastMessageGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}

func recordHandlerError(msg Message) {
	handlerErrorCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}

// recordAudited counts the domain content of a newly stored event. Payloads that do
// not decode are already stored verbatim and are not counted.
func recordAudited(msg Message) {
	switch msg.EventType {
	case domain.EventLedgerEntryRecorded:
		var evt domain.LedgerEntryRecorded
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return
		}
		auditedCoinsCounter.WithLabelValues(evt.Category, evt.Kind).Add(float64(evt.CoinsEarned))
	case domain.EventStreakChanged:
		var evt domain.StreakChanged
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			return
		}
		auditedStreakCounter.WithLabelValues(evt.Transition).Inc()
	}
}
