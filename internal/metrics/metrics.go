package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "healthwatch",
			Name:      "events_ingested_total",
			Help:      "Total number of events accepted into the engine queue.",
		},
	)

	eventsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthwatch",
			Name:      "events_processed_total",
			Help:      "Total number of events run through rule evaluation, partitioned by tenant.",
		},
		[]string{"tenant"},
	)

	rulesTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthwatch",
			Name:      "rules_triggered_total",
			Help:      "Total number of rule triggers, partitioned by rule kind.",
		},
		[]string{"kind"},
	)

	alarmsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthwatch",
			Name:      "alarms_sent_total",
			Help:      "Total number of alarms delivered to channels, partitioned by level.",
		},
		[]string{"level"},
	)

	alarmsSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "healthwatch",
			Name:      "alarms_suppressed_total",
			Help:      "Total number of alarms diverted to aggregation by flood control.",
		},
	)

	analyzersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "healthwatch",
			Name:      "analyzers_active",
			Help:      "Number of tenant analyzers currently running.",
		},
	)

	mainQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "healthwatch",
			Name:      "main_queue_depth",
			Help:      "Events waiting in the engine's main queue.",
		},
	)

	eventProcessingSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "healthwatch",
			Name:      "event_processing_seconds",
			Help:      "Per-event rule evaluation latency in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)
)

// Register attaches healthwatch collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		eventsIngestedTotal,
		eventsProcessedTotal,
		rulesTriggeredTotal,
		alarmsSentTotal,
		alarmsSuppressedTotal,
		analyzersActive,
		mainQueueDepth,
		eventProcessingSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// EventIngested counts one event accepted by the receiver.
func EventIngested() {
	eventsIngestedTotal.Inc()
}

// EventProcessed records one completed rule evaluation pass for a tenant.
func EventProcessed(tenant string, duration time.Duration) {
	eventsProcessedTotal.WithLabelValues(tenant).Inc()
	if duration < 0 {
		duration = 0
	}
	eventProcessingSeconds.Observe(duration.Seconds())
}

// RuleTriggered counts one trigger of the given rule kind.
func RuleTriggered(kind string) {
	rulesTriggeredTotal.WithLabelValues(kind).Inc()
}

// AlarmSent counts one alarm delivered at the given level.
func AlarmSent(level string) {
	alarmsSentTotal.WithLabelValues(level).Inc()
}

// AlarmSuppressed counts one alarm held back by flood control.
func AlarmSuppressed() {
	alarmsSuppressedTotal.Inc()
}

// SetActiveAnalyzers records the current tenant analyzer count.
func SetActiveAnalyzers(n int) {
	analyzersActive.Set(float64(n))
}

// SetMainQueueDepth records the current engine queue depth.
func SetMainQueueDepth(n int) {
	mainQueueDepth.Set(float64(n))
}
