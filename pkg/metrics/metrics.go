package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediator_requests_total",
			Help: "Total number of dispatched commands and queries (count)",
		},
		[]string{"request", "kind", "outcome"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediator_request_duration_ms",
			Help:    "Pipeline duration per request in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"request", "kind"},
	)

	DeliveryTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_transitions_total",
			Help: "Total number of delivery record transitions by target state (count)",
		},
		[]string{"to"},
	)

	DeliveryPushFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_push_failures_total",
			Help: "Total number of failed pushes to the live transport (count)",
		},
		[]string{"reason"},
	)

	DeliveryPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "delivery_pending_records",
			Help: "Records staged or pushed and not yet acknowledged (count)",
		},
	)

	RelaySweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_relay_sweep_duration_ms",
			Help:    "Duration of a relay sweep in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)

	RealtimeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections",
			Help: "Open websocket connections (count)",
		},
	)

	DirectoryLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_lookups_total",
			Help: "User directory lookups by cache result (count)",
		},
		[]string{"result"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal,
			RequestDuration,
			DeliveryTransitionsTotal,
			DeliveryPushFailuresTotal,
			DeliveryPending,
			RelaySweepDuration,
			RealtimeConnections,
			DirectoryLookupsTotal,
			RetryAttemptsTotal,
			DLQMessagesTotal,
			KafkaMessagesReadTotal,
			KafkaMessagesWrittenTotal,
			KafkaWriteDuration,
			CircuitBreakerState,
			CircuitBreakerRequests,
			CircuitBreakerFailures,
			RateLimitRequestsTotal,
		)
	})
}

func ObserveRequest(request, kind, outcome string, duration time.Duration) {
	RequestsTotal.WithLabelValues(request, kind, outcome).Inc()
	RequestDuration.WithLabelValues(request, kind).Observe(float64(duration.Milliseconds()))
}

func IncDeliveryTransition(to string) {
	DeliveryTransitionsTotal.WithLabelValues(to).Inc()
}

func AddDeliveryTransitions(to string, n int) {
	if n > 0 {
		DeliveryTransitionsTotal.WithLabelValues(to).Add(float64(n))
	}
}

func IncDeliveryPushFailure(reason string) {
	DeliveryPushFailuresTotal.WithLabelValues(reason).Inc()
}

func SetDeliveryPending(n int64) {
	DeliveryPending.Set(float64(n))
}

func ObserveRelaySweep(duration time.Duration) {
	RelaySweepDuration.Observe(float64(duration.Milliseconds()))
}

func IncDirectoryLookup(result string) {
	DirectoryLookupsTotal.WithLabelValues(result).Inc()
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}
