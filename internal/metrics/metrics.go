// Package metrics defines the Prometheus instrumentation surface for inboxd.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Outbox
	outboxProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_processed_total",
			Help: "Total number of outbox dispatch outcomes by type.",
		},
		[]string{"outcome"}, // done, failed, retry
	)
	adapterSendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adapter_send_duration_seconds",
			Help:    "Latency of delivery adapter send calls (seconds).",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"platform"},
	)

	// Alerts
	failureAlertsFired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "failure_alerts_fired_total",
			Help: "Total number of failure-rate alerts fired.",
		},
	)

	// Redis
	redisRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_requests_total",
			Help: "Total number of Redis operations.",
		},
		[]string{"operation"},
	)
	redisErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_errors_total",
			Help: "Total number of Redis operation errors.",
		},
		[]string{"operation"},
	)
	redisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_request_duration_seconds",
			Help:    "Redis operation duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Gateway
	websocketConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of authorized websocket connections.",
		},
	)
	eventsFannedOut = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_events_fanned_out_total",
			Help: "Total number of events delivered to websocket clients.",
		},
	)

	// Permission cache
	permCacheChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perm_cache_checks_total",
			Help: "Permission cache lookups by result.",
		},
		[]string{"result"}, // hit, stale, miss
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			outboxProcessed,
			adapterSendDuration,

			failureAlertsFired,

			redisRequests,
			redisErrors,
			redisDuration,

			websocketConnections,
			eventsFannedOut,

			permCacheChecks,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// --- Outbox ---
func IncOutboxOutcome(outcome string) { outboxProcessed.WithLabelValues(outcome).Inc() }
func ObserveAdapterSend(platform string, d time.Duration) {
	adapterSendDuration.WithLabelValues(platform).Observe(d.Seconds())
}

// --- Alerts ---
func IncFailureAlert() { failureAlertsFired.Inc() }

// --- Redis ---
func IncRedisRequest(operation string) { redisRequests.WithLabelValues(operation).Inc() }
func IncRedisError(operation string)   { redisErrors.WithLabelValues(operation).Inc() }
func ObserveRedisDuration(operation string, d time.Duration) {
	redisDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// --- Gateway ---
func IncWebsocketConnections()  { websocketConnections.Inc() }
func DecWebsocketConnections()  { websocketConnections.Dec() }
func IncEventsFannedOut()       { eventsFannedOut.Inc() }
func IncPermCacheCheck(r string) { permCacheChecks.WithLabelValues(r).Inc() }
