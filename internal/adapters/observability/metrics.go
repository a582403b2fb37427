package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "lamudi"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "external_requests_total", Help: "Outbound requests."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace, Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del
	)

	ReconcileBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "reconcile_batches_total", Help: "Reconciliation batches by final state."},
		[]string{"state"}, // committed|rolled_back|empty
	)
	ReconcileRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "reconcile_records_total", Help: "Raw records by outcome."},
		[]string{"outcome"}, // created|updated|rejected|failed
	)
	ReconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "reconcile_batch_duration_seconds",
		Help:    "Reconciliation batch duration seconds.",
		Buckets: prometheus.DefBuckets,
	})
	DimensionsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "dimensions_created_total", Help: "Dimension rows inserted by kind."},
		[]string{"kind"},
	)
	IntegrityWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "integrity_warnings_total", Help: "Data integrity anomalies observed."},
		[]string{"kind"},
	)
	QueueMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "queue_messages_total", Help: "Queue messages by type and result."},
		[]string{"type", "result"}, // result: ok|retry|dead|published
	)
	AIDescriptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ai_descriptions_total", Help: "AI description attempts by result."},
		[]string{"result"}, // ok|failed
	)
)

// Serve exposes /metrics on addr in the background. Empty addr disables it.
func Serve(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler(reg))

	go func() {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		HTTPRequests, HTTPLatency, ExternalRequests, ExternalLatency, CacheEvents,
		ReconcileBatches, ReconcileRecords, ReconcileDuration, DimensionsCreated, IntegrityWarnings,
		QueueMessages, AIDescriptions,
	)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, endpoint).Observe(dur.Seconds())
}

func ObserveCache(cache, event string) { // event: hit|miss|set|del
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func ObserveBatch(state string, dur time.Duration) {
	ReconcileBatches.WithLabelValues(state).Inc()
	ReconcileDuration.Observe(dur.Seconds())
}

func ObserveRecord(outcome string) { ReconcileRecords.WithLabelValues(outcome).Inc() }

func ObserveDimensionCreated(kind string) { DimensionsCreated.WithLabelValues(kind).Inc() }

func ObserveIntegrity(kind string) { IntegrityWarnings.WithLabelValues(kind).Inc() }

func ObserveQueue(msgType, result string) { QueueMessages.WithLabelValues(msgType, result).Inc() }

func ObserveAI(result string) { AIDescriptions.WithLabelValues(result).Inc() }

func LabelErr(err error) string {
	if err == nil {
		return "none"
	}
	return fmt.Sprintf("%T", err)
}
