// Package metrics exposes Prometheus collectors for the chat core.
// Scraped at /metrics and visualized in Grafana.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway connection metrics
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_ws_connections_total",
		Help: "Total number of WebSocket connections established",
	})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_ws_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	ConnectionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_ws_connections_rejected_total",
		Help: "Rejected connection attempts by reason",
	}, []string{"reason"})

	DisconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_ws_disconnects_total",
		Help: "Total disconnections by reason",
	}, []string{"reason"})

	// Fan-out metrics
	EventsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_ws_events_broadcast_total",
		Help: "Events fanned out to room channels by event type",
	}, []string{"event"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_ws_events_dropped_total",
		Help: "Events dropped because a client send buffer was full",
	})

	// Message pipeline metrics
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_messages_sent_total",
		Help: "Messages accepted on the write path",
	})

	PipelineVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_pipeline_verdicts_total",
		Help: "Moderation verdicts by sentiment and flagged state",
	}, []string{"sentiment", "flagged"})

	PipelineAnalyzerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_pipeline_analyzer_errors_total",
		Help: "Analyzer calls that failed and fell back to the default verdict",
	})

	PipelineLag = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parley_pipeline_stage_seconds",
		Help:    "Time spent processing one record per pipeline stage",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"stage"})

	// Broker metrics
	BrokerProduced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_broker_produced_total",
		Help: "Records produced per topic",
	}, []string{"topic"})

	BrokerConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_broker_consumed_total",
		Help: "Records consumed per topic",
	}, []string{"topic"})

	BrokerSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_broker_skipped_total",
		Help: "Malformed records logged and skipped per topic",
	}, []string{"topic"})

	// Rate limiter metrics
	RateLimitDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_ratelimit_denied_total",
		Help: "Admissions denied by the sliding-window limiter per rule",
	}, []string{"rule"})

	RateLimitFailOpen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_ratelimit_fail_open_total",
		Help: "Admissions allowed because the keyed store errored",
	})

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parley_http_request_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
