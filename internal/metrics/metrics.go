// Package metrics provides Prometheus instrumentation for the chat relay. It
// exposes gauges for live connections and classifier health, counters for
// message verdicts, reports and protocol errors, and a histogram for
// classification latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of joined WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_total",
		Help: "Current number of joined WebSocket connections",
	})

	// MessagesTotal counts chat messages published to a room, labeled by
	// verdict: "toxic" or "clean".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Total number of chat messages published",
	}, []string{"verdict"})

	// ReportsTotal counts report submissions, labeled by outcome:
	// "stored", "invalid_type" or "store_failure".
	ReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_reports_total",
		Help: "Total number of report submissions",
	}, []string{"outcome"})

	// ProtocolErrorsTotal counts connections closed for malformed frames.
	ProtocolErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_protocol_errors_total",
		Help: "Total number of connections closed for protocol errors",
	})

	// ClassifierDegraded is 1 while the classifier runs in fail-open mode.
	ClassifierDegraded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_classifier_degraded",
		Help: "1 when the toxicity classifier could not be loaded",
	})

	// ClassificationLatency records time spent classifying one message.
	ClassificationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_classification_latency_seconds",
		Help:    "Toxicity classification latency in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesTotal,
		ReportsTotal,
		ProtocolErrorsTotal,
		ClassifierDegraded,
		ClassificationLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
