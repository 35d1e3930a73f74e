// Package gateway serves the holdboard browser UI: the JSON API over the
// staged-edit engine, the websocket change feed, and the embedded static
// assets.
package gateway

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// gatewayMetricsOnce ensures metrics are only initialized once.
var gatewayMetricsOnce sync.Once

// gatewayMetricsInstance is the singleton instance of gateway metrics.
var gatewayMetricsInstance *Metrics

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	ActiveSessions prometheus.Gauge

	StagedEdits *prometheus.GaugeVec // holdboard_staged_edits{kind}

	CommitsTotal *prometheus.CounterVec // holdboard_commits_total{outcome}

	CommitDuration prometheus.Histogram

	BackendRequests *prometheus.CounterVec // holdboard_backend_requests_total{operation,outcome}
}

// InitMetrics initializes all gateway metrics. Metrics are only
// registered once; subsequent calls return the same instance. Pass nil
// to use the default Prometheus registry.
func InitMetrics(registry prometheus.Registerer) *Metrics {
	gatewayMetricsOnce.Do(func() {
		if registry == nil {
			registry = prometheus.DefaultRegisterer
		}
		gatewayMetricsInstance = &Metrics{
			ActiveSessions: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
				Name: "holdboard_active_sessions",
				Help: "Number of live browser sessions with staged-edit state",
			}),

			StagedEdits: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
				Name: "holdboard_staged_edits",
				Help: "Staged edits across all sessions by kind",
			}, []string{"kind"}),

			CommitsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "holdboard_commits_total",
				Help: "Bucket commit attempts by outcome",
			}, []string{"outcome"}),

			CommitDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
				Name:    "holdboard_commit_duration_seconds",
				Help:    "Duration of batch commit round trips",
				Buckets: prometheus.DefBuckets,
			}),

			BackendRequests: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
				Name: "holdboard_backend_requests_total",
				Help: "Requests to the object-store backend by operation and outcome",
			}, []string{"operation", "outcome"}),
		}
	})

	return gatewayMetricsInstance
}
