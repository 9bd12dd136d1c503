package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's self-observability counters. These describe
// the engine's own operation (signals emitted, reports shipped/suppressed,
// transport health), not server-side correlation.
type Metrics struct {
	ReportsShippedTotal     *prometheus.CounterVec
	ReportsSuppressedTotal  prometheus.Counter
	SignalsEmittedTotal     *prometheus.CounterVec
	TransportFailuresTotal  prometheus.Counter
	AgentDetectionsTotal    prometheus.Counter
}

// NewMetrics registers the engine's metrics under the given namespace using
// a dedicated registry, so multiple Engine instances in the same process
// (tests) never collide on metric registration.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "agentdetect"
	}
	factory := promauto.With(reg)
	return &Metrics{
		ReportsShippedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_shipped_total",
			Help:      "Reports shipped to the backend, by signal type.",
		}, []string{"signal_type"}),
		ReportsSuppressedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_suppressed_total",
			Help:      "Reports computed but not shipped because the combined score was below minReportScore.",
		}),
		SignalsEmittedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_emitted_total",
			Help:      "Anomaly/injection signals emitted, by group.",
		}, []string{"group"}),
		TransportFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_failures_total",
			Help:      "Outbound RPC or beacon failures (always swallowed).",
		}),
		AgentDetectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_detections_total",
			Help:      "Reports whose verdict reached HIGH_CONFIDENCE_AGENT.",
		}),
	}
}
