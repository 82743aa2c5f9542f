package server

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// MetricsSubsystem is a subsystem shared by all metrics exposed by this
// package.
const MetricsSubsystem = "server"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of rooms created through the REST API.
	RoomsCreated metrics.Counter
	// Number of requests answered 500 because a ledger call failed.
	LedgerFailures metrics.Counter
}

// PrometheusMetrics returns Metrics built using the Prometheus client
// library.
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		RoomsCreated: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rooms_created",
			Help:      "Number of rooms created through the REST API.",
		}, labels).With(labelsAndValues...),
		LedgerFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "ledger_failures",
			Help:      "Number of requests answered 500 because a ledger call failed.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		RoomsCreated:   discard.NewCounter(),
		LedgerFailures: discard.NewCounter(),
	}
}
