package rooms

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// MetricsSubsystem is a subsystem shared by all metrics exposed by this
// package.
const MetricsSubsystem = "rooms"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of guests admitted to rooms.
	GuestsJoined metrics.Counter
	// Number of trades committed to the ledger.
	TradesCommitted metrics.Counter
	// Number of rooms canceled before commitment.
	Cancellations metrics.Counter
	// Number of connections or messages rejected as invalid.
	Rejections metrics.Counter
}

// PrometheusMetrics returns Metrics built using the Prometheus client
// library.
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		GuestsJoined: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "guests_joined",
			Help:      "Number of guests admitted to rooms.",
		}, labels).With(labelsAndValues...),
		TradesCommitted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "trades_committed",
			Help:      "Number of trades committed to the ledger.",
		}, labels).With(labelsAndValues...),
		Cancellations: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "cancellations",
			Help:      "Number of rooms canceled before commitment.",
		}, labels).With(labelsAndValues...),
		Rejections: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rejections",
			Help:      "Number of connections or messages rejected as invalid.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		GuestsJoined:    discard.NewCounter(),
		TradesCommitted: discard.NewCounter(),
		Cancellations:   discard.NewCounter(),
		Rejections:      discard.NewCounter(),
	}
}
