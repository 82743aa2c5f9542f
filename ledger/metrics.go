package ledger

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// MetricsSubsystem is a subsystem shared by all metrics exposed by this
// package.
const MetricsSubsystem = "ledger"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of chaincode queries.
	Queries metrics.Counter
	// Number of chaincode invokes started.
	Invokes metrics.Counter
	// Number of invokes that failed, labeled by pipeline stage.
	InvokeFailures metrics.Counter
	// Time from proposal to confirmed commitment, in seconds.
	InvokeDurationSeconds metrics.Histogram
}

// PrometheusMetrics returns Metrics built using the Prometheus client
// library.
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		Queries: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "queries",
			Help:      "Number of chaincode queries.",
		}, labels).With(labelsAndValues...),
		Invokes: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "invokes",
			Help:      "Number of chaincode invokes started.",
		}, labels).With(labelsAndValues...),
		InvokeFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "invoke_failures",
			Help:      "Number of invokes that failed, labeled by pipeline stage.",
		}, append(labels, "stage")).With(labelsAndValues...),
		InvokeDurationSeconds: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "invoke_duration_seconds",
			Help:      "Time from proposal to confirmed commitment, in seconds.",
			Buckets:   stdprometheus.ExponentialBuckets(0.01, 3, 10),
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Queries:               discard.NewCounter(),
		Invokes:               discard.NewCounter(),
		InvokeFailures:        discard.NewCounter(),
		InvokeDurationSeconds: discard.NewHistogram(),
	}
}
