package export

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricClaims        = "export_claims_total"
	MetricClaimRaces    = "export_claim_races_total"
	MetricCompleted     = "export_completed_total"
	MetricFailed        = "export_failed_total"
	MetricRetries       = "export_retries_total"
	MetricArtifactBytes = "export_artifact_bytes"
)

// Metrics contains Prometheus metrics for the export pipeline.
// All operations are thread-safe.
type Metrics struct {
	claims        prometheus.Counter
	claimRaces    prometheus.Counter
	completed     *prometheus.CounterVec
	failed        *prometheus.CounterVec
	retries       prometheus.Counter
	artifactBytes prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		claims: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricClaims,
			Help: "Total number of export jobs claimed by this worker",
		}),
		claimRaces: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricClaimRaces,
			Help: "Total number of claim attempts lost to another worker process",
		}),
		completed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCompleted,
				Help: "Total number of export jobs completed successfully by export type",
			},
			[]string{"export_type"},
		),
		failed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricFailed,
				Help: "Total number of export job attempt failures by export type and error code",
			},
			[]string{"export_type", "error_code"},
		),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRetries,
			Help: "Total number of export jobs requeued for retry",
		}),
		artifactBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricArtifactBytes,
			Help:    "Histogram of uploaded export artifact sizes in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncClaims increments the claims counter.
func (m *Metrics) IncClaims() {
	m.claims.Inc()
}

// IncClaimRaces increments the lost-claim-race counter.
func (m *Metrics) IncClaimRaces() {
	m.claimRaces.Inc()
}

// IncCompleted increments the completed counter for an export type.
func (m *Metrics) IncCompleted(exportType string) {
	m.completed.WithLabelValues(exportType).Inc()
}

// IncFailed increments the failure counter for an export type and error code.
func (m *Metrics) IncFailed(exportType, errorCode string) {
	m.failed.WithLabelValues(exportType, errorCode).Inc()
}

// IncRetries increments the retry counter.
func (m *Metrics) IncRetries() {
	m.retries.Inc()
}

// ObserveArtifactBytes records an uploaded artifact size sample.
func (m *Metrics) ObserveArtifactBytes(bytes float64) {
	m.artifactBytes.Observe(bytes)
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.claims,
		m.claimRaces,
		m.completed,
		m.failed,
		m.retries,
		m.artifactBytes,
	}
}
