package provision

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Apply results recorded on the resources counter.
const (
	ResultCreated = "created"
	ResultReused  = "reused"
	ResultUpdated = "updated"
	ResultFailed  = "failed"
)

// Metrics holds the Prometheus collectors for applies, on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	ResourcesApplied *prometheus.CounterVec
	ApplyDuration    *prometheus.HistogramVec
	ResourceDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors under the "topology" namespace.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ResourcesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "topology",
			Name:      "resources_applied_total",
			Help:      "Total number of resources handled by apply, by type and result",
		}, []string{"type", "result"}),
		ApplyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "topology",
			Name:      "apply_duration_seconds",
			Help:      "Duration of topology applies in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "status"}),
		ResourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "topology",
			Name:      "resource_create_duration_seconds",
			Help:      "Duration of resource driver creates and updates in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
	}
	reg.MustRegister(m.ResourcesApplied, m.ApplyDuration, m.ResourceDuration)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteTextfile writes the current metrics in the Prometheus text format,
// for node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
