package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livedatabus"

// Metrics holds the collectors exported by the bus, its sources and gates.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	providerRegistrations *prometheus.CounterVec
	providerRemovals      *prometheus.CounterVec
	providerFailures      *prometheus.CounterVec
	samplesDropped        *prometheus.CounterVec
	activeObservers       *prometheus.GaugeVec
	valuesDelivered       *prometheus.CounterVec
	filterDecisions       *prometheus.CounterVec
	permissionDenied      *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		providerRegistrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_registrations_total",
			Help:      "Listener registrations made with the underlying location provider.",
		}, []string{"provider"}),
		providerRemovals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_removals_total",
			Help:      "Listener removals made with the underlying location provider.",
		}, []string{"provider"}),
		providerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_failures_total",
			Help:      "Registrations rejected by the provider.",
		}, []string{"provider"}),
		samplesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_dropped_total",
			Help:      "Samples dropped by a source before delivery.",
		}, []string{"provider", "reason"}),
		activeObservers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_active_observers",
			Help:      "Active observers per bus.",
		}, []string{"bus"}),
		valuesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_values_delivered_total",
			Help:      "Values delivered to observers per bus.",
		}, []string{"bus"}),
		filterDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_decisions_total",
			Help:      "Filter policy decisions.",
		}, []string{"filter", "decision"}),
		permissionDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "permission_denied_total",
			Help:      "Starts suppressed because a permission was not granted.",
		}, []string{"permission"}),
	}

	m.registry.MustRegister(
		m.providerRegistrations,
		m.providerRemovals,
		m.providerFailures,
		m.samplesDropped,
		m.activeObservers,
		m.valuesDelivered,
		m.filterDecisions,
		m.permissionDenied,
	)
	return m
}

// Registry exposes the underlying registry, e.g. for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ProviderRegistered(provider string) {
	if m == nil {
		return
	}
	m.providerRegistrations.WithLabelValues(provider).Inc()
}

func (m *Metrics) ProviderRemoved(provider string) {
	if m == nil {
		return
	}
	m.providerRemovals.WithLabelValues(provider).Inc()
}

func (m *Metrics) ProviderFailed(provider string) {
	if m == nil {
		return
	}
	m.providerFailures.WithLabelValues(provider).Inc()
}

func (m *Metrics) SampleDropped(provider, reason string) {
	if m == nil {
		return
	}
	m.samplesDropped.WithLabelValues(provider, reason).Inc()
}

func (m *Metrics) SetActiveObservers(bus string, n int) {
	if m == nil {
		return
	}
	m.activeObservers.WithLabelValues(bus).Set(float64(n))
}

func (m *Metrics) ValueDelivered(bus string) {
	if m == nil {
		return
	}
	m.valuesDelivered.WithLabelValues(bus).Inc()
}

// FilterDecision counts an accept or reject by the named filter.
func (m *Metrics) FilterDecision(filter string, accepted bool) {
	if m == nil {
		return
	}
	decision := "rejected"
	if accepted {
		decision = "accepted"
	}
	m.filterDecisions.WithLabelValues(filter, decision).Inc()
}

func (m *Metrics) PermissionDenied(permission string) {
	if m == nil {
		return
	}
	m.permissionDenied.WithLabelValues(permission).Inc()
}
