// Package metrics exposes Prometheus instruments for the session layer.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests and embedded uses.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vbsession"

// Refresh outcomes.
const (
	RefreshSuccess           = "success"
	RefreshNoAntiForgery     = "no_antiforgery"
	RefreshRejected          = "rejected"
	RefreshMissingCredential = "missing_credential"
	RefreshTransportError    = "transport_error"
)

// Metrics groups the session layer instruments.
type Metrics struct {
	refreshes *prometheus.CounterVec
	requests  *prometheus.CounterVec
	retries   prometheus.Counter
	ready     prometheus.Gauge
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Credential renewal calls by outcome.",
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Authenticated requests sent by the gateway, by response status code.",
		}, []string{"code"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_retries_total",
			Help:      "Authenticated requests retried after a successful renewal.",
		}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready",
			Help:      "1 once the initial session probe has completed.",
		}),
	}

	for _, c := range []prometheus.Collector{m.refreshes, m.requests, m.retries, m.ready} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// ObserveRefresh records one renewal outcome.
func (m *Metrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

// ObserveRequest records one gateway attempt. code 0 means no response.
func (m *Metrics) ObserveRequest(code int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(strconv.Itoa(code)).Inc()
}

// ObserveRetry records one retry after renewal.
func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

// SetReady flips the readiness gauge.
func (m *Metrics) SetReady() {
	if m == nil {
		return
	}
	m.ready.Set(1)
}

// RefreshCount returns the recorded renewals for an outcome.
func (m *Metrics) RefreshCount(outcome string) float64 {
	if m == nil {
		return 0
	}
	return counterValue(m.refreshes.WithLabelValues(outcome))
}

// RetryCount returns the recorded retries.
func (m *Metrics) RetryCount() float64 {
	if m == nil {
		return 0
	}
	return counterValue(m.retries)
}
