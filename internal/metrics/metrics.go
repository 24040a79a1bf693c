// metrics.go -- Prometheus counters and exchange latency for the gate.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Callback outcomes used as the "outcome" label.
const (
	OutcomeSuccess          = "success"
	OutcomeMissingCSRF      = "missing_csrf"
	OutcomeMissingCode      = "missing_code"
	OutcomeUndecodableState = "undecodable_state"
	OutcomeStateMismatch    = "state_mismatch"
	OutcomeExchangeFailed   = "exchange_failed"
	OutcomePersistFailed    = "persist_failed"
)

// Metrics holds all Prometheus metrics for the gate.
type Metrics struct {
	Passthrough      prometheus.Counter
	Redirects        prometheus.Counter
	Callbacks        *prometheus.CounterVec
	ExchangeDuration prometheus.Histogram
}

// New creates the metrics and registers them with reg.
// Pass prometheus.NewRegistry() in tests to avoid duplicate registration panics.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Passthrough: f.NewCounter(prometheus.CounterOpts{
			Name: "oauthgate_passthrough_total",
			Help: "Requests forwarded downstream because an access token was present",
		}),
		Redirects: f.NewCounter(prometheus.CounterOpts{
			Name: "oauthgate_redirects_total",
			Help: "Requests redirected to the authorization server",
		}),
		Callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oauthgate_callbacks_total",
			Help: "Authorization callbacks by outcome",
		}, []string{"outcome"}),
		ExchangeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "oauthgate_token_exchange_duration_seconds",
			Help:    "Latency of authorization code exchanges",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// IncPassthrough counts one forwarded request. Safe on a nil receiver.
func (m *Metrics) IncPassthrough() {
	if m == nil {
		return
	}
	m.Passthrough.Inc()
}

// IncRedirect counts one authorize redirect. Safe on a nil receiver.
func (m *Metrics) IncRedirect() {
	if m == nil {
		return
	}
	m.Redirects.Inc()
}

// IncCallback counts one callback with the given outcome. Safe on a nil receiver.
func (m *Metrics) IncCallback(outcome string) {
	if m == nil {
		return
	}
	m.Callbacks.WithLabelValues(outcome).Inc()
}

// ObserveExchange records how long a token exchange took. Safe on a nil receiver.
func (m *Metrics) ObserveExchange(d time.Duration) {
	if m == nil {
		return
	}
	m.ExchangeDuration.Observe(d.Seconds())
}
