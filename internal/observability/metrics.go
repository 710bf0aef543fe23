package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the auth counters. It satisfies auth.Metrics and mail.Metrics.
type Metrics struct {
	logins       *prometheus.CounterVec
	registers    *prometheus.CounterVec
	tokensIssued *prometheus.CounterVec
	revocations  *prometheus.CounterVec
	resetStages  *prometheus.CounterVec
	mailDispatch *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	pruned       prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drugshop_auth_logins_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		registers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drugshop_auth_registrations_total",
			Help: "Registration attempts by outcome.",
		}, []string{"outcome"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drugshop_auth_tokens_issued_total",
			Help: "Signed tokens by kind.",
		}, []string{"kind"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drugshop_auth_revocations_total",
			Help: "Revoked token identifiers by kind.",
		}, []string{"kind"}),
		resetStages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drugshop_auth_password_reset_total",
			Help: "Password reset workflow transitions by stage.",
		}, []string{"stage"}),
		mailDispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drugshop_mail_dispatch_total",
			Help: "Outgoing mail by template and outcome.",
		}, []string{"template", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drugshop_http_requests_total",
			Help: "HTTP responses by method and status code.",
		}, []string{"method", "status"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drugshop_auth_revocations_pruned_total",
			Help: "Expired revocation records deleted by maintenance.",
		}),
	}

	reg.MustRegister(
		m.logins,
		m.registers,
		m.tokensIssued,
		m.revocations,
		m.resetStages,
		m.mailDispatch,
		m.httpRequests,
		m.pruned,
	)

	return m
}

func (m *Metrics) RecordLogin(outcome string) {
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRegistration(outcome string) {
	m.registers.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordTokenIssued(kind string) {
	m.tokensIssued.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordRevocation(kind string) {
	m.revocations.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordResetStage(stage string) {
	m.resetStages.WithLabelValues(stage).Inc()
}

func (m *Metrics) RecordMailDispatch(template string, ok bool) {
	outcome := "sent"
	if !ok {
		outcome = "failed"
	}
	m.mailDispatch.WithLabelValues(template, outcome).Inc()
}

func (m *Metrics) RecordHTTPStatus(method string, status int) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

func (m *Metrics) RecordPruned(count int64) {
	m.pruned.Add(float64(count))
}

// MetricsHandler serves the registry in the Prometheus exposition format.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
