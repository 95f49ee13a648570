// Package metrics exposes the server's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	captchaIssued  prometheus.Counter
	captchaVerify  *prometheus.CounterVec
	admissions     *prometheus.CounterVec
	classifierCall *prometheus.HistogramVec
	loginTokens    *prometheus.CounterVec
	httpSeconds    *prometheus.HistogramVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		captchaIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wildid_captcha_issued_total",
			Help: "Total number of issued CAPTCHA challenges",
		}),
		captchaVerify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wildid_captcha_verify_total",
			Help: "CAPTCHA verification outcomes",
		}, []string{"outcome"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wildid_identify_admissions_total",
			Help: "Identify admission decisions",
		}, []string{"decision"}),
		classifierCall: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wildid_classifier_seconds",
			Help:    "Latency of vision model calls",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"provider", "outcome"}),
		loginTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wildid_login_tokens_total",
			Help: "Magic-link tokens issued and consumed",
		}, []string{"event"}),
		httpSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wildid_http_request_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	m.registry.MustRegister(
		m.captchaIssued, m.captchaVerify, m.admissions, m.classifierCall, m.loginTokens, m.httpSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) CaptchaIssued() {
	if m == nil {
		return
	}
	m.captchaIssued.Inc()
}

func (m *Metrics) CaptchaVerified(outcome string) {
	if m == nil {
		return
	}
	m.captchaVerify.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Admission(allowed bool) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.admissions.WithLabelValues(decision).Inc()
}

func (m *Metrics) ClassifierCall(provider string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	m.classifierCall.WithLabelValues(provider, outcome).Observe(d.Seconds())
}

func (m *Metrics) LoginToken(event string) {
	if m == nil {
		return
	}
	m.loginTokens.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpSeconds.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
