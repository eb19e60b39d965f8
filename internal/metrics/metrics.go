// Package metrics holds the Prometheus collectors for the service. Every
// method is safe on a nil *Metrics so components can run without a
// registry in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vanish"

type Metrics struct {
	linksIssued      prometheus.Counter
	resolutions      *prometheus.CounterVec
	passcodeAttempts *prometheus.CounterVec
	deliveries       prometheus.Counter
	deleteAttempts   *prometheus.CounterVec
	gcRemoved        prometheus.Counter
	snapshotSaves    *prometheus.CounterVec
	snapshotDuration prometheus.Histogram
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg. A nil reg uses a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		linksIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "links_issued_total",
			Help: "Links committed into the registry.",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "link_resolutions_total",
			Help: "Link resolutions by result.",
		}, []string{"result"}),
		passcodeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "passcode_attempts_total",
			Help: "Passcode attempts by outcome.",
		}, []string{"outcome"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "deliveries_total",
			Help: "Bundles delivered to a chat.",
		}),
		deleteAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "message_deletes_total",
			Help: "Scheduled message deletions by result.",
		}, []string{"result"}),
		gcRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "gc_removed_total",
			Help: "Records permanently removed by the collector.",
		}),
		snapshotSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "snapshot_saves_total",
			Help: "Snapshot writes by result.",
		}, []string{"result"}),
		snapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "snapshot_duration_seconds",
			Help:    "Time spent writing a snapshot.",
			Buckets: prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.linksIssued, m.resolutions, m.passcodeAttempts, m.deliveries,
		m.deleteAttempts, m.gcRemoved, m.snapshotSaves, m.snapshotDuration,
		m.httpRequests, m.httpDuration,
	)
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Handler serves the registry the collectors were registered on.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) LinkIssued() {
	if m == nil {
		return
	}
	m.linksIssued.Inc()
}

// Resolution counts one resolve by result: ok, not_found, expired or revoked.
func (m *Metrics) Resolution(result string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(result).Inc()
}

func (m *Metrics) PasscodeAttempt(outcome string) {
	if m == nil {
		return
	}
	m.passcodeAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Delivered() {
	if m == nil {
		return
	}
	m.deliveries.Inc()
}

func (m *Metrics) MessageDeleted(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.deleteAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) Swept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.gcRemoved.Add(float64(n))
}

func (m *Metrics) SnapshotSaved(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.snapshotSaves.WithLabelValues(result).Inc()
	m.snapshotDuration.Observe(d.Seconds())
}

func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
