// Package metric holds the prometheus collectors exported by the service.
package metric

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type HTTP interface {
	ObserveRequest(method, route string, status int, d time.Duration)
}

type Delivery interface {
	DeliveryOutcome(channel, outcome string)
}

type Intake interface {
	IntakeOutcome(status string)
}

// Recorder is what the domain services report to.
type Recorder interface {
	Delivery
	Intake
}

type Metrics struct {
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	deliveries     *prometheus.CounterVec
	intakeRequests *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prayerflow_http_requests_total",
			Help: "Total number of HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prayerflow_http_request_duration_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prayerflow_message_deliveries_total",
			Help: "Outcomes of queued message send attempts.",
		}, []string{"channel", "outcome"}),
		intakeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prayerflow_prayer_requests_submitted_total",
			Help: "Submitted prayer requests by the status they ended intake in.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.httpRequests, m.httpDuration, m.deliveries, m.intakeRequests)
	return m
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) DeliveryOutcome(channel, outcome string) {
	m.deliveries.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) IntakeOutcome(status string) {
	m.intakeRequests.WithLabelValues(status).Inc()
}

// Nop discards every observation.
type Nop struct{}

func (Nop) ObserveRequest(string, string, int, time.Duration) {}
func (Nop) DeliveryOutcome(string, string)                    {}
func (Nop) IntakeOutcome(string)                              {}
