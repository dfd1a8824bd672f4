// Package metrics exposes herald's Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metrics for herald. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	MessagesTotal            *prometheus.CounterVec
	CampaignsDispatchedTotal *prometheus.CounterVec
	CampaignDispatchDuration prometheus.Histogram

	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_messages_total",
				Help: "Send attempts by category and outcome",
			},
			[]string{"category", "status"},
		),
		CampaignsDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_campaigns_dispatched_total",
				Help: "Completed campaign dispatches by terminal status",
			},
			[]string{"status"},
		),
		CampaignDispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "herald_campaign_dispatch_duration_seconds",
				Help:    "Wall time of a campaign dispatch",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 300, 900, 3600},
			},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "herald_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "herald_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.MessagesTotal,
		m.CampaignsDispatchedTotal,
		m.CampaignDispatchDuration,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MustRegister adds extra collectors to the registry
func (m *Metrics) MustRegister(cs ...prometheus.Collector) {
	if m == nil {
		return
	}
	m.registry.MustRegister(cs...)
}

// ObserveMessage counts one send attempt
func (m *Metrics) ObserveMessage(category, status string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(category, status).Inc()
}

// ObserveDispatch records a finished campaign dispatch
func (m *Metrics) ObserveDispatch(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CampaignsDispatchedTotal.WithLabelValues(status).Inc()
	m.CampaignDispatchDuration.Observe(elapsed.Seconds())
}
