// Package metrics exposes NutriPipe's Prometheus collectors on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "nutripipe"

// Collaborator call outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Collector holds all Prometheus metrics for the application
type Collector struct {
	registry *prometheus.Registry

	Events              *prometheus.CounterVec
	Transitions         *prometheus.CounterVec
	CollaboratorCalls   *prometheus.CounterVec
	CollaboratorLatency *prometheus.HistogramVec
	HTTPRequests        *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry, so tests can build as
// many as they like without duplicate registration.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "events_total",
				Help:      "Total number of inbound events by kind",
			},
			[]string{"kind"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "transitions_total",
				Help:      "Total number of conversation state transitions",
			},
			[]string{"from", "to"},
		),
		CollaboratorCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "collaborator_calls_total",
				Help:      "Total number of calls to external collaborators by outcome",
			},
			[]string{"collaborator", "outcome"},
		),
		CollaboratorLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "collaborator_duration_seconds",
				Help:      "External collaborator call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"collaborator"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP API requests",
			},
			[]string{"method", "route", "status"},
		),
	}

	registry.MustRegister(
		c.Events,
		c.Transitions,
		c.CollaboratorCalls,
		c.CollaboratorLatency,
		c.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the private registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordEvent counts one inbound event.
func (c *Collector) RecordEvent(kind string) {
	c.Events.WithLabelValues(kind).Inc()
}

// RecordTransition counts a state change. Self-transitions are not recorded.
func (c *Collector) RecordTransition(from, to string) {
	if from == to {
		return
	}
	c.Transitions.WithLabelValues(from, to).Inc()
}

// RecordCollaboratorCall counts a collaborator call and observes its latency.
func (c *Collector) RecordCollaboratorCall(collaborator string, err error, d time.Duration) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	c.CollaboratorCalls.WithLabelValues(collaborator, outcome).Inc()
	c.CollaboratorLatency.WithLabelValues(collaborator).Observe(d.Seconds())
}

// RecordHTTPRequest counts one HTTP API request.
func (c *Collector) RecordHTTPRequest(method, route string, status int) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
