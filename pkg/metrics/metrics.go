// Copyright 2024-2026 Aiku AI

// Package metrics exposes Prometheus collectors for the session lifecycle and
// event routing. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mmbot"

// Metrics holds every collector the bot updates.
type Metrics struct {
	registry *prometheus.Registry

	connectionState prometheus.Gauge
	connectAttempts prometheus.Counter
	reconnects      prometheus.Counter
	terminations    *prometheus.CounterVec
	eventsRouted    *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	credentialSaves *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry together
// with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state",
			Help:      "Current connection state (0=idle 1=connecting 2=open 3=closed 4=terminated)",
		}),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts started",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect timers scheduled after a failed attempt",
		}),
		terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "terminations_total",
			Help:      "Sessions terminated, by reason",
		}, []string{"reason"}),
		eventsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "events_total",
			Help:      "Inbound items routed, by event kind",
		}, []string{"kind"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "handler_failures_total",
			Help:      "Handler invocations that returned an error or panicked",
		}, []string{"handler", "kind"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "startup_messages_total",
			Help:      "Startup notifications sent to owners, by result",
		}, []string{"result"}),
		credentialSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credstore",
			Name:      "updates_total",
			Help:      "Credential updates persisted, by result",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectionState,
		m.connectAttempts,
		m.reconnects,
		m.terminations,
		m.eventsRouted,
		m.handlerFailures,
		m.notifications,
		m.credentialSaves,
	)
	return m
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetState(state int) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(state))
}

func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.connectAttempts.Inc()
}

func (m *Metrics) ReconnectScheduled() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) Terminated(reason string) {
	if m == nil {
		return
	}
	m.terminations.WithLabelValues(reason).Inc()
}

func (m *Metrics) EventRouted(kind string) {
	if m == nil {
		return
	}
	m.eventsRouted.WithLabelValues(kind).Inc()
}

func (m *Metrics) HandlerFailed(handler, kind string) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(handler, kind).Inc()
}

func (m *Metrics) NotificationSent(ok bool) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) CredentialsSaved(ok bool) {
	if m == nil {
		return
	}
	m.credentialSaves.WithLabelValues(result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
