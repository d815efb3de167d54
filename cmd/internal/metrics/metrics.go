// Package metrics exposes Prometheus collectors for the session and realtime core.
//
// Every method is safe on a nil *Metrics so components can run unobserved.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "chapchat"

// Channel states reported by the channel_state gauge.
var channelStates = []string{"connecting", "open", "reconnecting", "closed"}

// Metrics owns a private registry and the core collectors.
type Metrics struct {
	reg *prometheus.Registry

	renewals       *prometheus.CounterVec
	renewalWaiters prometheus.Counter
	retries        *prometheus.CounterVec
	reconnects     prometheus.Counter
	channelState   *prometheus.GaugeVec
	events         *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	sessions       *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
// withRuntime adds the Go and process collectors for the /metrics listener.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "refresh", Name: "renewals_total",
			Help: "Renewal calls issued to the backend, by result.",
		}, []string{"result"}),
		renewalWaiters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "refresh", Name: "attached_waiters_total",
			Help: "Callers that attached to an in-flight renewal instead of starting one.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transport", Name: "auth_retries_total",
			Help: "Requests resent after an authorization failure, by outcome.",
		}, []string{"outcome"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "channel", Name: "reconnects_total",
			Help: "Reconnect attempts scheduled after an unexpected close.",
		}),
		channelState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "channel", Name: "state",
			Help: "1 for the current channel state, 0 otherwise.",
		}, []string{"state"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "events_published_total",
			Help: "Events delivered to subscribers, by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "router", Name: "events_dropped_total",
			Help: "Events suppressed by the router, by reason.",
		}, []string{"reason"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "transitions_total",
			Help: "Session lifecycle transitions, by target state.",
		}, []string{"state"}),
	}

	m.reg.MustRegister(
		m.renewals, m.renewalWaiters, m.retries, m.reconnects,
		m.channelState, m.events, m.dropped, m.sessions,
	)
	if withRuntime {
		m.reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	for _, s := range channelStates {
		m.channelState.WithLabelValues(s).Set(0)
	}
	m.channelState.WithLabelValues("closed").Set(1)
	return m
}

// Registry returns the underlying registry (tests, custom exporters).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// RenewalDone counts one backend renewal call ("ok", "failed", "no_refresh").
func (m *Metrics) RenewalDone(result string) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(result).Inc()
}

// RenewalAttached counts a caller that joined an in-flight renewal.
func (m *Metrics) RenewalAttached() {
	if m == nil {
		return
	}
	m.renewalWaiters.Inc()
}

// TransportRetry counts an authorization retry outcome ("resent", "renew_failed", "rejected_again").
func (m *Metrics) TransportRetry(outcome string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(outcome).Inc()
}

// Reconnect counts a scheduled reconnect.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// ChannelState flips the state gauge to state.
func (m *Metrics) ChannelState(state string) {
	if m == nil {
		return
	}
	for _, s := range channelStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.channelState.WithLabelValues(s).Set(v)
	}
}

// EventPublished counts one delivered event.
func (m *Metrics) EventPublished(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// EventDropped counts one suppressed event ("duplicate", "regression", "invalid").
func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// SessionTransition counts a lifecycle transition into state.
func (m *Metrics) SessionTransition(state string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(state).Inc()
}

// Value sums the samples of the named family (without the chapchat_ prefix)
// whose labels include labelValue. An empty labelValue sums every series.
func (m *Metrics) Value(name, labelValue string) float64 {
	if m == nil {
		return 0
	}
	families, err := m.reg.Gather()
	if err != nil {
		return 0
	}
	full := namespace + "_" + name
	var total float64
	for _, mf := range families {
		if mf.GetName() != full {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelValue != "" && !hasLabelValue(metric, labelValue) {
				continue
			}
			total += sampleValue(metric)
		}
	}
	return total
}

func hasLabelValue(metric *dto.Metric, v string) bool {
	for _, lp := range metric.GetLabel() {
		if lp.GetValue() == v {
			return true
		}
	}
	return false
}

func sampleValue(metric *dto.Metric) float64 {
	switch {
	case metric.Counter != nil:
		return metric.GetCounter().GetValue()
	case metric.Gauge != nil:
		return metric.GetGauge().GetValue()
	}
	return 0
}
