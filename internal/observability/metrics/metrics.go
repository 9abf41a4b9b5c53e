package metrics

import "github.com/prometheus/client_golang/prometheus"

// RenewalMetrics exposes counters/histograms for the renewal engine.
type RenewalMetrics struct {
	inboundTotal    *prometheus.CounterVec
	transitionTotal *prometheus.CounterVec
	outboundTotal   *prometheus.CounterVec
	webhookLatency  *prometheus.HistogramVec
}

func NewRenewalMetrics(reg prometheus.Registerer) *RenewalMetrics {
	m := &RenewalMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hadirot",
			Subsystem: "renewal",
			Name:      "inbound_total",
			Help:      "Inbound SMS processed, by engine outcome",
		}, []string{"outcome"}),
		transitionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hadirot",
			Subsystem: "renewal",
			Name:      "transitions_total",
			Help:      "State machine transitions, by origin state and intent",
		}, []string{"state", "intent"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hadirot",
			Subsystem: "renewal",
			Name:      "outbound_total",
			Help:      "Outbound SMS sends, by status and source",
		}, []string{"status", "source"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hadirot",
			Subsystem: "renewal",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of inbound webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.transitionTotal, m.outboundTotal, m.webhookLatency)
	return m
}

func (m *RenewalMetrics) ObserveInbound(outcome string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(outcome).Inc()
}

func (m *RenewalMetrics) ObserveTransition(state, intent string) {
	if m == nil {
		return
	}
	m.transitionTotal.WithLabelValues(state, intent).Inc()
}

func (m *RenewalMetrics) ObserveOutbound(status, source string) {
	if m == nil {
		return
	}
	m.outboundTotal.WithLabelValues(status, source).Inc()
}

func (m *RenewalMetrics) ObserveWebhookLatency(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(provider).Observe(seconds)
}
