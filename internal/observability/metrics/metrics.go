package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConversationMetrics exposes counters/histograms for chat turns.
type ConversationMetrics struct {
	turnsTotal       *prometheus.CounterVec
	actionsTotal     *prometheus.CounterVec
	llmLatency       *prometheus.HistogramVec
	upstreamFailures *prometheus.CounterVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medibook",
			Subsystem: "conversation",
			Name:      "turns_total",
			Help:      "Total chat turns by resulting intent and outcome",
		}, []string{"intent", "outcome"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medibook",
			Subsystem: "conversation",
			Name:      "actions_total",
			Help:      "Executed booking actions by result",
		}, []string{"action", "result"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medibook",
			Subsystem: "conversation",
			Name:      "llm_latency_seconds",
			Help:      "Latency of extraction and response model calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		upstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medibook",
			Subsystem: "conversation",
			Name:      "upstream_failures_total",
			Help:      "Failed extraction or response model calls",
		}, []string{"stage"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.actionsTotal, m.llmLatency, m.upstreamFailures)
	return m
}

func (m *ConversationMetrics) ObserveTurn(intent, outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(intent, outcome).Inc()
}

func (m *ConversationMetrics) ObserveAction(action string, success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.actionsTotal.WithLabelValues(action, result).Inc()
}

func (m *ConversationMetrics) ObserveLLMLatency(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.llmLatency.WithLabelValues(stage).Observe(seconds)
}

func (m *ConversationMetrics) ObserveUpstreamFailure(stage string) {
	if m == nil {
		return
	}
	m.upstreamFailures.WithLabelValues(stage).Inc()
}
