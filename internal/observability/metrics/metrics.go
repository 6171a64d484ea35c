package metrics

import "github.com/prometheus/client_golang/prometheus"

// FunnelMetrics exposes counters/histograms for the conversation pipeline.
type FunnelMetrics struct {
	inboundTotal    *prometheus.CounterVec
	debounceFires   prometheus.Counter
	webhookTotal    *prometheus.CounterVec
	dispatchUnits   *prometheus.CounterVec
	modelRetries    prometheus.Counter
	modelFallbacks  prometheus.Counter
	pipelineLatency *prometheus.HistogramVec
}

func NewFunnelMetrics(reg prometheus.Registerer) *FunnelMetrics {
	m := &FunnelMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zapfunnel",
			Subsystem: "inbound",
			Name:      "messages_total",
			Help:      "Total inbound WhatsApp messages observed",
		}, []string{"status"}),
		debounceFires: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zapfunnel",
			Subsystem: "inbound",
			Name:      "debounce_fires_total",
			Help:      "Debounce windows that elapsed and triggered processing",
		}),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zapfunnel",
			Subsystem: "commerce",
			Name:      "webhook_total",
			Help:      "Total commerce webhook deliveries by outcome",
		}, []string{"source", "outcome"}),
		dispatchUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zapfunnel",
			Subsystem: "dispatch",
			Name:      "units_total",
			Help:      "Dispatched content units by kind and status",
		}, []string{"kind", "status"}),
		modelRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zapfunnel",
			Subsystem: "llm",
			Name:      "retries_total",
			Help:      "Model call retries after transient failures",
		}),
		modelFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zapfunnel",
			Subsystem: "llm",
			Name:      "fallbacks_total",
			Help:      "Conversations answered with the canned fallback after retry exhaustion",
		}),
		pipelineLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zapfunnel",
			Subsystem: "pipeline",
			Name:      "pass_duration_seconds",
			Help:      "Duration of one debounced pipeline pass",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.inboundTotal,
		m.debounceFires,
		m.webhookTotal,
		m.dispatchUnits,
		m.modelRetries,
		m.modelFallbacks,
		m.pipelineLatency,
	)
	return m
}

func (m *FunnelMetrics) ObserveInbound(status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(status).Inc()
}

func (m *FunnelMetrics) ObserveDebounceFire() {
	if m == nil {
		return
	}
	m.debounceFires.Inc()
}

func (m *FunnelMetrics) ObserveWebhook(source, outcome string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(source, outcome).Inc()
}

func (m *FunnelMetrics) ObserveDispatchUnit(kind, status string) {
	if m == nil {
		return
	}
	m.dispatchUnits.WithLabelValues(kind, status).Inc()
}

func (m *FunnelMetrics) ObserveModelRetry() {
	if m == nil {
		return
	}
	m.modelRetries.Inc()
}

func (m *FunnelMetrics) ObserveModelFallback() {
	if m == nil {
		return
	}
	m.modelFallbacks.Inc()
}

func (m *FunnelMetrics) ObservePipelinePass(action string, seconds float64) {
	if m == nil {
		return
	}
	m.pipelineLatency.WithLabelValues(action).Observe(seconds)
}
