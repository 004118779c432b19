package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the counters the pipeline and adapters report.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	pipelineResults *prometheus.CounterVec
	languageCalls   *prometheus.CounterVec
	languageLatency *prometheus.HistogramVec
	logAppends      *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pipelineResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aris",
			Name:      "pipeline_results_total",
			Help:      "Handled user messages by outcome.",
		}, []string{"outcome"}),
		languageCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aris",
			Name:      "language_calls_total",
			Help:      "Language service calls by capability and result.",
		}, []string{"capability", "result"}),
		languageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aris",
			Name:      "language_call_duration_seconds",
			Help:      "Language service call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"capability"}),
		logAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aris",
			Name:      "session_log_appends_total",
			Help:      "Session log appends by role and result.",
		}, []string{"role", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.pipelineResults, m.languageCalls, m.languageLatency, m.logAppends)
	}
	return m
}

func (m *Metrics) PipelineResult(outcome string) {
	if m == nil {
		return
	}
	m.pipelineResults.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LanguageCall(capability, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.languageCalls.WithLabelValues(capability, result).Inc()
	m.languageLatency.WithLabelValues(capability).Observe(elapsed.Seconds())
}

func (m *Metrics) LogAppend(role, result string) {
	if m == nil {
		return
	}
	m.logAppends.WithLabelValues(role, result).Inc()
}
