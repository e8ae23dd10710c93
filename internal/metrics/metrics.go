package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	AnalysesStarted   prometheus.Counter
	AnalysesCompleted prometheus.Counter
	AnalysesFailed    prometheus.Counter
	AnalysesResumed   prometheus.Counter
	RuleFindings      prometheus.Counter
	LLMFindings       prometheus.Counter
	LLMChunkFailures  prometheus.Counter
	AdmissionDenied   prometheus.Counter
}

// New creates and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AnalysesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loghawk_analyses_started_total",
			Help: "Analysis runs started.",
		}),
		AnalysesCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loghawk_analyses_completed_total",
			Help: "Analysis runs completed.",
		}),
		AnalysesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loghawk_analyses_failed_total",
			Help: "Analysis runs that ended in FAILED.",
		}),
		AnalysesResumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loghawk_analyses_resumed_total",
			Help: "Stalled or interrupted runs resumed by the recovery scheduler.",
		}),
		RuleFindings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loghawk_rule_findings_total",
			Help: "Findings produced by the rule engine.",
		}),
		LLMFindings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loghawk_llm_findings_total",
			Help: "Findings produced by the LLM orchestrator (pre-merge).",
		}),
		LLMChunkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loghawk_llm_chunk_failures_total",
			Help: "LLM chunk invocations that failed and degraded coverage.",
		}),
		AdmissionDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loghawk_admission_denied_total",
			Help: "Analysis triggers rejected by the admission guard.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.AnalysesStarted, m.AnalysesCompleted, m.AnalysesFailed,
			m.AnalysesResumed, m.RuleFindings, m.LLMFindings,
			m.LLMChunkFailures, m.AdmissionDenied,
		)
	}
	return m
}
