package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineRecorder records Prometheus metrics for the job pipeline: stage
// durations, agent-call outcomes, and queue depth.
type PipelineRecorder struct {
	stageDuration  *prometheus.HistogramVec
	agentCalls     *prometheus.CounterVec
	jobTransitions *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	tokensTotal    *prometheus.CounterVec
}

// NewPipelineRecorder registers and returns the pipeline metrics.
func NewPipelineRecorder() *PipelineRecorder {
	return &PipelineRecorder{
		stageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codeforge_stage_duration_seconds",
				Help:    "Duration of a stage worker's agent call, by stage and tenant",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage", "tenant_id"},
		),
		agentCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeforge_agent_calls_total",
				Help: "Total agent calls by stage, tenant, and outcome",
			},
			[]string{"stage", "tenant_id", "outcome"},
		),
		jobTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeforge_job_transitions_total",
				Help: "Total job state transitions by event and resulting state",
			},
			[]string{"event", "to_state"},
		),
		queueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "codeforge_queue_depth",
				Help: "Number of ready messages waiting on a stage queue",
			},
			[]string{"stage"},
		),
		tokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codeforge_llm_tokens_total",
				Help: "Total LLM tokens consumed, by tenant, model, and token type",
			},
			[]string{"tenant_id", "model", "type"},
		),
	}
}

// ObserveTokens records tokens consumed by one agent call against the
// tenant/model that spent them, feeding GetTenantUsage's queries.
func (r *PipelineRecorder) ObserveTokens(tenantID, model string, prompt, completion int) {
	r.tokensTotal.WithLabelValues(tenantID, model, "prompt").Add(float64(prompt))
	r.tokensTotal.WithLabelValues(tenantID, model, "completion").Add(float64(completion))
}

// ObserveStage records a stage worker's agent-call duration and outcome.
func (r *PipelineRecorder) ObserveStage(stage, tenantID, outcome string, d time.Duration) {
	r.stageDuration.WithLabelValues(stage, tenantID).Observe(d.Seconds())
	r.agentCalls.WithLabelValues(stage, tenantID, outcome).Inc()
}

// ObserveTransition records a job's state-machine transition.
func (r *PipelineRecorder) ObserveTransition(event, toState string) {
	r.jobTransitions.WithLabelValues(event, toState).Inc()
}

// SetQueueDepth sets the current ready-message count for a stage queue.
func (r *PipelineRecorder) SetQueueDepth(stage string, depth int) {
	r.queueDepth.WithLabelValues(stage).Set(float64(depth))
}
