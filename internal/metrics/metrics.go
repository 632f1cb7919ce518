// Package metrics holds the Prometheus instruments of the orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orchestrator"

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	TriggersTotal      *prometheus.CounterVec
	EvaluationsTotal   *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	ActionsTotal       *prometheus.CounterVec
	ExecutionsTotal    *prometheus.CounterVec
	RuleDeploysTotal   *prometheus.CounterVec
	GraphCacheTotal    *prometheus.CounterVec
}

// New creates and registers all metrics with the given registry.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		TriggersTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "triggers_total",
				Help:      "Domain event occurrences seen by the trigger registry",
			},
			[]string{"trigger_type", "result"}, // result=registered/duplicate
		),
		EvaluationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Policy evaluations by outcome class",
			},
			[]string{"result"}, // result=match/no_match/<failure outcome>
		),
		EvaluationDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Time spent in gate, context fetch and rule engine per evaluation",
				Buckets:   prometheus.DefBuckets,
			},
		),
		ActionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Dispatched actions by resolution path and result",
			},
			[]string{"via", "result"}, // via=route/adapter/none, result=ok/error/skipped
		),
		ExecutionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Persisted policy executions by status",
			},
			[]string{"status"},
		),
		RuleDeploysTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_deploys_total",
				Help:      "Rule source deployments to the decision engine",
			},
			[]string{"result"},
		),
		GraphCacheTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dependency_graph_lookups_total",
				Help:      "Dependency graph lookups by cache result",
			},
			[]string{"result"}, // result=hit/miss
		),
	}
}

func (m *Metrics) Trigger(triggerType, result string) {
	if m == nil {
		return
	}
	m.TriggersTotal.WithLabelValues(triggerType, result).Inc()
}

func (m *Metrics) Evaluation(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.EvaluationsTotal.WithLabelValues(result).Inc()
	m.EvaluationDuration.Observe(took.Seconds())
}

func (m *Metrics) Action(via, result string) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(via, result).Inc()
}

func (m *Metrics) Execution(status string) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RuleDeploy(result string) {
	if m == nil {
		return
	}
	m.RuleDeploysTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) GraphLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.GraphCacheTotal.WithLabelValues(result).Inc()
}
