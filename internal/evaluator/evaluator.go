// Package evaluator runs one policy against one entity: consistency gate,
// fact snapshot, trigger overlay, then the external decision engine.
package evaluator

import (
	"context"
	"log/slog"
	"time"

	"github.com/mattjoyce/orchestrator/internal/metrics"
	"github.com/mattjoyce/orchestrator/internal/policy"
	"github.com/mattjoyce/orchestrator/internal/ruleengine"
	"github.com/mattjoyce/orchestrator/internal/upstream"
)

// Failure outcomes. A successful evaluation carries the engine's outcome.
const (
	OutcomeConsistencyTimeout  = "ConsistencyTimeout"
	OutcomeContextFetchFailed  = "ContextFetchFailed"
	OutcomeContextFetchError   = "ContextFetchError"
	OutcomeRuleExecutionFailed = "RuleExecutionFailed"
	OutcomeRuleExecutionError  = "RuleExecutionError"
)

const defaultRuleSet = "default_policy"

// Gate blocks until an entity's read view reaches a position.
type Gate interface {
	WaitForConsistency(ctx context.Context, entityType, entityID string, minPos int64, timeout time.Duration) bool
}

// FactSource returns the fact snapshot for an entity.
type FactSource interface {
	FetchFacts(ctx context.Context, req FactsRequest) (map[string]any, error)
}

// RuleEngine evaluates facts against a deployed rule set.
type RuleEngine interface {
	Evaluate(ctx context.Context, ruleSet string, facts map[string]any) (*ruleengine.Decision, error)
}

// Result is the outcome of one evaluation. Facts are always attached, even
// when empty.
type Result struct {
	IsMatch bool           `json:"match"`
	Outcome string         `json:"outcome"`
	Reasons []string       `json:"reasons"`
	Facts   map[string]any `json:"facts"`
}

// Failed reports whether the evaluation stopped before the engine answered.
func (r Result) Failed() bool {
	switch r.Outcome {
	case OutcomeConsistencyTimeout, OutcomeContextFetchFailed, OutcomeContextFetchError,
		OutcomeRuleExecutionFailed, OutcomeRuleExecutionError:
		return true
	}
	return false
}

// Evaluator composes gate, facts and engine.
type Evaluator struct {
	gate        Gate
	facts       FactSource
	engine      RuleEngine
	overlay     []OverlayRule
	gateTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option customizes an Evaluator.
type Option func(*Evaluator)

func WithOverlay(rules []OverlayRule) Option {
	return func(e *Evaluator) { e.overlay = rules }
}

func WithGateTimeout(d time.Duration) Option {
	return func(e *Evaluator) {
		if d > 0 {
			e.gateTimeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

func New(gate Gate, facts FactSource, engine RuleEngine, logger *slog.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		gate:        gate,
		facts:       facts,
		engine:      engine,
		overlay:     DefaultOverlay,
		gateTimeout: 5 * time.Second,
		logger:      logger.With("component", "evaluator"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate never returns an error: every failure becomes a non-matching
// Result with a descriptive outcome.
func (e *Evaluator) Evaluate(ctx context.Context, def *policy.Definition, entityID string, minPos int64, payload map[string]any) Result {
	start := time.Now()
	res := e.evaluate(ctx, def, entityID, minPos, payload)

	label := "no_match"
	switch {
	case res.Failed():
		label = res.Outcome
	case res.IsMatch:
		label = "match"
	}
	e.metrics.Evaluation(label, time.Since(start))
	return res
}

func (e *Evaluator) evaluate(ctx context.Context, def *policy.Definition, entityID string, minPos int64, payload map[string]any) Result {
	logger := e.logger.With("policy_id", def.ID, "entity_id", entityID)
	facts := map[string]any{}

	if minPos > 0 {
		entityType := def.EntityType
		if entityType == "" || entityType == policy.EntityAny {
			entityType = policy.EntityMember
		}
		logger.Info("waiting for causal consistency", "required_pos", minPos)
		if !e.gate.WaitForConsistency(ctx, entityType, entityID, minPos, e.gateTimeout) {
			logger.Warn("consistency timeout, evaluation aborted", "policy", def.Name)
			return failed(OutcomeConsistencyTimeout, facts)
		}
	}

	fetched, err := e.facts.FetchFacts(ctx, FactsRequest{
		EntityID:       entityID,
		ContextProfile: def.ContextProfile,
		RuleSetID:      def.RuleSet,
	})
	if err != nil {
		if upstream.IsStatusError(err) {
			logger.Error("context service rejected request", "profile", def.ContextProfile, "error", err)
			return failed(OutcomeContextFetchFailed, facts)
		}
		logger.Error("context fetch failed", "profile", def.ContextProfile, "error", err)
		return failed(OutcomeContextFetchError, facts)
	}
	facts = fetched
	ApplyOverlay(facts, payload, e.overlay)

	ruleSet := def.RuleSet
	if ruleSet == "" {
		ruleSet = defaultRuleSet
	}
	decision, err := e.engine.Evaluate(ctx, ruleSet, facts)
	if err != nil {
		if upstream.IsStatusError(err) {
			logger.Error("rule service rejected evaluation", "rule_set", ruleSet, "error", err)
			return failed(OutcomeRuleExecutionFailed, facts)
		}
		logger.Error("rule execution failed", "rule_set", ruleSet, "error", err)
		return failed(OutcomeRuleExecutionError, facts)
	}

	reasons := decision.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	return Result{
		IsMatch: decision.Match,
		Outcome: decision.Outcome,
		Reasons: reasons,
		Facts:   facts,
	}
}

func failed(outcome string, facts map[string]any) Result {
	return Result{Outcome: outcome, Reasons: []string{}, Facts: facts}
}
