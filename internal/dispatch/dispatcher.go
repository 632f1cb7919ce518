package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mattjoyce/orchestrator/internal/action"
	"github.com/mattjoyce/orchestrator/internal/evaluator"
	"github.com/mattjoyce/orchestrator/internal/events"
	"github.com/mattjoyce/orchestrator/internal/execlog"
	"github.com/mattjoyce/orchestrator/internal/log"
	"github.com/mattjoyce/orchestrator/internal/metrics"
	"github.com/mattjoyce/orchestrator/internal/policy"
	"github.com/mattjoyce/orchestrator/internal/trigger"
)

// Trace trigger names for non-event runs.
const (
	TriggerManual    = "Manual Trigger"
	TriggerScheduled = "Scheduled"
)

// ErrNotPersisted wraps a failure to write the execution row of a run.
var ErrNotPersisted = errors.New("execution not persisted")

// Action stages as they appear in trace step names.
const (
	stageMatch   = "OnMatch"
	stageNoMatch = "OnNoMatch"
)

type TriggerRegistry interface {
	Register(ctx context.Context, o trigger.Occurrence) (*trigger.Trigger, error)
}

type PolicyGraph interface {
	ImpactedPolicies(ctx context.Context, triggerType, entityType string) ([]*policy.Definition, error)
}

type PreFilter interface {
	Matches(cond *policy.TriggerCondition, fields map[string]string) (bool, error)
}

type Evaluator interface {
	Evaluate(ctx context.Context, def *policy.Definition, entityID string, minPos int64, payload map[string]any) evaluator.Result
}

type ActionRunner interface {
	Execute(ctx context.Context, a policy.Action, entityID, contextStatus string) action.Trace
}

type ExecutionLog interface {
	Record(ctx context.Context, policyID int64, entityID, traceID, status string, trace *execlog.Trace) (int64, error)
}

type PolicyReader interface {
	Get(ctx context.Context, id int64) (*policy.Definition, error)
}

type MemberDirectory interface {
	IDs(ctx context.Context) ([]string, error)
}

// Deps are the collaborators of a Dispatcher. Policies and Members are only
// needed for manual runs; Hub and Metrics may be nil.
type Deps struct {
	Registry   TriggerRegistry
	Graph      PolicyGraph
	Filter     PreFilter
	Evaluator  Evaluator
	Actions    ActionRunner
	Executions ExecutionLog
	Policies   PolicyReader
	Members    MemberDirectory
	Hub        *events.Hub
	Metrics    *metrics.Metrics
}

// Dispatcher drives policies from trigger to persisted execution.
type Dispatcher struct {
	deps   Deps
	logger *slog.Logger
}

func New(deps Deps) *Dispatcher {
	return &Dispatcher{deps: deps, logger: log.WithComponent("dispatch")}
}

// Run is one policy evaluation for one entity.
type Run struct {
	Policy        *policy.Definition
	EntityID      string
	MinPos        int64
	Overlay       map[string]any
	ContextStatus string
	Trigger       string
	TriggerData   any
	TraceID       string
}

// Outcome summarizes a persisted run.
type Outcome struct {
	PolicyID    int64  `json:"policyId"`
	EntityID    string `json:"entityId"`
	IsMatch     bool   `json:"isMatch"`
	Outcome     string `json:"outcome"`
	Status      string `json:"status"`
	TraceID     string `json:"traceId"`
	ExecutionID int64  `json:"executionId"`
}

// HandleEvent runs every impacted policy for ev. Duplicates return no
// outcomes and no error. Per-policy persistence failures are logged and do
// not stop the remaining policies.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev *Event) ([]*Outcome, error) {
	logger := d.logger.With("event_type", ev.Type, "entity_id", ev.EntityID, "message_id", ev.MessageID)

	trg, err := d.deps.Registry.Register(ctx, trigger.Occurrence{
		TriggerType: ev.Type,
		EntityType:  ev.EntityType,
		EntityID:    ev.EntityID,
		OccurredAt:  ev.OccurredAt,
		Payload:     ev.Data,
	})
	if errors.Is(err, trigger.ErrDuplicate) {
		d.deps.Hub.Publish(events.TypeTriggerDuplicate, map[string]any{
			"triggerType": ev.Type,
			"entityId":    ev.EntityID,
			"messageId":   ev.MessageID,
		})
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("register trigger: %w", err)
	}

	policies, err := d.deps.Graph.ImpactedPolicies(ctx, trg.TriggerType, trg.EntityType)
	if err != nil {
		return nil, fmt.Errorf("resolve impacted policies: %w", err)
	}
	if len(policies) == 0 {
		logger.Info("no policies for trigger")
		return nil, nil
	}

	traceID := ev.MessageID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	var outcomes []*Outcome
	for _, def := range policies {
		if !d.passesFilter(logger, def, ev.Fields) {
			continue
		}
		out, err := d.RunPolicy(ctx, Run{
			Policy:        def,
			EntityID:      ev.EntityID,
			MinPos:        ev.MinPos,
			Overlay:       ev.Overlay,
			ContextStatus: ev.ContextStatus,
			Trigger:       ev.Type,
			TriggerData:   ev.Data,
			TraceID:       traceID,
		})
		if err != nil {
			logger.Error("policy run not persisted", "policy_id", def.ID, "error", err)
			continue
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

func (d *Dispatcher) passesFilter(logger *slog.Logger, def *policy.Definition, fields map[string]string) bool {
	if def.TriggerCondition.Empty() {
		return true
	}
	ok, err := d.deps.Filter.Matches(def.TriggerCondition, fields)
	if err != nil {
		logger.Error("invalid trigger condition, skipping policy", "policy_id", def.ID, "policy", def.Name, "error", err)
		return false
	}
	if !ok {
		logger.Info("trigger condition not met, skipping policy", "policy_id", def.ID, "policy", def.Name)
	}
	return ok
}

// RunPolicy evaluates one policy for one entity, runs the resulting action
// list and persists exactly one execution row.
func (d *Dispatcher) RunPolicy(ctx context.Context, run Run) (*Outcome, error) {
	def := run.Policy
	if run.TraceID == "" {
		run.TraceID = uuid.NewString()
	}
	logger := d.logger.With("policy_id", def.ID, "entity_id", run.EntityID, "trace_id", run.TraceID)

	tr := execlog.NewTrace(run.Trigger, run.TriggerData)
	res := d.deps.Evaluator.Evaluate(ctx, def, run.EntityID, run.MinPos, run.Overlay)

	detail := execlog.EvaluationDetail{
		RuleName:       def.Name,
		RuleSet:        def.RuleSet,
		ContextProfile: def.ContextProfile,
		Condition:      def.Condition,
		IsMatch:        res.IsMatch,
		Outcome:        res.Outcome,
		Reasons:        res.Reasons,
		Facts:          res.Facts,
	}

	status := execlog.StatusCompleted
	switch {
	case res.Failed():
		logger.Warn("evaluation aborted", "outcome", res.Outcome)
		tr.Add(execlog.StepRuleEvaluation, execlog.StepFailed, detail)
		status = execlog.StatusFailed
	case res.IsMatch:
		logger.Info("policy matched, running match actions", "policy", def.Name)
		tr.Add(execlog.StepRuleEvaluation, execlog.StepSuccess, detail)
		d.runActions(ctx, logger, tr, def, stageMatch, run)
	default:
		logger.Info("policy did not match", "policy", def.Name, "outcome", res.Outcome)
		tr.Add(execlog.StepRuleEvaluation, execlog.StepSkipped, detail)
		d.runActions(ctx, logger, tr, def, stageNoMatch, run)
	}

	// The row is written even if the caller is shutting down.
	id, err := d.deps.Executions.Record(context.WithoutCancel(ctx), def.ID, run.EntityID, run.TraceID, status, tr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	d.deps.Metrics.Execution(status)
	d.deps.Hub.Publish(events.TypeExecutionRecorded, map[string]any{
		"id":       id,
		"policyId": def.ID,
		"entityId": run.EntityID,
		"traceId":  run.TraceID,
		"status":   status,
		"isMatch":  res.IsMatch,
	})

	return &Outcome{
		PolicyID:    def.ID,
		EntityID:    run.EntityID,
		IsMatch:     res.IsMatch,
		Outcome:     res.Outcome,
		Status:      status,
		TraceID:     run.TraceID,
		ExecutionID: id,
	}, nil
}

// runActions executes a stage's action list in order. A policy with no
// match actions but a legacy action type runs that single action instead.
func (d *Dispatcher) runActions(ctx context.Context, logger *slog.Logger, tr *execlog.Trace, def *policy.Definition, stage string, run Run) {
	actions := def.ActionsFor(stage == stageMatch)
	prefix := stage + " Action: "
	if stage == stageMatch && len(actions) == 0 && def.ActionType != "" {
		logger.Info("running legacy action type", "action_type", def.ActionType)
		actions = []policy.Action{{Type: def.ActionType}}
		prefix = "Legacy Action: "
	}

	for _, a := range actions {
		if err := ctx.Err(); err != nil {
			tr.Add(execlog.StepActionExecution, execlog.StepError, map[string]string{"error": err.Error()})
			return
		}
		at := d.deps.Actions.Execute(ctx, a, run.EntityID, run.ContextStatus)
		tr.Add(prefix+a.Type, execlog.StepExecuted, at)
	}
}
