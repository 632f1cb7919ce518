// Package inspect renders a stored policy execution and its trace for the
// command line.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/orchestrator/internal/execlog"
	"github.com/mattjoyce/orchestrator/internal/policy"
)

// ExecutionSource reads execution rows and their decoded traces.
type ExecutionSource interface {
	Get(ctx context.Context, id int64) (*execlog.Execution, error)
	Trace(ctx context.Context, id int64) (*execlog.Trace, error)
}

// PolicySource resolves the policy an execution belongs to.
type PolicySource interface {
	Get(ctx context.Context, id int64) (*policy.Definition, error)
}

// Report is the structured JSON representation of an execution report.
type Report struct {
	ExecutionID int64           `json:"execution_id"`
	PolicyID    int64           `json:"policy_id"`
	PolicyName  string          `json:"policy_name"`
	RuleSet     string          `json:"rule_set,omitempty"`
	EntityID    string          `json:"entity_id"`
	TraceID     string          `json:"trace_id"`
	Status      string          `json:"status"`
	ExecutedAt  time.Time       `json:"executed_at"`
	Decision    string          `json:"decision,omitempty"`
	Trigger     string          `json:"trigger"`
	TriggerData json.RawMessage `json:"trigger_data"`
	Steps       []Step          `json:"steps"`
}

// Step is one entry of the execution trace.
type Step struct {
	Index     int             `json:"index"`
	Name      string          `json:"name"`
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Details   json.RawMessage `json:"details"`
}

// BuildReport renders a terminal-friendly report for an execution.
func BuildReport(ctx context.Context, executions ExecutionSource, policies PolicySource, id int64) (string, error) {
	report, err := gatherReportData(ctx, executions, policies, id)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Execution Report\n")
	fmt.Fprintf(&out, "Execution ID : %d\n", report.ExecutionID)
	fmt.Fprintf(&out, "Policy       : %s (#%d)\n", report.PolicyName, report.PolicyID)
	if report.RuleSet != "" {
		fmt.Fprintf(&out, "Rule set     : %s\n", report.RuleSet)
	}
	fmt.Fprintf(&out, "Entity       : %s\n", report.EntityID)
	fmt.Fprintf(&out, "Trace ID     : %s\n", report.TraceID)
	fmt.Fprintf(&out, "Status       : %s\n", report.Status)
	fmt.Fprintf(&out, "Executed at  : %s\n", report.ExecutedAt.Format(time.RFC3339))
	if report.Decision != "" {
		fmt.Fprintf(&out, "Decision     : %s\n", report.Decision)
	}
	fmt.Fprintf(&out, "Trigger      : %s\n", report.Trigger)
	writeIndented(&out, "    ", report.TriggerData)
	fmt.Fprintf(&out, "\n")

	if len(report.Steps) == 0 {
		fmt.Fprintf(&out, "No steps recorded.\n")
	}
	for _, step := range report.Steps {
		fmt.Fprintf(&out, "[%d] %s :: %s (%s)\n", step.Index, step.Name, step.Status, step.Timestamp.Format(time.RFC3339))
		writeIndented(&out, "      ", step.Details)
		fmt.Fprintf(&out, "\n")
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable execution report.
func BuildJSONReport(ctx context.Context, executions ExecutionSource, policies PolicySource, id int64) (string, error) {
	report, err := gatherReportData(ctx, executions, policies, id)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, executions ExecutionSource, policies PolicySource, id int64) (*Report, error) {
	exec, err := executions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, execlog.ErrNotFound) {
			return nil, fmt.Errorf("execution %d not found", id)
		}
		return nil, err
	}
	trace, err := executions.Trace(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load trace: %w", err)
	}

	report := &Report{
		ExecutionID: exec.ID,
		PolicyID:    exec.PolicyID,
		PolicyName:  "<deleted>",
		EntityID:    exec.EntityID,
		TraceID:     exec.TraceID,
		Status:      exec.Status,
		ExecutedAt:  exec.ExecutedAt,
		Decision:    decision(trace),
		Trigger:     trace.Trigger,
		TriggerData: toRaw(trace.TriggerData),
		Steps:       make([]Step, 0, len(trace.Steps)),
	}

	def, err := policies.Get(ctx, exec.PolicyID)
	switch {
	case err == nil:
		report.PolicyName = def.Name
		report.RuleSet = def.RuleSet
	case !errors.Is(err, policy.ErrNotFound):
		return nil, fmt.Errorf("load policy: %w", err)
	}

	for i, s := range trace.Steps {
		report.Steps = append(report.Steps, Step{
			Index:     i + 1,
			Name:      s.Name,
			Status:    s.Status,
			Timestamp: s.Timestamp,
			Details:   toRaw(s.Details),
		})
	}
	return report, nil
}

// decision summarizes the rule evaluation step. Runs that never reached
// the rule engine have none.
func decision(trace *execlog.Trace) string {
	step, ok := trace.Find(execlog.StepRuleEvaluation)
	if !ok {
		return ""
	}
	var detail execlog.EvaluationDetail
	if step.Status != execlog.StepSuccess || json.Unmarshal(toRaw(step.Details), &detail) != nil {
		return "evaluation " + strings.ToLower(step.Status)
	}
	if !detail.IsMatch {
		return "no match"
	}
	if detail.Outcome != "" {
		return "matched (" + detail.Outcome + ")"
	}
	return "matched"
}

func toRaw(v any) json.RawMessage {
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}

func writeIndented(out *strings.Builder, indent string, raw json.RawMessage) {
	for _, line := range strings.Split(strings.TrimSpace(prettyJSON(raw)), "\n") {
		fmt.Fprintf(out, "%s%s\n", indent, line)
	}
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(out)
}
