package execlog

import "time"

// Step statuses.
const (
	StepSuccess  = "Success"
	StepSkipped  = "Skipped"
	StepFailed   = "Failed"
	StepError    = "Error"
	StepExecuted = "Executed"
)

// Well-known step names.
const (
	StepRuleEvaluation  = "Rule Evaluation"
	StepActionExecution = "Action Execution"
)

// Trace is the ordered record of one policy run, serialized into the
// execution row's logs column.
type Trace struct {
	Trigger     string `json:"trigger"`
	TriggerData any    `json:"triggerData"`
	Steps       []Step `json:"steps"`
}

// Step is one entry of a Trace. Details holds an EvaluationDetail, an
// action trace, or a small error object.
type Step struct {
	Name      string    `json:"stepName"`
	Status    string    `json:"status"`
	Details   any       `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// EvaluationDetail is the details payload of a rule evaluation step.
type EvaluationDetail struct {
	RuleName       string   `json:"ruleName"`
	RuleSet        string   `json:"ruleSet"`
	ContextProfile string   `json:"contextProfile"`
	Condition      string   `json:"condition"`
	IsMatch        bool     `json:"isMatch"`
	Outcome        string   `json:"outcome"`
	Reasons        []string `json:"reasons"`
	Facts          any      `json:"facts"`
}

// NewTrace starts a trace for the named trigger.
func NewTrace(trigger string, data any) *Trace {
	return &Trace{Trigger: trigger, TriggerData: data, Steps: []Step{}}
}

// Add appends a step stamped with the current UTC time.
func (t *Trace) Add(name, status string, details any) {
	t.Steps = append(t.Steps, Step{
		Name:      name,
		Status:    status,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
}

// Find returns the first step with the given name.
func (t *Trace) Find(name string) (Step, bool) {
	for _, s := range t.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return Step{}, false
}
