package trigger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/mattjoyce/orchestrator/internal/policy"
)

const (
	filterCostBudget = 10_000
	filterTimeout    = time.Second
)

// Filter evaluates a policy's trigger pre-filter against the fields of the
// raw event. Conditions are compiled to CEL once and cached by expression.
type Filter struct {
	env *cel.Env

	mu       sync.Mutex
	programs map[string]cel.Program
}

func NewFilter() (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("fields", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create filter environment: %w", err)
	}
	return &Filter{env: env, programs: make(map[string]cel.Program)}, nil
}

// Matches reports whether fields satisfy cond. A nil or empty condition
// always matches. Fields missing from the map compare as "".
func (f *Filter) Matches(cond *policy.TriggerCondition, fields map[string]string) (bool, error) {
	if cond.Empty() {
		return true, nil
	}

	expr := Expression(cond)
	prg, err := f.program(expr)
	if err != nil {
		return false, err
	}

	if fields == nil {
		fields = map[string]string{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), filterTimeout)
	defer cancel()

	out, _, err := prg.ContextEval(ctx, map[string]any{"fields": fields})
	if err != nil {
		return false, fmt.Errorf("evaluate trigger condition: %w", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("trigger condition did not return a boolean, got %T", out.Value())
	}
	return ok, nil
}

// Expression renders cond as a CEL expression over the fields map.
// Operators other than == and != never match.
func Expression(cond *policy.TriggerCondition) string {
	joiner := " && "
	if strings.EqualFold(strings.TrimSpace(cond.Logic), policy.LogicOr) {
		joiner = " || "
	}

	parts := make([]string, 0, len(cond.Criteria))
	for _, c := range cond.Criteria {
		field := strconv.Quote(c.Field)
		actual := fmt.Sprintf("(%s in fields ? fields[%s] : \"\")", field, field)
		value := strconv.Quote(c.Value)

		switch strings.TrimSpace(c.Operator) {
		case "==", "":
			parts = append(parts, fmt.Sprintf("%s == %s", actual, value))
		case "!=":
			parts = append(parts, fmt.Sprintf("%s != %s", actual, value))
		default:
			parts = append(parts, "false")
		}
	}
	return "(" + strings.Join(parts, joiner) + ")"
}

func (f *Filter) program(expr string) (cel.Program, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if prg, ok := f.programs[expr]; ok {
		return prg, nil
	}

	ast, issues := f.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile trigger condition: %w", issues.Err())
	}
	prg, err := f.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(filterCostBudget),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	f.programs[expr] = prg
	return prg, nil
}
