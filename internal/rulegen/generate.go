// Package rulegen compiles a policy's condition string into rule source for
// the decision engine and deploys it.
package rulegen

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/orchestrator/internal/policy"
)

const matchAll = "$m : Member()"

// factBinding is the engine fact object and property a condition field maps to.
type factBinding struct {
	variable string
	object   string
	property string
}

// fieldBindings is keyed by lower-cased condition field.
var fieldBindings = map[string]factBinding{
	"newstatus":            {"$m", "Member", "status"},
	"member.status":        {"$m", "Member", "status"},
	"walletstatus":         {"$w", "Wallet", "status"},
	"wallet.status":        {"$w", "Wallet", "status"},
	"risklevel":            {"$c", "Compliance", "riskLevel"},
	"compliance.risklevel": {"$c", "Compliance", "riskLevel"},
	"kyc_level":            {"$m", "Member", "kyC_Level"},
}

// Operators in detection order. "!=" must be tested before "==" is assumed.
var operators = []string{"!=", ">", "<"}

// Generate renders rule source for def, naming the rule with the current time.
func Generate(def *policy.Definition) string {
	return Render(def, time.Now())
}

// Render renders rule source for def with an explicit rule timestamp.
func Render(def *policy.Definition, stamp time.Time) string {
	ruleName := fmt.Sprintf("Rule_%d_%d", def.ID, stamp.UTC().UnixNano())
	cond := strings.TrimSpace(def.Condition)

	var b strings.Builder
	b.WriteString("package rules;\n")
	b.WriteString("import com.orchestrator.rules.model.Member;\n")
	b.WriteString("import com.orchestrator.rules.model.Wallet;\n")
	b.WriteString("import com.orchestrator.rules.model.Compliance;\n")
	b.WriteString("global com.orchestrator.rules.model.RuleEvaluationResponse response;\n")
	b.WriteString("\n")
	fmt.Fprintf(&b, "rule \"%s\"\n", ruleName)
	fmt.Fprintf(&b, "    agenda-group \"%s\"\n", escape(def.RuleSet))
	b.WriteString("    when\n")
	fmt.Fprintf(&b, "        %s\n", Clause(cond))
	b.WriteString("    then\n")
	b.WriteString("        response.setMatch(true);\n")
	fmt.Fprintf(&b, "        response.setOutcome(\"%s\");\n", escape(def.ActionType))
	fmt.Fprintf(&b, "        response.addReason(\"Matched Condition: %s\");\n", escape(cond))
	b.WriteString("end\n")
	return b.String()
}

// Clause converts "Field Operator Value" into a single pattern. Conditions
// that cannot be parsed, or whose field is not mapped, match any member.
func Clause(condition string) string {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return matchAll
	}

	op := "=="
	for _, candidate := range operators {
		if strings.Contains(condition, candidate) {
			op = candidate
			break
		}
	}
	field, value, ok := strings.Cut(condition, op)
	if !ok {
		return matchAll
	}
	field = strings.TrimSpace(field)
	value = strings.TrimSpace(strings.ReplaceAll(value, `"`, ""))
	if field == "" || value == "" {
		return matchAll
	}

	bind, ok := fieldBindings[strings.ToLower(field)]
	if !ok {
		return matchAll
	}
	return fmt.Sprintf("%s : %s( %s %s %s )", bind.variable, bind.object, bind.property, op, literal(value))
}

// literal quotes value unless it is numeric.
func literal(value string) string {
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return value
	}
	return strconv.Quote(value)
}

var literalEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`)

// escape makes s safe inside a double-quoted rule string literal.
func escape(s string) string {
	return literalEscaper.Replace(s)
}
