package policy

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Trigger event names understood by the dispatcher and scheduler.
const (
	EventMemberStatusChanged     = "MemberStatusChanged"
	EventWalletUpdated           = "WalletUpdated"
	EventComplianceStatusChanged = "ComplianceStatusChanged"
	EventScheduled               = "Scheduled"
)

// Entity types. EntityAny matches every entity type in dependency lookups.
const (
	EntityMember     = "Member"
	EntityWallet     = "Wallet"
	EntityCompliance = "Compliance"
	EntityAny        = "Any"
)

// Pre-filter logic operators.
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

// ErrNotFound is returned when a definition id does not exist.
var ErrNotFound = errors.New("policy definition not found")

// Criterion is one field comparison in a trigger pre-filter.
type Criterion struct {
	Field    string `json:"field" validate:"required"`
	Operator string `json:"operator" validate:"omitempty,oneof=== !="`
	Value    string `json:"value"`
}

// TriggerCondition is the pre-filter evaluated against the raw event before
// a policy is sent to the evaluator.
type TriggerCondition struct {
	Logic    string      `json:"logic" validate:"omitempty,oneof=AND OR"`
	Criteria []Criterion `json:"criteria" validate:"dive"`
}

// Empty reports whether the condition has nothing to test.
func (c *TriggerCondition) Empty() bool {
	return c == nil || len(c.Criteria) == 0
}

// Action is one outbound step in a match or no-match list.
type Action struct {
	Type   string            `json:"type" validate:"required"`
	Params map[string]string `json:"params,omitempty"`
}

// Definition is a stored policy (workflow) definition.
type Definition struct {
	ID               int64             `json:"id"`
	Name             string            `json:"name" validate:"required"`
	TriggerEvent     string            `json:"triggerEvent" validate:"required"`
	EntityType       string            `json:"entityType"`
	Version          int               `json:"version"`
	TriggerKey       string            `json:"triggerKey"`
	ContextProfile   string            `json:"contextProfile"`
	RuleSet          string            `json:"ruleSet"`
	TriggerCondition *TriggerCondition `json:"triggerCondition,omitempty" validate:"omitempty"`
	OnMatch          []Action          `json:"onMatchActions,omitempty" validate:"dive"`
	OnNoMatch        []Action          `json:"onNoMatchActions,omitempty" validate:"dive"`

	// Condition and ActionType are the single-condition/single-action pair
	// from before action lists existed. Condition still drives rule source
	// generation.
	Condition  string `json:"conditionCriteria"`
	ActionType string `json:"actionType"`

	IsActive        bool      `json:"isActive"`
	RuleFingerprint string    `json:"ruleFingerprint,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Normalize fills generated identifiers and defaults. Every definition that
// passes through Normalize has a rule set id.
func (d *Definition) Normalize() {
	d.Name = strings.TrimSpace(d.Name)
	d.TriggerEvent = strings.TrimSpace(d.TriggerEvent)
	if strings.TrimSpace(d.EntityType) == "" {
		d.EntityType = EntityMember
	}
	if d.Version <= 0 {
		d.Version = 1
	}
	if strings.TrimSpace(d.RuleSet) == "" {
		d.RuleSet = NewRuleSetID()
	}
	if strings.TrimSpace(d.TriggerKey) == "" {
		d.TriggerKey = NewTriggerKey()
	}
	if d.TriggerCondition != nil && d.TriggerCondition.Logic == "" {
		d.TriggerCondition.Logic = LogicAnd
	}
}

// ActionsFor returns the action list for an evaluation outcome.
func (d *Definition) ActionsFor(isMatch bool) []Action {
	if isMatch {
		return d.OnMatch
	}
	return d.OnNoMatch
}

// NewRuleSetID returns a fresh "policy_xxxxxxxx" identifier.
func NewRuleSetID() string {
	return "policy_" + shortHex()
}

// NewTriggerKey returns a fresh "key_xxxxxxxx" identifier.
func NewTriggerKey() string {
	return "key_" + shortHex()
}

func shortHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
