package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/orchestrator/internal/policy"
)

func TestFilterMatches(t *testing.T) {
	f, err := NewFilter()
	require.NoError(t, err)

	fields := map[string]string{"NewStatus": "Suspended", "OldStatus": "Active"}

	tests := []struct {
		name string
		cond *policy.TriggerCondition
		want bool
	}{
		{"nil condition", nil, true},
		{"empty criteria", &policy.TriggerCondition{Logic: "AND"}, true},
		{"equal match", &policy.TriggerCondition{Criteria: []policy.Criterion{{Field: "NewStatus", Operator: "==", Value: "Suspended"}}}, true},
		{"equal miss", &policy.TriggerCondition{Criteria: []policy.Criterion{{Field: "NewStatus", Operator: "==", Value: "Active"}}}, false},
		{"not equal", &policy.TriggerCondition{Criteria: []policy.Criterion{{Field: "OldStatus", Operator: "!=", Value: "Suspended"}}}, true},
		{"and requires all", &policy.TriggerCondition{Logic: "AND", Criteria: []policy.Criterion{
			{Field: "NewStatus", Operator: "==", Value: "Suspended"},
			{Field: "OldStatus", Operator: "==", Value: "Pending"},
		}}, false},
		{"or requires one", &policy.TriggerCondition{Logic: "OR", Criteria: []policy.Criterion{
			{Field: "NewStatus", Operator: "==", Value: "Confiscated"},
			{Field: "OldStatus", Operator: "==", Value: "Active"},
		}}, true},
		{"unknown field compares empty", &policy.TriggerCondition{Criteria: []policy.Criterion{{Field: "Nope", Operator: "!=", Value: "x"}}}, true},
		{"unsupported operator never matches", &policy.TriggerCondition{Criteria: []policy.Criterion{{Field: "NewStatus", Operator: ">", Value: "A"}}}, false},
		{"quotes in value", &policy.TriggerCondition{Criteria: []policy.Criterion{{Field: "NewStatus", Operator: "==", Value: `a"b`}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Matches(tt.cond, fields)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterCachesPrograms(t *testing.T) {
	f, err := NewFilter()
	require.NoError(t, err)

	cond := &policy.TriggerCondition{Criteria: []policy.Criterion{{Field: "Status", Operator: "==", Value: "Locked"}}}
	for range 3 {
		ok, err := f.Matches(cond, map[string]string{"Status": "Locked"})
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Len(t, f.programs, 1)
}

func TestExpression(t *testing.T) {
	expr := Expression(&policy.TriggerCondition{Logic: "or", Criteria: []policy.Criterion{
		{Field: "A", Operator: "==", Value: "1"},
		{Field: "B", Operator: "!=", Value: "2"},
	}})
	assert.Equal(t, `(("A" in fields ? fields["A"] : "") == "1" || ("B" in fields ? fields["B"] : "") != "2")`, expr)
}
