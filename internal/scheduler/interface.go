package scheduler

import (
	"context"

	"github.com/mattjoyce/orchestrator/internal/dispatch"
	"github.com/mattjoyce/orchestrator/internal/policy"
)

//go:generate mockgen -destination=mocks/mock_scheduler.go -package=mocks github.com/mattjoyce/orchestrator/internal/scheduler MemberSource,PolicyRunner,PolicySource

// PolicySource lists active policies for a trigger event.
type PolicySource interface {
	ListByTrigger(ctx context.Context, triggerEvent string) ([]*policy.Definition, error)
}

// MemberSource returns the full entity population.
type MemberSource interface {
	IDs(ctx context.Context) ([]string, error)
}

// PolicyRunner evaluates one policy for one entity and persists the result.
type PolicyRunner interface {
	RunPolicy(ctx context.Context, run dispatch.Run) (*dispatch.Outcome, error)
}
