package action

//go:generate mockgen -destination=mocks/mock_action.go -package=mocks github.com/mattjoyce/orchestrator/internal/action Adapter,Publisher

import (
	"context"

	"github.com/mattjoyce/orchestrator/internal/policy"
)

// Adapter executes action types that have no configured route.
type Adapter interface {
	Name() string
	CanHandle(actionType string) bool
	Execute(ctx context.Context, a policy.Action, entityID, contextStatus string) (Trace, error)
}

// RouteSource looks up a configured route by action type.
type RouteSource interface {
	GetRoute(ctx context.Context, actionType string) (*Route, error)
}

// AdapterSource looks up a named adapter config.
type AdapterSource interface {
	GetAdapter(ctx context.Context, name string) (*AdapterConfig, error)
}

// Publisher sends a message to a broker destination (queue or topic).
type Publisher interface {
	Publish(ctx context.Context, destination string, body []byte) error
	Close() error
}
