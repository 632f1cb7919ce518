package trigger

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_dedup.go -package=mocks github.com/mattjoyce/orchestrator/internal/trigger DedupStore

// DedupStore claims dedup keys in a shared store with expiry.
type DedupStore interface {
	// Claim stores key with ttl if it is absent. It reports true when this
	// call created the key and false when the key already existed.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
