// Package trigger normalizes domain events into triggers and suppresses
// duplicate occurrences through a short-lived dedup key.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/orchestrator/internal/metrics"
)

const (
	// DefaultTTL is how long a dedup key is held.
	DefaultTTL = 5 * time.Minute
	// DefaultWindow is the time bucket occurrences of the same
	// (type, entity type, entity id) collapse into.
	DefaultWindow = time.Second
)

// ErrDuplicate is returned by Register when the occurrence was already seen
// inside the dedup window. Callers skip all further processing.
var ErrDuplicate = errors.New("duplicate trigger")

// Occurrence is one raw domain event to register.
type Occurrence struct {
	TriggerType string
	EntityType  string
	EntityID    string
	// OccurredAt is the event's own timestamp. Zero means "now".
	OccurredAt time.Time
	Payload    any
}

// Trigger is a registered occurrence. It lives for one handling pass.
type Trigger struct {
	ID          string
	TriggerType string
	EntityType  string
	EntityID    string
	DedupKey    string
	Timestamp   time.Time
	Payload     any
}

// Registry registers triggers. A nil store puts the registry in degraded
// mode where every occurrence is registered.
type Registry struct {
	store   DedupStore
	ttl     time.Duration
	window  time.Duration
	prefix  string
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	degradedOnce sync.Once
}

// Option customizes a Registry.
type Option func(*Registry)

func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func WithWindow(window time.Duration) Option {
	return func(r *Registry) {
		if window > 0 {
			r.window = window
		}
	}
}

func WithKeyPrefix(prefix string) Option {
	return func(r *Registry) { r.prefix = prefix }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func NewRegistry(store DedupStore, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		ttl:    DefaultTTL,
		window: DefaultWindow,
		prefix: "trigger:",
		logger: logger.With("component", "trigger"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.store == nil {
		r.markDegraded(errors.New("no dedup store configured"))
	}
	return r
}

// Key computes the dedup key of an occurrence.
func (r *Registry) Key(o Occurrence) string {
	at := o.OccurredAt
	if at.IsZero() {
		at = r.now()
	}
	bucket := at.UTC().Truncate(r.window)
	return fmt.Sprintf("%s%s:%s:%s:%s", r.prefix, o.TriggerType, o.EntityType, o.EntityID, bucket.Format("20060102150405.000"))
}

// Register claims the occurrence's dedup key and returns a new Trigger, or
// ErrDuplicate when the key is already held. Store failures never block
// registration.
func (r *Registry) Register(ctx context.Context, o Occurrence) (*Trigger, error) {
	if o.TriggerType == "" {
		return nil, fmt.Errorf("trigger type is empty")
	}
	if o.EntityID == "" {
		return nil, fmt.Errorf("entity id is empty")
	}

	key := r.Key(o)
	if r.store != nil {
		claimed, err := r.store.Claim(ctx, key, r.ttl)
		switch {
		case err != nil:
			r.markDegraded(err)
		case !claimed:
			r.logger.Warn("duplicate trigger detected, skipping", "dedup_key", key)
			r.metrics.Trigger(o.TriggerType, "duplicate")
			return nil, ErrDuplicate
		}
	}

	ts := o.OccurredAt
	if ts.IsZero() {
		ts = r.now().UTC()
	}
	t := &Trigger{
		ID:          uuid.NewString(),
		TriggerType: o.TriggerType,
		EntityType:  o.EntityType,
		EntityID:    o.EntityID,
		DedupKey:    key,
		Timestamp:   ts,
		Payload:     o.Payload,
	}
	r.metrics.Trigger(o.TriggerType, "registered")
	r.logger.Info("trigger registered",
		"trigger_type", t.TriggerType,
		"entity_type", t.EntityType,
		"entity_id", t.EntityID,
		"dedup_key", key,
	)
	return t, nil
}

func (r *Registry) markDegraded(err error) {
	r.degradedOnce.Do(func() {
		r.logger.Error("dedup store unavailable, deduplication disabled", "error", err)
	})
}
