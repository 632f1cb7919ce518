// Package graph resolves which active policies a (trigger type, entity type)
// pair impacts, caching results until the next policy mutation.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/orchestrator/internal/metrics"
	"github.com/mattjoyce/orchestrator/internal/policy"
)

// PolicySource is the authoritative query behind the cache.
type PolicySource interface {
	ListImpacted(ctx context.Context, triggerEvent, entityType string) ([]*policy.Definition, error)
}

// Graph is a process-wide cache keyed "triggerType:entityType".
//
// Invalidate swaps in a fresh map instead of clearing the old one, so a
// reader holding the previous map never sees it half-emptied. A rebuild that
// started before an Invalidate is returned to its caller but not cached.
type Graph struct {
	source  PolicySource
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	cache map[string][]*policy.Definition
	gen   uint64
}

func New(source PolicySource, logger *slog.Logger, m *metrics.Metrics) *Graph {
	return &Graph{
		source:  source,
		logger:  logger.With("component", "graph"),
		metrics: m,
		cache:   make(map[string][]*policy.Definition),
	}
}

// ImpactedPolicies returns active definitions for triggerType whose entity
// type equals entityType or "Any", in store order.
func (g *Graph) ImpactedPolicies(ctx context.Context, triggerType, entityType string) ([]*policy.Definition, error) {
	key := triggerType + ":" + entityType

	g.mu.RLock()
	defs, ok := g.cache[key]
	gen := g.gen
	g.mu.RUnlock()
	if ok {
		g.metrics.GraphLookup(true)
		return defs, nil
	}
	g.metrics.GraphLookup(false)

	defs, err := g.source.ListImpacted(ctx, triggerType, entityType)
	if err != nil {
		return nil, fmt.Errorf("resolve impacted policies for %s: %w", key, err)
	}
	if defs == nil {
		defs = []*policy.Definition{}
	}

	g.mu.Lock()
	stored := g.gen == gen
	if stored {
		g.cache[key] = defs
	}
	g.mu.Unlock()

	g.logger.Debug("dependency graph rebuilt", "key", key, "policies", len(defs), "cached", stored)
	return defs, nil
}

// Invalidate drops every cached key.
func (g *Graph) Invalidate() {
	g.mu.Lock()
	g.cache = make(map[string][]*policy.Definition)
	g.gen++
	g.mu.Unlock()
	g.logger.Info("dependency graph invalidated")
}
