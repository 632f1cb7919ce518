package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/orchestrator/internal/metrics"
	"github.com/mattjoyce/orchestrator/internal/policy"
)

// Router resolves an action to a route or adapter and always returns a trace.
type Router struct {
	routes   RouteSource
	http     *RouteExecutor
	adapters []Adapter
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewRouter(routes RouteSource, executor *RouteExecutor, logger *slog.Logger, m *metrics.Metrics, adapters ...Adapter) *Router {
	return &Router{
		routes:   routes,
		http:     executor,
		adapters: adapters,
		logger:   logger.With("component", "action_router"),
		metrics:  m,
	}
}

// Execute never returns an error: lookup failures, adapter errors and
// panics are recorded in the trace.
func (r *Router) Execute(ctx context.Context, a policy.Action, entityID, contextStatus string) Trace {
	logger := r.logger.With("action_type", a.Type, "entity_id", entityID)

	if r.routes != nil {
		route, err := r.routes.GetRoute(ctx, a.Type)
		switch {
		case err == nil:
			logger.Info("routing action via http route", "url", route.TargetURL)
			t := r.http.Execute(ctx, a, route, entityID, contextStatus)
			r.metrics.Action("route", resultLabel(t))
			return t
		case !errors.Is(err, ErrRouteNotFound):
			logger.Warn("route lookup failed, trying adapters", "error", err)
		}
	}

	adapter := r.adapterFor(a.Type)
	if adapter == nil {
		logger.Warn("no adapter and no route for action")
		r.metrics.Action("none", "skipped")
		return Trace{
			ActionType: a.Type,
			Response: &ErrorResponse{
				Error:  "No adapter registered and no route configured for " + a.Type,
				Status: "Skipped",
			},
		}
	}

	t := r.runAdapter(ctx, logger, adapter, a, entityID, contextStatus)
	r.metrics.Action("adapter", resultLabel(t))
	return t
}

func (r *Router) adapterFor(actionType string) Adapter {
	for _, ad := range r.adapters {
		if ad.CanHandle(actionType) {
			return ad
		}
	}
	return nil
}

func (r *Router) runAdapter(ctx context.Context, logger *slog.Logger, ad Adapter, a policy.Action, entityID, contextStatus string) (t Trace) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("adapter panicked", "adapter", ad.Name(), "panic", rec)
			t = Trace{ActionType: a.Type, Response: &ErrorResponse{Error: fmt.Sprintf("adapter %s panicked: %v", ad.Name(), rec)}}
		}
	}()

	t, err := ad.Execute(ctx, a, entityID, contextStatus)
	if err != nil {
		logger.Error("adapter failed", "adapter", ad.Name(), "error", err)
		return Trace{ActionType: a.Type, Endpoint: t.Endpoint, Request: t.Request, Response: &ErrorResponse{Error: err.Error()}, StatusCode: t.StatusCode}
	}
	if t.ActionType == "" {
		t.ActionType = a.Type
	}
	return t
}

func resultLabel(t Trace) string {
	if t.Failed() {
		return "error"
	}
	return "ok"
}
