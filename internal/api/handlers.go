package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mattjoyce/orchestrator/internal/action"
	"github.com/mattjoyce/orchestrator/internal/dispatch"
	"github.com/mattjoyce/orchestrator/internal/events"
	"github.com/mattjoyce/orchestrator/internal/execlog"
	"github.com/mattjoyce/orchestrator/internal/n8n"
	"github.com/mattjoyce/orchestrator/internal/policy"
	"github.com/mattjoyce/orchestrator/internal/queuemon"
	"github.com/mattjoyce/orchestrator/internal/rulegen"
)

const (
	maxBodyBytes    = 1 << 20
	executionsLimit = 50
	testMemberID    = "TEST-USER-001"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeBody decodes a JSON body into v and validates it.
func decodeBody(r *http.Request, v any) error {
	if err := decodeJSON(r, v); err != nil {
		return err
	}
	return check(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

func check(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return badRequest("validation failed: %s", strings.Join(msgs, "; "))
		}
		return badRequest("validation failed: %v", err)
	}
	return nil
}

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) error {
	defs, err := s.deps.Policies.List(r.Context())
	if err != nil {
		return dbFailure(err)
	}
	if defs == nil {
		defs = []*policy.Definition{}
	}
	respondJSON(w, http.StatusOK, defs)
	return nil
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) error {
	var def policy.Definition
	if err := decodeBody(r, &def); err != nil {
		return err
	}
	def.ID = 0
	if err := s.deps.Policies.Create(r.Context(), &def); err != nil {
		return dbFailure(err)
	}
	s.policyChanged(r, &def, "created")
	respondJSON(w, http.StatusCreated, def)
	return nil
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) error {
	id, err := idParam(r)
	if err != nil {
		return err
	}
	var def policy.Definition
	if err := decodeBody(r, &def); err != nil {
		return err
	}
	if def.ID != 0 && def.ID != id {
		return badRequest("Route ID %d does not match Body ID %d", id, def.ID)
	}
	def.ID = id

	updated, err := s.deps.Policies.Update(r.Context(), &def)
	if errors.Is(err, policy.ErrNotFound) {
		return notFound("Workflow Definition with ID %d not found", id)
	}
	if err != nil {
		return dbFailure(err)
	}
	s.policyChanged(r, updated, "updated")
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) error {
	id, err := idParam(r)
	if err != nil {
		return err
	}
	err = s.deps.Policies.Delete(r.Context(), id)
	if errors.Is(err, policy.ErrNotFound) {
		return notFound("Workflow Definition with ID %d not found", id)
	}
	if err != nil {
		return dbFailure(err)
	}
	s.deps.Graph.Invalidate()
	s.deps.Hub.Publish(events.TypePolicyChanged, map[string]any{"id": id, "change": "deleted"})
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// policyChanged deploys the saved definition's rules if their source changed,
// drops cached lookups and announces the change. A failed deploy is logged;
// the save stands.
func (s *Server) policyChanged(r *http.Request, def *policy.Definition, change string) {
	if s.deps.Rules != nil {
		if _, err := s.deps.Rules.DeployIfChanged(r.Context(), def); err != nil {
			s.logger.Error("failed to deploy rules", "policy_id", def.ID, "policy", def.Name, "error", err)
		}
	}
	s.deps.Graph.Invalidate()
	s.deps.Hub.Publish(events.TypePolicyChanged, map[string]any{"id": def.ID, "name": def.Name, "change": change})
}

func (s *Server) handleRulePreview(w http.ResponseWriter, r *http.Request) error {
	id, err := idParam(r)
	if err != nil {
		return err
	}
	def, err := s.deps.Policies.Get(r.Context(), id)
	if errors.Is(err, policy.ErrNotFound) {
		return notFound("Workflow Definition with ID %d not found", id)
	}
	if err != nil {
		return dbFailure(err)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, rulegen.Generate(def))
	return nil
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) error {
	execs, err := s.deps.Executions.Latest(r.Context(), executionsLimit)
	if err != nil {
		return dbFailure(err)
	}
	if execs == nil {
		execs = []*execlog.Execution{}
	}
	respondJSON(w, http.StatusOK, execs)
	return nil
}

func (s *Server) handleExecutionTrace(w http.ResponseWriter, r *http.Request) error {
	id, err := idParam(r)
	if err != nil {
		return err
	}
	tr, err := s.deps.Executions.Trace(r.Context(), id)
	if errors.Is(err, execlog.ErrNotFound) {
		return notFound("Execution not found")
	}
	if err != nil {
		return dbFailure(err)
	}
	respondJSON(w, http.StatusOK, tr)
	return nil
}

func (s *Server) handleManualTrigger(w http.ResponseWriter, r *http.Request) error {
	if s.deps.Manual == nil {
		return unavailable("manual trigger")
	}
	var req dispatch.ManualRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}

	res, err := s.deps.Manual.RunManual(r.Context(), req)
	switch {
	case errors.Is(err, policy.ErrNotFound):
		return notFound("Workflow %d not found", req.PolicyID)
	case errors.Is(err, dispatch.ErrPolicyInactive), errors.Is(err, dispatch.ErrNoTargets):
		return badRequest("%s", err.Error())
	case err != nil:
		return err
	}
	respondJSON(w, http.StatusOK, res)
	return nil
}

// handleWorkflowActionTest runs one action for params["membershipId"] or a
// fixed test member.
func (s *Server) handleWorkflowActionTest(w http.ResponseWriter, r *http.Request) error {
	if s.deps.Actions == nil {
		return unavailable("action router")
	}
	var a policy.Action
	if err := decodeBody(r, &a); err != nil {
		return err
	}
	memberID := a.Params["membershipId"]
	if memberID == "" {
		memberID = testMemberID
	}
	respondJSON(w, http.StatusOK, s.deps.Actions.Execute(r.Context(), a, memberID, "Testing"))
	return nil
}

func (s *Server) handleActionTest(w http.ResponseWriter, r *http.Request) error {
	if s.deps.Actions == nil {
		return unavailable("action router")
	}
	var req ActionTestRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	s.logger.Info("manually testing action", "action_type", req.ActionType, "entity_id", req.MembershipID)
	a := policy.Action{Type: req.ActionType, Params: req.Params}
	respondJSON(w, http.StatusOK, s.deps.Actions.Execute(r.Context(), a, req.MembershipID, "ManualTest"))
	return nil
}

func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) error {
	routes, err := s.deps.Routes.ListRoutes(r.Context())
	if err != nil {
		return dbFailure(err)
	}
	if routes == nil {
		routes = []*action.Route{}
	}
	respondJSON(w, http.StatusOK, routes)
	return nil
}

func (s *Server) handleGetRoute(w http.ResponseWriter, r *http.Request) error {
	actionType := chi.URLParam(r, "actionType")
	rt, err := s.deps.Routes.GetRoute(r.Context(), actionType)
	if errors.Is(err, action.ErrRouteNotFound) {
		return notFound("route %s not found", actionType)
	}
	if err != nil {
		return dbFailure(err)
	}
	respondJSON(w, http.StatusOK, rt)
	return nil
}

func (s *Server) handleCreateRoute(w http.ResponseWriter, r *http.Request) error {
	var rt action.Route
	if err := decodeBody(r, &rt); err != nil {
		return err
	}
	err := s.deps.Routes.CreateRoute(r.Context(), &rt)
	if errors.Is(err, action.ErrRouteExists) {
		return conflict("Route for %s already exists", rt.ActionType)
	}
	if err != nil {
		return dbFailure(err)
	}
	s.deps.Hub.Publish(events.TypeRoutesChanged, map[string]any{"actionType": rt.ActionType, "change": "created"})
	respondJSON(w, http.StatusCreated, rt)
	return nil
}

func (s *Server) handleBatchRoutes(w http.ResponseWriter, r *http.Request) error {
	var routes []*action.Route
	if err := decodeJSON(r, &routes); err != nil {
		return err
	}
	for i, rt := range routes {
		if rt == nil {
			return badRequest("route %d is null", i)
		}
		if err := check(rt); err != nil {
			return badRequest("route %d: %v", i, err)
		}
	}

	n, err := s.deps.Routes.BatchUpsert(r.Context(), routes)
	if err != nil {
		return dbFailure(err)
	}
	s.logger.Info("batch registered routes", "count", n)
	s.deps.Hub.Publish(events.TypeRoutesChanged, map[string]any{"registered": n, "change": "batch"})
	respondJSON(w, http.StatusOK, BatchResponse{Registered: n})
	return nil
}

func (s *Server) handleUpdateRoute(w http.ResponseWriter, r *http.Request) error {
	actionType := chi.URLParam(r, "actionType")
	var rt action.Route
	if err := decodeBody(r, &rt); err != nil {
		return err
	}
	if rt.ActionType != actionType {
		return badRequest("route %s does not match body action type %s", actionType, rt.ActionType)
	}
	err := s.deps.Routes.UpdateRoute(r.Context(), &rt)
	if errors.Is(err, action.ErrRouteNotFound) {
		return notFound("route %s not found", actionType)
	}
	if err != nil {
		return dbFailure(err)
	}
	s.logger.Info("route updated", "action_type", actionType)
	s.deps.Hub.Publish(events.TypeRoutesChanged, map[string]any{"actionType": actionType, "change": "updated"})
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) handleDeleteRoute(w http.ResponseWriter, r *http.Request) error {
	actionType := chi.URLParam(r, "actionType")
	err := s.deps.Routes.DeleteRoute(r.Context(), actionType)
	if errors.Is(err, action.ErrRouteNotFound) {
		return notFound("route %s not found", actionType)
	}
	if err != nil {
		return dbFailure(err)
	}
	s.deps.Hub.Publish(events.TypeRoutesChanged, map[string]any{"actionType": actionType, "change": "deleted"})
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) handleListAdapters(w http.ResponseWriter, r *http.Request) error {
	adapters, err := s.deps.Routes.ListAdapters(r.Context())
	if err != nil {
		return dbFailure(err)
	}
	if adapters == nil {
		adapters = []*action.AdapterConfig{}
	}
	respondJSON(w, http.StatusOK, adapters)
	return nil
}

func (s *Server) handleGetAdapter(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	a, err := s.deps.Routes.GetAdapter(r.Context(), name)
	if errors.Is(err, action.ErrAdapterNotFound) {
		return notFound("adapter %s not found", name)
	}
	if err != nil {
		return dbFailure(err)
	}
	respondJSON(w, http.StatusOK, a)
	return nil
}

func (s *Server) handleUpdateAdapter(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	var a action.AdapterConfig
	if err := decodeJSON(r, &a); err != nil {
		return err
	}
	a.AdapterName = name
	if err := check(&a); err != nil {
		return err
	}
	err := s.deps.Routes.UpdateAdapter(r.Context(), name, &a)
	if errors.Is(err, action.ErrAdapterNotFound) {
		return notFound("adapter %s not found", name)
	}
	if err != nil {
		return dbFailure(err)
	}
	s.logger.Info("adapter configuration updated", "adapter", name)
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) handleN8nWorkflows(w http.ResponseWriter, r *http.Request) error {
	if s.deps.N8n == nil {
		return unavailable("n8n discovery")
	}
	wfs, err := s.deps.N8n.Workflows(r.Context())
	if err != nil {
		return n8nError(err)
	}
	if wfs == nil {
		wfs = []n8n.Workflow{}
	}
	respondJSON(w, http.StatusOK, wfs)
	return nil
}

func (s *Server) handleN8nProjects(w http.ResponseWriter, r *http.Request) error {
	if s.deps.N8n == nil {
		return unavailable("n8n discovery")
	}
	raw, err := s.deps.N8n.Projects(r.Context())
	if err != nil {
		return n8nError(err)
	}
	respondJSON(w, http.StatusOK, raw)
	return nil
}

func n8nError(err error) error {
	if errors.Is(err, n8n.ErrNotConfigured) || errors.Is(err, n8n.ErrMissingAPIKey) {
		return badRequest("%s", err.Error())
	}
	return err
}

func (s *Server) handleContextProfiles(w http.ResponseWriter, r *http.Request) error {
	if s.deps.Profiles == nil {
		return unavailable("context aggregator")
	}
	raw, err := s.deps.Profiles.Profiles(r.Context())
	if err != nil {
		return err
	}
	respondJSON(w, http.StatusOK, raw)
	return nil
}

func (s *Server) handleListQueues(w http.ResponseWriter, r *http.Request) error {
	if s.deps.Queues == nil {
		return unavailable("queue monitor")
	}
	queues, err := s.deps.Queues.Queues(r.Context())
	if err != nil {
		return err
	}
	respondJSON(w, http.StatusOK, queues)
	return nil
}

func (s *Server) handlePeekQueue(w http.ResponseWriter, r *http.Request) error {
	if s.deps.Queues == nil {
		return unavailable("queue monitor")
	}
	count := 10
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > queuemon.MaxPeek {
			return badRequest("count must be between 1 and %d", queuemon.MaxPeek)
		}
		count = n
	}
	msgs, err := s.deps.Queues.Peek(r.Context(), chi.URLParam(r, "name"), count)
	if err != nil {
		return err
	}
	respondJSON(w, http.StatusOK, msgs)
	return nil
}
