package api

import "net/http"

// route is one admin endpoint under /api. The same table drives the router
// and the OpenAPI document.
type route struct {
	method  string
	path    string
	scope   string
	summary string
	handler func(*Server, http.ResponseWriter, *http.Request) error
}

var adminRoutes = []route{
	{http.MethodGet, "/workflows/definitions", "policies:ro", "List policy definitions", (*Server).handleListPolicies},
	{http.MethodPost, "/workflows/definitions", "policies:rw", "Create a policy definition and deploy its rules", (*Server).handleCreatePolicy},
	{http.MethodPut, "/workflows/definitions/{id}", "policies:rw", "Update a policy definition and redeploy its rules", (*Server).handleUpdatePolicy},
	{http.MethodDelete, "/workflows/definitions/{id}", "policies:rw", "Delete a policy definition", (*Server).handleDeletePolicy},
	{http.MethodGet, "/workflows/definitions/{id}/rule", "policies:ro", "Preview the generated rule source", (*Server).handleRulePreview},
	{http.MethodGet, "/workflows/executions", "executions:ro", "Latest executions with policy names", (*Server).handleListExecutions},
	{http.MethodGet, "/workflows/executions/{id}/trace", "executions:ro", "Execution trace", (*Server).handleExecutionTrace},
	{http.MethodPost, "/workflows/trigger", "trigger:rw", "Run a policy manually", (*Server).handleManualTrigger},
	{http.MethodPost, "/workflows/actions/test", "trigger:rw", "Dry-run one action", (*Server).handleWorkflowActionTest},
	{http.MethodPost, "/test/action", "trigger:rw", "Dry-run one action for a member", (*Server).handleActionTest},
	{http.MethodGet, "/routes", "routes:ro", "List action routes", (*Server).handleListRoutes},
	{http.MethodPost, "/routes", "routes:rw", "Create an action route", (*Server).handleCreateRoute},
	{http.MethodPost, "/routes/batch", "routes:rw", "Register action routes in bulk", (*Server).handleBatchRoutes},
	{http.MethodGet, "/routes/{actionType}", "routes:ro", "Get an action route", (*Server).handleGetRoute},
	{http.MethodPut, "/routes/{actionType}", "routes:rw", "Update an action route", (*Server).handleUpdateRoute},
	{http.MethodDelete, "/routes/{actionType}", "routes:rw", "Delete an action route", (*Server).handleDeleteRoute},
	{http.MethodGet, "/adapters", "routes:ro", "List adapter configs", (*Server).handleListAdapters},
	{http.MethodGet, "/adapters/n8n/workflows", "routes:ro", "List n8n webhook workflows", (*Server).handleN8nWorkflows},
	{http.MethodGet, "/adapters/n8n/projects", "routes:ro", "List n8n projects", (*Server).handleN8nProjects},
	{http.MethodGet, "/adapters/{name}", "routes:ro", "Get an adapter config", (*Server).handleGetAdapter},
	{http.MethodPut, "/adapters/{name}", "routes:rw", "Update an adapter config", (*Server).handleUpdateAdapter},
	{http.MethodGet, "/context/profiles", "policies:ro", "Context aggregator profiles", (*Server).handleContextProfiles},
	{http.MethodGet, "/queue", "queues:ro", "List broker queues with depth and consumers", (*Server).handleListQueues},
	{http.MethodGet, "/queue/{name}/messages", "queues:ro", "Peek at waiting messages without consuming them", (*Server).handlePeekQueue},
}
