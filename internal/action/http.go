package action

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/orchestrator/internal/policy"
	"github.com/mattjoyce/orchestrator/internal/upstream"
)

// RouteExecutor performs the HTTP call described by a Route.
type RouteExecutor struct {
	client *upstream.Client
	logger *slog.Logger
	now    func() time.Time
}

func NewRouteExecutor(client *upstream.Client, logger *slog.Logger) *RouteExecutor {
	return &RouteExecutor{
		client: client,
		logger: logger.With("component", "route_executor"),
		now:    time.Now,
	}
}

// Execute substitutes tokens into the route URL and payload template, sends
// the request and records the outcome.
func (e *RouteExecutor) Execute(ctx context.Context, a policy.Action, route *Route, entityID, contextStatus string) Trace {
	rep := e.replacer(a, entityID, contextStatus)
	target := rep.Replace(route.TargetURL)

	payload := route.PayloadTemplate
	if payload == "" {
		payload = "{}"
	}
	payload = rep.Replace(payload)
	if strings.TrimSpace(payload) == "{{}}" {
		payload = "{}"
	}

	t := Trace{ActionType: a.Type, Endpoint: target}
	if json.Valid([]byte(payload)) {
		t.Request = json.RawMessage(payload)
	} else {
		t.Request = "Invalid JSON Payload generated"
	}

	method := strings.ToUpper(route.HTTPMethod)
	if method == "" {
		method = http.MethodPost
	}
	var body io.Reader
	if method != http.MethodGet && strings.TrimSpace(payload) != "" {
		body = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		t.StatusCode = http.StatusInternalServerError
		t.Response = &ErrorResponse{Error: err.Error()}
		return t
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if route.AuthSecret != "" {
		req.Header.Set("Authorization", "Bearer "+route.AuthSecret)
	}

	e.logger.Info("sending action request", "method", method, "url", target, "action_type", a.Type)
	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Error("action request failed", "action_type", a.Type, "error", err)
		t.StatusCode = http.StatusInternalServerError
		t.Response = &ErrorResponse{Error: err.Error()}
		return t
	}

	t.StatusCode = resp.StatusCode
	if resp.OK() {
		if len(resp.Body) > 0 {
			t.Response = string(resp.Body)
		} else {
			t.Response = "Request Accepted"
		}
		return t
	}
	t.Response = &ErrorResponse{Error: string(resp.Body), Status: reasonPhrase(resp)}
	return t
}

// replacer builds a single-pass replacer. Built-in tokens are listed first
// so params cannot shadow them.
func (e *RouteExecutor) replacer(a policy.Action, entityID, contextStatus string) *strings.Replacer {
	pairs := []string{
		"{{membershipId}}", entityID,
		"{{entityId}}", entityID,
		"{{actionType}}", a.Type,
		"{{contextStatus}}", contextStatus,
		"{{timestamp}}", e.now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range a.Params {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...)
}

func reasonPhrase(resp *upstream.Response) string {
	if reason := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); reason != "" && reason != resp.Status {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}
