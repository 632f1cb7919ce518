package action

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mattjoyce/orchestrator/internal/policy"
	"github.com/mattjoyce/orchestrator/internal/upstream"
)

// PlatformAdapter handles "<ADAPTER>:<path>" action types by posting to the
// named adapter config's base URL, e.g. "N8N:team-notify".
type PlatformAdapter struct {
	configs AdapterSource
	client  *upstream.Client
	logger  *slog.Logger
}

func NewPlatformAdapter(configs AdapterSource, client *upstream.Client, logger *slog.Logger) *PlatformAdapter {
	return &PlatformAdapter{
		configs: configs,
		client:  client,
		logger:  logger.With("component", "platform_adapter"),
	}
}

func (p *PlatformAdapter) Name() string { return "platform" }

func (p *PlatformAdapter) CanHandle(actionType string) bool {
	name, path, ok := strings.Cut(actionType, ":")
	if !ok || name == "" || path == "" {
		return false
	}
	switch strings.ToUpper(name) {
	case prefixAMQP, prefixKafka:
		return false
	}
	return true
}

func (p *PlatformAdapter) Execute(ctx context.Context, a policy.Action, entityID, contextStatus string) (Trace, error) {
	name, path, _ := strings.Cut(a.Type, ":")
	t := Trace{ActionType: a.Type}

	cfg, err := p.configs.GetAdapter(ctx, name)
	if err != nil {
		return t, fmt.Errorf("adapter %s: %w", name, err)
	}
	if !cfg.IsActive {
		return t, fmt.Errorf("adapter %s is inactive", cfg.AdapterName)
	}
	t.Endpoint = strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")

	body := make(map[string]string, len(a.Params)+3)
	for k, v := range a.Params {
		body[k] = v
	}
	body["entityId"] = entityID
	body["contextStatus"] = contextStatus
	body["actionType"] = a.Type
	raw, err := json.Marshal(body)
	if err != nil {
		return t, fmt.Errorf("encode adapter payload: %w", err)
	}
	t.Request = json.RawMessage(raw)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, strings.NewReader(string(raw)))
	if err != nil {
		return t, fmt.Errorf("build adapter request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.DefaultHeaders {
		req.Header.Set(k, v)
	}
	if cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}

	p.logger.Info("posting to platform adapter", "adapter", cfg.AdapterName, "url", t.Endpoint, "entity_id", entityID)
	resp, err := p.client.Do(req)
	if err != nil {
		t.StatusCode = http.StatusInternalServerError
		return t, fmt.Errorf("call %s: %w", cfg.AdapterName, err)
	}
	t.StatusCode = resp.StatusCode
	if !resp.OK() {
		t.Response = &ErrorResponse{Error: string(resp.Body), Status: reasonPhrase(resp)}
		return t, nil
	}
	if len(resp.Body) > 0 {
		t.Response = string(resp.Body)
	} else {
		t.Response = "Request Accepted"
	}
	return t, nil
}
