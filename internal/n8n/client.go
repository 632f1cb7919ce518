// Package n8n lists webhook-bearing workflows from an n8n instance so
// operators can pick route targets.
package n8n

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/orchestrator/internal/action"
	"github.com/mattjoyce/orchestrator/internal/upstream"
)

// AdapterName is the adapter config row holding n8n credentials.
const AdapterName = "N8n"

var (
	ErrNotConfigured = errors.New("N8n adapter not configured")
	ErrMissingAPIKey = errors.New("N8n API key is missing in configuration")
)

// AdapterSource resolves adapter configs by name.
type AdapterSource interface {
	GetAdapter(ctx context.Context, name string) (*action.AdapterConfig, error)
}

// Workflow is one n8n workflow with at least one webhook trigger.
type Workflow struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	IsActive bool     `json:"isActive"`
	Tags     []string `json:"tags"`
	Webhooks []string `json:"webhooks"`
}

type apiWorkflows struct {
	Data []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Active bool   `json:"active"`
		Tags   []struct {
			Name string `json:"name"`
		} `json:"tags"`
		Nodes []struct {
			Name       string `json:"name"`
			Type       string `json:"type"`
			Parameters struct {
				HTTPMethod string `json:"httpMethod"`
				Path       string `json:"path"`
			} `json:"parameters"`
		} `json:"nodes"`
	} `json:"data"`
}

type Client struct {
	adapters AdapterSource
	http     *upstream.Client
}

func New(adapters AdapterSource, httpClient *upstream.Client) *Client {
	return &Client{adapters: adapters, http: httpClient}
}

// Projects returns the raw project list.
func (c *Client) Projects(ctx context.Context) (json.RawMessage, error) {
	body, err := c.get(ctx, "/api/v1/projects?limit=100")
	if err != nil {
		return nil, fmt.Errorf("list n8n projects: %w", err)
	}
	return json.RawMessage(body), nil
}

// Workflows returns workflows that expose webhooks, formatted as
// "<METHOD>: <base>/webhook/<path> (<node name>)".
func (c *Client) Workflows(ctx context.Context) ([]Workflow, error) {
	base, _, err := c.credentials(ctx)
	if err != nil {
		return nil, err
	}
	body, err := c.get(ctx, "/api/v1/workflows?limit=100")
	if err != nil {
		return nil, fmt.Errorf("list n8n workflows: %w", err)
	}

	var page apiWorkflows
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode n8n workflows: %w", err)
	}

	out := []Workflow{}
	for _, w := range page.Data {
		var hooks []string
		for _, n := range w.Nodes {
			if !strings.Contains(n.Type, "webhook") || !strings.Contains(n.Type, "n8n-nodes-base") || n.Parameters.Path == "" {
				continue
			}
			method := n.Parameters.HTTPMethod
			if method == "" {
				method = "GET"
			}
			hooks = append(hooks, fmt.Sprintf("%s: %s/webhook/%s (%s)", method, base, n.Parameters.Path, n.Name))
		}
		if len(hooks) == 0 {
			continue
		}
		tags := make([]string, 0, len(w.Tags))
		for _, t := range w.Tags {
			if t.Name != "" {
				tags = append(tags, t.Name)
			}
		}
		out = append(out, Workflow{ID: w.ID, Name: w.Name, IsActive: w.Active, Tags: tags, Webhooks: hooks})
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	base, key, err := c.credentials(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Get(ctx, base+path, map[string]string{"X-N8N-API-KEY": key})
	if err != nil {
		return nil, err
	}
	if err := c.http.CheckStatus(resp); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// credentials returns the management API root and key. The stored base URL
// may point at the webhook prefix.
func (c *Client) credentials(ctx context.Context) (string, string, error) {
	cfg, err := c.adapters.GetAdapter(ctx, AdapterName)
	if errors.Is(err, action.ErrAdapterNotFound) {
		return "", "", ErrNotConfigured
	}
	if err != nil {
		return "", "", err
	}
	if cfg.APIKey == "" {
		return "", "", ErrMissingAPIKey
	}
	return RootURL(cfg.BaseURL), cfg.APIKey, nil
}

// RootURL strips a trailing /webhook segment and slash from base.
func RootURL(base string) string {
	base = strings.TrimSuffix(base, "/")
	base = strings.TrimSuffix(base, "/webhook")
	return strings.TrimSuffix(base, "/")
}
