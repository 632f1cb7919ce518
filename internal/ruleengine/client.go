// Package ruleengine is the client of the external decision engine that
// holds deployed rule sets and evaluates facts against them.
package ruleengine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattjoyce/orchestrator/internal/upstream"
)

// Decision is the engine's answer for one evaluate call.
type Decision struct {
	Match   bool     `json:"match"`
	Outcome string   `json:"outcome"`
	Reasons []string `json:"reasons"`
}

type evaluateRequest struct {
	RuleSetName string         `json:"ruleSetName"`
	Facts       map[string]any `json:"facts"`
}

type deployRequest struct {
	RuleSetName string `json:"ruleSetName"`
	DrlContent  string `json:"drlContent"`
}

// Client talks to {baseURL}/evaluate and {baseURL}/deploy.
type Client struct {
	baseURL string
	http    *upstream.Client
}

func New(baseURL string, httpClient *upstream.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Evaluate runs facts through ruleSet. A non-2xx answer is returned as an
// *upstream.StatusError; transport failures as plain errors.
func (c *Client) Evaluate(ctx context.Context, ruleSet string, facts map[string]any) (*Decision, error) {
	if facts == nil {
		facts = map[string]any{}
	}
	resp, err := c.http.PostJSON(ctx, c.baseURL+"/evaluate", evaluateRequest{RuleSetName: ruleSet, Facts: facts})
	if err != nil {
		return nil, fmt.Errorf("evaluate rule set %s: %w", ruleSet, err)
	}
	if err := c.http.CheckStatus(resp); err != nil {
		return nil, err
	}

	var d Decision
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &d); err != nil {
			return nil, fmt.Errorf("decode decision: %w", err)
		}
	}
	if d.Reasons == nil {
		d.Reasons = []string{}
	}
	return &d, nil
}

// Deploy uploads rule source for ruleSet, replacing any previous version.
func (c *Client) Deploy(ctx context.Context, ruleSet, source string) error {
	resp, err := c.http.PostJSON(ctx, c.baseURL+"/deploy", deployRequest{RuleSetName: ruleSet, DrlContent: source})
	if err != nil {
		return fmt.Errorf("deploy rule set %s: %w", ruleSet, err)
	}
	return c.http.CheckStatus(resp)
}

type activeResponse struct {
	Count    int      `json:"count"`
	RuleSets []string `json:"ruleSets"`
}

// ActiveRuleSets lists the rule sets the engine currently holds. The engine
// keeps them in memory, so the list is empty after it restarts.
func (c *Client) ActiveRuleSets(ctx context.Context) ([]string, error) {
	resp, err := c.http.Get(ctx, c.baseURL+"/active", nil)
	if err != nil {
		return nil, fmt.Errorf("list active rule sets: %w", err)
	}
	if err := c.http.CheckStatus(resp); err != nil {
		return nil, err
	}
	var out activeResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("decode active rule sets: %w", err)
	}
	if out.RuleSets == nil {
		out.RuleSets = []string{}
	}
	return out.RuleSets, nil
}
