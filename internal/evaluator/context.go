package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattjoyce/orchestrator/internal/upstream"
)

// FactsRequest is the body of POST {context}/facts/evaluate.
type FactsRequest struct {
	EntityID       string `json:"entityId"`
	MembershipID   string `json:"membershipId"`
	ContextProfile string `json:"contextProfile"`
	RuleSetID      string `json:"ruleSetId"`
}

// ContextClient calls the context aggregator.
type ContextClient struct {
	baseURL string
	http    *upstream.Client
}

func NewContextClient(baseURL string, httpClient *upstream.Client) *ContextClient {
	return &ContextClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// FetchFacts returns the nested fact snapshot for one entity. A non-2xx
// answer is an *upstream.StatusError.
func (c *ContextClient) FetchFacts(ctx context.Context, req FactsRequest) (map[string]any, error) {
	if req.MembershipID == "" {
		req.MembershipID = req.EntityID
	}
	resp, err := c.http.PostJSON(ctx, c.baseURL+"/facts/evaluate", req)
	if err != nil {
		return nil, fmt.Errorf("fetch facts: %w", err)
	}
	if err := c.http.CheckStatus(resp); err != nil {
		return nil, err
	}

	facts := map[string]any{}
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &facts); err != nil {
			return nil, fmt.Errorf("decode facts: %w", err)
		}
	}
	return facts, nil
}

// Profiles returns the aggregator's profile catalogue verbatim.
func (c *ContextClient) Profiles(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.http.Get(ctx, c.baseURL+"/api/context/profiles", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch context profiles: %w", err)
	}
	if err := c.http.CheckStatus(resp); err != nil {
		return nil, err
	}
	return json.RawMessage(resp.Body), nil
}
