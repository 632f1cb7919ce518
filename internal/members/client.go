// Package members reads the member population and member status from the
// member service.
package members

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/mattjoyce/orchestrator/internal/upstream"
)

// UnknownStatus is reported when the member service cannot be asked.
const UnknownStatus = "Unknown"

// Member is the subset of a member record the orchestrator uses.
type Member struct {
	MembershipID string `json:"membershipId"`
	Status       string `json:"status,omitempty"`
}

// Client calls the member service.
type Client struct {
	baseURL string
	http    *upstream.Client
}

func New(baseURL string, httpClient *upstream.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// IDs returns every membership id.
func (c *Client) IDs(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.getJSON(ctx, c.baseURL+"/ids", &out); err != nil {
		return nil, fmt.Errorf("list member ids: %w", err)
	}
	return out, nil
}

// Status returns the current status of one member.
func (c *Client) Status(ctx context.Context, membershipID string) (string, error) {
	var m Member
	if err := c.getJSON(ctx, c.baseURL+"/by-membership/"+url.PathEscape(membershipID), &m); err != nil {
		return "", fmt.Errorf("member %s: %w", membershipID, err)
	}
	if m.Status == "" {
		return UnknownStatus, nil
	}
	return m.Status, nil
}

func (c *Client) getJSON(ctx context.Context, target string, v any) error {
	resp, err := c.http.Get(ctx, target, nil)
	if err != nil {
		return err
	}
	if err := c.http.CheckStatus(resp); err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
