// Package gate asks the watermark service whether an entity's read view has
// caught up with a required write position.
package gate

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/mattjoyce/orchestrator/internal/upstream"
)

// DefaultTimeout is used when callers pass a zero timeout.
const DefaultTimeout = 5 * time.Second

// WaitRequest is the body of POST /consistency/wait.
type WaitRequest struct {
	EntityType     string `json:"entityType"`
	EntityID       string `json:"entityId"`
	RequiredMinPos int64  `json:"requiredMinPos"`
	TimeoutMs      int64  `json:"timeoutMs"`
}

// WaitResponse is the watermark service's answer.
type WaitResponse struct {
	IsConsistent bool   `json:"isConsistent"`
	CurrentPos   int64  `json:"currentPos"`
	Status       string `json:"status"`
}

// Client calls the consistency endpoint.
type Client struct {
	baseURL string
	http    *upstream.Client
	logger  *slog.Logger
}

func New(baseURL string, httpClient *upstream.Client, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger.With("component", "gate"),
	}
}

// WaitForConsistency blocks until the entity's position reaches minPos or
// timeout elapses. It returns false on timeout and on any failure; callers
// abort the evaluation rather than retry. A minPos of zero or less returns
// true without calling out.
func (c *Client) WaitForConsistency(ctx context.Context, entityType, entityID string, minPos int64, timeout time.Duration) bool {
	if minPos <= 0 {
		return true
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// Leave the service room to answer "not consistent" before we give up.
	cctx, cancel := context.WithTimeout(ctx, timeout+2*time.Second)
	defer cancel()

	req := WaitRequest{
		EntityType:     entityType,
		EntityID:       entityID,
		RequiredMinPos: minPos,
		TimeoutMs:      timeout.Milliseconds(),
	}
	resp, err := c.http.PostJSON(cctx, c.baseURL+"/consistency/wait", req)
	if err != nil {
		c.logger.Error("consistency check failed", "entity_id", entityID, "error", err)
		return false
	}
	if !resp.OK() {
		c.logger.Warn("consistency check rejected", "entity_id", entityID, "status", resp.StatusCode)
		return false
	}

	var out WaitResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		c.logger.Error("consistency response invalid", "entity_id", entityID, "error", err)
		return false
	}
	if !out.IsConsistent {
		c.logger.Warn("consistency not reached",
			"entity_id", entityID,
			"required_pos", minPos,
			"current_pos", out.CurrentPos,
			"status", out.Status,
		)
	}
	return out.IsConsistent
}
