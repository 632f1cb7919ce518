package webhook

import (
	"context"

	"github.com/mattjoyce/orchestrator/internal/dispatch"
)

// Decoder turns a request body into a dispatchable event.
type Decoder interface {
	Decode(ctx context.Context, eventType, messageID string, body []byte) (*dispatch.Event, error)
}

// Handler runs the impacted policies for an event.
type Handler interface {
	HandleEvent(ctx context.Context, ev *dispatch.Event) ([]*dispatch.Outcome, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen string
	// Secret is the HMAC secret shared with publishers.
	Secret string
	// SignatureHeader carries "sha256=<hex>" or plain hex.
	SignatureHeader string
	MaxBodySize     int64
}

// EventResponse is returned for an accepted event.
type EventResponse struct {
	MessageID string              `json:"messageId"`
	EventType string              `json:"eventType"`
	EntityID  string              `json:"entityId"`
	Outcomes  []*dispatch.Outcome `json:"outcomes"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const (
	DefaultMaxBodySize     = 1048576 // 1 MB
	DefaultSignatureHeader = "X-Signature"
	MessageIDHeader        = "X-Message-Id"
)
