package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/orchestrator/internal/members"
	"github.com/mattjoyce/orchestrator/internal/policy"
)

// ErrUnknownEvent is returned for event types the orchestrator does not consume.
var ErrUnknownEvent = errors.New("unknown event type")

// MemberStatusChanged is published by the member service.
type MemberStatusChanged struct {
	EntityID     string    `json:"entityId,omitempty"`
	MembershipID string    `json:"membershipId,omitempty"`
	OldStatus    string    `json:"oldStatus"`
	NewStatus    string    `json:"newStatus"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// WalletUpdated is published by the wallet service.
type WalletUpdated struct {
	EntityID       string    `json:"entityId,omitempty"`
	MembershipID   string    `json:"membershipId,omitempty"`
	Balance        float64   `json:"balance"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// ComplianceStatusChanged is published by the compliance service.
type ComplianceStatusChanged struct {
	EntityID          string    `json:"entityId,omitempty"`
	MembershipID      string    `json:"membershipId,omitempty"`
	NewStatus         string    `json:"newStatus"`
	PreviousStatus    string    `json:"previousStatus"`
	RiskLevel         string    `json:"riskLevel,omitempty"`
	PreviousRiskLevel string    `json:"previousRiskLevel,omitempty"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Event is a decoded domain event ready for HandleEvent.
type Event struct {
	MessageID  string
	Type       string
	EntityType string
	EntityID   string
	OccurredAt time.Time
	// MinPos is the consistency position evaluation waits for. Zero skips the gate.
	MinPos int64
	// Overlay is merged onto fetched facts before the rule engine runs.
	Overlay map[string]any
	// Fields feed trigger pre-filters.
	Fields map[string]string
	// ContextStatus is passed to actions as {{contextStatus}}.
	ContextStatus string
	// Data is recorded as the trace's trigger data.
	Data any
}

// MemberStatusSource resolves a member's current status.
type MemberStatusSource interface {
	Status(ctx context.Context, membershipID string) (string, error)
}

// Decoder turns raw event bodies into Events.
type Decoder struct {
	members MemberStatusSource
}

func NewDecoder(members MemberStatusSource) *Decoder {
	return &Decoder{members: members}
}

// Decode parses body as eventType. A decode error means the message is
// malformed and should not be retried as-is.
func (d *Decoder) Decode(ctx context.Context, eventType, messageID string, body []byte) (*Event, error) {
	switch eventType {
	case policy.EventMemberStatusChanged:
		var m MemberStatusChanged
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return memberEvent(messageID, m)
	case policy.EventWalletUpdated:
		var w WalletUpdated
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return d.walletEvent(ctx, messageID, w)
	case policy.EventComplianceStatusChanged:
		var c ComplianceStatusChanged
		if err := json.Unmarshal(body, &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", eventType, err)
		}
		return complianceEvent(messageID, c)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, eventType)
	}
}

func memberEvent(messageID string, m MemberStatusChanged) (*Event, error) {
	id := firstNonEmpty(m.EntityID, m.MembershipID)
	if id == "" {
		return nil, fmt.Errorf("decode %s: entity id is empty", policy.EventMemberStatusChanged)
	}
	m.MembershipID = id
	return &Event{
		MessageID:     messageID,
		Type:          policy.EventMemberStatusChanged,
		EntityType:    policy.EntityMember,
		EntityID:      id,
		OccurredAt:    m.OccurredAt,
		MinPos:        position(m.OccurredAt),
		Overlay:       map[string]any{"NewStatus": m.NewStatus},
		Fields:        map[string]string{"NewStatus": m.NewStatus, "OldStatus": m.OldStatus},
		ContextStatus: m.NewStatus,
		Data:          m,
	}, nil
}

// walletEvent evaluates against the member view without a consistency
// position: the wallet write does not advance it. The member status is read
// from the member service instead and overlaid onto the facts.
func (d *Decoder) walletEvent(ctx context.Context, messageID string, w WalletUpdated) (*Event, error) {
	id := firstNonEmpty(w.EntityID, w.MembershipID)
	if id == "" {
		return nil, fmt.Errorf("decode %s: entity id is empty", policy.EventWalletUpdated)
	}

	memberStatus := members.UnknownStatus
	if d.members != nil {
		if s, err := d.members.Status(ctx, id); err == nil {
			memberStatus = s
		}
	}

	balance := strconv.FormatFloat(w.Balance, 'f', -1, 64)
	data := map[string]any{"Status": w.Status, "Balance": w.Balance, "NewStatus": memberStatus}
	return &Event{
		MessageID:  messageID,
		Type:       policy.EventWalletUpdated,
		EntityType: policy.EntityMember,
		EntityID:   id,
		OccurredAt: w.UpdatedAt,
		Overlay:    data,
		Fields: map[string]string{
			"Status":       w.Status,
			"WalletStatus": w.Status,
			"Balance":      balance,
			"Currency":     w.Currency,
			"NewStatus":    memberStatus,
			"MemberStatus": memberStatus,
		},
		ContextStatus: w.Status,
		Data:          data,
	}, nil
}

func complianceEvent(messageID string, c ComplianceStatusChanged) (*Event, error) {
	id := firstNonEmpty(c.EntityID, c.MembershipID)
	if id == "" {
		return nil, fmt.Errorf("decode %s: entity id is empty", policy.EventComplianceStatusChanged)
	}
	c.MembershipID = id
	return &Event{
		MessageID:  messageID,
		Type:       policy.EventComplianceStatusChanged,
		EntityType: policy.EntityMember,
		EntityID:   id,
		OccurredAt: c.UpdatedAt,
		MinPos:     position(c.UpdatedAt),
		Fields: map[string]string{
			"NewStatus":        c.NewStatus,
			"ComplianceStatus": c.NewStatus,
			"RiskLevel":        c.RiskLevel,
		},
		ContextStatus: c.NewStatus,
		Data:          c,
	}, nil
}

// ticksAtUnixEpoch is 1970-01-01 in 100ns ticks since 0001-01-01.
const ticksAtUnixEpoch = 621355968000000000

// position maps an event time onto the watermark service's position scale:
// 100ns ticks since 0001-01-01 UTC, as the read-model projector stamps them.
func position(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()/100 + ticksAtUnixEpoch
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
