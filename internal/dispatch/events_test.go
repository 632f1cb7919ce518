package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/orchestrator/internal/members"
	"github.com/mattjoyce/orchestrator/internal/policy"
)

type statusSource struct {
	status string
	err    error
}

func (s statusSource) Status(context.Context, string) (string, error) { return s.status, s.err }

func TestDecodeMemberStatusChanged(t *testing.T) {
	d := NewDecoder(nil)
	body := []byte(`{"membershipId":"M1","oldStatus":"Active","newStatus":"Confiscated","occurredAt":"2026-03-01T12:00:00Z"}`)

	ev, err := d.Decode(context.Background(), policy.EventMemberStatusChanged, "msg-1", body)
	require.NoError(t, err)
	assert.Equal(t, "M1", ev.EntityID)
	assert.Equal(t, policy.EntityMember, ev.EntityType)
	assert.Equal(t, int64(639079632000000000), ev.MinPos, "100ns ticks since 0001-01-01")
	assert.Equal(t, "Confiscated", ev.Overlay["NewStatus"])
	assert.Equal(t, "Active", ev.Fields["OldStatus"])
	assert.Equal(t, "Confiscated", ev.ContextStatus)
}

func TestDecodeWalletUpdated(t *testing.T) {
	body := []byte(`{"entityId":"M2","balance":12.5,"currency":"EUR","status":"Frozen","updatedAt":"2026-03-01T12:00:00Z"}`)

	ev, err := NewDecoder(statusSource{status: "Active"}).Decode(context.Background(), policy.EventWalletUpdated, "w-1", body)
	require.NoError(t, err)
	assert.Zero(t, ev.MinPos)
	assert.Equal(t, "Frozen", ev.ContextStatus)
	assert.Equal(t, "Active", ev.Fields["MemberStatus"])
	assert.Equal(t, "12.5", ev.Fields["Balance"])
	assert.Equal(t, 12.5, ev.Overlay["Balance"])

	ev, err = NewDecoder(statusSource{err: errors.New("down")}).Decode(context.Background(), policy.EventWalletUpdated, "w-2", body)
	require.NoError(t, err)
	assert.Equal(t, members.UnknownStatus, ev.Fields["NewStatus"])
}

func TestDecodeComplianceStatusChanged(t *testing.T) {
	body := []byte(`{"membershipId":"M3","newStatus":"Flagged","riskLevel":"High","updatedAt":"2026-03-01T12:00:00Z"}`)

	ev, err := NewDecoder(nil).Decode(context.Background(), policy.EventComplianceStatusChanged, "", body)
	require.NoError(t, err)
	assert.Equal(t, "M3", ev.EntityID)
	assert.NotZero(t, ev.MinPos)
	assert.Nil(t, ev.Overlay)
	assert.Equal(t, "High", ev.Fields["RiskLevel"])
}

func TestDecodeErrors(t *testing.T) {
	d := NewDecoder(nil)
	_, err := d.Decode(context.Background(), "Unknown", "", []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = d.Decode(context.Background(), policy.EventMemberStatusChanged, "", []byte(`{not json`))
	assert.Error(t, err)

	_, err = d.Decode(context.Background(), policy.EventMemberStatusChanged, "", []byte(`{"newStatus":"Active"}`))
	assert.Error(t, err)
}
