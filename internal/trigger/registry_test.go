package trigger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/orchestrator/internal/trigger/mocks"
)

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

// memStore is an in-process DedupStore with SET NX semantics.
type memStore struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func newMemStore() *memStore {
	return &memStore{keys: map[string]time.Time{}, now: time.Now}
}

func (m *memStore) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.keys[key]; ok && m.now().Before(exp) {
		return false, nil
	}
	m.keys[key] = m.now().Add(ttl)
	return true, nil
}

func TestRegisterSuppressesDuplicatesInWindow(t *testing.T) {
	logger, buf := newTestLogger()
	r := NewRegistry(newMemStore(), logger)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 100_000_000, time.UTC)

	first, err := r.Register(ctx, Occurrence{TriggerType: "MemberStatusChanged", EntityType: "Member", EntityID: "M100", OccurredAt: at})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, at, first.Timestamp)

	for range 5 {
		_, err := r.Register(ctx, Occurrence{TriggerType: "MemberStatusChanged", EntityType: "Member", EntityID: "M100", OccurredAt: at.Add(500 * time.Millisecond)})
		assert.ErrorIs(t, err, ErrDuplicate)
	}
	assert.Contains(t, buf.String(), "duplicate trigger detected")

	// Different entity, same bucket.
	_, err = r.Register(ctx, Occurrence{TriggerType: "MemberStatusChanged", EntityType: "Member", EntityID: "M101", OccurredAt: at})
	assert.NoError(t, err)

	// Next bucket.
	_, err = r.Register(ctx, Occurrence{TriggerType: "MemberStatusChanged", EntityType: "Member", EntityID: "M100", OccurredAt: at.Add(time.Second)})
	assert.NoError(t, err)
}

func TestRegisterWiderWindow(t *testing.T) {
	logger, _ := newTestLogger()
	r := NewRegistry(newMemStore(), logger, WithWindow(time.Minute))
	at := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)

	_, err := r.Register(context.Background(), Occurrence{TriggerType: "WalletUpdated", EntityType: "Member", EntityID: "M1", OccurredAt: at})
	require.NoError(t, err)
	_, err = r.Register(context.Background(), Occurrence{TriggerType: "WalletUpdated", EntityType: "Member", EntityID: "M1", OccurredAt: at.Add(40 * time.Second)})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestRegisterWithoutStoreAlwaysRegisters(t *testing.T) {
	logger, buf := newTestLogger()
	r := NewRegistry(nil, logger)
	at := time.Now()

	for range 3 {
		_, err := r.Register(context.Background(), Occurrence{TriggerType: "X", EntityType: "Member", EntityID: "M1", OccurredAt: at})
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "deduplication disabled"))
}

func TestRegisterStoreErrorDegradesOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockDedupStore(ctrl)
	store.EXPECT().Claim(gomock.Any(), gomock.Any(), DefaultTTL).Return(false, errors.New("connection refused")).Times(2)

	logger, buf := newTestLogger()
	r := NewRegistry(store, logger)

	for range 2 {
		tr, err := r.Register(context.Background(), Occurrence{TriggerType: "X", EntityType: "Member", EntityID: "M1"})
		require.NoError(t, err)
		assert.NotNil(t, tr)
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "deduplication disabled"))
}

func TestRegisterPassesTTLAndKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := mocks.NewMockDedupStore(ctrl)
	store.EXPECT().
		Claim(gomock.Any(), "dedup:ComplianceStatusChanged:Member:M9:20260301100000.000", 2*time.Minute).
		Return(true, nil)

	logger, _ := newTestLogger()
	r := NewRegistry(store, logger, WithTTL(2*time.Minute), WithKeyPrefix("dedup:"))

	tr, err := r.Register(context.Background(), Occurrence{
		TriggerType: "ComplianceStatusChanged",
		EntityType:  "Member",
		EntityID:    "M9",
		OccurredAt:  time.Date(2026, 3, 1, 10, 0, 0, 900, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "dedup:ComplianceStatusChanged:Member:M9:20260301100000.000", tr.DedupKey)
}

func TestRegisterValidatesInput(t *testing.T) {
	logger, _ := newTestLogger()
	r := NewRegistry(newMemStore(), logger)

	_, err := r.Register(context.Background(), Occurrence{EntityID: "M1"})
	assert.Error(t, err)
	_, err = r.Register(context.Background(), Occurrence{TriggerType: "X"})
	assert.Error(t, err)
}

func TestNewRedisStoreUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisStore(ctx, RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
