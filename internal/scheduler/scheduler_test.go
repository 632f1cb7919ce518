package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mattjoyce/orchestrator/internal/dispatch"
	"github.com/mattjoyce/orchestrator/internal/events"
	"github.com/mattjoyce/orchestrator/internal/policy"
	"github.com/mattjoyce/orchestrator/internal/scheduler/mocks"
)

// TestLogBuffer is a bytes.Buffer that can be used to capture log output.
type TestLogBuffer struct {
	bytes.Buffer
}

// NewTestSlogger creates a new *slog.Logger that writes to a TestLogBuffer.
func NewTestSlogger() (*slog.Logger, *TestLogBuffer) {
	var buf TestLogBuffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

type schedulerMocks struct {
	policies *mocks.MockPolicySource
	members  *mocks.MockMemberSource
	runner   *mocks.MockPolicyRunner
}

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, schedulerMocks, *TestLogBuffer) {
	ctrl := gomock.NewController(t)
	m := schedulerMocks{
		policies: mocks.NewMockPolicySource(ctrl),
		members:  mocks.NewMockMemberSource(ctrl),
		runner:   mocks.NewMockPolicyRunner(ctrl),
	}
	logger, buf := NewTestSlogger()
	return New(cfg, m.policies, m.members, m.runner, events.NewHub(16), logger), m, buf
}

func scheduledPolicy(id int64) *policy.Definition {
	return &policy.Definition{ID: id, Name: "Nightly", TriggerEvent: policy.EventScheduled, RuleSet: "policy_nightly", IsActive: true}
}

func TestCalculateJitteredInterval(t *testing.T) {
	tests := []struct {
		name         string
		baseInterval time.Duration
		jitter       time.Duration
	}{
		{name: "No Jitter", baseInterval: 1 * time.Minute, jitter: 0},
		{name: "Positive Jitter", baseInterval: 5 * time.Minute, jitter: 30 * time.Second},
		{name: "Large Jitter", baseInterval: 24 * time.Hour, jitter: 15 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range 100 {
				jittered := calculateJitteredInterval(tt.baseInterval, tt.jitter)
				if tt.jitter == 0 {
					assert.Equal(t, tt.baseInterval, jittered)
				} else {
					assert.GreaterOrEqual(t, jittered, tt.baseInterval)
					assert.Less(t, jittered, tt.baseInterval+tt.jitter)
				}
			}
		})
	}
}

func TestTickWithoutScheduledPoliciesSkipsMemberFetch(t *testing.T) {
	s, m, _ := newTestScheduler(t, Config{Interval: time.Minute})
	m.policies.EXPECT().ListByTrigger(gomock.Any(), policy.EventScheduled).Return(nil, nil)

	sum := s.tick(context.Background())
	assert.Equal(t, Summary{}, sum)
}

func TestTickRunsEveryPolicyEntityPairInOrder(t *testing.T) {
	s, m, logBuf := newTestScheduler(t, Config{Interval: time.Minute})
	p1, p2 := scheduledPolicy(1), scheduledPolicy(2)

	m.policies.EXPECT().ListByTrigger(gomock.Any(), policy.EventScheduled).Return([]*policy.Definition{p1, p2}, nil)
	m.members.EXPECT().IDs(gomock.Any()).Return([]string{"M1", "M2"}, nil)

	var order []string
	m.runner.EXPECT().RunPolicy(gomock.Any(), gomock.Any()).Times(4).DoAndReturn(func(_ context.Context, run dispatch.Run) (*dispatch.Outcome, error) {
		order = append(order, run.EntityID)
		assert.Equal(t, dispatch.TriggerScheduled, run.Trigger)
		assert.Zero(t, run.MinPos)
		assert.NotEmpty(t, run.TraceID)
		return &dispatch.Outcome{PolicyID: run.Policy.ID, EntityID: run.EntityID, IsMatch: run.EntityID == "M1"}, nil
	})

	sum := s.tick(context.Background())
	assert.Equal(t, []string{"M1", "M2", "M1", "M2"}, order)
	assert.Equal(t, Summary{Policies: 2, Entities: 2, Runs: 4, Matches: 2}, sum)
	assert.Contains(t, logBuf.String(), "Scheduler tick complete")
}

func TestTickFailureDoesNotAbortRemainingPairs(t *testing.T) {
	s, m, logBuf := newTestScheduler(t, Config{Interval: time.Minute})

	m.policies.EXPECT().ListByTrigger(gomock.Any(), policy.EventScheduled).Return([]*policy.Definition{scheduledPolicy(1)}, nil)
	m.members.EXPECT().IDs(gomock.Any()).Return([]string{"M1", "M2", "M3"}, nil)
	gomock.InOrder(
		m.runner.EXPECT().RunPolicy(gomock.Any(), gomock.Any()).Return(&dispatch.Outcome{}, nil),
		m.runner.EXPECT().RunPolicy(gomock.Any(), gomock.Any()).Return(nil, errors.New("database is locked")),
		m.runner.EXPECT().RunPolicy(gomock.Any(), gomock.Any()).Return(&dispatch.Outcome{IsMatch: true}, nil),
	)

	sum := s.tick(context.Background())
	assert.Equal(t, 3, sum.Runs)
	assert.Equal(t, 1, sum.Failures)
	assert.Equal(t, 1, sum.Matches)
	assert.Contains(t, logBuf.String(), "Scheduled run failed")
}

func TestTickSourceErrors(t *testing.T) {
	t.Run("policy list", func(t *testing.T) {
		s, m, logBuf := newTestScheduler(t, Config{})
		m.policies.EXPECT().ListByTrigger(gomock.Any(), policy.EventScheduled).Return(nil, errors.New("db error"))
		assert.Equal(t, Summary{}, s.tick(context.Background()))
		assert.Contains(t, logBuf.String(), "Failed to list scheduled policies")
	})

	t.Run("member fetch", func(t *testing.T) {
		s, m, logBuf := newTestScheduler(t, Config{})
		m.policies.EXPECT().ListByTrigger(gomock.Any(), policy.EventScheduled).Return([]*policy.Definition{scheduledPolicy(1)}, nil)
		m.members.EXPECT().IDs(gomock.Any()).Return(nil, errors.New("503"))
		sum := s.tick(context.Background())
		assert.Zero(t, sum.Runs)
		assert.Contains(t, logBuf.String(), "Failed to fetch members")
	})
}

func TestTickStopsOnCancelledContext(t *testing.T) {
	s, m, _ := newTestScheduler(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())

	m.policies.EXPECT().ListByTrigger(gomock.Any(), policy.EventScheduled).Return([]*policy.Definition{scheduledPolicy(1)}, nil)
	m.members.EXPECT().IDs(gomock.Any()).Return([]string{"M1", "M2"}, nil)
	m.runner.EXPECT().RunPolicy(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, dispatch.Run) (*dispatch.Outcome, error) {
		cancel()
		return &dispatch.Outcome{}, nil
	})

	sum := s.tick(ctx)
	assert.Equal(t, 1, sum.Runs)
}

func TestStartStopExitsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, m, _ := newTestScheduler(t, Config{Interval: time.Hour})
	var ticks atomic.Int32
	ticked := make(chan struct{})
	m.policies.EXPECT().ListByTrigger(gomock.Any(), policy.EventScheduled).DoAndReturn(func(context.Context, string) ([]*policy.Definition, error) {
		if ticks.Add(1) == 1 {
			close(ticked)
		}
		return nil, nil
	})

	s.Start(context.Background())
	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick did not run")
	}
	s.Stop()
	s.Stop()
	assert.Equal(t, int32(1), ticks.Load())
}

func TestContextCancelStopsLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, m, _ := newTestScheduler(t, Config{Interval: time.Hour})
	m.policies.EXPECT().ListByTrigger(gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after cancel")
	}
	require.NotPanics(t, s.Stop)
}
