package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/orchestrator/internal/dispatch"
	"github.com/mattjoyce/orchestrator/internal/events"
	"github.com/mattjoyce/orchestrator/internal/policy"
)

// Config controls the tick cadence. Each wait is Interval plus a random
// duration below Jitter.
type Config struct {
	Interval time.Duration
	Jitter   time.Duration
}

// Scheduler re-evaluates Scheduled policies against every member on a timer.
type Scheduler struct {
	cfg      Config
	policies PolicySource
	members  MemberSource
	runner   PolicyRunner
	events   *events.Hub
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Summary describes one tick.
type Summary struct {
	Policies int
	Entities int
	Runs     int
	Matches  int
	Failures int
}

// New creates a new Scheduler instance.
func New(cfg Config, policies PolicySource, members MemberSource, runner PolicyRunner, hub *events.Hub, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Scheduler{
		cfg:      cfg,
		policies: policies,
		members:  members,
		runner:   runner,
		events:   hub,
		logger:   logger.With("component", "scheduler"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the tick loop. The first tick runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler", "interval", s.cfg.Interval, "jitter", s.cfg.Jitter)
	s.wg.Add(1)
	go s.tickLoop(ctx)
}

// Stop waits for an in-flight tick to finish and stops the loop.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping scheduler")
		close(s.stopCh)
	})
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(calculateJitteredInterval(s.cfg.Interval, s.cfg.Jitter))
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Warn("Scheduler context cancelled, stopping tick loop")
			return
		}
	}
}

// tick runs every active Scheduled policy for every member, one pair at a
// time. Failures are logged per pair and never abort the tick.
func (s *Scheduler) tick(ctx context.Context) Summary {
	var sum Summary
	started := time.Now()
	s.logger.Debug("Scheduler tick")

	defs, err := s.policies.ListByTrigger(ctx, policy.EventScheduled)
	if err != nil {
		s.logger.Error("Failed to list scheduled policies", "error", err)
		return sum
	}
	sum.Policies = len(defs)
	if len(defs) == 0 {
		s.logger.Debug("No scheduled policies")
		return sum
	}

	ids, err := s.members.IDs(ctx)
	if err != nil {
		s.logger.Error("Failed to fetch members for scheduled run", "error", err)
		return sum
	}
	sum.Entities = len(ids)

	for _, def := range defs {
		for _, id := range ids {
			if ctx.Err() != nil {
				s.logger.Warn("Scheduler tick interrupted", "policy_id", def.ID, "runs", sum.Runs)
				return sum
			}
			out, err := s.runner.RunPolicy(ctx, dispatch.Run{
				Policy:   def,
				EntityID: id,
				Trigger:  dispatch.TriggerScheduled,
				TriggerData: map[string]any{
					"policyId": def.ID,
					"ruleSet":  def.RuleSet,
					"memberId": id,
				},
				TraceID: uuid.NewString(),
			})
			sum.Runs++
			if err != nil {
				sum.Failures++
				s.logger.Error("Scheduled run failed", "policy_id", def.ID, "entity_id", id, "error", err)
				continue
			}
			if out.IsMatch {
				sum.Matches++
			}
		}
	}

	s.logger.Info("Scheduler tick complete",
		"policies", sum.Policies,
		"entities", sum.Entities,
		"runs", sum.Runs,
		"matches", sum.Matches,
		"failures", sum.Failures,
		"took", time.Since(started),
	)
	s.events.Publish(events.TypeSchedulerTick, map[string]any{
		"policies": sum.Policies,
		"entities": sum.Entities,
		"runs":     sum.Runs,
		"failures": sum.Failures,
	})
	return sum
}

// calculateJitteredInterval adds a random jitter to the base interval.
func calculateJitteredInterval(baseInterval time.Duration, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return baseInterval
	}
	return baseInterval + time.Duration(rand.Int63n(jitter.Nanoseconds()))
}
