// Package seed installs the default policies, adapter config and action
// routes a fresh database needs, then pushes active policies to the rule
// engine.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/orchestrator/internal/action"
	"github.com/mattjoyce/orchestrator/internal/policy"
)

// DefaultN8nURL is the webhook base of the bundled n8n adapter.
const DefaultN8nURL = "http://localhost:5678/webhook"

// PolicyStore is the subset of policy.Store seeding needs.
type PolicyStore interface {
	List(ctx context.Context) ([]*policy.Definition, error)
	Create(ctx context.Context, d *policy.Definition) error
}

// ActionStore is the subset of action.Store seeding needs.
type ActionStore interface {
	GetRoute(ctx context.Context, actionType string) (*action.Route, error)
	CreateRoute(ctx context.Context, r *action.Route) error
	GetAdapter(ctx context.Context, name string) (*action.AdapterConfig, error)
	CreateAdapter(ctx context.Context, a *action.AdapterConfig) error
	UpdateAdapter(ctx context.Context, name string, a *action.AdapterConfig) error
}

// RuleSyncer pushes active policies to the rule engine.
type RuleSyncer interface {
	SyncAll(ctx context.Context) error
}

// Seeder runs the startup seeding steps.
type Seeder struct {
	policies PolicyStore
	actions  ActionStore
	rules    RuleSyncer
	logger   *slog.Logger
	n8nURL   string
}

func New(policies PolicyStore, actions ActionStore, rules RuleSyncer, logger *slog.Logger) *Seeder {
	return &Seeder{
		policies: policies,
		actions:  actions,
		rules:    rules,
		logger:   logger.With("component", "seed"),
		n8nURL:   DefaultN8nURL,
	}
}

// DefaultPolicies returns the policies installed into an empty table.
func DefaultPolicies() []*policy.Definition {
	return []*policy.Definition{
		{
			Name:           "Confiscation Protocol",
			TriggerEvent:   policy.EventMemberStatusChanged,
			EntityType:     policy.EntityMember,
			Version:        1,
			TriggerKey:     "confiscation_protocol_v1",
			ContextProfile: "Standard",
			RuleSet:        "policy_confiscation_v1",
			Condition:      "NewStatus == Confiscated",
			ActionType:     "LOCK_WALLET",
			OnMatch:        []policy.Action{{Type: "LOCK_WALLET"}},
			IsActive:       true,
		},
		{
			Name:           "Welcome Back",
			TriggerEvent:   policy.EventMemberStatusChanged,
			EntityType:     policy.EntityMember,
			Version:        1,
			TriggerKey:     "welcome_back_v1",
			ContextProfile: "Standard",
			RuleSet:        "policy_welcome_back_v1",
			Condition:      "NewStatus == Active",
			ActionType:     "UNLOCK_WALLET",
			OnMatch:        []policy.Action{{Type: "UNLOCK_WALLET"}},
			IsActive:       true,
		},
	}
}

// DefaultRoutes returns the routes created when their action type is absent.
func DefaultRoutes() []*action.Route {
	return []*action.Route{
		{
			ActionType:      "TEAM_NOTIFY",
			TargetURL:       "http://localhost:5678/webhook/team-notify",
			HTTPMethod:      "POST",
			PayloadTemplate: `{"channel": "{{channel}}", "text": "{{text}}"}`,
		},
		{
			ActionType:      "SEND_EMAIL",
			TargetURL:       "http://localhost:5678/webhook/send-email",
			HTTPMethod:      "POST",
			PayloadTemplate: `{"to": "{{email}}", "subject": "{{subject}}", "body": "{{template}}"}`,
		},
	}
}

// Run seeds missing data and then syncs rules. A rule sync failure is
// returned after seeding completes so callers can decide whether to continue.
func (s *Seeder) Run(ctx context.Context) error {
	if err := s.Policies(ctx); err != nil {
		return err
	}
	if err := s.EnsureAdapter(ctx, action.AdapterConfig{AdapterName: "N8n", BaseURL: s.n8nURL}); err != nil {
		return err
	}
	if err := s.Routes(ctx); err != nil {
		return err
	}
	if s.rules == nil {
		return nil
	}
	if err := s.rules.SyncAll(ctx); err != nil {
		return fmt.Errorf("initial rule sync: %w", err)
	}
	return nil
}

// Policies inserts DefaultPolicies when no policy exists yet.
func (s *Seeder) Policies(ctx context.Context) error {
	existing, err := s.policies.List(ctx)
	if err != nil {
		return fmt.Errorf("list policies: %w", err)
	}
	if len(existing) > 0 {
		s.logger.Debug("policies present, skipping seed", "count", len(existing))
		return nil
	}
	for _, def := range DefaultPolicies() {
		if err := s.policies.Create(ctx, def); err != nil {
			return fmt.Errorf("seed policy %q: %w", def.Name, err)
		}
		s.logger.Info("seeded policy", "policy", def.Name, "id", def.ID)
	}
	return nil
}

// EnsureAdapter creates cfg, or points an existing config of the same name at
// cfg.BaseURL and marks it active. Credentials on an existing row are kept.
func (s *Seeder) EnsureAdapter(ctx context.Context, cfg action.AdapterConfig) error {
	existing, err := s.actions.GetAdapter(ctx, cfg.AdapterName)
	switch {
	case errors.Is(err, action.ErrAdapterNotFound):
		cfg.IsActive = true
		if cfg.DefaultHeaders == nil {
			cfg.DefaultHeaders = map[string]string{}
		}
		if err := s.actions.CreateAdapter(ctx, &cfg); err != nil {
			return fmt.Errorf("seed adapter %s: %w", cfg.AdapterName, err)
		}
		s.logger.Info("seeded adapter", "adapter", cfg.AdapterName, "base_url", cfg.BaseURL)
		return nil
	case err != nil:
		return fmt.Errorf("get adapter %s: %w", cfg.AdapterName, err)
	}

	if existing.BaseURL == cfg.BaseURL && existing.IsActive {
		return nil
	}
	existing.BaseURL = cfg.BaseURL
	existing.IsActive = true
	if err := s.actions.UpdateAdapter(ctx, existing.AdapterName, existing); err != nil {
		return fmt.Errorf("update adapter %s: %w", cfg.AdapterName, err)
	}
	s.logger.Info("updated adapter", "adapter", existing.AdapterName, "base_url", existing.BaseURL)
	return nil
}

// Routes creates each default route whose action type has no route yet.
func (s *Seeder) Routes(ctx context.Context) error {
	for _, r := range DefaultRoutes() {
		_, err := s.actions.GetRoute(ctx, r.ActionType)
		if err == nil {
			continue
		}
		if !errors.Is(err, action.ErrRouteNotFound) {
			return fmt.Errorf("get route %s: %w", r.ActionType, err)
		}
		if err := s.actions.CreateRoute(ctx, r); err != nil && !errors.Is(err, action.ErrRouteExists) {
			return fmt.Errorf("seed route %s: %w", r.ActionType, err)
		}
		s.logger.Info("seeded route", "action_type", r.ActionType)
	}
	return nil
}
