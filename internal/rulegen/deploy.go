package rulegen

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/orchestrator/internal/metrics"
	"github.com/mattjoyce/orchestrator/internal/policy"
)

// Engine accepts rule source for a rule set.
type Engine interface {
	Deploy(ctx context.Context, ruleSet, source string) error
}

// RuleSetLister is implemented by engines that can report which rule sets
// they currently hold.
type RuleSetLister interface {
	ActiveRuleSets(ctx context.Context) ([]string, error)
}

// PolicyStore is the subset of policy.Store the deployer needs.
type PolicyStore interface {
	ListActive(ctx context.Context) ([]*policy.Definition, error)
	SetFingerprint(ctx context.Context, id int64, fingerprint string) error
}

// Fingerprint identifies the rule content of def independent of the
// timestamp embedded in the rule name.
func Fingerprint(def *policy.Definition) string {
	sum := blake3.Sum256([]byte(Render(def, time.Unix(0, 0))))
	return "blake3:" + hex.EncodeToString(sum[:])
}

// Deployer pushes generated rule source to the engine.
type Deployer struct {
	engine   Engine
	store    PolicyStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
	attempts int
	backoff  time.Duration
}

// Option customizes a Deployer.
type Option func(*Deployer)

// WithRetry sets the startup sync attempt count and the fixed pause between
// attempts.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(d *Deployer) {
		if attempts > 0 {
			d.attempts = attempts
		}
		if backoff >= 0 {
			d.backoff = backoff
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Deployer) { d.metrics = m }
}

func NewDeployer(engine Engine, store PolicyStore, logger *slog.Logger, opts ...Option) *Deployer {
	d := &Deployer{
		engine:   engine,
		store:    store,
		logger:   logger.With("component", "rulegen"),
		attempts: 5,
		backoff:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deploy generates and uploads the rule source for def, then records its
// fingerprint. Callers saving a definition log the error and carry on.
func (d *Deployer) Deploy(ctx context.Context, def *policy.Definition) error {
	if def.RuleSet == "" {
		return fmt.Errorf("policy %d has no rule set", def.ID)
	}
	source := Generate(def)
	fp := Fingerprint(def)

	if err := d.engine.Deploy(ctx, def.RuleSet, source); err != nil {
		d.metrics.RuleDeploy("error")
		return fmt.Errorf("deploy rules for %q: %w", def.Name, err)
	}
	d.metrics.RuleDeploy("ok")

	if d.store != nil && def.ID > 0 && def.RuleFingerprint != fp {
		if err := d.store.SetFingerprint(ctx, def.ID, fp); err != nil {
			d.logger.Warn("failed to record rule fingerprint", "policy_id", def.ID, "error", err)
		} else {
			def.RuleFingerprint = fp
		}
	}
	d.logger.Info("deployed rules", "policy", def.Name, "rule_set", def.RuleSet, "fingerprint", fp)
	return nil
}

// DeployIfChanged deploys only when the rule content differs from the last
// recorded deployment. It reports whether a deploy happened.
func (d *Deployer) DeployIfChanged(ctx context.Context, def *policy.Definition) (bool, error) {
	if def.RuleFingerprint != "" && def.RuleFingerprint == Fingerprint(def) {
		d.metrics.RuleDeploy("unchanged")
		d.logger.Debug("rule source unchanged, skipping deploy", "policy", def.Name, "rule_set", def.RuleSet)
		return false, nil
	}
	if err := d.Deploy(ctx, def); err != nil {
		return false, err
	}
	return true, nil
}

// SyncAll deploys every active policy whose rule source changed since its
// last recorded deploy or whose rule set the engine no longer holds. Engines
// that cannot list their rule sets get every policy. A round that fails for
// any policy is retried in full after the backoff, up to the configured
// attempt count.
func (d *Deployer) SyncAll(ctx context.Context) error {
	return d.sync(ctx, false)
}

// ResyncAll deploys every active policy regardless of fingerprints.
func (d *Deployer) ResyncAll(ctx context.Context) error {
	return d.sync(ctx, true)
}

func (d *Deployer) sync(ctx context.Context, force bool) error {
	defs, err := d.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active policies: %w", err)
	}
	if len(defs) == 0 {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		var loaded map[string]bool
		if !force {
			loaded = d.loadedRuleSets(ctx)
		}

		var errs []error
		deployed := 0
		for _, def := range defs {
			var err error
			if loaded[def.RuleSet] {
				var changed bool
				changed, err = d.DeployIfChanged(ctx, def)
				if changed {
					deployed++
				}
			} else {
				err = d.Deploy(ctx, def)
				if err == nil {
					deployed++
				}
			}
			if err != nil {
				d.logger.Warn("rule sync failed", "policy", def.Name, "attempt", attempt, "error", err)
				errs = append(errs, err)
			}
		}
		if len(errs) == 0 {
			d.logger.Info("all rules synced", "policies", len(defs), "deployed", deployed)
			return nil
		}
		lastErr = errors.Join(errs...)

		if attempt == d.attempts {
			break
		}
		d.logger.Warn("rule engine not ready, retrying", "attempt", attempt, "of", d.attempts, "backoff", d.backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.backoff):
		}
	}
	return fmt.Errorf("rule sync gave up after %d attempts: %w", d.attempts, lastErr)
}

// loadedRuleSets returns nil when the engine cannot say what it holds.
func (d *Deployer) loadedRuleSets(ctx context.Context) map[string]bool {
	lister, ok := d.engine.(RuleSetLister)
	if !ok {
		return nil
	}
	sets, err := lister.ActiveRuleSets(ctx)
	if err != nil {
		d.logger.Debug("could not list engine rule sets", "error", err)
		return nil
	}
	loaded := make(map[string]bool, len(sets))
	for _, s := range sets {
		loaded[s] = true
	}
	return loaded
}
