// Package doctor runs semantic checks on a loaded orchestrator configuration
// beyond what struct validation catches.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/mattjoyce/orchestrator/internal/auth"
	"github.com/mattjoyce/orchestrator/internal/config"
)

var envVarRe = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.validateQueues(r)
	d.validateWebhook(r)
	d.warnInbound(r)
	d.warnDedup(r)
	d.warnMissingEnvVars(r)
	d.warnAdminKey(r)
	d.warnSuspiciousSchedule(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServiceConfig(r *Result) {
	svc := d.cfg.Service
	if d.cfg.State.Path == "" {
		d.addError(r, "service", "state.path", "state.path is required")
	}
	if svc.DedupeWindow > svc.DedupeTTL {
		d.addError(r, "service", "service.dedupe_window",
			fmt.Sprintf("dedupe_window %s exceeds dedupe_ttl %s; keys would expire inside their own bucket", svc.DedupeWindow, svc.DedupeTTL))
	}
	if svc.GateTimeout >= d.cfg.Services.Timeout && d.cfg.Services.Timeout > 0 {
		d.addWarning(r, "service", "service.gate_timeout",
			fmt.Sprintf("gate_timeout %s is not below services.timeout %s; the HTTP client gives up first", svc.GateTimeout, d.cfg.Services.Timeout))
	}
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth", "API enabled but no authentication configured")
	}
}

// validateTokenScopes checks each scope is "*" or resource:ro|rw.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		for j, scope := range token.Scopes {
			field := fmt.Sprintf("api.auth.tokens[%d].scopes[%d]", i, j)
			d.validateSingleScope(r, scope, field)
		}
	}
}

func (d *Doctor) validateSingleScope(r *Result, scope, field string) {
	if _, _, err := auth.ParseScope(scope); err != nil {
		d.addError(r, "token_scopes", field, fmt.Sprintf("invalid %v", err))
	}
}

// validateQueues rejects two event types sharing one queue.
func (d *Doctor) validateQueues(r *Result) {
	q := d.cfg.RabbitMQ.Queues
	seen := map[string]string{}
	for _, p := range []struct{ field, name string }{
		{"member_status_changed", q.MemberStatusChanged},
		{"wallet_updated", q.WalletUpdated},
		{"compliance_status_changed", q.ComplianceStatusChanged},
	} {
		if prev, ok := seen[p.name]; ok {
			d.addError(r, "rabbitmq", "rabbitmq.queues."+p.field,
				fmt.Sprintf("queue %q is also used by rabbitmq.queues.%s", p.name, prev))
			continue
		}
		seen[p.name] = p.field
	}
}

func (d *Doctor) validateWebhook(r *Result) {
	wh := d.cfg.Webhook
	if !wh.Enabled {
		return
	}
	if wh.Secret == "" {
		d.addError(r, "webhook", "webhook.secret", "webhook enabled without a signing secret")
	}
	if d.cfg.API.Enabled && wh.Listen == d.cfg.API.Listen {
		d.addError(r, "webhook", "webhook.listen",
			fmt.Sprintf("webhook.listen %q conflicts with api.listen", wh.Listen))
	}
}

func (d *Doctor) warnInbound(r *Result) {
	if d.cfg.RabbitMQ.URL == "" && !d.cfg.Webhook.Enabled {
		d.addWarning(r, "inbound", "rabbitmq.url",
			"no RabbitMQ URL and webhook disabled; only scheduled and manual runs will happen")
	}
}

func (d *Doctor) warnDedup(r *Result) {
	if d.cfg.Redis.Addr == "" {
		d.addWarning(r, "dedup", "redis.addr",
			"redis.addr is empty; redelivered events will run their policies again")
	}
}

// warnMissingEnvVars warns about ${VAR} references where VAR is not set.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	for i, token := range d.cfg.API.Auth.Tokens {
		if token.Token == "" {
			d.addWarning(r, "env_vars", fmt.Sprintf("api.auth.tokens[%d].token", i),
				"token value is empty (possibly unresolved environment variable)")
		}
	}

	for field, v := range map[string]string{
		"api.auth.api_key": d.cfg.API.Auth.APIKey,
		"webhook.secret":   d.cfg.Webhook.Secret,
		"redis.password":   d.cfg.Redis.Password,
		"rabbitmq.url":     d.cfg.RabbitMQ.URL,
	} {
		for _, m := range envVarRe.FindAllStringSubmatch(v, -1) {
			if os.Getenv(m[1]) == "" {
				d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
}

func (d *Doctor) warnAdminKey(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "auth", "api.auth",
			"both api_key and tokens configured; api_key holders bypass every scope")
	}
}

// warnSuspiciousSchedule flags intervals that would hammer the member service.
func (d *Doctor) warnSuspiciousSchedule(r *Result) {
	svc := d.cfg.Service
	if svc.SchedulerInterval > 0 && svc.SchedulerInterval < 10*time.Second {
		d.addWarning(r, "schedule", "service.scheduler_interval",
			fmt.Sprintf("scheduler interval %s is very short (< 10s)", svc.SchedulerInterval))
	}
	if svc.SchedulerJitter > 0 && svc.SchedulerJitter >= svc.SchedulerInterval {
		d.addWarning(r, "schedule", "service.scheduler_jitter",
			fmt.Sprintf("scheduler jitter %s is not below the interval %s", svc.SchedulerJitter, svc.SchedulerInterval))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
