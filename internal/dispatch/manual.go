package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrPolicyInactive rejects manual runs of a disabled policy.
	ErrPolicyInactive = errors.New("Workflow is inactive")
	// ErrNoTargets rejects manual runs that resolve to zero entities.
	ErrNoTargets = errors.New("no target members specified")
	// ErrTargetsUnavailable wraps a failed member population fetch.
	ErrTargetsUnavailable = errors.New("failed to fetch all member IDs")
)

// maxManualResults bounds the per-entity summary returned to the caller.
const maxManualResults = 10

// ManualRequest asks for one policy to run against explicit entities or the
// whole member population.
type ManualRequest struct {
	PolicyID        int64    `json:"policyId" validate:"required,gt=0"`
	MembershipID    string   `json:"membershipId,omitempty"`
	TargetEntityIDs []string `json:"targetEntityIds,omitempty"`
	RunAll          bool     `json:"runAll"`
}

// ManualEntry is the summary for one entity.
type ManualEntry struct {
	MemberID string `json:"memberId"`
	IsMatch  bool   `json:"isMatch"`
	TraceID  string `json:"traceId"`
}

// ManualResult is the response of a manual run.
type ManualResult struct {
	Message string        `json:"message"`
	Count   int           `json:"count"`
	Results []ManualEntry `json:"results"`
}

// RunManual runs req.PolicyID sequentially for every resolved target. It
// returns policy.ErrNotFound, ErrPolicyInactive, ErrNoTargets or
// ErrTargetsUnavailable before running anything.
func (d *Dispatcher) RunManual(ctx context.Context, req ManualRequest) (*ManualResult, error) {
	def, err := d.deps.Policies.Get(ctx, req.PolicyID)
	if err != nil {
		return nil, err
	}
	if !def.IsActive {
		return nil, ErrPolicyInactive
	}

	targets, err := d.manualTargets(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	d.logger.Info("manual run started", "policy_id", def.ID, "targets", len(targets))
	results := make([]ManualEntry, 0, min(len(targets), maxManualResults))
	for _, id := range targets {
		out, err := d.RunPolicy(ctx, Run{
			Policy:   def,
			EntityID: id,
			Trigger:  TriggerManual,
			TriggerData: map[string]any{
				"request": req,
				"context": map[string]string{"memberId": id, "ruleSet": def.RuleSet},
			},
			TraceID: uuid.NewString(),
		})
		if err != nil {
			return nil, fmt.Errorf("manual run for %s: %w", id, err)
		}
		if len(results) < maxManualResults {
			results = append(results, ManualEntry{MemberID: id, IsMatch: out.IsMatch, TraceID: out.TraceID})
		}
	}

	return &ManualResult{
		Message: fmt.Sprintf("Workflow Executed for %d members", len(targets)),
		Count:   len(targets),
		Results: results,
	}, nil
}

// manualTargets resolves runAll, then explicit ids, then the single membership id.
func (d *Dispatcher) manualTargets(ctx context.Context, req ManualRequest) ([]string, error) {
	switch {
	case req.RunAll:
		if d.deps.Members == nil {
			return nil, ErrTargetsUnavailable
		}
		ids, err := d.deps.Members.IDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTargetsUnavailable, err)
		}
		return ids, nil
	case len(req.TargetEntityIDs) > 0:
		return req.TargetEntityIDs, nil
	case req.MembershipID != "":
		return []string{req.MembershipID}, nil
	}
	return nil, nil
}
