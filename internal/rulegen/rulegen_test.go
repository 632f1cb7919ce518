package rulegen

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/orchestrator/internal/policy"
)

func TestRenderConfiscation(t *testing.T) {
	def := &policy.Definition{
		ID:         3,
		RuleSet:    "policy_confiscation_v1",
		Condition:  "NewStatus == Confiscated",
		ActionType: "LOCK_WALLET",
	}
	stamp := time.Unix(0, 1700000000000000000)

	want := `package rules;
import com.orchestrator.rules.model.Member;
import com.orchestrator.rules.model.Wallet;
import com.orchestrator.rules.model.Compliance;
global com.orchestrator.rules.model.RuleEvaluationResponse response;

rule "Rule_3_1700000000000000000"
    agenda-group "policy_confiscation_v1"
    when
        $m : Member( status == "Confiscated" )
    then
        response.setMatch(true);
        response.setOutcome("LOCK_WALLET");
        response.addReason("Matched Condition: NewStatus == Confiscated");
end
`
	assert.Equal(t, want, Render(def, stamp))
}

func TestClause(t *testing.T) {
	cases := map[string]string{
		"":                            "$m : Member()",
		"   ":                         "$m : Member()",
		"NewStatus == Suspended":      `$m : Member( status == "Suspended" )`,
		"member.status != Active":     `$m : Member( status != "Active" )`,
		`WalletStatus == "Frozen"`:    `$w : Wallet( status == "Frozen" )`,
		"Wallet.Status == Open":       `$w : Wallet( status == "Open" )`,
		"RiskLevel == High":           `$c : Compliance( riskLevel == "High" )`,
		"Compliance.RiskLevel != Low": `$c : Compliance( riskLevel != "Low" )`,
		"KYC_Level > 2":               "$m : Member( kyC_Level > 2 )",
		"KYC_Level < 1.5":             "$m : Member( kyC_Level < 1.5 )",
		"Tier == Gold":                "$m : Member()",
		"NewStatus":                   "$m : Member()",
		"NewStatus ==":                "$m : Member()",
	}
	for in, want := range cases {
		assert.Equal(t, want, Clause(in), "condition %q", in)
	}
}

func TestGenerateUsesRuleSetAsAgendaGroup(t *testing.T) {
	a := Generate(&policy.Definition{ID: 1, RuleSet: "policy_a"})
	b := Generate(&policy.Definition{ID: 2, RuleSet: "policy_b"})
	assert.Contains(t, a, `agenda-group "policy_a"`)
	assert.NotContains(t, a, "policy_b")
	assert.Contains(t, b, `agenda-group "policy_b"`)
}

func TestFingerprintStable(t *testing.T) {
	def := &policy.Definition{ID: 1, RuleSet: "policy_a", Condition: "NewStatus == Active", ActionType: "UNLOCK_WALLET"}
	fp := Fingerprint(def)
	assert.True(t, strings.HasPrefix(fp, "blake3:"))
	assert.Len(t, fp, len("blake3:")+64)
	assert.Equal(t, fp, Fingerprint(def))

	def.Condition = "NewStatus == Suspended"
	assert.NotEqual(t, fp, Fingerprint(def))
}

type fakeEngine struct {
	failures int
	deployed map[string]string
	calls    int
}

func (e *fakeEngine) Deploy(_ context.Context, ruleSet, source string) error {
	e.calls++
	if e.failures > 0 {
		e.failures--
		return errors.New("connection refused")
	}
	if e.deployed == nil {
		e.deployed = map[string]string{}
	}
	e.deployed[ruleSet] = source
	return nil
}

type fakeStore struct {
	defs         []*policy.Definition
	fingerprints map[int64]string
}

func (s *fakeStore) ListActive(context.Context) ([]*policy.Definition, error) {
	return s.defs, nil
}

func (s *fakeStore) SetFingerprint(_ context.Context, id int64, fp string) error {
	if s.fingerprints == nil {
		s.fingerprints = map[int64]string{}
	}
	s.fingerprints[id] = fp
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

func TestDeployRecordsFingerprint(t *testing.T) {
	engine := &fakeEngine{}
	store := &fakeStore{}
	d := NewDeployer(engine, store, testLogger())
	def := &policy.Definition{ID: 4, Name: "p", RuleSet: "policy_x", Condition: "NewStatus == Active"}

	require.NoError(t, d.Deploy(context.Background(), def))

	assert.Contains(t, engine.deployed["policy_x"], `status == "Active"`)
	assert.Equal(t, Fingerprint(def), store.fingerprints[4])
	assert.Equal(t, Fingerprint(def), def.RuleFingerprint)
}

func TestDeployIfChangedSkipsUnchanged(t *testing.T) {
	engine := &fakeEngine{}
	d := NewDeployer(engine, &fakeStore{}, testLogger())
	def := &policy.Definition{ID: 4, Name: "p", RuleSet: "policy_x", Condition: "NewStatus == Active"}

	deployed, err := d.DeployIfChanged(context.Background(), def)
	require.NoError(t, err)
	assert.True(t, deployed)

	deployed, err = d.DeployIfChanged(context.Background(), def)
	require.NoError(t, err)
	assert.False(t, deployed)
	assert.Equal(t, 1, engine.calls)
}

func TestDeployFailure(t *testing.T) {
	store := &fakeStore{}
	d := NewDeployer(&fakeEngine{failures: 1}, store, testLogger())
	err := d.Deploy(context.Background(), &policy.Definition{ID: 1, Name: "p", RuleSet: "policy_x"})
	require.Error(t, err)
	assert.Empty(t, store.fingerprints)
}

func TestSyncAllRetriesUntilEngineReady(t *testing.T) {
	engine := &fakeEngine{failures: 3}
	store := &fakeStore{defs: []*policy.Definition{
		{ID: 1, Name: "a", RuleSet: "policy_a"},
		{ID: 2, Name: "b", RuleSet: "policy_b"},
	}}
	d := NewDeployer(engine, store, testLogger(), WithRetry(5, time.Millisecond))

	require.NoError(t, d.SyncAll(context.Background()))
	assert.Len(t, engine.deployed, 2)
}

func TestSyncAllGivesUp(t *testing.T) {
	engine := &fakeEngine{failures: 100}
	store := &fakeStore{defs: []*policy.Definition{{ID: 1, Name: "a", RuleSet: "policy_a"}}}
	d := NewDeployer(engine, store, testLogger(), WithRetry(3, time.Millisecond))

	err := d.SyncAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, engine.calls)
}

func TestSyncAllNoPolicies(t *testing.T) {
	engine := &fakeEngine{}
	d := NewDeployer(engine, &fakeStore{}, testLogger())
	require.NoError(t, d.SyncAll(context.Background()))
	assert.Zero(t, engine.calls)
}

func TestSyncAllHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := &fakeStore{defs: []*policy.Definition{{ID: 1, Name: "a", RuleSet: "policy_a"}}}
	d := NewDeployer(&fakeEngine{failures: 100}, store, testLogger(), WithRetry(5, time.Hour))

	assert.ErrorIs(t, d.SyncAll(ctx), context.Canceled)
}

type listingEngine struct {
	fakeEngine
	loaded  []string
	listErr error
}

func (e *listingEngine) ActiveRuleSets(context.Context) ([]string, error) {
	return e.loaded, e.listErr
}

func TestSyncAllSkipsUnchangedLoadedRuleSets(t *testing.T) {
	current := &policy.Definition{ID: 1, Name: "a", RuleSet: "policy_a", Condition: "NewStatus == Active"}
	current.RuleFingerprint = Fingerprint(current)
	edited := &policy.Definition{ID: 2, Name: "b", RuleSet: "policy_b", Condition: "NewStatus == Suspended", RuleFingerprint: "blake3:stale"}
	missing := &policy.Definition{ID: 3, Name: "c", RuleSet: "policy_c", Condition: "NewStatus == Active"}
	missing.RuleFingerprint = Fingerprint(missing)

	engine := &listingEngine{loaded: []string{"policy_a", "policy_b"}}
	store := &fakeStore{defs: []*policy.Definition{current, edited, missing}}
	d := NewDeployer(engine, store, testLogger())

	require.NoError(t, d.SyncAll(context.Background()))
	assert.Equal(t, 2, engine.calls)
	assert.NotContains(t, engine.deployed, "policy_a")
	assert.Contains(t, engine.deployed, "policy_b")
	assert.Contains(t, engine.deployed, "policy_c")
}

func TestSyncAllDeploysEverythingWhenEngineCannotList(t *testing.T) {
	def := &policy.Definition{ID: 1, Name: "a", RuleSet: "policy_a", Condition: "NewStatus == Active"}
	def.RuleFingerprint = Fingerprint(def)
	engine := &listingEngine{loaded: []string{"policy_a"}, listErr: errors.New("404")}
	d := NewDeployer(engine, &fakeStore{defs: []*policy.Definition{def}}, testLogger())

	require.NoError(t, d.SyncAll(context.Background()))
	assert.Equal(t, 1, engine.calls)
}

func TestResyncAllIgnoresFingerprints(t *testing.T) {
	def := &policy.Definition{ID: 1, Name: "a", RuleSet: "policy_a", Condition: "NewStatus == Active"}
	def.RuleFingerprint = Fingerprint(def)
	engine := &listingEngine{loaded: []string{"policy_a"}}
	d := NewDeployer(engine, &fakeStore{defs: []*policy.Definition{def}}, testLogger())

	require.NoError(t, d.SyncAll(context.Background()))
	assert.Zero(t, engine.calls)
	require.NoError(t, d.ResyncAll(context.Background()))
	assert.Equal(t, 1, engine.calls)
}

func TestRenderEscapesStringLiterals(t *testing.T) {
	def := &policy.Definition{
		ID:         9,
		RuleSet:    "policy_paths",
		Condition:  `NewStatus == C:\dir\`,
		ActionType: `SAY_"HI"`,
	}
	out := Render(def, time.Unix(0, 0))
	assert.Contains(t, out, `response.addReason("Matched Condition: NewStatus == C:\\dir\\");`)
	assert.Contains(t, out, `response.setOutcome("SAY_\"HI\"");`)

	assert.Equal(t, `a\\b\"c\nd`, escape("a\\b\"c\nd"))
}
