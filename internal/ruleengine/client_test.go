package ruleengine

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/orchestrator/internal/upstream"
)

func newClient(url string) *Client {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	return New(url, upstream.NewClient("rules", http.DefaultClient, upstream.BreakerConfig{}, logger))
}

func TestEvaluate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/evaluate", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "policy_confiscation_v1", req["ruleSetName"])
		_, _ = w.Write([]byte(`{"match":true,"outcome":"LOCK_WALLET","reasons":["Matched Condition: NewStatus == Confiscated"]}`))
	}))
	defer srv.Close()

	d, err := newClient(srv.URL).Evaluate(context.Background(), "policy_confiscation_v1", map[string]any{"member": map[string]any{"status": "Confiscated"}})
	require.NoError(t, err)
	assert.True(t, d.Match)
	assert.Equal(t, "LOCK_WALLET", d.Outcome)
	assert.Len(t, d.Reasons, 1)
}

func TestEvaluateStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Evaluate(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.True(t, upstream.IsStatusError(err))
}

func TestEvaluateTransportError(t *testing.T) {
	_, err := newClient("http://127.0.0.1:1").Evaluate(context.Background(), "x", nil)
	require.Error(t, err)
	assert.False(t, upstream.IsStatusError(err))
}

func TestDeploy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/deploy", r.URL.Path)
		var req deployRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "rs", req.RuleSetName)
		assert.Contains(t, req.DrlContent, "package rules;")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, newClient(srv.URL+"/").Deploy(context.Background(), "rs", "package rules;"))
}

func TestActiveRuleSets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/active", r.URL.Path)
		_, _ = w.Write([]byte(`{"count":2,"ruleSets":["policy_a","policy_b"]}`))
	}))
	defer srv.Close()

	sets, err := newClient(srv.URL).ActiveRuleSets(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"policy_a", "policy_b"}, sets)
}

func TestActiveRuleSetsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).ActiveRuleSets(context.Background())
	require.Error(t, err)
	assert.True(t, upstream.IsStatusError(err))

	_, err = newClient("http://127.0.0.1:1").ActiveRuleSets(context.Background())
	require.Error(t, err)
}
