package action_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/orchestrator/internal/action"
	"github.com/mattjoyce/orchestrator/internal/storage"
)

func newTestStore(t *testing.T) *action.Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "actions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return action.NewStore(db)
}

func TestRouteCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	r := &action.Route{ActionType: "SEND_EMAIL", TargetURL: "http://n8n/webhook/send-email", PayloadTemplate: `{"to":"{{email}}"}`}
	require.NoError(t, s.CreateRoute(ctx, r))
	assert.Equal(t, "POST", r.HTTPMethod)

	err := s.CreateRoute(ctx, &action.Route{ActionType: "SEND_EMAIL", TargetURL: "http://other"})
	assert.ErrorIs(t, err, action.ErrRouteExists)

	got, err := s.GetRoute(ctx, "SEND_EMAIL")
	require.NoError(t, err)
	assert.Equal(t, "http://n8n/webhook/send-email", got.TargetURL)
	assert.Equal(t, `{"to":"{{email}}"}`, got.PayloadTemplate)

	got.TargetURL = "http://n8n/webhook/v2"
	got.AuthSecret = "s3cret"
	require.NoError(t, s.UpdateRoute(ctx, got))
	got, err = s.GetRoute(ctx, "SEND_EMAIL")
	require.NoError(t, err)
	assert.Equal(t, "http://n8n/webhook/v2", got.TargetURL)
	assert.Equal(t, "s3cret", got.AuthSecret)

	assert.ErrorIs(t, s.UpdateRoute(ctx, &action.Route{ActionType: "NOPE", TargetURL: "http://x"}), action.ErrRouteNotFound)

	require.NoError(t, s.DeleteRoute(ctx, "SEND_EMAIL"))
	_, err = s.GetRoute(ctx, "SEND_EMAIL")
	assert.ErrorIs(t, err, action.ErrRouteNotFound)
	assert.ErrorIs(t, s.DeleteRoute(ctx, "SEND_EMAIL"), action.ErrRouteNotFound)
}

func TestBatchUpsertKeepsSecret(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateRoute(ctx, &action.Route{ActionType: "TEAM_NOTIFY", TargetURL: "http://old", AuthSecret: "keep"}))

	n, err := s.BatchUpsert(ctx, []*action.Route{
		{ActionType: "TEAM_NOTIFY", TargetURL: "http://new", HTTPMethod: "put", AuthSecret: "ignored"},
		{ActionType: "SEND_SMS", TargetURL: "http://sms"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	routes, err := s.ListRoutes(ctx)
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, "SEND_SMS", routes[0].ActionType)
	assert.Equal(t, "TEAM_NOTIFY", routes[1].ActionType)
	assert.Equal(t, "http://new", routes[1].TargetURL)
	assert.Equal(t, "PUT", routes[1].HTTPMethod)
	assert.Equal(t, "keep", routes[1].AuthSecret)
}

func TestBatchUpsertRejectsInvalidRoute(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.BatchUpsert(ctx, []*action.Route{
		{ActionType: "A", TargetURL: "http://a"},
		{ActionType: "", TargetURL: "http://b"},
	})
	require.Error(t, err)

	routes, err := s.ListRoutes(ctx)
	require.NoError(t, err)
	assert.Empty(t, routes, "batch must be all or nothing")
}

func TestAdapterConfigs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateAdapter(ctx, &action.AdapterConfig{
		AdapterName:    "N8n",
		BaseURL:        "http://localhost:5678/webhook",
		DefaultHeaders: map[string]string{"X-Team": "ops"},
		IsActive:       true,
	}))

	got, err := s.GetAdapter(ctx, "n8n")
	require.NoError(t, err)
	assert.Equal(t, "N8n", got.AdapterName)
	assert.Equal(t, map[string]string{"X-Team": "ops"}, got.DefaultHeaders)
	assert.True(t, got.IsActive)

	got.APIKey = "key-1"
	got.IsActive = false
	require.NoError(t, s.UpdateAdapter(ctx, "N8n", got))

	all, err := s.ListAdapters(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "key-1", all[0].APIKey)
	assert.False(t, all[0].IsActive)

	_, err = s.GetAdapter(ctx, "Slack")
	assert.ErrorIs(t, err, action.ErrAdapterNotFound)
	assert.ErrorIs(t, s.UpdateAdapter(ctx, "Slack", &action.AdapterConfig{BaseURL: "x"}), action.ErrAdapterNotFound)
}
