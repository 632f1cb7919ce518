package n8n

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/orchestrator/internal/action"
	"github.com/mattjoyce/orchestrator/internal/upstream"
)

type adapterMap map[string]*action.AdapterConfig

func (m adapterMap) GetAdapter(_ context.Context, name string) (*action.AdapterConfig, error) {
	if a, ok := m[name]; ok {
		return a, nil
	}
	return nil, action.ErrAdapterNotFound
}

const workflowsJSON = `{"data":[
 {"id":"1","name":"Team Notify","active":true,"tags":[{"name":"ops"}],"nodes":[
   {"name":"Webhook","type":"n8n-nodes-base.webhook","parameters":{"httpMethod":"POST","path":"team-notify"}},
   {"name":"Slack","type":"n8n-nodes-base.slack","parameters":{}}]},
 {"id":"2","name":"Cron only","active":true,"nodes":[
   {"name":"Cron","type":"n8n-nodes-base.cron","parameters":{}}]},
 {"id":"3","name":"Lookup","active":false,"nodes":[
   {"name":"Hook","type":"n8n-nodes-base.webhook","parameters":{"path":"lookup"}}]}
]}`

func newTestClient(t *testing.T, handler http.HandlerFunc, baseSuffix, apiKey string) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	adapters := adapterMap{AdapterName: {AdapterName: AdapterName, BaseURL: srv.URL + baseSuffix, APIKey: apiKey, IsActive: true}}
	return New(adapters, upstream.NewClient("n8n", srv.Client(), upstream.BreakerConfig{}, logger))
}

func TestWorkflows(t *testing.T) {
	var gotKey, gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-N8N-API-KEY")
		gotPath = r.URL.RequestURI()
		_, _ = io.WriteString(w, workflowsJSON)
	}, "/webhook/", "key-1")

	wfs, err := c.Workflows(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "key-1", gotKey)
	assert.Equal(t, "/api/v1/workflows?limit=100", gotPath)

	require.Len(t, wfs, 2)
	assert.Equal(t, "Team Notify", wfs[0].Name)
	assert.Equal(t, []string{"ops"}, wfs[0].Tags)
	require.Len(t, wfs[0].Webhooks, 1)
	assert.Regexp(t, `^POST: http://127\.0\.0\.1:\d+/webhook/team-notify \(Webhook\)$`, wfs[0].Webhooks[0])

	assert.False(t, wfs[1].IsActive)
	assert.Regexp(t, `^GET: .*/webhook/lookup \(Hook\)$`, wfs[1].Webhooks[0])
}

func TestProjects(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/projects", r.URL.Path)
		_, _ = io.WriteString(w, `{"data":[{"id":"p1","name":"Default"}]}`)
	}, "", "key-1")

	raw, err := c.Projects(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[{"id":"p1","name":"Default"}]}`, string(raw))
}

func TestCredentialErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	httpc := upstream.NewClient("n8n", nil, upstream.BreakerConfig{}, logger)

	_, err := New(adapterMap{}, httpc).Workflows(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = New(adapterMap{AdapterName: {AdapterName: AdapterName, BaseURL: "http://n8n"}}, httpc).Projects(context.Background())
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestUpstreamFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}, "", "bad")

	_, err := c.Workflows(context.Background())
	require.Error(t, err)
	var se *upstream.StatusError
	assert.True(t, errors.As(err, &se))
}

func TestRootURL(t *testing.T) {
	for in, want := range map[string]string{
		"http://n8n:5678":          "http://n8n:5678",
		"http://n8n:5678/":         "http://n8n:5678",
		"http://n8n:5678/webhook":  "http://n8n:5678",
		"http://n8n:5678/webhook/": "http://n8n:5678",
	} {
		assert.Equal(t, want, RootURL(in), in)
	}
}
