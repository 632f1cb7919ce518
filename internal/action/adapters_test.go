package action_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/orchestrator/internal/action"
	"github.com/mattjoyce/orchestrator/internal/action/mocks"
	"github.com/mattjoyce/orchestrator/internal/policy"
	"github.com/mattjoyce/orchestrator/internal/upstream"
)

type mapAdapters map[string]*action.AdapterConfig

func (m mapAdapters) GetAdapter(_ context.Context, name string) (*action.AdapterConfig, error) {
	if a, ok := m[name]; ok {
		return a, nil
	}
	return nil, action.ErrAdapterNotFound
}

func TestPlatformAdapterCanHandle(t *testing.T) {
	p := action.NewPlatformAdapter(mapAdapters{}, nil, testLogger())
	assert.True(t, p.CanHandle("N8N:team-notify"))
	assert.False(t, p.CanHandle("SEND_EMAIL"))
	assert.False(t, p.CanHandle("N8N:"))
	assert.False(t, p.CanHandle("AMQP:alerts"))
	assert.False(t, p.CanHandle("kafka:alerts"))
}

func TestPlatformAdapterPostsToBaseURL(t *testing.T) {
	var (
		path, auth, team string
		body             map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		team = r.Header.Get("X-Team")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	logger := testLogger()
	configs := mapAdapters{"N8N": {
		AdapterName:    "N8n",
		BaseURL:        srv.URL + "/webhook/",
		AuthToken:      "abc",
		DefaultHeaders: map[string]string{"X-Team": "ops"},
		IsActive:       true,
	}}
	p := action.NewPlatformAdapter(configs, upstream.NewClient("platform", srv.Client(), upstream.BreakerConfig{}, logger), logger)

	tr, err := p.Execute(context.Background(), policy.Action{Type: "N8N:team-notify", Params: map[string]string{"channel": "#ops"}}, "M1", "Suspended")
	require.NoError(t, err)
	assert.Equal(t, "/webhook/team-notify", path)
	assert.Equal(t, "Bearer abc", auth)
	assert.Equal(t, "ops", team)
	assert.Equal(t, map[string]string{"channel": "#ops", "entityId": "M1", "contextStatus": "Suspended", "actionType": "N8N:team-notify"}, body)
	assert.Equal(t, http.StatusAccepted, tr.StatusCode)
	assert.Equal(t, "Request Accepted", tr.Response)
}

func TestPlatformAdapterErrors(t *testing.T) {
	configs := mapAdapters{"OFF": {AdapterName: "OFF", BaseURL: "http://x", IsActive: false}}
	p := action.NewPlatformAdapter(configs, nil, testLogger())

	_, err := p.Execute(context.Background(), policy.Action{Type: "MISSING:path"}, "M1", "")
	assert.ErrorIs(t, err, action.ErrAdapterNotFound)

	_, err = p.Execute(context.Background(), policy.Action{Type: "OFF:path"}, "M1", "")
	assert.ErrorContains(t, err, "inactive")
}

func TestPublishAdapter(t *testing.T) {
	ctrl := gomock.NewController(t)
	amqpPub := mocks.NewMockPublisher(ctrl)

	var sent []byte
	amqpPub.EXPECT().Publish(gomock.Any(), "alerts", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, body []byte) error {
			sent = body
			return nil
		})

	p := action.NewPublishAdapter(testLogger(), amqpPub, nil)
	assert.True(t, p.CanHandle("AMQP:alerts"))
	assert.True(t, p.CanHandle("amqp:alerts"))
	assert.False(t, p.CanHandle("KAFKA:alerts"), "no kafka publisher configured")
	assert.False(t, p.CanHandle("AMQP:"))

	tr, err := p.Execute(context.Background(), policy.Action{Type: "AMQP:alerts", Params: map[string]string{"k": "v"}}, "M1", "Active")
	require.NoError(t, err)
	assert.Equal(t, "amqp://alerts", tr.Endpoint)
	assert.Equal(t, "Published", tr.Response)

	var env action.Envelope
	require.NoError(t, json.Unmarshal(sent, &env))
	assert.Equal(t, "AMQP:alerts", env.ActionType)
	assert.Equal(t, "M1", env.EntityID)
	assert.Equal(t, "Active", env.ContextStatus)
	assert.Equal(t, map[string]string{"k": "v"}, env.Params)
	assert.NotEmpty(t, env.ID)
}

func TestPublishAdapterError(t *testing.T) {
	ctrl := gomock.NewController(t)
	kafkaPub := mocks.NewMockPublisher(ctrl)
	kafkaPub.EXPECT().Publish(gomock.Any(), "member-actions", gomock.Any()).Return(errors.New("leader not available"))

	p := action.NewPublishAdapter(testLogger(), nil, kafkaPub)
	_, err := p.Execute(context.Background(), policy.Action{Type: "KAFKA:member-actions"}, "M1", "")
	assert.ErrorContains(t, err, "leader not available")
}
