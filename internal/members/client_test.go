package members

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/orchestrator/internal/upstream"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	return New(srv.URL+"/api/members/", upstream.NewClient("members", srv.Client(), upstream.BreakerConfig{}, logger))
}

func TestClient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/members/ids":
			_, _ = w.Write([]byte(`["M1","M2","M3"]`))
		case "/api/members/by-membership/M1":
			_, _ = w.Write([]byte(`{"membershipId":"M1","status":"Suspended"}`))
		case "/api/members/by-membership/M9":
			_, _ = w.Write([]byte(`{"membershipId":"M9"}`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	ids, err := c.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"M1", "M2", "M3"}, ids)

	status, err := c.Status(ctx, "M1")
	require.NoError(t, err)
	assert.Equal(t, "Suspended", status)

	status, err = c.Status(ctx, "M9")
	require.NoError(t, err)
	assert.Equal(t, UnknownStatus, status)

	_, err = c.Status(ctx, "NOPE")
	require.Error(t, err)
	assert.True(t, upstream.IsStatusError(err))
}
