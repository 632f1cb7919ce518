package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readUntil(t *testing.T, sc *bufio.Scanner, prefix string) string {
	t.Helper()
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, prefix) {
			return line
		}
	}
	t.Fatalf("stream ended before %q: %v", prefix, sc.Err())
	return ""
}

func TestEventsStreamReplaysAndFollows(t *testing.T) {
	f := newFixture(t, Config{APIKey: "admin"})
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	f.hub.Publish("policy.changed", map[string]any{"id": 1, "change": "created"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer admin")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	assert.Equal(t, "id: 1", readUntil(t, sc, "id:"))
	assert.Equal(t, "event: policy.changed", readUntil(t, sc, "event:"))
	assert.Contains(t, readUntil(t, sc, "data:"), `"change":"created"`)

	f.hub.Publish("execution.recorded", map[string]any{"traceId": "t-9"})
	assert.Equal(t, "event: execution.recorded", readUntil(t, sc, "event:"))
	assert.Contains(t, readUntil(t, sc, "data:"), `"traceId":"t-9"`)
}

func TestEventsStreamRequiresScope(t *testing.T) {
	f := newFixture(t, Config{APIKey: "admin"})
	rec := f.do(t, http.MethodGet, "/events", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("abc"))
	assert.Equal(t, int64(0), parseLastEventID("-4"))
	assert.Equal(t, int64(12), parseLastEventID("12"))
}
