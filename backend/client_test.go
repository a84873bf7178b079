// ABOUTME: Tests for the backend REST client against httptest servers.
// ABOUTME: Covers request shapes, response decoding, status errors, and context cancellation.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL+"/", WithHeader("X-Session", "s1"))
	require.NoError(t, err)
	return c
}

func TestNewClientRejectsBadURLs(t *testing.T) {
	for _, raw := range []string{"ftp://example.com", "example.com", "://bad"} {
		_, err := NewClient(raw)
		assert.Error(t, err, raw)
	}
}

func TestGenerate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "s1", r.Header.Get("X-Session"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "build a CLI tool", body["prompt"])

		_ = json.NewEncoder(w).Encode(map[string]string{"project_id": "abc123"})
	})

	id, err := c.Generate(context.Background(), "build a CLI tool")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
}

func TestGenerateWithoutProjectID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	_, err := c.Generate(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoProjectID)
}

func TestRunEscapesProjectID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/a%2Fb/run", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"run_method":"server","message":"starting","url":"http://localhost:9000"}`))
	})

	resp, err := c.Run(context.Background(), "a/b")
	require.NoError(t, err)
	assert.Equal(t, RunResponse{RunMethod: "server", Message: "starting", URL: "http://localhost:9000"}, resp)
}

func TestStopAcceptsEmpty2xx(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/p1/stop", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	assert.NoError(t, c.Stop(context.Background(), "p1"))
}

func TestRunningSkipsBlankIDs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = w.Write([]byte(`[{"project_id":"p1"},{"project_id":""},{"project_id":"p2"}]`))
	})
	ids, err := c.Running(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, ids)
}

func TestHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/projects/history", r.URL.Path)
		_, _ = w.Write([]byte(`[{"project_id":"p1","prompt":"todo app","status":"completed","created_at":"2026-03-01T10:00:00Z","files_created":12}]`))
	})
	got, err := c.History(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ProjectID)
	assert.Equal(t, 12, got[0].FilesCreated)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), got[0].CreatedAt)
}

func TestHistoryCreatedAtFormats(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{name: "naive isoformat", raw: `"2024-05-01T10:00:00.123456"`, want: time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC)},
		{name: "naive seconds", raw: `"2024-05-01T10:00:00"`, want: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{name: "space separated", raw: `"2024-05-01 10:00:00"`, want: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{name: "offset", raw: `"2024-05-01T12:00:00+02:00"`, want: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{name: "unix seconds", raw: `1714557600`, want: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{name: "garbage", raw: `"yesterday"`},
		{name: "null", raw: `null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`[{"project_id":"p1","prompt":"todo","status":"completed","created_at":` + tt.raw + `,"files_created":3}]`))
			})
			got, err := c.History(context.Background())
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "p1", got[0].ProjectID)
			assert.Equal(t, 3, got[0].FilesCreated)
			assert.True(t, tt.want.Equal(got[0].CreatedAt), "got %v", got[0].CreatedAt)
		})
	}
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		body    string
		message string
	}{
		{name: "json error field", code: http.StatusConflict, body: `{"error":"project not completed"}`, message: "project not completed"},
		{name: "json message field", code: http.StatusBadRequest, body: `{"message":"prompt required"}`, message: "prompt required"},
		{name: "plain text", code: http.StatusBadGateway, body: "upstream down", message: "upstream down"},
		{name: "empty body", code: http.StatusServiceUnavailable, body: "", message: "Service Unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			})
			err := c.Stop(context.Background(), "p1")
			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, "stop", se.Op)
			assert.Equal(t, tt.code, se.Code)
			assert.Equal(t, tt.message, se.Message)
		})
	}
}

func TestDecodeErrorIsWrapped(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	_, err := c.Running(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "running: decode response")
}

func TestContextCancellation(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Generate(ctx, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
