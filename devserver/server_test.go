// ABOUTME: Tests for the stub backend over real HTTP and WebSocket connections.
// ABOUTME: Exercises rooms, generation and execution simulation, and fault injection.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389-research/conductor/backend"
	"github.com/2389-research/conductor/channel"
)

type fixture struct {
	srv    *Server
	ts     *httptest.Server
	client *backend.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := New(Config{
		StageDelay:  5 * time.Millisecond,
		ExecDelay:   5 * time.Millisecond,
		JoinTimeout: 2 * time.Second,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	client, err := backend.NewClient(ts.URL)
	require.NoError(t, err)
	return &fixture{srv: srv, ts: ts, client: client}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.ts.URL, "http") + SocketPath
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func join(t *testing.T, ws *websocket.Conn, projectID string) {
	t.Helper()
	f, err := channel.NewFrame(channel.CommandJoinProject, channel.JoinProjectData{ProjectID: projectID})
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(f))
}

func readFrame(t *testing.T, ws *websocket.Conn) channel.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f channel.Frame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

// readUntil reads frames until one named event arrives and returns every
// frame read, including that one.
func readUntil(t *testing.T, ws *websocket.Conn, event string) []channel.Frame {
	t.Helper()
	var out []channel.Frame
	for {
		f := readFrame(t, ws)
		out = append(out, f)
		if f.Event == event {
			return out
		}
	}
}

func (f *fixture) generateCompleted(t *testing.T, ws *websocket.Conn, prompt string) string {
	t.Helper()
	id, err := f.client.Generate(context.Background(), prompt)
	require.NoError(t, err)
	join(t, ws, id)
	readUntil(t, ws, channel.EventProjectCompleted)
	return id
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.Generate(context.Background(), "  ")
	var se *backend.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Equal(t, "prompt is required", se.Message)
}

func TestGenerationStreamsToJoinedRoomOnly(t *testing.T) {
	f := newFixture(t)
	listener := f.dial(t)
	bystander := f.dial(t)

	id, err := f.client.Generate(context.Background(), "build a CLI tool")
	require.NoError(t, err)
	join(t, bystander, "some-other-project")
	join(t, listener, id)

	frames := readUntil(t, listener, channel.EventProjectCompleted)
	require.Len(t, frames, 4)
	var stagesSeen []string
	for _, fr := range frames[:3] {
		assert.Equal(t, channel.EventProgress, fr.Event)
		var d channel.ProgressData
		require.NoError(t, json.Unmarshal(fr.Data, &d))
		assert.Equal(t, id, d.ProjectID)
		stagesSeen = append(stagesSeen, d.Stage)
	}
	assert.Equal(t, []string{"planning", "development", "testing"}, stagesSeen)

	var done channel.ProjectCompletedData
	require.NoError(t, json.Unmarshal(frames[3].Data, &done))
	assert.Equal(t, id, done.ProjectID)

	require.NoError(t, bystander.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	var fr channel.Frame
	err = bystander.ReadJSON(&fr)
	var netErr interface{ Timeout() bool }
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "bystander must not receive events: %v", err)

	p, ok := f.srv.Store().Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, 4, p.FilesCreated)
}

func TestFailMarkerEndsWithProjectFailed(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)

	id, err := f.client.Generate(context.Background(), "broken app [fail]")
	require.NoError(t, err)
	join(t, ws, id)

	frames := readUntil(t, ws, channel.EventProjectFailed)
	var d channel.ProjectFailedData
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Data, &d))
	assert.Equal(t, id, d.ProjectID)
	assert.NotEmpty(t, d.Error)

	_, err = f.client.Run(context.Background(), id)
	var se *backend.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.Code)
}

func TestRunScriptCompletesAndClearsRunning(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)
	ctx := context.Background()
	id := f.generateCompleted(t, ws, "todo list")

	resp, err := f.client.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "script", resp.RunMethod)

	frames := readUntil(t, ws, channel.EventExecutionComplete)
	var d channel.ExecutionCompleteData
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Data, &d))
	assert.Equal(t, id, d.ProjectID)
	assert.Equal(t, "script", d.Result.RunMethod)
	assert.NotEmpty(t, d.Result.Output)

	running, err := f.client.Running(ctx)
	require.NoError(t, err)
	assert.Empty(t, running)

	history, err := f.client.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, id, history[0].ProjectID)
	assert.Equal(t, "completed", history[0].Status)
}

func TestRunServerKeepsRunningUntilStopped(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)
	ctx := context.Background()
	id := f.generateCompleted(t, ws, "web app [server]")

	resp, err := f.client.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "server", resp.RunMethod)

	_, err = f.client.Run(ctx, id)
	var se *backend.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.Code)

	frames := readUntil(t, ws, channel.EventExecutionComplete)
	var d channel.ExecutionCompleteData
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Data, &d))
	assert.True(t, d.Result.AutoLaunched)
	assert.Contains(t, d.Result.URL, id)

	running, err := f.client.Running(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, running)

	require.NoError(t, f.client.Stop(ctx, id))
	running, err = f.client.Running(ctx)
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestRunCrashMarkerPushesExecutionError(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)
	id := f.generateCompleted(t, ws, "flaky job [crash]")

	_, err := f.client.Run(context.Background(), id)
	require.NoError(t, err)
	frames := readUntil(t, ws, channel.EventExecutionError)
	var d channel.ExecutionErrorData
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Data, &d))
	assert.Equal(t, id, d.ProjectID)
}

func TestUnknownProjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.Run(ctx, "nope")
	var se *backend.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)

	err = f.client.Stop(ctx, "nope")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestFaultInjection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.srv.SetFailRunning(true)
	_, err := f.client.Running(ctx)
	var se *backend.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	f.srv.SetFailRunning(false)
	_, err = f.client.Running(ctx)
	require.NoError(t, err)

	f.srv.SetFailStop(true)
	err = f.client.Stop(ctx, "anything")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
}

func TestDropConnections(t *testing.T) {
	f := newFixture(t)
	ws := f.dial(t)
	require.Eventually(t, func() bool { return f.srv.Connections() == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, 1, f.srv.DropConnections())
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var fr channel.Frame
	assert.Error(t, ws.ReadJSON(&fr))
	require.Eventually(t, func() bool { return f.srv.Connections() == 0 }, time.Second, time.Millisecond)
}

func TestStoreListNewestFirst(t *testing.T) {
	s := NewStore()
	a, err := s.Create("first")
	require.NoError(t, err)
	s.Update(a.ID, func(p *Project) { p.CreatedAt = p.CreatedAt.Add(-time.Minute) })
	b, err := s.Create("second")
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, b.ID, list[0].ID)
	assert.Equal(t, a.ID, list[1].ID)

	_, err = s.Create(" ")
	assert.Error(t, err)
}
