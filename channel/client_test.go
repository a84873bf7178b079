// ABOUTME: Tests for the WebSocket channel client against an httptest gorilla server.
// ABOUTME: Covers ordering, malformed frames, emit, disconnect, reconnect, and close semantics.
package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testServer accepts sockets and hands each connection to the test.
type testServer struct {
	*httptest.Server
	conns chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{conns: make(chan *websocket.Conn, 8)}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.conns <- conn
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ts.conns:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func next(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func waitClosed(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-c.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel not closed")
		}
	}
}

func TestClientDeliversFramesInOrder(t *testing.T) {
	ts := newTestServer(t)
	c := New(Options{URL: ts.wsURL()})
	defer c.Close()
	c.Start()

	server := ts.accept(t)
	require.Equal(t, EventConnect, next(t, c).Name)

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"event":"progress_update","data":{"stage":"planning","message":"one"}}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"event":"disconnect"}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"data":{}}`)))
	require.NoError(t, server.WriteMessage(websocket.BinaryMessage, []byte{0x1}))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"event":"progress_update","data":{"stage":"development","message":"two"}}`)))

	first := next(t, c)
	second := next(t, c)

	var p1, p2 ProgressData
	require.NoError(t, first.Decode(&p1))
	require.NoError(t, second.Decode(&p2))
	assert.Equal(t, "one", p1.Message)
	assert.Equal(t, "two", p2.Message)
	assert.True(t, first.Pushed())
}

func TestEmitWritesFrame(t *testing.T) {
	ts := newTestServer(t)
	c := New(Options{URL: ts.wsURL()})
	defer c.Close()

	assert.ErrorIs(t, c.Emit(context.Background(), CommandJoinProject, nil), ErrNotConnected)

	c.Start()
	server := ts.accept(t)
	next(t, c)

	require.NoError(t, c.Emit(context.Background(), CommandJoinProject, JoinProjectData{ProjectID: "abc123"}))

	var f Frame
	require.NoError(t, server.ReadJSON(&f))
	assert.Equal(t, CommandJoinProject, f.Event)
	var join JoinProjectData
	require.NoError(t, json.Unmarshal(f.Data, &join))
	assert.Equal(t, "abc123", join.ProjectID)
}

func TestConcurrentEmitIsSerialized(t *testing.T) {
	ts := newTestServer(t)
	c := New(Options{URL: ts.wsURL()})
	defer c.Close()
	c.Start()
	server := ts.accept(t)
	next(t, c)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Emit(context.Background(), CommandJoinProject, JoinProjectData{ProjectID: "p"}))
		}()
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		var f Frame
		require.NoError(t, server.ReadJSON(&f))
		assert.Equal(t, CommandJoinProject, f.Event)
	}
}

func TestDisconnectWithoutReconnectEndsStream(t *testing.T) {
	ts := newTestServer(t)
	c := New(Options{URL: ts.wsURL()})
	defer c.Close()
	c.Start()

	server := ts.accept(t)
	require.Equal(t, EventConnect, next(t, c).Name)

	require.NoError(t, server.Close())

	ev := next(t, c)
	assert.Equal(t, EventDisconnect, ev.Name)
	assert.Error(t, ev.Err)
	assert.False(t, ev.Pushed())
	waitClosed(t, c)
}

func TestReconnectAfterDrop(t *testing.T) {
	ts := newTestServer(t)
	c := New(Options{URL: ts.wsURL(), Reconnect: true, InitialInterval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond})
	defer c.Close()
	c.Start()

	first := ts.accept(t)
	require.Equal(t, EventConnect, next(t, c).Name)
	require.NoError(t, first.Close())

	assert.Equal(t, EventDisconnect, next(t, c).Name)
	ts.accept(t)
	assert.Equal(t, EventConnect, next(t, c).Name)
}

func TestDialFailureReportsError(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1/ws"})
	defer c.Close()
	c.Start()

	ev := next(t, c)
	assert.Equal(t, EventError, ev.Name)
	assert.Error(t, ev.Err)
	waitClosed(t, c)
}

func TestCloseIsIdempotentAndStopsEmit(t *testing.T) {
	ts := newTestServer(t)
	c := New(Options{URL: ts.wsURL(), Reconnect: true})
	c.Start()
	ts.accept(t)
	next(t, c)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	waitClosed(t, c)
	assert.ErrorIs(t, c.Emit(context.Background(), CommandJoinProject, nil), ErrClosed)
}

func TestCloseWithoutStart(t *testing.T) {
	c := New(Options{URL: "ws://unused"})
	require.NoError(t, c.Close())
	waitClosed(t, c)
	c.Start()
}

func TestDecodeEmptyData(t *testing.T) {
	err := Event{Name: EventProjectFailed}.Decode(&ProjectFailedData{})
	assert.Error(t, err)
}

func TestTextDecoding(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Text
	}{
		{"string", `{"error":"boom"}`, "boom"},
		{"null", `{"error":null}`, ""},
		{"missing", `{}`, ""},
		{"object", `{"error": {"message": "boom", "code": 2}}`, `{"message":"boom","code":2}`},
		{"number", `{"error": 42}`, "42"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var d ProjectFailedData
			require.NoError(t, Event{Name: EventProjectFailed, Data: []byte(tc.raw)}.Decode(&d))
			assert.Equal(t, tc.want, d.Error)
		})
	}
}
