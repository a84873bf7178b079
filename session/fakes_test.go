// ABOUTME: In-memory fakes for the backend API, the channel transport, and the history refresher.
// ABOUTME: Fakes let tests drive every asynchronous source of the session deterministically.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389-research/conductor/backend"
	"github.com/2389-research/conductor/channel"
)

type fakeAPI struct {
	mu        sync.Mutex
	generate  func(ctx context.Context, prompt string) (string, error)
	run       func(ctx context.Context, id string) (backend.RunResponse, error)
	stop      func(ctx context.Context, id string) error
	prompts   []string
	stopCalls []string

	// polls feeds Running; each receive answers exactly one poll.
	polls chan []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{polls: make(chan []string)}
}

func (f *fakeAPI) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	fn := f.generate
	f.mu.Unlock()
	if fn == nil {
		return "abc123", nil
	}
	return fn(ctx, prompt)
}

func (f *fakeAPI) Run(ctx context.Context, id string) (backend.RunResponse, error) {
	f.mu.Lock()
	fn := f.run
	f.mu.Unlock()
	if fn == nil {
		return backend.RunResponse{RunMethod: "script"}, nil
	}
	return fn(ctx, id)
}

func (f *fakeAPI) Stop(ctx context.Context, id string) error {
	f.mu.Lock()
	f.stopCalls = append(f.stopCalls, id)
	fn := f.stop
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, id)
}

func (f *fakeAPI) Running(ctx context.Context) ([]string, error) {
	select {
	case ids := <-f.polls:
		return ids, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeAPI) stops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopCalls...)
}

type emitted struct {
	event string
	data  any
}

type fakeChannel struct {
	events    chan channel.Event
	mu        sync.Mutex
	emits     []emitted
	emitErr   error
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		events: make(chan channel.Event, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeChannel) Start() {}

func (f *fakeChannel) Events() <-chan channel.Event { return f.events }

func (f *fakeChannel) Emit(ctx context.Context, event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, emitted{event: event, data: data})
	return f.emitErr
}

func (f *fakeChannel) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeChannel) emitted() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.emits...)
}

func (f *fakeChannel) joins() []string {
	var out []string
	for _, e := range f.emitted() {
		if e.event == channel.CommandJoinProject {
			out = append(out, e.data.(channel.JoinProjectData).ProjectID)
		}
	}
	return out
}

func (f *fakeChannel) push(t *testing.T, name string, data any) {
	t.Helper()
	ev := channel.Event{Name: name}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		ev.Data = raw
	}
	select {
	case f.events <- ev:
	case <-time.After(time.Second):
		t.Fatalf("push %s: channel full", name)
	}
}

func (f *fakeChannel) connect(t *testing.T) {
	f.push(t, channel.EventConnect, nil)
}

type fakeHistory struct {
	mu    sync.Mutex
	items []backend.ProjectSummary
	err   error
	calls int
}

func (f *fakeHistory) Refresh(ctx context.Context) ([]backend.ProjectSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.items, f.err
}

func (f *fakeHistory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeClock advances only when told to.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (f *fakeAPI) onGenerate(fn func(ctx context.Context, prompt string) (string, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generate = fn
}

func (f *fakeAPI) onRun(fn func(ctx context.Context, id string) (backend.RunResponse, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.run = fn
}

func (f *fakeAPI) onStop(fn func(ctx context.Context, id string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stop = fn
}

func (f *fakeChannel) pushEvent(t *testing.T, ev channel.Event) {
	t.Helper()
	select {
	case f.events <- ev:
	case <-time.After(time.Second):
		t.Fatalf("push %s: channel full", ev.Name)
	}
}
