// ABOUTME: Test double for the Controller interface used across the tui tests.
// ABOUTME: Records calls and serves a fixed snapshot plus a subscription channel.
package tui

import (
	"context"
	"sync"
	"time"

	"github.com/2389-research/conductor/backend"
	"github.com/2389-research/conductor/eventlog"
	"github.com/2389-research/conductor/lifecycle"
	"github.com/2389-research/conductor/session"
)

var testNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeController struct {
	mu       sync.Mutex
	snap     session.Snapshot
	subs     chan session.Snapshot
	unsubbed bool

	submitted []string
	runs      []string
	stops     []string
	clears    int
	refreshes int
	err       error
}

func newFakeController(snap session.Snapshot) *fakeController {
	return &fakeController{snap: snap, subs: make(chan session.Snapshot, 8)}
}

func (f *fakeController) Submit(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, prompt)
	if f.err != nil {
		return "", f.err
	}
	return "abc123def456", nil
}

func (f *fakeController) Run(_ context.Context, id string) (backend.RunResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, id)
	return backend.RunResponse{RunMethod: "script"}, f.err
}

func (f *fakeController) Stop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, id)
	return f.err
}

func (f *fakeController) ClearLog() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return f.err
}

func (f *fakeController) RefreshHistory(context.Context) ([]backend.ProjectSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return []backend.ProjectSummary{{ProjectID: "p1"}, {ProjectID: "p2"}}, f.err
}

func (f *fakeController) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) Subscribe() <-chan session.Snapshot {
	return f.subs
}

func (f *fakeController) Unsubscribe(<-chan session.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubbed = true
}

// completedSnapshot is a session that finished generating "abc" and has two
// projects running.
func completedSnapshot() session.Snapshot {
	return session.Snapshot{
		Connected: true,
		Generation: lifecycle.Generation{
			State:      lifecycle.GenCompleted,
			ProjectID:  "abc",
			Prompt:     "todo app",
			StartedAt:  testNow.Add(-90 * time.Second),
			FinishedAt: testNow,
		},
		Running: []string{"p-one", "p-two"},
		Executions: []lifecycle.Execution{
			{ProjectID: "p-one", State: lifecycle.ExecRunning, URL: "http://localhost:3000"},
		},
		Log: []eventlog.Entry{
			{Message: "Stage planning", Severity: eventlog.SeverityInfo, Timestamp: testNow,
				Detail: eventlog.Progress{Stage: "planning"}},
			{Message: "Stage development", Severity: eventlog.SeverityInfo, Timestamp: testNow,
				Detail: eventlog.Progress{Stage: "development", Data: map[string]any{"files_created": 3}}},
			{Message: "Project abc generated successfully", Severity: eventlog.SeveritySuccess, Timestamp: testNow},
		},
		TakenAt: testNow,
	}
}
