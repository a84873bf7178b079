// ABOUTME: Bridge connecting a session's snapshot stream to the Bubble Tea message loop.
// ABOUTME: Also provides tea.Cmd factories that run session operations off the UI goroutine.
package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/conductor/backend"
	"github.com/2389-research/conductor/session"
)

// Controller is the subset of *session.Session the TUI drives.
type Controller interface {
	Submit(ctx context.Context, prompt string) (string, error)
	Run(ctx context.Context, projectID string) (backend.RunResponse, error)
	Stop(ctx context.Context, projectID string) error
	ClearLog() error
	RefreshHistory(ctx context.Context) ([]backend.ProjectSummary, error)
	Snapshot() session.Snapshot
	Subscribe() <-chan session.Snapshot
	Unsubscribe(ch <-chan session.Snapshot)
}

// Bridge forwards session snapshots into a tea.Program.
type Bridge struct {
	ctrl Controller
	send func(msg tea.Msg)
}

// NewBridge creates a Bridge. Typically called with program.Send.
func NewBridge(ctrl Controller, send func(msg tea.Msg)) *Bridge {
	return &Bridge{ctrl: ctrl, send: send}
}

// Run sends the current snapshot, then every published one, until ctx is
// done or the session closes its subscriptions.
func (b *Bridge) Run(ctx context.Context) {
	ch := b.ctrl.Subscribe()
	defer b.ctrl.Unsubscribe(ch)

	b.send(SnapshotMsg{Snapshot: b.ctrl.Snapshot()})
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			b.send(SnapshotMsg{Snapshot: snap})
		}
	}
}

// TickCmd returns a tea.Cmd that sends a TickMsg after interval.
func TickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}

// SubmitCmd submits prompt as a new generation.
func SubmitCmd(ctx context.Context, ctrl Controller, prompt string) tea.Cmd {
	return func() tea.Msg {
		id, err := ctrl.Submit(ctx, prompt)
		return ActionResultMsg{Action: ActionSubmit, Detail: id, Err: err}
	}
}

// RunCmd launches a project.
func RunCmd(ctx context.Context, ctrl Controller, projectID string) tea.Cmd {
	return func() tea.Msg {
		resp, err := ctrl.Run(ctx, projectID)
		if err != nil {
			return ActionResultMsg{Action: ActionRun, Err: err}
		}
		return ActionResultMsg{Action: ActionRun, Detail: fmt.Sprintf("%s (%s)", projectID, resp.RunMethod)}
	}
}

// StopCmd requests a stop. The session answers once the optimistic update
// is visible, before the backend replies.
func StopCmd(ctx context.Context, ctrl Controller, projectID string) tea.Cmd {
	return func() tea.Msg {
		return ActionResultMsg{Action: ActionStop, Detail: projectID, Err: ctrl.Stop(ctx, projectID)}
	}
}

// ClearCmd empties the session log.
func ClearCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		return ActionResultMsg{Action: ActionClear, Err: ctrl.ClearLog()}
	}
}

// HistoryCmd refreshes project history.
func HistoryCmd(ctx context.Context, ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		items, err := ctrl.RefreshHistory(ctx)
		if err != nil {
			return ActionResultMsg{Action: ActionHistory, Err: err}
		}
		return ActionResultMsg{Action: ActionHistory, Detail: fmt.Sprintf("%d projects", len(items))}
	}
}
