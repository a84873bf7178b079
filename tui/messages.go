// ABOUTME: Bubble Tea message types used in the TUI message loop.
// ABOUTME: Snapshots arrive from the bridge; action results come back from command goroutines.
package tui

import (
	"time"

	"github.com/2389-research/conductor/session"
)

// SnapshotMsg carries a session snapshot into the Bubble Tea loop.
type SnapshotMsg struct {
	Snapshot session.Snapshot
}

// TickMsg is sent periodically to refresh elapsed time and the spinner.
type TickMsg struct {
	Time time.Time
}

// Action names a user-triggered session operation.
type Action string

const (
	ActionSubmit  Action = "submit"
	ActionRun     Action = "run"
	ActionStop    Action = "stop"
	ActionClear   Action = "clear"
	ActionHistory Action = "history"
)

// ActionResultMsg reports the outcome of an Action. Detail is a short
// human-readable summary on success.
type ActionResultMsg struct {
	Action Action
	Detail string
	Err    error
}
