// ABOUTME: Implements a single-line status bar showing connection, generation state, and stats.
// ABOUTME: Elapsed time is recomputed on each tick from the last snapshot.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/conductor/lifecycle"
	"github.com/2389-research/conductor/session"
)

// StatusBarModel displays session status in a single line.
type StatusBarModel struct {
	snap   session.Snapshot
	now    time.Time
	notice string
	width  int
}

// NewStatusBarModel creates an empty status bar.
func NewStatusBarModel() StatusBarModel {
	return StatusBarModel{}
}

// SetSnapshot stores the latest snapshot.
func (m *StatusBarModel) SetSnapshot(snap session.Snapshot) {
	m.snap = snap
	if m.now.IsZero() || snap.TakenAt.After(m.now) {
		m.now = snap.TakenAt
	}
}

// SetNow advances the clock used for elapsed time.
func (m *StatusBarModel) SetNow(now time.Time) {
	m.now = now
}

// SetNotice shows a short transient message after the stats.
func (m *StatusBarModel) SetNotice(s string) {
	m.notice = s
}

func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// formatElapsed formats a duration as "12s" or "2m30s".
func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) - minutes*60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

// View renders the status bar as a single styled line.
func (m StatusBarModel) View() string {
	conn := DisconnectedStyle.Render("● offline")
	if m.snap.Connected {
		conn = ConnectedStyle.Render("● online")
	}

	gen := m.snap.Generation
	state := gen.State.String()
	if gen.State == lifecycle.GenFailed && gen.Error != "" {
		state += ": " + gen.Error
	}
	st := m.snap.StatsAt(m.now)

	content := fmt.Sprintf("%s | %s | agents %d | files %d | %s",
		conn, state, st.AgentCalls, st.FilesCreated, formatElapsed(st.Elapsed))
	if m.notice != "" {
		content += " | " + m.notice
	}

	return lipgloss.PlaceHorizontal(m.width, lipgloss.Left, StatusBarStyle.Width(m.width).Render(content))
}
