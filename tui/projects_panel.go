// ABOUTME: Panel listing running projects with a selectable cursor, followed by recent history.
// ABOUTME: Execution state per project comes from the snapshot's execution records.
package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/conductor/backend"
	"github.com/2389-research/conductor/lifecycle"
	"github.com/2389-research/conductor/session"
)

// historyRows caps how many history items the panel shows.
const historyRows = 8

// ProjectsPanelModel shows the running view and project history.
type ProjectsPanelModel struct {
	running    []string
	executions map[string]lifecycle.Execution
	history    []backend.ProjectSummary
	cursor     int
	focused    bool
	width      int
	height     int
}

// NewProjectsPanelModel creates an empty panel.
func NewProjectsPanelModel() ProjectsPanelModel {
	return ProjectsPanelModel{executions: map[string]lifecycle.Execution{}}
}

// SetSnapshot refreshes the panel from snap, keeping the cursor on the same
// project when it is still running.
func (m *ProjectsPanelModel) SetSnapshot(snap session.Snapshot) {
	selected := m.Selected()

	m.running = snap.Running
	m.history = snap.History
	m.executions = make(map[string]lifecycle.Execution, len(snap.Executions))
	for _, e := range snap.Executions {
		m.executions[e.ProjectID] = e
	}

	m.cursor = 0
	for i, id := range m.running {
		if id == selected {
			m.cursor = i
			break
		}
	}
}

// Selected returns the project under the cursor, or "" when none run.
func (m ProjectsPanelModel) Selected() string {
	if m.cursor < 0 || m.cursor >= len(m.running) {
		return ""
	}
	return m.running[m.cursor]
}

func (m *ProjectsPanelModel) SetFocused(focused bool) {
	m.focused = focused
}

func (m *ProjectsPanelModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// Update moves the cursor when focused.
func (m ProjectsPanelModel) Update(msg tea.Msg) (ProjectsPanelModel, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok || !m.focused {
		return m, nil
	}
	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.running)-1 {
			m.cursor++
		}
	}
	return m, nil
}

// View renders the panel.
func (m ProjectsPanelModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("RUNNING (%d)", len(m.running))))
	b.WriteString("\n")
	if len(m.running) == 0 {
		b.WriteString(MutedStyle.Render("nothing running"))
		b.WriteString("\n")
	}
	for i, id := range m.running {
		line := m.runningLine(id)
		if m.focused && i == m.cursor {
			line = SelectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if len(m.history) > 0 {
		b.WriteString("\n")
		b.WriteString(TitleStyle.Render("HISTORY"))
		b.WriteString("\n")
		for i, p := range m.history {
			if i == historyRows {
				b.WriteString(MutedStyle.Render(fmt.Sprintf("... %d more", len(m.history)-historyRows)))
				break
			}
			b.WriteString(historyLine(p))
			b.WriteString("\n")
		}
	}

	style := BorderStyle
	if m.focused {
		style = FocusedBorderStyle
	}
	return style.
		Width(max(m.width-2, 1)).
		Height(max(m.height-2, 1)).
		Render(strings.TrimRight(b.String(), "\n"))
}

func (m ProjectsPanelModel) runningLine(id string) string {
	exec, ok := m.executions[id]
	if !ok {
		return shortID(id) + " " + RunningStyle.Render("running")
	}
	state := StyleForExecState(exec.State).Render(exec.State.String())
	if exec.StopPending {
		state += MutedStyle.Render(" stopping")
	}
	line := shortID(id) + " " + state
	if exec.URL != "" {
		line += " " + MutedStyle.Render(exec.URL)
	}
	return line
}

func historyLine(p backend.ProjectSummary) string {
	prompt := p.Prompt
	if len(prompt) > 40 {
		prompt = prompt[:37] + "..."
	}
	return fmt.Sprintf("%s %s %s", shortID(p.ProjectID), MutedStyle.Render(p.Status), prompt)
}

// shortID trims long ids to their first eight characters.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
