// ABOUTME: Implements a scrollable session log panel using the bubbles viewport component.
// ABOUTME: Entries are rendered with timestamps and colored by severity; progress stages are tagged.
package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/conductor/eventlog"
)

// LogPanelModel displays the session log. Entries are replaced wholesale
// from each snapshot.
type LogPanelModel struct {
	entries  []eventlog.Entry
	viewport viewport.Model
	focused  bool
	follow   bool
	width    int
	height   int
}

// NewLogPanelModel creates an empty log panel that follows new entries.
func NewLogPanelModel() LogPanelModel {
	return LogPanelModel{
		viewport: viewport.New(80, 10),
		follow:   true,
	}
}

// SetEntries replaces the displayed entries. The view stays pinned to the
// bottom unless the user scrolled up.
func (m *LogPanelModel) SetEntries(entries []eventlog.Entry) {
	m.entries = entries
	m.syncViewport()
}

// Len returns the number of displayed entries.
func (m LogPanelModel) Len() int {
	return len(m.entries)
}

func (m *LogPanelModel) SetFocused(focused bool) {
	m.focused = focused
}

func (m LogPanelModel) IsFocused() bool {
	return m.focused
}

// SetSize sets the available dimensions and updates the viewport.
func (m *LogPanelModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	// border (2) and title (1)
	m.viewport.Width = max(w-2, 1)
	m.viewport.Height = max(h-3, 1)
	m.syncViewport()
}

// Update scrolls the viewport when focused.
func (m LogPanelModel) Update(msg tea.Msg) (LogPanelModel, tea.Cmd) {
	if !m.focused {
		return m, nil
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	m.follow = m.viewport.AtBottom()
	return m, cmd
}

// View renders the log panel.
func (m LogPanelModel) View() string {
	title := fmt.Sprintf("LOG (%d)", len(m.entries))
	if !m.follow {
		title += " [scrolled]"
	}

	content := "No events yet"
	if len(m.entries) > 0 {
		content = m.viewport.View()
	}

	style := BorderStyle
	if m.focused {
		style = FocusedBorderStyle
	}
	return style.
		Width(max(m.width-2, 1)).
		Height(max(m.height-2, 1)).
		Render(TitleStyle.Render(title) + "\n" + content)
}

func (m *LogPanelModel) syncViewport() {
	if len(m.entries) == 0 {
		m.viewport.SetContent("")
		m.follow = true
		return
	}
	lines := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		lines = append(lines, formatEntry(e))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

// formatEntry formats a single log entry as one line.
func formatEntry(e eventlog.Entry) string {
	parts := []string{
		LogTimestampStyle.Render(e.Timestamp.Format("15:04:05")),
		StyleForSeverity(e.Severity).Render(e.Message),
	}
	if p, ok := e.Detail.(eventlog.Progress); ok {
		parts = append(parts, MutedStyle.Render("["+p.Stage+"]"))
		if len(p.Data) > 0 {
			parts = append(parts, MutedStyle.Render(formatData(p.Data)))
		}
	}
	return strings.Join(parts, " ")
}

// formatData formats payload data as compact sorted key=value pairs.
func formatData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(data))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(pairs, " ")
}
