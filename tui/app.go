// ABOUTME: Top-level Bubble Tea AppModel composing the prompt, log, projects, and status panels.
// ABOUTME: Implements tea.Model and turns key presses into session operations run as tea.Cmds.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/conductor/lifecycle"
	"github.com/2389-research/conductor/session"
)

// FocusTarget indicates which panel currently has keyboard focus.
type FocusTarget int

const (
	FocusPrompt FocusTarget = iota
	FocusLog
	FocusProjects
)

// tickInterval drives the elapsed-time display between snapshots.
const tickInterval = time.Second

const helpText = "enter submit · tab focus · r run · s stop · c clear · h history · q quit"

// AppModel is the top-level Bubble Tea model.
type AppModel struct {
	ctx  context.Context
	ctrl Controller

	input    textinput.Model
	spinner  spinner.Model
	log      LogPanelModel
	projects ProjectsPanelModel
	status   StatusBarModel

	snap   session.Snapshot
	focus  FocusTarget
	width  int
	height int
}

// NewAppModel creates an AppModel driving ctrl. ctx bounds every session
// call the UI makes.
func NewAppModel(ctx context.Context, ctrl Controller) AppModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Describe the project to generate..."
	ti.PromptStyle = PromptStyle
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := AppModel{
		ctx:      ctx,
		ctrl:     ctrl,
		input:    ti,
		spinner:  sp,
		log:      NewLogPanelModel(),
		projects: NewProjectsPanelModel(),
		status:   NewStatusBarModel(),
		focus:    FocusPrompt,
	}
	m.applySnapshot(ctrl.Snapshot())
	return m
}

// Init implements tea.Model.
func (m AppModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, TickCmd(tickInterval))
}

// Update implements tea.Model.
func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case SnapshotMsg:
		m.applySnapshot(msg.Snapshot)
		return m, nil

	case TickMsg:
		m.status.SetNow(msg.Time)
		return m, TickCmd(tickInterval)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case ActionResultMsg:
		m.status.SetNotice(noticeFor(msg))
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	}

	if m.focus == FocusPrompt {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m AppModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.width < 40 || m.height < 10 {
		return fmt.Sprintf("Terminal too small (%dx%d). Minimum: 40x10.", m.width, m.height)
	}

	// prompt, help, status bar
	bodyHeight := max(m.height-3, 3)
	projectsWidth := max(m.width*35/100, 20)
	logWidth := max(m.width-projectsWidth, 10)

	m.log.SetSize(logWidth, bodyHeight)
	m.projects.SetSize(projectsWidth, bodyHeight)
	m.status.SetWidth(m.width)
	m.input.Width = max(m.width-4, 10)

	body := lipgloss.JoinHorizontal(lipgloss.Top, m.log.View(), m.projects.View())

	var b strings.Builder
	b.WriteString(m.promptView())
	b.WriteString("\n")
	b.WriteString(body)
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render(helpText))
	b.WriteString("\n")
	b.WriteString(m.status.View())
	return b.String()
}

// Focus returns the focused panel.
func (m AppModel) Focus() FocusTarget {
	return m.focus
}

// SubmitEnabled reports whether enter would submit a prompt.
func (m AppModel) SubmitEnabled() bool {
	return m.snap.Generation.CanSubmit()
}

func (m AppModel) promptView() string {
	if !m.SubmitEnabled() {
		return m.spinner.View() + " " + MutedStyle.Render("submitting "+quote(m.snap.Generation.Prompt))
	}
	return m.input.View()
}

func (m *AppModel) applySnapshot(snap session.Snapshot) {
	m.snap = snap
	m.log.SetEntries(snap.Log)
	m.projects.SetSnapshot(snap)
	m.status.SetSnapshot(snap)
}

func (m AppModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "tab":
		m.setFocus(m.nextFocus())
		return m, nil
	}

	if m.focus == FocusPrompt {
		if msg.Type == tea.KeyEnter {
			return m.submit()
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "r":
		id, ok := m.runTarget()
		if !ok {
			m.status.SetNotice("no completed project to run")
			return m, nil
		}
		return m, RunCmd(m.ctx, m.ctrl, id)
	case "s":
		id := m.projects.Selected()
		if id == "" {
			m.status.SetNotice("no running project selected")
			return m, nil
		}
		return m, StopCmd(m.ctx, m.ctrl, id)
	case "c":
		return m, ClearCmd(m.ctrl)
	case "h":
		return m, HistoryCmd(m.ctx, m.ctrl)
	}

	var cmd tea.Cmd
	switch m.focus {
	case FocusLog:
		m.log, cmd = m.log.Update(msg)
	case FocusProjects:
		m.projects, cmd = m.projects.Update(msg)
	}
	return m, cmd
}

func (m AppModel) submit() (tea.Model, tea.Cmd) {
	prompt := strings.TrimSpace(m.input.Value())
	if prompt == "" {
		return m, nil
	}
	if !m.SubmitEnabled() {
		m.status.SetNotice("a submission is already in flight")
		return m, nil
	}
	m.input.Reset()
	return m, SubmitCmd(m.ctx, m.ctrl, prompt)
}

// runTarget is the project of the last completed generation.
func (m AppModel) runTarget() (string, bool) {
	gen := m.snap.Generation
	if gen.State != lifecycle.GenCompleted || gen.ProjectID == "" {
		return "", false
	}
	return gen.ProjectID, true
}

func (m *AppModel) setFocus(f FocusTarget) {
	m.focus = f
	if f == FocusPrompt {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
	m.log.SetFocused(f == FocusLog)
	m.projects.SetFocused(f == FocusProjects)
}

// nextFocus cycles prompt, log, projects.
func (m AppModel) nextFocus() FocusTarget {
	switch m.focus {
	case FocusPrompt:
		return FocusLog
	case FocusLog:
		return FocusProjects
	default:
		return FocusPrompt
	}
}

func noticeFor(msg ActionResultMsg) string {
	if msg.Err != nil {
		return fmt.Sprintf("%s failed: %v", msg.Action, msg.Err)
	}
	switch msg.Action {
	case ActionSubmit:
		return "submitted " + shortID(msg.Detail)
	case ActionRun:
		return "launched " + msg.Detail
	case ActionStop:
		return "stopping " + shortID(msg.Detail)
	case ActionClear:
		return "log cleared"
	case ActionHistory:
		return "history: " + msg.Detail
	}
	return ""
}

func quote(s string) string {
	if len(s) > 40 {
		s = s[:37] + "..."
	}
	return fmt.Sprintf("%q", s)
}
