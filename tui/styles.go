// ABOUTME: Defines lipgloss styles for the TUI panels, log severities, and execution states.
// ABOUTME: StyleForSeverity and StyleForExecState map domain values to their display styles.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/conductor/eventlog"
	"github.com/2389-research/conductor/lifecycle"
)

var (
	// Panel borders
	BorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62"))
	FocusedBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("170"))

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	// Execution states
	IdleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	LaunchingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	RunningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	FailedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	SelectedStyle  = lipgloss.NewStyle().Reverse(true)
	MutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	// Log severities
	LogTimestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	LogInfoStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	LogSuccessStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	LogWarningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	LogErrorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	StatusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)
	ConnectedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Background(lipgloss.Color("236"))
	DisconnectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Background(lipgloss.Color("236"))

	PromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170")).Bold(true)
	HelpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// StyleForSeverity returns the style for a log entry severity.
func StyleForSeverity(sev eventlog.Severity) lipgloss.Style {
	switch sev {
	case eventlog.SeveritySuccess:
		return LogSuccessStyle
	case eventlog.SeverityWarning:
		return LogWarningStyle
	case eventlog.SeverityError:
		return LogErrorStyle
	default:
		return LogInfoStyle
	}
}

// StyleForExecState returns the style for an execution state.
func StyleForExecState(state lifecycle.ExecState) lipgloss.Style {
	switch state {
	case lifecycle.ExecLaunching:
		return LaunchingStyle
	case lifecycle.ExecRunning:
		return RunningStyle
	case lifecycle.ExecError:
		return FailedStyle
	default:
		return IdleStyle
	}
}
