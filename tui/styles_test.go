// ABOUTME: Tests for severity and execution-state style mapping.
// ABOUTME: Compares foreground colors since lipgloss styles are not directly comparable.
package tui

import (
	"testing"

	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/conductor/eventlog"
	"github.com/2389-research/conductor/lifecycle"
)

func TestStyleForSeverity(t *testing.T) {
	tests := []struct {
		sev  eventlog.Severity
		want lipgloss.Style
	}{
		{eventlog.SeverityInfo, LogInfoStyle},
		{eventlog.SeveritySuccess, LogSuccessStyle},
		{eventlog.SeverityWarning, LogWarningStyle},
		{eventlog.SeverityError, LogErrorStyle},
		{eventlog.Severity("bogus"), LogInfoStyle},
	}
	for _, tt := range tests {
		got := StyleForSeverity(tt.sev)
		if got.GetForeground() != tt.want.GetForeground() {
			t.Errorf("StyleForSeverity(%q) foreground = %v, want %v", tt.sev, got.GetForeground(), tt.want.GetForeground())
		}
	}
}

func TestStyleForExecState(t *testing.T) {
	tests := []struct {
		state lifecycle.ExecState
		want  lipgloss.Style
	}{
		{lifecycle.ExecIdle, IdleStyle},
		{lifecycle.ExecLaunching, LaunchingStyle},
		{lifecycle.ExecRunning, RunningStyle},
		{lifecycle.ExecError, FailedStyle},
	}
	for _, tt := range tests {
		got := StyleForExecState(tt.state)
		if got.GetForeground() != tt.want.GetForeground() {
			t.Errorf("StyleForExecState(%v) foreground = %v, want %v", tt.state, got.GetForeground(), tt.want.GetForeground())
		}
	}
}
