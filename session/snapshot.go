// ABOUTME: Snapshot is the immutable, UI-facing view of a session at one instant.
// ABOUTME: Stats are derived from the copied log, so a snapshot can recompute them at any time.
package session

import (
	"sort"
	"time"

	"github.com/2389-research/conductor/backend"
	"github.com/2389-research/conductor/eventlog"
	"github.com/2389-research/conductor/lifecycle"
	"github.com/2389-research/conductor/stats"
)

// Snapshot is a copy of session state. Callers may keep it indefinitely.
type Snapshot struct {
	Connected  bool                     `json:"connected"`
	Generation lifecycle.Generation     `json:"generation"`
	Executions []lifecycle.Execution    `json:"executions"`
	Running    []string                 `json:"running"`
	Log        []eventlog.Entry         `json:"log"`
	Stats      stats.Stats              `json:"stats"`
	History    []backend.ProjectSummary `json:"history,omitempty"`
	HistoryAt  time.Time                `json:"history_at"`
	TakenAt    time.Time                `json:"taken_at"`
}

// IsRunning reports whether projectID is in the running view.
func (s Snapshot) IsRunning(projectID string) bool {
	i := sort.SearchStrings(s.Running, projectID)
	return i < len(s.Running) && s.Running[i] == projectID
}

// Execution returns the execution record for projectID.
func (s Snapshot) Execution(projectID string) (lifecycle.Execution, bool) {
	for _, e := range s.Executions {
		if e.ProjectID == projectID {
			return e, true
		}
	}
	return lifecycle.Execution{ProjectID: projectID}, false
}

// StatsAt recomputes stats with elapsed time measured at now. Used by
// displays that tick between snapshots.
func (s Snapshot) StatsAt(now time.Time) stats.Stats {
	return stats.Compute(s.Log, s.Generation.StartedAt, s.Generation.FinishedAt, now)
}
