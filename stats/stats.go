// ABOUTME: Derives generation metrics (agent calls, files created, elapsed time) from the event log.
// ABOUTME: Aggregator keeps running totals as an eventlog observer; Compute rebuilds them from entries alone.
package stats

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/2389-research/conductor/eventlog"
)

// AgentStages are the progress stages that represent one agent invocation.
var AgentStages = []string{"planning", "development", "testing"}

// Stats summarizes a generation run.
type Stats struct {
	AgentCalls   int           `json:"agent_calls"`
	FilesCreated int           `json:"files_created"`
	Elapsed      time.Duration `json:"elapsed"`
	Frozen       bool          `json:"frozen"`
}

// Aggregator is an eventlog.Observer holding the counters of the current
// log. A clear resets them.
type Aggregator struct {
	mu           sync.Mutex
	agentCalls   int
	filesCreated int
}

var _ eventlog.Observer = (*Aggregator)(nil)

// Observe folds one change into the running totals.
func (a *Aggregator) Observe(c eventlog.Change) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c.Kind == eventlog.ChangeCleared {
		a.agentCalls, a.filesCreated = 0, 0
		return
	}
	p, ok := progressOf(c.Entry)
	if !ok {
		return
	}
	if isAgentStage(p.Stage) {
		a.agentCalls++
	}
	if n, ok := filesCreated(p.Data); ok {
		a.filesCreated = n
	}
}

// Stats returns the totals with elapsed time computed as in Compute.
func (a *Aggregator) Stats(start, end, now time.Time) Stats {
	a.mu.Lock()
	s := Stats{AgentCalls: a.agentCalls, FilesCreated: a.filesCreated}
	a.mu.Unlock()

	switch {
	case start.IsZero():
	case !end.IsZero():
		s.Elapsed = clampDuration(end.Sub(start))
		s.Frozen = true
	default:
		s.Elapsed = clampDuration(now.Sub(start))
	}
	return s
}

// Compute folds entries into Stats. start is when generation began; a zero
// start yields zero elapsed time. A non-zero end freezes elapsed at
// end-start, otherwise elapsed runs to now.
func Compute(entries []eventlog.Entry, start, end, now time.Time) Stats {
	var a Aggregator
	for _, e := range entries {
		a.Observe(eventlog.Change{Kind: eventlog.ChangeAppended, Entry: e})
	}
	return a.Stats(start, end, now)
}

func progressOf(e eventlog.Entry) (eventlog.Progress, bool) {
	switch d := e.Detail.(type) {
	case eventlog.Progress:
		return d, true
	case *eventlog.Progress:
		if d != nil {
			return *d, true
		}
	}
	return eventlog.Progress{}, false
}

func isAgentStage(stage string) bool {
	for _, s := range AgentStages {
		if s == stage {
			return true
		}
	}
	return false
}

// filesCreated reads data["files_created"] in any of the numeric shapes a
// decoded JSON payload or a Go caller might use.
func filesCreated(data map[string]any) (int, bool) {
	v, ok := data["files_created"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}

func clampDuration(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
