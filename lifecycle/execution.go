// ABOUTME: ExecutionLifecycle state machine tracking run/stop of previously generated projects.
// ABOUTME: Stop is optimistic (immediate Idle, never rolled back); run acks are keyed by attempt.
package lifecycle

import (
	"fmt"
	"sort"
	"strings"
)

// ExecState enumerates per-project execution states.
type ExecState int

const (
	ExecIdle ExecState = iota
	ExecLaunching
	ExecRunning
	ExecError
)

func (s ExecState) String() string {
	switch s {
	case ExecIdle:
		return "idle"
	case ExecLaunching:
		return "launching"
	case ExecRunning:
		return "running"
	case ExecError:
		return "error"
	default:
		return fmt.Sprintf("ExecState(%d)", int(s))
	}
}

// Active reports whether the project is launching or running.
func (s ExecState) Active() bool {
	return s == ExecLaunching || s == ExecRunning
}

// ExecutionEvent is the closed set of inputs to Executions.Apply.
type ExecutionEvent interface {
	executionEvent()
}

// Run requests a launch of ProjectID.
type Run struct {
	ProjectID string
}

// RunAccepted is the HTTP acknowledgment of a run request.
type RunAccepted struct {
	ProjectID string
	Attempt   uint64
	Method    string
	Message   string
	URL       string
}

// RunRejected is an HTTP failure of a run request.
type RunRejected struct {
	ProjectID string
	Attempt   uint64
	Reason    string
}

// Stop requests that ProjectID stop. It is applied optimistically.
type Stop struct {
	ProjectID string
}

// StopSettled is the result of the background stop request. A failure is
// recorded but does not roll back the optimistic Idle.
type StopSettled struct {
	ProjectID string
	Reason    string
}

// ExecutionComplete is a pushed execution_complete.
type ExecutionComplete struct {
	ProjectID    string
	Method       string
	Output       string
	URL          string
	AutoLaunched bool
}

// ExecutionError is a pushed execution_error.
type ExecutionError struct {
	ProjectID string
	Reason    string
}

func (Run) executionEvent()               {}
func (RunAccepted) executionEvent()       {}
func (RunRejected) executionEvent()       {}
func (Stop) executionEvent()              {}
func (StopSettled) executionEvent()       {}
func (ExecutionComplete) executionEvent() {}
func (ExecutionError) executionEvent()    {}

// Execution is the execution record for one project.
type Execution struct {
	ProjectID    string    `json:"project_id"`
	State        ExecState `json:"state"`
	Attempt      uint64    `json:"attempt"`
	StopPending  bool      `json:"stop_pending"`
	StopError    string    `json:"stop_error,omitempty"`
	RunMethod    string    `json:"run_method,omitempty"`
	Message      string    `json:"message,omitempty"`
	URL          string    `json:"url,omitempty"`
	AutoLaunched bool      `json:"auto_launched"`
	Output       string    `json:"output,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Executions holds per-project execution records. The zero value is ready
// to use.
type Executions struct {
	byID     map[string]*Execution
	attempts uint64
}

// Get returns a copy of the record for id.
func (x *Executions) Get(id string) (Execution, bool) {
	e, ok := x.byID[id]
	if !ok {
		return Execution{ProjectID: id}, false
	}
	return *e, true
}

// State returns the state for id; unknown projects are Idle.
func (x *Executions) State(id string) ExecState {
	if e, ok := x.byID[id]; ok {
		return e.State
	}
	return ExecIdle
}

// List returns copies of every record sorted by project id.
func (x *Executions) List() []Execution {
	out := make([]Execution, 0, len(x.byID))
	for _, e := range x.byID {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out
}

// Resolve attributes an execution event to a project. A non-empty id is
// returned as-is. An empty id resolves to the single active project; with
// zero or several active projects the event cannot be attributed.
func (x *Executions) Resolve(id string) (string, bool) {
	if id != "" {
		return id, true
	}
	found := ""
	for pid, e := range x.byID {
		if !e.State.Active() {
			continue
		}
		if found != "" {
			return "", false
		}
		found = pid
	}
	return found, found != ""
}

// Apply runs the transition function. Only Run can return an error.
func (x *Executions) Apply(ev ExecutionEvent) (Outcome, error) {
	switch e := ev.(type) {
	case Run:
		id := strings.TrimSpace(e.ProjectID)
		if id == "" {
			return Dropped, ErrEmptyProjectID
		}
		rec := x.record(id)
		if rec.State.Active() {
			return Dropped, ErrAlreadyRunning
		}
		x.attempts++
		stopPending := rec.StopPending
		*rec = Execution{
			ProjectID:   id,
			State:       ExecLaunching,
			Attempt:     x.attempts,
			StopPending: stopPending,
		}
		return Applied, nil

	case RunAccepted:
		rec, ok := x.byID[e.ProjectID]
		if !ok || rec.State != ExecLaunching || rec.Attempt != e.Attempt {
			return Dropped, nil
		}
		rec.State = ExecRunning
		rec.RunMethod = e.Method
		rec.Message = e.Message
		rec.URL = e.URL
		return Applied, nil

	case RunRejected:
		rec, ok := x.byID[e.ProjectID]
		if !ok || rec.State != ExecLaunching || rec.Attempt != e.Attempt {
			return Dropped, nil
		}
		rec.State = ExecError
		rec.Error = e.Reason
		return Applied, nil

	case Stop:
		id := strings.TrimSpace(e.ProjectID)
		if id == "" {
			return Dropped, ErrEmptyProjectID
		}
		rec := x.record(id)
		rec.State = ExecIdle
		rec.StopPending = true
		rec.StopError = ""
		return Applied, nil

	case StopSettled:
		rec, ok := x.byID[e.ProjectID]
		if !ok || !rec.StopPending {
			return Dropped, nil
		}
		rec.StopPending = false
		rec.StopError = e.Reason
		return Applied, nil

	case ExecutionComplete:
		rec, ok := x.byID[e.ProjectID]
		if !ok || !rec.State.Active() {
			return Dropped, nil
		}
		rec.State = ExecIdle
		if e.Method != "" {
			rec.RunMethod = e.Method
		}
		rec.Output = e.Output
		if e.URL != "" {
			rec.URL = e.URL
		}
		rec.AutoLaunched = e.AutoLaunched
		return Applied, nil

	case ExecutionError:
		rec, ok := x.byID[e.ProjectID]
		if !ok || !rec.State.Active() {
			return Dropped, nil
		}
		rec.State = ExecError
		rec.Error = e.Reason
		return Applied, nil

	case Disconnected:
		changed := false
		for _, rec := range x.byID {
			if rec.State.Active() {
				rec.State = ExecIdle
				changed = true
			}
		}
		if !changed {
			return Dropped, nil
		}
		return Applied, nil
	}
	return Dropped, fmt.Errorf("unknown execution event %T", ev)
}

func (x *Executions) record(id string) *Execution {
	if x.byID == nil {
		x.byID = make(map[string]*Execution)
	}
	rec, ok := x.byID[id]
	if !ok {
		rec = &Execution{ProjectID: id}
		x.byID[id] = rec
	}
	return rec
}
