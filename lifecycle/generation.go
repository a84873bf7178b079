// ABOUTME: GenerationLifecycle state machine for one "create project from prompt" operation.
// ABOUTME: A single Apply method owns every transition; stale acks and foreign project ids are dropped.
package lifecycle

import (
	"fmt"
	"strings"
	"time"
)

// GenerationState enumerates the generation lifecycle states.
type GenerationState int

const (
	GenIdle GenerationState = iota
	GenSubmitting
	GenInProgress
	GenCompleted
	GenFailed
)

func (s GenerationState) String() string {
	switch s {
	case GenIdle:
		return "idle"
	case GenSubmitting:
		return "submitting"
	case GenInProgress:
		return "in_progress"
	case GenCompleted:
		return "completed"
	case GenFailed:
		return "failed"
	default:
		return fmt.Sprintf("GenerationState(%d)", int(s))
	}
}

// Terminal reports whether the state ends a generation.
func (s GenerationState) Terminal() bool {
	return s == GenCompleted || s == GenFailed
}

// Active reports whether a generation is underway.
func (s GenerationState) Active() bool {
	return s == GenSubmitting || s == GenInProgress
}

// GenerationEvent is the closed set of inputs to Generation.Apply.
type GenerationEvent interface {
	generationEvent()
}

// Submit starts a new generation, abandoning any prior one.
type Submit struct {
	Prompt string
	At     time.Time
}

// SubmitAccepted is the HTTP acknowledgment carrying the backend project id.
type SubmitAccepted struct {
	Epoch     uint64
	ProjectID string
}

// SubmitRejected is an HTTP failure of the create request.
type SubmitRejected struct {
	Epoch  uint64
	Reason string
	At     time.Time
}

// GenerationProgress is a pushed progress_update. An empty ProjectID means
// the event arrived on the joined room without naming a project.
type GenerationProgress struct {
	ProjectID string
}

// GenerationCompleted is a pushed project_completed.
type GenerationCompleted struct {
	ProjectID string
	Result    any
	At        time.Time
}

// GenerationFailed is a pushed project_failed.
type GenerationFailed struct {
	ProjectID string
	Reason    string
	At        time.Time
}

func (Submit) generationEvent()              {}
func (SubmitAccepted) generationEvent()      {}
func (SubmitRejected) generationEvent()      {}
func (GenerationProgress) generationEvent()  {}
func (GenerationCompleted) generationEvent() {}
func (GenerationFailed) generationEvent()    {}

// Generation tracks the single active generation of a session. The zero
// value is Idle.
type Generation struct {
	State      GenerationState `json:"state"`
	Epoch      uint64          `json:"epoch"`
	ProjectID  string          `json:"project_id,omitempty"`
	Prompt     string          `json:"prompt,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Result     any             `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// CanSubmit reports whether a new submission would be accepted.
func (g Generation) CanSubmit() bool {
	return g.State != GenSubmitting
}

// Apply runs the transition function. Only Submit can return an error;
// every other event is either Applied or Dropped.
func (g *Generation) Apply(ev GenerationEvent) (Outcome, error) {
	switch e := ev.(type) {
	case Submit:
		prompt := strings.TrimSpace(e.Prompt)
		if prompt == "" {
			return Dropped, ErrEmptyPrompt
		}
		if g.State == GenSubmitting {
			return Dropped, ErrSubmitInFlight
		}
		*g = Generation{
			State:     GenSubmitting,
			Epoch:     g.Epoch + 1,
			Prompt:    prompt,
			StartedAt: e.At,
		}
		return Applied, nil

	case SubmitAccepted:
		if g.State != GenSubmitting || e.Epoch != g.Epoch || e.ProjectID == "" {
			return Dropped, nil
		}
		g.State = GenInProgress
		g.ProjectID = e.ProjectID
		return Applied, nil

	case SubmitRejected:
		if g.State != GenSubmitting || e.Epoch != g.Epoch {
			return Dropped, nil
		}
		g.fail(e.Reason, e.At)
		return Applied, nil

	case GenerationProgress:
		if !g.tracks(e.ProjectID) {
			return Dropped, nil
		}
		return Applied, nil

	case GenerationCompleted:
		if !g.tracks(e.ProjectID) {
			return Dropped, nil
		}
		g.State = GenCompleted
		g.Result = e.Result
		g.FinishedAt = e.At
		return Applied, nil

	case GenerationFailed:
		if !g.tracks(e.ProjectID) {
			return Dropped, nil
		}
		g.fail(e.Reason, e.At)
		return Applied, nil

	case Disconnected:
		if !g.State.Active() {
			return Dropped, nil
		}
		g.fail("connection to backend lost", e.At)
		return Applied, nil
	}
	return Dropped, fmt.Errorf("unknown generation event %T", ev)
}

// tracks reports whether a pushed event for projectID belongs to the
// in-progress generation. An empty id is attributed to the joined room.
func (g *Generation) tracks(projectID string) bool {
	if g.State != GenInProgress {
		return false
	}
	return projectID == "" || projectID == g.ProjectID
}

func (g *Generation) fail(reason string, at time.Time) {
	g.State = GenFailed
	g.Error = reason
	g.FinishedAt = at
}
