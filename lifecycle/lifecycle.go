// ABOUTME: Shared types for the generation and execution state machines.
// ABOUTME: Defines the Outcome of applying an event and the sentinel errors callers check.
package lifecycle

import (
	"errors"
	"time"
)

var (
	// ErrEmptyPrompt is returned when a submission has no non-whitespace text.
	ErrEmptyPrompt = errors.New("prompt must not be empty")

	// ErrSubmitInFlight is returned when a submission is made while the
	// previous one is still waiting for its acknowledgment.
	ErrSubmitInFlight = errors.New("a generation request is already being submitted")

	// ErrAlreadyRunning is returned by Run when the project is launching or running.
	ErrAlreadyRunning = errors.New("project is already launching or running")

	// ErrEmptyProjectID is returned when an operation names no project.
	ErrEmptyProjectID = errors.New("project id must not be empty")
)

// Outcome reports what happened when an event was applied.
type Outcome int

const (
	// Applied means the event was accepted. It may or may not have changed state
	// (progress events are accepted without a state change).
	Applied Outcome = iota
	// Dropped means the event did not match the tracked correlation (project
	// id, epoch, attempt) or arrived in a state that does not accept it.
	Dropped
)

func (o Outcome) String() string {
	if o == Applied {
		return "applied"
	}
	return "dropped"
}

// Disconnected is applied to both machines when the channel drops. No
// further pushed events can be trusted for in-flight operations.
type Disconnected struct {
	At time.Time
}

func (Disconnected) generationEvent() {}
func (Disconnected) executionEvent()  {}
