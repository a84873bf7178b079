// ABOUTME: Wire frames and event names for the bidirectional backend channel.
// ABOUTME: Every frame is a JSON text message {"event": name, "data": object}.
package channel

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Event names. Connect, Disconnect and Error are synthesized locally by the
// transport and never read off the wire.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventError      = "connect_error"

	EventProgress          = "progress_update"
	EventProjectCompleted  = "project_completed"
	EventProjectFailed     = "project_failed"
	EventExecutionComplete = "execution_complete"
	EventExecutionError    = "execution_error"

	CommandJoinProject = "join_project"
)

// Frame is the wire envelope.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is delivered to consumers in arrival order. Err is set for
// disconnect and connect_error events.
type Event struct {
	Name string
	Data json.RawMessage
	Err  error
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("decode %s: empty data", e.Name)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", e.Name, err)
	}
	return nil
}

// Pushed reports whether the event came from the backend rather than the transport.
func (e Event) Pushed() bool {
	switch e.Name {
	case EventConnect, EventDisconnect, EventError:
		return false
	}
	return true
}

// Text is a display string that also accepts non-string JSON. Strings
// decode verbatim, null decodes empty, anything else is kept as compact JSON.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return err
	}
	*t = Text(buf.String())
	return nil
}

// String returns the text.
func (t Text) String() string { return string(t) }

// ProgressData is the payload of progress_update.
type ProgressData struct {
	ProjectID string         `json:"project_id,omitempty"`
	Stage     string         `json:"stage"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// ProjectCompletedData is the payload of project_completed.
type ProjectCompletedData struct {
	ProjectID string          `json:"project_id"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// ProjectFailedData is the payload of project_failed.
type ProjectFailedData struct {
	ProjectID string `json:"project_id"`
	Error     Text   `json:"error"`
}

// ExecutionResult is the result object inside execution_complete.
type ExecutionResult struct {
	RunMethod    string `json:"run_method,omitempty"`
	Output       Text   `json:"output,omitempty"`
	URL          string `json:"url,omitempty"`
	AutoLaunched bool   `json:"auto_launched,omitempty"`
}

// ExecutionCompleteData is the payload of execution_complete.
type ExecutionCompleteData struct {
	ProjectID string          `json:"project_id,omitempty"`
	Result    ExecutionResult `json:"result"`
}

// ExecutionErrorData is the payload of execution_error.
type ExecutionErrorData struct {
	ProjectID string `json:"project_id,omitempty"`
	Error     Text   `json:"error"`
}

// JoinProjectData is the payload of the join_project command.
type JoinProjectData struct {
	ProjectID string `json:"project_id"`
}

// NewFrame builds a frame with data marshalled to JSON.
func NewFrame(event string, data any) (Frame, error) {
	f := Frame{Event: event}
	if data == nil {
		return f, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", event, err)
	}
	f.Data = raw
	return f, nil
}
