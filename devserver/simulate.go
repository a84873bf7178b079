// ABOUTME: Simulated generation and execution pipelines for the stub backend.
// ABOUTME: Each pipeline pushes its events to the project's room with configurable delays.
package devserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/2389-research/conductor/channel"
)

type stage struct {
	name    string
	message string
	files   int
}

var stages = []stage{
	{name: "planning", message: "Planning project structure", files: 0},
	{name: "development", message: "Writing source files", files: 3},
	{name: "testing", message: "Running generated tests", files: 4},
}

func containsMarker(prompt, marker string) bool {
	return marker != "" && strings.Contains(prompt, marker)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// generate pushes progress for each stage, then a terminal event.
func (s *Server) generate(ctx context.Context, p Project) {
	// Events before the client joins would be lost, so wait for a listener.
	select {
	case <-s.hub.joinedSignal(p.ID):
	case <-time.After(s.cfg.JoinTimeout):
		s.logger.Warn("no listener joined before timeout", "project_id", p.ID)
	case <-ctx.Done():
		return
	}

	files := 0
	for _, st := range stages {
		if !sleepCtx(ctx, s.cfg.StageDelay) {
			return
		}
		files = st.files
		s.store.Update(p.ID, func(p *Project) { p.FilesCreated = files })
		s.hub.broadcast(p.ID, channel.EventProgress, channel.ProgressData{
			ProjectID: p.ID,
			Stage:     st.name,
			Message:   st.message,
			Data:      map[string]any{"files_created": files},
		})
	}

	if containsMarker(p.Prompt, s.cfg.FailMarker) {
		s.store.Update(p.ID, func(p *Project) { p.Status = StatusFailed })
		s.hub.broadcast(p.ID, channel.EventProjectFailed, channel.ProjectFailedData{
			ProjectID: p.ID,
			Error:     "generated tests failed",
		})
		s.logger.Info("generation failed", "project_id", p.ID)
		return
	}

	s.store.Update(p.ID, func(p *Project) { p.Status = StatusCompleted })
	s.hub.broadcast(p.ID, channel.EventProjectCompleted, map[string]any{
		"project_id": p.ID,
		"result": map[string]any{
			"files_created": files,
			"summary":       fmt.Sprintf("Generated %d files", files),
		},
	})
	s.logger.Info("generation completed", "project_id", p.ID)
}

// execute pushes the outcome of a run. Scripts finish and clear the
// running mark; servers report their url and keep running until stopped.
func (s *Server) execute(ctx context.Context, p Project) {
	if !sleepCtx(ctx, s.cfg.ExecDelay) {
		return
	}
	cur, ok := s.store.Get(p.ID)
	if !ok || !cur.Running {
		// Stopped before it finished.
		return
	}

	if containsMarker(p.Prompt, s.cfg.ErrorMarker) {
		s.store.Update(p.ID, func(p *Project) { p.Running = false })
		s.hub.broadcast(p.ID, channel.EventExecutionError, channel.ExecutionErrorData{
			ProjectID: p.ID,
			Error:     "process exited with status 1",
		})
		return
	}

	result := channel.ExecutionResult{RunMethod: p.RunMethod}
	if p.RunMethod == "server" {
		result.URL = fmt.Sprintf("http://%s/preview/%s", s.cfg.Addr, p.ID)
		result.AutoLaunched = true
	} else {
		s.store.Update(p.ID, func(p *Project) { p.Running = false })
		result.Output = channel.Text(fmt.Sprintf("%s: all checks passed\n", p.ID))
	}
	s.hub.broadcast(p.ID, channel.EventExecutionComplete, channel.ExecutionCompleteData{
		ProjectID: p.ID,
		Result:    result,
	})
}
