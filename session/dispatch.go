// ABOUTME: The dispatcher goroutine and one handler per inbound message kind.
// ABOUTME: Handlers apply events to the state machines, append log entries, and start backend calls.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/2389-research/conductor/backend"
	"github.com/2389-research/conductor/channel"
	"github.com/2389-research/conductor/eventlog"
	"github.com/2389-research/conductor/lifecycle"
	"github.com/2389-research/conductor/metrics"
	"github.com/2389-research/conductor/reconcile"
)

// joinTimeout bounds a single join_project write.
const joinTimeout = 5 * time.Second

// state is owned by the dispatcher goroutine.
type state struct {
	connected  bool
	dialFailed bool
	gen        lifecycle.Generation
	exec       lifecycle.Executions
	running    reconcile.RunningView

	// room is the project whose events this session has joined.
	room string

	submitWaiter chan submitReply
	runWaiters   map[uint64]chan runReply

	history   []backend.ProjectSummary
	historyAt time.Time

	// replies run after the snapshot for the current message is published,
	// so callers never observe state older than their own result.
	replies []func()
}

func (s *Session) dispatch() error {
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case m := <-s.inbox:
			s.handle(m)
			s.publish()
			for _, reply := range s.st.replies {
				reply()
			}
			s.st.replies = s.st.replies[:0]
		}
	}
}

func (s *Session) handle(m message) {
	switch m := m.(type) {
	case submitMsg:
		s.onSubmit(m)
	case submitResult:
		s.onSubmitResult(m)
	case runMsg:
		s.onRun(m)
	case runResult:
		s.onRunResult(m)
	case stopMsg:
		s.onStop(m)
	case stopResult:
		s.onStopResult(m)
	case joinResult:
		if m.err != nil && m.projectID == s.st.room {
			s.logger.Warn("join_project failed", "project_id", m.projectID, "error", m.err)
		}
	case pollResult:
		s.st.running.Replace(m.ids)
	case historyResult:
		s.onHistory(m)
	case clearMsg:
		s.log.Clear()
		s.afterPublish(func() { close(m.done) })
	case channelMsg:
		s.onChannel(m.ev)
	}
}

func (s *Session) afterPublish(fn func()) {
	s.st.replies = append(s.st.replies, fn)
}

// publish stores and broadcasts a fresh snapshot.
func (s *Session) publish() {
	now := s.now()
	entries := s.log.Entries()
	snap := Snapshot{
		Connected:  s.st.connected,
		Generation: s.st.gen,
		Executions: s.st.exec.List(),
		Running:    s.st.running.IDs(),
		Log:        entries,
		Stats:      s.agg.Stats(s.st.gen.StartedAt, s.st.gen.FinishedAt, now),
		History:    append([]backend.ProjectSummary(nil), s.st.history...),
		HistoryAt:  s.st.historyAt,
		TakenAt:    now,
	}
	s.snap.Store(&snap)
	s.subs.Broadcast(snap)
}

func (s *Session) onSubmit(m submitMsg) {
	if _, err := s.st.gen.Apply(lifecycle.Submit{Prompt: m.prompt, At: s.now()}); err != nil {
		s.afterPublish(func() { m.reply <- submitReply{err: err} })
		return
	}
	s.log.Clear()
	s.st.room = ""
	s.st.submitWaiter = m.reply

	prompt := s.st.gen.Prompt
	epoch := s.st.gen.Epoch
	s.log.Info(fmt.Sprintf("Submitting prompt: %q", prompt), nil)
	s.spawn(func(ctx context.Context) {
		id, err := s.opts.API.Generate(ctx, prompt)
		s.post(submitResult{epoch: epoch, projectID: id, err: err})
	})
}

func (s *Session) onSubmitResult(m submitResult) {
	if m.err == nil && m.projectID == "" {
		m.err = backend.ErrNoProjectID
	}
	if m.err != nil {
		outcome, _ := s.st.gen.Apply(lifecycle.SubmitRejected{Epoch: m.epoch, Reason: m.err.Error(), At: s.now()})
		if outcome == lifecycle.Applied {
			s.log.Error(fmt.Sprintf("Generation request failed: %v", m.err), nil)
			s.observeGeneration()
		}
		s.settleSubmit(m.epoch, submitReply{err: m.err})
		return
	}

	outcome, _ := s.st.gen.Apply(lifecycle.SubmitAccepted{Epoch: m.epoch, ProjectID: m.projectID})
	if outcome == lifecycle.Dropped {
		s.logger.Debug("stale generation ack dropped", "epoch", m.epoch, "project_id", m.projectID)
		s.settleSubmit(m.epoch, submitReply{err: ErrAbandoned})
		return
	}
	s.st.room = m.projectID
	s.log.Info(fmt.Sprintf("Generation started for project %s", m.projectID), nil)
	s.join(m.projectID)
	s.settleSubmit(m.epoch, submitReply{projectID: m.projectID})
}

// settleSubmit answers the waiting Submit call for epoch, if any.
func (s *Session) settleSubmit(epoch uint64, r submitReply) {
	if s.st.submitWaiter == nil || epoch != s.st.gen.Epoch {
		return
	}
	waiter := s.st.submitWaiter
	s.st.submitWaiter = nil
	s.afterPublish(func() { waiter <- r })
}

// join subscribes the channel to projectID's room in the background.
func (s *Session) join(projectID string) {
	if !s.st.connected {
		// Joined again on the next connect.
		return
	}
	s.group.Go(func() error {
		ctx, cancel := context.WithTimeout(s.ctx, joinTimeout)
		defer cancel()
		err := s.opts.Channel.Emit(ctx, channel.CommandJoinProject, channel.JoinProjectData{ProjectID: projectID})
		if err != nil {
			s.post(joinResult{projectID: projectID, err: err})
		}
		return nil
	})
}

func (s *Session) onRun(m runMsg) {
	id := strings.TrimSpace(m.projectID)
	if _, err := s.st.exec.Apply(lifecycle.Run{ProjectID: id}); err != nil {
		s.afterPublish(func() { m.reply <- runReply{err: err} })
		return
	}
	rec, _ := s.st.exec.Get(id)
	attempt := rec.Attempt
	s.st.runWaiters[attempt] = m.reply
	s.log.Info(fmt.Sprintf("Launching project %s", id), nil)
	s.spawn(func(ctx context.Context) {
		resp, err := s.opts.API.Run(ctx, id)
		s.post(runResult{projectID: id, attempt: attempt, resp: resp, err: err})
	})
}

func (s *Session) onRunResult(m runResult) {
	reply := s.st.runWaiters[m.attempt]
	delete(s.st.runWaiters, m.attempt)

	if m.err != nil {
		outcome, _ := s.st.exec.Apply(lifecycle.RunRejected{ProjectID: m.projectID, Attempt: m.attempt, Reason: m.err.Error()})
		if outcome == lifecycle.Applied {
			s.log.Error(fmt.Sprintf("Failed to run project %s: %v", m.projectID, m.err), nil)
		}
		if reply != nil {
			err := m.err
			s.afterPublish(func() { reply <- runReply{err: err} })
		}
		return
	}

	outcome, _ := s.st.exec.Apply(lifecycle.RunAccepted{
		ProjectID: m.projectID,
		Attempt:   m.attempt,
		Method:    m.resp.RunMethod,
		Message:   m.resp.Message,
		URL:       m.resp.URL,
	})
	if outcome == lifecycle.Applied {
		s.st.running.Add(m.projectID)
		msg := fmt.Sprintf("Project %s is running (%s)", m.projectID, m.resp.RunMethod)
		if m.resp.Message != "" {
			msg += ": " + m.resp.Message
		}
		s.log.Info(msg, m.resp)
	}
	if reply != nil {
		resp := m.resp
		s.afterPublish(func() { reply <- runReply{resp: resp} })
	}
}

func (s *Session) onStop(m stopMsg) {
	id := strings.TrimSpace(m.projectID)
	if _, err := s.st.exec.Apply(lifecycle.Stop{ProjectID: id}); err != nil {
		s.afterPublish(func() { m.reply <- err })
		return
	}
	s.st.running.Remove(id)
	s.log.Info(fmt.Sprintf("Stopping project %s", id), nil)
	s.afterPublish(func() { m.reply <- nil })

	s.spawn(func(ctx context.Context) {
		err := s.opts.API.Stop(ctx, id)
		s.post(stopResult{projectID: id, err: err})
	})
}

func (s *Session) onStopResult(m stopResult) {
	reason := ""
	if m.err != nil {
		reason = m.err.Error()
	}
	if outcome, _ := s.st.exec.Apply(lifecycle.StopSettled{ProjectID: m.projectID, Reason: reason}); outcome == lifecycle.Dropped {
		return
	}
	if m.err != nil {
		s.log.Warn(fmt.Sprintf("Stop request for %s failed: %v", m.projectID, m.err), nil)
		return
	}
	s.log.Info(fmt.Sprintf("Project %s stopped", m.projectID), nil)
}

func (s *Session) onHistory(m historyResult) {
	if m.err != nil {
		s.log.Warn(fmt.Sprintf("History refresh failed: %v", m.err), nil)
		return
	}
	s.st.history = m.items
	s.st.historyAt = s.now()
}

// refreshHistory runs a one-shot refresh in the background.
func (s *Session) refreshHistory() {
	if s.opts.History == nil {
		return
	}
	s.spawn(func(ctx context.Context) {
		items, err := s.opts.History.Refresh(ctx)
		s.post(historyResult{items: items, err: err})
	})
}

func (s *Session) onChannel(ev channel.Event) {
	metrics.ChannelEvents.WithLabelValues(ev.Name).Inc()
	switch ev.Name {
	case channel.EventConnect:
		s.onConnect()
	case channel.EventDisconnect:
		s.onDisconnect(ev.Err)
	case channel.EventError:
		s.onConnectError(ev.Err)
	case channel.EventProgress:
		s.onProgress(ev)
	case channel.EventProjectCompleted:
		s.onProjectCompleted(ev)
	case channel.EventProjectFailed:
		s.onProjectFailed(ev)
	case channel.EventExecutionComplete:
		s.onExecutionComplete(ev)
	case channel.EventExecutionError:
		s.onExecutionError(ev)
	default:
		s.drop(ev, "unknown")
	}
}

func (s *Session) onConnect() {
	s.st.connected = true
	s.st.dialFailed = false
	metrics.SetConnected(true)
	s.log.Info("Connected to backend", nil)
	if s.st.room != "" {
		s.join(s.st.room)
	}
}

func (s *Session) onDisconnect(cause error) {
	s.st.connected = false
	metrics.SetConnected(false)

	at := s.now()
	if outcome, _ := s.st.gen.Apply(lifecycle.Disconnected{At: at}); outcome == lifecycle.Applied {
		s.observeGeneration()
		s.settleSubmit(s.st.gen.Epoch, submitReply{err: ErrAbandoned})
	}
	_, _ = s.st.exec.Apply(lifecycle.Disconnected{At: at})

	msg := "Disconnected from backend"
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	s.log.Warn(msg, nil)
}

func (s *Session) onConnectError(cause error) {
	s.logger.Debug("channel connect error", "error", cause)
	if s.st.dialFailed {
		return
	}
	s.st.dialFailed = true
	s.log.Warn(fmt.Sprintf("Connection error: %v", cause), nil)
}

func (s *Session) onProgress(ev channel.Event) {
	var d channel.ProgressData
	if err := ev.Decode(&d); err != nil {
		s.drop(ev, "malformed")
		return
	}
	if outcome, _ := s.st.gen.Apply(lifecycle.GenerationProgress{ProjectID: d.ProjectID}); outcome == lifecycle.Dropped {
		s.drop(ev, "stale")
		return
	}
	projectID := d.ProjectID
	if projectID == "" {
		projectID = s.st.gen.ProjectID
	}
	msg := d.Message
	if msg == "" {
		msg = fmt.Sprintf("Stage %s", d.Stage)
	}
	s.log.Info(msg, eventlog.Progress{ProjectID: projectID, Stage: d.Stage, Data: d.Data})
}

func (s *Session) onProjectCompleted(ev channel.Event) {
	var d channel.ProjectCompletedData
	if err := ev.Decode(&d); err != nil {
		s.drop(ev, "malformed")
		return
	}
	var result any
	if len(d.Result) > 0 {
		if err := json.Unmarshal(d.Result, &result); err != nil {
			result = string(d.Result)
		}
	}
	outcome, _ := s.st.gen.Apply(lifecycle.GenerationCompleted{ProjectID: d.ProjectID, Result: result, At: s.now()})
	if outcome == lifecycle.Dropped {
		s.drop(ev, "stale")
		return
	}
	s.observeGeneration()
	s.log.Success(fmt.Sprintf("Project %s generated successfully", s.st.gen.ProjectID), result)
	s.refreshHistory()
}

func (s *Session) onProjectFailed(ev channel.Event) {
	var d channel.ProjectFailedData
	if err := ev.Decode(&d); err != nil {
		s.drop(ev, "malformed")
		return
	}
	outcome, _ := s.st.gen.Apply(lifecycle.GenerationFailed{ProjectID: d.ProjectID, Reason: string(d.Error), At: s.now()})
	if outcome == lifecycle.Dropped {
		s.drop(ev, "stale")
		return
	}
	s.observeGeneration()
	s.log.Error(fmt.Sprintf("Generation failed: %s", d.Error), nil)
}

func (s *Session) onExecutionComplete(ev channel.Event) {
	var d channel.ExecutionCompleteData
	if err := ev.Decode(&d); err != nil {
		s.drop(ev, "malformed")
		return
	}
	id, ok := s.st.exec.Resolve(d.ProjectID)
	if !ok {
		s.drop(ev, "unattributed")
		return
	}
	outcome, _ := s.st.exec.Apply(lifecycle.ExecutionComplete{
		ProjectID:    id,
		Method:       d.Result.RunMethod,
		Output:       string(d.Result.Output),
		URL:          d.Result.URL,
		AutoLaunched: d.Result.AutoLaunched,
	})
	if outcome == lifecycle.Dropped {
		s.drop(ev, "stale")
		return
	}
	rec, _ := s.st.exec.Get(id)
	s.log.Success(fmt.Sprintf("Execution of %s finished (%s)", id, rec.RunMethod), d.Result)
	if rec.AutoLaunched && rec.URL != "" {
		s.log.Info(fmt.Sprintf("Project %s is available at %s", id, rec.URL), d.Result)
	}
}

func (s *Session) onExecutionError(ev channel.Event) {
	var d channel.ExecutionErrorData
	if err := ev.Decode(&d); err != nil {
		s.drop(ev, "malformed")
		return
	}
	id, ok := s.st.exec.Resolve(d.ProjectID)
	if !ok {
		s.drop(ev, "unattributed")
		return
	}
	if outcome, _ := s.st.exec.Apply(lifecycle.ExecutionError{ProjectID: id, Reason: string(d.Error)}); outcome == lifecycle.Dropped {
		s.drop(ev, "stale")
		return
	}
	s.log.Error(fmt.Sprintf("Execution of %s failed: %s", id, d.Error), nil)
}

// drop records an ignored pushed event. It never touches the event log.
func (s *Session) drop(ev channel.Event, reason string) {
	metrics.DroppedEvents.WithLabelValues(reason).Inc()
	s.logger.Debug("channel event dropped", "event", ev.Name, "reason", reason)
}

func (s *Session) observeGeneration() {
	g := s.st.gen
	if g.StartedAt.IsZero() || g.FinishedAt.IsZero() {
		return
	}
	metrics.GenerationDuration.WithLabelValues(g.State.String()).Observe(g.FinishedAt.Sub(g.StartedAt).Seconds())
}
