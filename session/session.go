// ABOUTME: Session is the scoped owner of one backend connection and its generation/execution state.
// ABOUTME: All state mutation happens on a single dispatcher goroutine fed by one inbound queue.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389-research/conductor/backend"
	"github.com/2389-research/conductor/broadcast"
	"github.com/2389-research/conductor/channel"
	"github.com/2389-research/conductor/eventlog"
	"github.com/2389-research/conductor/lifecycle"
	"github.com/2389-research/conductor/reconcile"
	"github.com/2389-research/conductor/stats"
)

const (
	// DefaultRequestTimeout bounds each backend HTTP call started by the session.
	DefaultRequestTimeout = 30 * time.Second

	inboxSize = 256
)

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session closed")

	// ErrAbandoned is returned by Submit when the generation was failed or
	// replaced before its acknowledgment could be applied.
	ErrAbandoned = errors.New("generation was abandoned before it was acknowledged")

	// ErrNoHistory is returned by RefreshHistory when no refresher is configured.
	ErrNoHistory = errors.New("history refresh is not configured")
)

// API is the backend HTTP surface the session drives.
type API interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Run(ctx context.Context, projectID string) (backend.RunResponse, error)
	Stop(ctx context.Context, projectID string) error
	Running(ctx context.Context) ([]string, error)
}

// Channel is the persistent event transport. *channel.Client satisfies it.
type Channel interface {
	Start()
	Events() <-chan channel.Event
	Emit(ctx context.Context, event string, data any) error
	Close() error
}

// HistoryRefresher re-fetches project history. *history.Refresher satisfies it.
type HistoryRefresher interface {
	Refresh(ctx context.Context) ([]backend.ProjectSummary, error)
}

// Options configures a Session. API and Channel are required.
type Options struct {
	API     API
	Channel Channel
	History HistoryRefresher

	// PollInterval is the running-set poll period. Zero uses
	// reconcile.DefaultInterval; a negative value disables polling.
	PollInterval time.Duration

	// RequestTimeout bounds each HTTP call. Zero uses DefaultRequestTimeout.
	RequestTimeout time.Duration

	// SubscriberBuffer is the snapshot channel capacity per subscriber.
	SubscriberBuffer int

	Logger *slog.Logger
	Now    func() time.Time
}

// Session owns the channel, the poller and the state machines for one
// mounted front end. Acquire it with New and release it with Close.
type Session struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	log   *eventlog.Log
	agg   *stats.Aggregator
	inbox chan message
	subs  *broadcast.Broadcaster[Snapshot]
	snap  atomic.Pointer[Snapshot]

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	closeOnce sync.Once
	closeErr  error

	// Owned by the dispatcher goroutine.
	st state
}

// New starts the session: it opens the channel, starts the dispatcher and
// begins polling the running set. ctx bounds the session's lifetime in
// addition to Close.
func New(ctx context.Context, opts Options) (*Session, error) {
	if opts.API == nil {
		return nil, errors.New("session: API is required")
	}
	if opts.Channel == nil {
		return nil, errors.New("session: Channel is required")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Session{
		opts:   opts,
		logger: logger.With("component", "session"),
		now:    now,
		log:    eventlog.New(eventlog.WithClock(now)),
		agg:    &stats.Aggregator{},
		inbox:  make(chan message, inboxSize),
		subs:   broadcast.New[Snapshot](opts.SubscriberBuffer),
	}
	s.log.Subscribe(s.agg)
	s.st.runWaiters = make(map[uint64]chan runReply)
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.group, s.ctx = errgroup.WithContext(s.ctx)
	s.publish()

	s.group.Go(s.dispatch)
	s.group.Go(s.pump)
	if opts.PollInterval >= 0 {
		poller := &reconcile.Poller{
			Interval: opts.PollInterval,
			Timeout:  opts.RequestTimeout,
			Fetch:    opts.API.Running,
			Deliver:  func(ids []string) { s.post(pollResult{ids: ids}) },
			Logger:   s.logger,
		}
		s.group.Go(func() error { return poller.Run(s.ctx) })
	}
	opts.Channel.Start()
	return s, nil
}

// Close releases the session. The channel is closed, the poller stops,
// and every goroutine is joined. In-flight HTTP results are discarded.
// Close is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.opts.Channel.Close()
		if err := s.group.Wait(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
		s.subs.Close()
	})
	return s.closeErr
}

// Done is closed when the session has been closed or its context ended.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Submit starts a generation for prompt. It clears the event log, blocks
// until the backend acknowledges the request and returns the project id.
// A submission made while another is awaiting its acknowledgment fails
// with lifecycle.ErrSubmitInFlight.
func (s *Session) Submit(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", lifecycle.ErrEmptyPrompt
	}
	reply := make(chan submitReply, 1)
	if err := s.send(ctx, submitMsg{prompt: prompt, reply: reply}); err != nil {
		return "", err
	}
	select {
	case r := <-reply:
		return r.projectID, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.ctx.Done():
		return "", ErrClosed
	}
}

// Run launches projectID and waits for the backend's acknowledgment.
// Completion is reported later through pushed events.
func (s *Session) Run(ctx context.Context, projectID string) (backend.RunResponse, error) {
	reply := make(chan runReply, 1)
	if err := s.send(ctx, runMsg{projectID: projectID, reply: reply}); err != nil {
		return backend.RunResponse{}, err
	}
	select {
	case r := <-reply:
		return r.resp, r.err
	case <-ctx.Done():
		return backend.RunResponse{}, ctx.Err()
	case <-s.ctx.Done():
		return backend.RunResponse{}, ErrClosed
	}
}

// Stop marks projectID idle and removes it from the running view before
// returning. The stop request itself runs in the background; if it fails
// the next poll corrects the view.
func (s *Session) Stop(ctx context.Context, projectID string) error {
	reply := make(chan error, 1)
	if err := s.send(ctx, stopMsg{projectID: projectID, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrClosed
	}
}

// ClearLog empties the event log.
func (s *Session) ClearLog() error {
	done := make(chan struct{})
	if err := s.send(context.Background(), clearMsg{done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	}
}

// RefreshHistory re-fetches project history. This is the only way to
// recover completions that happened while the channel was down.
func (s *Session) RefreshHistory(ctx context.Context) ([]backend.ProjectSummary, error) {
	if s.opts.History == nil {
		return nil, ErrNoHistory
	}
	if s.ctx.Err() != nil {
		return nil, ErrClosed
	}
	items, err := s.opts.History.Refresh(ctx)
	s.post(historyResult{items: items, err: err})
	if err != nil {
		return nil, fmt.Errorf("refresh history: %w", err)
	}
	return items, nil
}

// Snapshot returns the most recently published state.
func (s *Session) Snapshot() Snapshot {
	return *s.snap.Load()
}

// IsRunning reports whether projectID is in the running view.
func (s *Session) IsRunning(projectID string) bool {
	return s.snap.Load().IsRunning(projectID)
}

// Subscribe returns a channel that receives a Snapshot after every state
// change. Slow subscribers miss intermediate snapshots, never the latest
// one that Snapshot returns.
func (s *Session) Subscribe() <-chan Snapshot {
	return s.subs.Subscribe()
}

// Unsubscribe stops delivery to ch and closes it.
func (s *Session) Unsubscribe(ch <-chan Snapshot) {
	s.subs.Unsubscribe(ch)
}

// send enqueues a caller request.
func (s *Session) send(ctx context.Context, m message) error {
	select {
	case <-s.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case s.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrClosed
	}
}

// post enqueues an asynchronous result. After Close it is discarded.
func (s *Session) post(m message) bool {
	select {
	case s.inbox <- m:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// spawn runs a backend call on the session's group with the request
// timeout applied.
func (s *Session) spawn(fn func(ctx context.Context)) {
	s.group.Go(func() error {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.RequestTimeout)
		defer cancel()
		fn(ctx)
		return nil
	})
}

// pump forwards transport events into the inbox in arrival order.
func (s *Session) pump() error {
	events := s.opts.Channel.Events()
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !s.post(channelMsg{ev: ev}) {
				return nil
			}
		}
	}
}
