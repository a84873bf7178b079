// ABOUTME: RunningSetReconciler: periodically fetches the authoritative running-project set.
// ABOUTME: RunningView is replaced wholesale on each successful poll; failures are logged and retried.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/2389-research/conductor/metrics"
)

// DefaultInterval is used when a Poller has no interval set.
const DefaultInterval = 5 * time.Second

// RunningView is a local snapshot of the backend's running-project set.
// The zero value is empty and ready to use. It is not safe for concurrent
// mutation; the session mutates it from its dispatcher only.
type RunningView struct {
	ids map[string]struct{}
}

// Replace swaps in an entirely new set.
func (v *RunningView) Replace(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			next[id] = struct{}{}
		}
	}
	v.ids = next
}

// Add marks id as running (optimistic local update).
func (v *RunningView) Add(id string) {
	if id == "" {
		return
	}
	if v.ids == nil {
		v.ids = make(map[string]struct{})
	}
	v.ids[id] = struct{}{}
}

// Remove marks id as not running (optimistic local update).
func (v *RunningView) Remove(id string) {
	delete(v.ids, id)
}

// Contains reports whether id is in the view.
func (v RunningView) Contains(id string) bool {
	_, ok := v.ids[id]
	return ok
}

// Len returns the number of running projects.
func (v RunningView) Len() int {
	return len(v.ids)
}

// IDs returns the running ids sorted for stable display.
func (v RunningView) IDs() []string {
	out := make([]string, 0, len(v.ids))
	for id := range v.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// FetchFunc returns the authoritative running set.
type FetchFunc func(ctx context.Context) ([]string, error)

// Poller calls Fetch immediately and then every Interval, handing each
// successful result to Deliver. Failures go to Logger and never stop the loop.
type Poller struct {
	Interval time.Duration
	Fetch    FetchFunc
	Deliver  func(ids []string)
	Logger   *slog.Logger

	// Timeout bounds a single fetch. Zero means the Interval.
	Timeout time.Duration
}

// Run polls until ctx is done. It returns nil on cancellation and an error
// only when the poller is misconfigured.
func (p *Poller) Run(ctx context.Context) error {
	if p.Fetch == nil || p.Deliver == nil {
		return errors.New("reconcile: poller needs Fetch and Deliver")
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p.pollOnce(ctx, interval, logger)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if ctx.Err() != nil {
		return
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = interval
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ids, err := p.Fetch(fetchCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.Polls.WithLabelValues(metrics.OutcomeError).Inc()
		logger.Warn("running-set poll failed", "error", err)
		return
	}
	metrics.Polls.WithLabelValues(metrics.OutcomeOK).Inc()
	p.Deliver(ids)
}
