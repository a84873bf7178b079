// ABOUTME: Refresher fetches project history from the backend and mirrors it into the cache.
// ABOUTME: A cache write failure is logged but never hides the freshly fetched history.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389-research/conductor/backend"
)

// Source is the backend surface the refresher needs.
type Source interface {
	History(ctx context.Context) ([]backend.ProjectSummary, error)
}

// Refresher pulls history on demand. Cache may be nil.
type Refresher struct {
	Source Source
	Cache  *Cache
	Logger *slog.Logger
	Now    func() time.Time
}

// Refresh fetches the history and, when a cache is configured, replaces it.
func (r *Refresher) Refresh(ctx context.Context) ([]backend.ProjectSummary, error) {
	items, err := r.Source.History(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	if r.Cache != nil {
		now := time.Now
		if r.Now != nil {
			now = r.Now
		}
		if err := r.Cache.Replace(ctx, items, now()); err != nil {
			r.logger().Warn("history cache update failed", "error", err)
		}
	}
	return items, nil
}

func (r *Refresher) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
