// ABOUTME: Tests for the running-set poller and the RunningView value.
// ABOUTME: Covers wholesale replacement, optimistic edits, unbounded retry, and cancellation.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunningViewReplaceIsWholesale(t *testing.T) {
	var v RunningView
	v.Replace([]string{"a", "b", ""})
	assert.Equal(t, []string{"a", "b"}, v.IDs())

	v.Add("c")
	v.Remove("a")
	assert.Equal(t, []string{"b", "c"}, v.IDs())

	v.Replace([]string{"z"})
	assert.Equal(t, []string{"z"}, v.IDs())
	assert.False(t, v.Contains("b"))
	assert.True(t, v.Contains("z"))
	assert.Equal(t, 1, v.Len())
}

func TestRunningViewZeroValue(t *testing.T) {
	var v RunningView
	assert.False(t, v.Contains("x"))
	v.Remove("x")
	v.Add("")
	assert.Equal(t, 0, v.Len())
	v.Add("x")
	assert.True(t, v.Contains("x"))
}

func TestPollerRequiresFetchAndDeliver(t *testing.T) {
	p := &Poller{}
	assert.Error(t, p.Run(context.Background()))
}

func TestPollerPollsImmediatelyAndRepeatedly(t *testing.T) {
	var mu sync.Mutex
	var got [][]string
	var calls atomic.Int32

	p := &Poller{
		Interval: 5 * time.Millisecond,
		Fetch: func(ctx context.Context) ([]string, error) {
			n := calls.Add(1)
			if n == 1 {
				return []string{"p1"}, nil
			}
			return []string{"p2"}, nil
		},
		Deliver: func(ids []string) {
			mu.Lock()
			got = append(got, ids)
			mu.Unlock()
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 3
	}, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"p1"}, got[0])
	assert.Equal(t, []string{"p2"}, got[1])
}

func TestPollerKeepsRetryingAfterFailures(t *testing.T) {
	var calls atomic.Int32
	delivered := make(chan []string, 1)

	p := &Poller{
		Interval: 2 * time.Millisecond,
		Fetch: func(ctx context.Context) ([]string, error) {
			if calls.Add(1) <= 5 {
				return nil, errors.New("503 service unavailable")
			}
			return []string{"ok"}, nil
		},
		Deliver: func(ids []string) {
			select {
			case delivered <- ids:
			default:
			}
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	select {
	case ids := <-delivered:
		assert.Equal(t, []string{"ok"}, ids)
	case <-time.After(2 * time.Second):
		t.Fatal("poller stopped retrying")
	}
	assert.GreaterOrEqual(t, calls.Load(), int32(6))
}

func TestPollerStopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	p := &Poller{
		Interval: time.Hour,
		Fetch: func(ctx context.Context) ([]string, error) {
			calls.Add(1)
			return nil, nil
		},
		Deliver: func([]string) {},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
	assert.Equal(t, int32(1), calls.Load())
}
