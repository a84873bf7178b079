// ABOUTME: Tests for the generic Broadcaster fan-out.
// ABOUTME: Covers delivery to multiple subscribers, drop-on-full, unsubscribe, and close.
package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	b := New[int](4)
	a := b.Subscribe()
	c := b.Subscribe()

	dropped := b.Broadcast(7)

	assert.Equal(t, 0, dropped)
	assert.Equal(t, 7, <-a)
	assert.Equal(t, 7, <-c)
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	b := New[string](1)
	ch := b.Subscribe()

	require.Equal(t, 0, b.Broadcast("first"))
	require.Equal(t, 1, b.Broadcast("second"))

	assert.Equal(t, "first", <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %q", v)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New[int](0)
	ch := b.Subscribe()
	require.Equal(t, 1, b.Len())

	b.Unsubscribe(ch)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
	assert.Equal(t, 0, b.Len())

	// Unknown channels are a no-op.
	b.Unsubscribe(make(chan int))
}

func TestCloseClosesSubscribersAndRejectsNew(t *testing.T) {
	b := New[int](0)
	ch := b.Subscribe()

	b.Close()
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribe after close returns a closed channel")
	assert.Equal(t, 0, b.Broadcast(1))
}
