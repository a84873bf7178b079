// ABOUTME: Generic fan-out broadcaster delivering values to buffered subscriber channels.
// ABOUTME: Broadcast never blocks; a subscriber whose buffer is full misses that value.
package broadcast

import "sync"

// DefaultBuffer is the per-subscriber channel capacity used when none is given.
const DefaultBuffer = 256

// Broadcaster provides a fan-out mechanism for values of type T to multiple
// subscribers. Each subscriber gets its own buffered channel.
type Broadcaster[T any] struct {
	mu          sync.RWMutex
	subscribers []chan T
	buffer      int
	closed      bool
}

// New creates a broadcaster with no initial subscribers. A buffer of zero or
// less uses DefaultBuffer.
func New[T any](buffer int) *Broadcaster[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster[T]{buffer: buffer}
}

// Subscribe creates a new buffered channel for receiving broadcast values.
// Subscribing to a closed broadcaster returns an already-closed channel.
func (b *Broadcaster[T]) Subscribe() <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan T, b.buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes a channel from the subscriber list and closes it.
// Unknown channels are ignored.
func (b *Broadcaster[T]) Unsubscribe(ch <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Broadcast sends v to all subscribers. Non-blocking: drops if a subscriber's
// buffer is full. Returns the number of subscribers that missed the value.
func (b *Broadcaster[T]) Broadcast(v T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	dropped := 0
	for _, ch := range b.subscribers {
		select {
		case ch <- v:
		default:
			dropped++
		}
	}
	return dropped
}

// Len returns the current number of subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Later Subscribe calls get a closed
// channel and Broadcast becomes a no-op.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
