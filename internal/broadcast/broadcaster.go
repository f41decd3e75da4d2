// Package broadcast provides a small fan-out primitive used to deliver
// status and flag-change notifications to application listeners.
//
// Delivery runs on a single dedicated goroutine per broadcaster so that a
// slow listener can never stall the component publishing the event. Each
// subscriber channel is buffered; if a subscriber stops draining, further
// events for it are dropped rather than blocking the dispatcher.
package broadcast

import "sync"

// subscriberBufferSize is the per-subscriber channel capacity. Listeners that
// fall more than this many events behind start losing events.
const subscriberBufferSize = 16

// Broadcaster fans values of type T out to any number of subscribers.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   []chan T
	queue  chan T
	done   chan struct{}
	closed bool
}

// NewBroadcaster creates a Broadcaster and starts its dispatch goroutine.
// Call Close to release it.
func NewBroadcaster[T any]() *Broadcaster[T] {
	b := &Broadcaster[T]{
		queue: make(chan T, subscriberBufferSize),
		done:  make(chan struct{}),
	}
	go b.dispatchLoop()
	return b
}

// Subscribe registers a new listener channel. The channel is closed when the
// broadcaster is closed or the listener unsubscribes.
func (b *Broadcaster[T]) Subscribe() <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan T, subscriberBufferSize)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Unsubscribe removes a listener previously returned by Subscribe and closes
// its channel. Unknown channels are ignored.
func (b *Broadcaster[T]) Unsubscribe(ch <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == ch {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// HasSubscribers reports whether any listener is currently registered.
// Publishers can use it to skip building expensive event payloads.
func (b *Broadcaster[T]) HasSubscribers() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs) > 0
}

// Broadcast enqueues a value for delivery to all current subscribers. It
// never blocks on subscribers; see the package comment for the drop policy.
func (b *Broadcaster[T]) Broadcast(value T) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	select {
	case b.queue <- value:
	case <-b.done:
	}
}

// Close shuts down the dispatcher and closes all subscriber channels. It is
// idempotent.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	close(b.done)
	for _, sub := range subs {
		close(sub)
	}
}

func (b *Broadcaster[T]) dispatchLoop() {
	for {
		select {
		case value := <-b.queue:
			// Deliver while holding the lock so Unsubscribe and Close can
			// never close a channel mid-send. Sends are non-blocking, so the
			// hold time is bounded by the subscriber count.
			b.mu.Lock()
			for _, sub := range b.subs {
				select {
				case sub <- value:
				default:
					// Subscriber buffer full: drop for this listener only.
				}
			}
			b.mu.Unlock()
		case <-b.done:
			return
		}
	}
}
