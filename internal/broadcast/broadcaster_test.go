package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveWithTimeout[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast value")
		var zero T
		return zero
	}
}

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster[string]()
	defer b.Close()

	ch1 := b.Subscribe()
	ch2 := b.Subscribe()

	b.Broadcast("hello")

	assert.Equal(t, "hello", receiveWithTimeout(t, ch1))
	assert.Equal(t, "hello", receiveWithTimeout(t, ch2))
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster[int]()
	defer b.Close()

	ch := b.Subscribe()
	b.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)
	assert.False(t, b.HasSubscribers())
}

func TestBroadcasterSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster[int]()
	defer b.Close()

	slow := b.Subscribe()
	_ = slow // never drained

	// Overflow the slow subscriber's buffer; Broadcast must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*4; i++ {
			b.Broadcast(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a slow subscriber")
	}
}

func TestBroadcasterConcurrentUnsubscribeWhileBroadcasting(t *testing.T) {
	// Subscribers leave while the dispatcher is delivering. A send on a
	// channel that Unsubscribe has already closed would panic and take down
	// the process, so churn subscriptions hard against a busy broadcaster.
	b := NewBroadcaster[int]()
	defer b.Close()

	stop := make(chan struct{})
	var publisher sync.WaitGroup
	publisher.Add(1)
	go func() {
		defer publisher.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				b.Broadcast(i)
			}
		}
	}()

	var churn sync.WaitGroup
	const churners = 8
	for g := 0; g < churners; g++ {
		churn.Add(1)
		go func() {
			defer churn.Done()
			for i := 0; i < 2000; i++ {
				ch := b.Subscribe()
				// Give the dispatcher a chance to deliver before leaving.
				select {
				case <-ch:
				default:
				}
				b.Unsubscribe(ch)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		churn.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("subscription churn deadlocked")
	}
	close(stop)
	publisher.Wait()
}

func TestBroadcasterCloseIsIdempotent(t *testing.T) {
	b := NewBroadcaster[int]()
	ch := b.Subscribe()

	b.Close()
	b.Close()

	_, open := <-ch
	require.False(t, open)

	// Operations after close are no-ops.
	b.Broadcast(1)
	closedSub := b.Subscribe()
	_, open = <-closedSub
	assert.False(t, open)
}
