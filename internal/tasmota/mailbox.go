package tasmota

import (
	"context"
	"sync"
)

// mailbox is an unbounded FIFO with a single consumer.
//
// put never blocks, so the MQTT delivery goroutine can hand messages to
// slow consumers without stalling every other device. A one-slot signal
// channel wakes the consumer; a put that races with the consumer's empty
// check leaves the token in the slot.
type mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{}
}

func newMailbox[T any]() *mailbox[T] {
	return &mailbox[T]{signal: make(chan struct{}, 1)}
}

// put appends v. It reports false if the mailbox is closed.
func (m *mailbox[T]) put(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, v)
	m.mu.Unlock()

	m.wake()
	return true
}

// close stops further puts. Items already queued are still delivered.
func (m *mailbox[T]) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.wake()
}

func (m *mailbox[T]) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// next returns the oldest item, waiting for one if necessary.
//
// It returns errMailboxClosed once the mailbox is closed and drained, or
// ctx's error if ctx ends first.
func (m *mailbox[T]) next(ctx context.Context) (T, error) {
	var zero T
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			v := m.items[0]
			m.items[0] = zero
			m.items = m.items[1:]
			m.mu.Unlock()
			return v, nil
		}
		closed := m.closed
		m.mu.Unlock()

		if closed {
			return zero, errMailboxClosed
		}

		select {
		case <-m.signal:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// len returns the number of queued items.
func (m *mailbox[T]) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
