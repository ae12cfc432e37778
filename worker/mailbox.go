package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrMailboxClosed is returned by Put after Close, and by Take once a closed
// mailbox has been emptied.
var ErrMailboxClosed = errors.New("worker: mailbox closed")

// Mailbox is an unbounded FIFO with any number of producers and a blocking
// consumer. Put never blocks.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	ready  chan struct{}
	done   chan struct{}
}

// NewMailbox creates an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Put appends v.
func (m *Mailbox[T]) Put(v T) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMailboxClosed
	}
	m.items = append(m.items, v)
	m.mu.Unlock()
	m.signal()
	return nil
}

func (m *Mailbox[T]) signal() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Take removes and returns the oldest item, blocking until one arrives, the
// mailbox is closed and empty, or ctx is done.
func (m *Mailbox[T]) Take(ctx context.Context) (T, error) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			v := m.items[0]
			var zero T
			m.items[0] = zero
			m.items = m.items[1:]
			more := len(m.items) > 0
			m.mu.Unlock()
			if more {
				m.signal()
			}
			return v, nil
		}
		closed := m.closed
		m.mu.Unlock()
		if closed {
			var zero T
			return zero, ErrMailboxClosed
		}

		select {
		case <-m.ready:
		case <-m.done:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close stops further Puts. Items already queued can still be taken.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
}
