package live

import "sync"

// sendQueue is an unbounded FIFO of encoded frames between the run loop and
// the sender goroutine. push never blocks; the sender drains every pending
// frame in capture order.
type sendQueue struct {
	mu      sync.Mutex
	pending [][]byte
	closed  bool
	wake    chan struct{}
}

func newSendQueue() *sendQueue {
	return &sendQueue{wake: make(chan struct{}, 1)}
}

// push appends chunk and wakes the sender. It reports false once the queue
// is closed.
func (q *sendQueue) push(chunk []byte) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, chunk)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// take blocks until frames are pending or the queue is closed, then hands
// over the whole backlog. ok is false after close; frames still pending at
// that point are discarded with the connection.
func (q *sendQueue) take() (batch [][]byte, ok bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.pending = nil
			q.mu.Unlock()
			return nil, false
		}
		if len(q.pending) > 0 {
			batch = q.pending
			q.pending = nil
			q.mu.Unlock()
			return batch, true
		}
		q.mu.Unlock()
		<-q.wake
	}
}

func (q *sendQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.pending = nil
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}
