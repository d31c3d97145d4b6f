package subscription

import (
	"sync"

	"github.com/redbco/redb-storage/pkg/adapter"
)

// queue is an unbounded FIFO between a native listener and the delivery
// goroutine. Pushing never blocks; a slow callback grows the queue.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []adapter.Notification
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(n adapter.Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, n)
	q.cond.Signal()
}

// pop blocks until an item is available. It returns false once the queue
// is closed, even if items were still pending.
func (q *queue) pop() (adapter.Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return adapter.Notification{}, false
	}
	n := q.items[0]
	q.items[0] = adapter.Notification{}
	q.items = q.items[1:]
	return n, true
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
