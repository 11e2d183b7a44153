// Package queue implements the async priority queue of spec §4.7: the
// primitive used for the reader/writer's outgoing stream. Single producer
// side pushes frames with a priority; single consumer side iterates
// highest-priority first, FIFO within a priority. No backpressure on push —
// bounding is the caller's job (credit/inflight accounting).
//
// No priority-queue library appears anywhere in the retrieved pack, so this
// is built directly on stdlib container/heap, per spec §9's "no ecosystem
// equivalent" rule for the async-queue primitive.
package queue

import (
	"container/heap"
	"sync"
)

// Item is one frame queued for send, tagged with a priority (lower value =
// higher priority, matching spec §4.5's "priority 0" control frames).
type Item struct {
	Value    any
	Priority int
	seq      uint64
}

type heapQueue []*Item

func (h heapQueue) Len() int { return len(h) }
func (h heapQueue) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}
func (h heapQueue) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *heapQueue) Push(x any)        { *h = append(*h, x.(*Item)) }
func (h *heapQueue) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is a closeable async priority queue, single-producer/single-consumer.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  heapQueue
	seq    uint64
	closed bool
}

func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues value at priority. Never blocks.
func (q *Queue) Push(value any, priority int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.seq++
	heap.Push(&q.items, &Item{Value: value, Priority: priority, seq: q.seq})
	q.cond.Signal()
}

// Pop blocks until an item is available or the queue is closed. ok is false
// once the queue is closed and drained.
func (q *Queue) Pop() (value any, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	it := heap.Pop(&q.items).(*Item)
	return it.Value, true
}

// Close terminates the iterator cleanly; pending items are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
}

// Len reports the current queue depth, for metrics/backpressure decisions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
