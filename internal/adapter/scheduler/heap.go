package scheduler

import (
	"container/heap"
	"time"
)

// dueEntry is one armed account timer. Entries are invalidated lazily:
// the generation must still match the account's state when popped.
type dueEntry struct {
	accountID  string
	dueAt      time.Time
	generation uint64
}

type dueHeap []*dueEntry

func (h dueHeap) Len() int            { return len(h) }
func (h dueHeap) Less(i, j int) bool  { return h[i].dueAt.Before(h[j].dueAt) }
func (h dueHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *dueHeap) Push(x interface{}) { *h = append(*h, x.(*dueEntry)) }

func (h *dueHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}

func (h *dueHeap) push(e *dueEntry) { heap.Push(h, e) }

// peek returns the earliest armed entry without removing it
func (h dueHeap) peek() *dueEntry {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

func (h *dueHeap) pop() *dueEntry {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*dueEntry)
}

// readyEntry is one account waiting for a worker. Ordering: manual
// requests first, then priority descending, then arrival order.
type readyEntry struct {
	accountID  string
	priority   int
	manual     bool
	queuedAt   time.Time
	seq        uint64
	generation uint64
}

type readyQueue []*readyEntry

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.manual != b.manual {
		return a.manual
	}
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if !a.queuedAt.Equal(b.queuedAt) {
		return a.queuedAt.Before(b.queuedAt)
	}
	return a.seq < b.seq
}

func (q readyQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *readyQueue) Push(x interface{}) { *q = append(*q, x.(*readyEntry)) }

func (q *readyQueue) Pop() interface{} {
	old := *q
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return entry
}

func (q *readyQueue) push(e *readyEntry) { heap.Push(q, e) }

func (q *readyQueue) pop() *readyEntry {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*readyEntry)
}
