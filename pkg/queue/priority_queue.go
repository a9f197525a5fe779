package queue

import (
	"container/heap"
	"sync"
	"time"
)

// Task is a unit of work admitted to the Priority Queue + Worker Pool
// (C10), per spec §4.10.
type Task struct {
	ID         string
	Prompt     string
	Priority   int
	ParentID   string
	EnqueuedAt time.Time

	// Env/Dir/Command/Args configure the subject process this task spawns.
	Command string
	Args    []string
	Dir     string
	Env     []string
}

// heapItem wraps a Task with its heap index for O(log n) Remove/Filter.
type heapItem struct {
	task  *Task
	index int
	seq   uint64 // insertion sequence, used to break priority ties FIFO
}

// itemHeap implements container/heap.Interface: highest priority first,
// ties broken by insertion order (lower seq wins).
type itemHeap []*heapItem

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *itemHeap) Push(x any) {
	item := x.(*heapItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// PriorityQueue is a thread-safe priority queue of Tasks: descending
// priority, FIFO tie-break on insertion time, per spec §4.10.
type PriorityQueue struct {
	mu   sync.Mutex
	h    itemHeap
	next uint64
}

// NewPriorityQueue creates an empty PriorityQueue.
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{}
}

// Enqueue adds t to the queue.
func (q *PriorityQueue) Enqueue(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, &heapItem{task: t, seq: q.next})
	q.next++
}

// Dequeue removes and returns the highest-priority task, or (nil, false) if
// empty.
func (q *PriorityQueue) Dequeue() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return nil, false
	}
	item := heap.Pop(&q.h).(*heapItem)
	return item.task, true
}

// Peek returns the highest-priority task without removing it.
func (q *PriorityQueue) Peek() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return nil, false
	}
	return q.h[0].task, true
}

// Size returns the number of queued tasks.
func (q *PriorityQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// IsEmpty reports whether the queue has no tasks.
func (q *PriorityQueue) IsEmpty() bool {
	return q.Size() == 0
}

// Filter returns a snapshot of tasks matching predicate, in heap storage
// order (not priority order).
func (q *PriorityQueue) Filter(predicate func(*Task) bool) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Task
	for _, item := range q.h {
		if predicate(item.task) {
			out = append(out, item.task)
		}
	}
	return out
}

// Remove deletes every task matching predicate and reports how many were
// removed.
func (q *PriorityQueue) Remove(predicate func(*Task) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for i := 0; i < q.h.Len(); {
		if predicate(q.h[i].task) {
			heap.Remove(&q.h, i)
			removed++
			continue
		}
		i++
	}
	return removed
}

// Snapshot returns every queued task in descending-priority order, without
// removing them.
func (q *PriorityQueue) Snapshot() []*Task {
	q.mu.Lock()
	// Clone each heapItem (not just the slice) so draining below can't mutate
	// the .index field of items still live in q.h.
	cloned := make(itemHeap, len(q.h))
	for i, item := range q.h {
		cp := *item
		cloned[i] = &cp
	}
	q.mu.Unlock()

	// Drain the clone to read out priority order non-destructively.
	out := make([]*Task, 0, len(cloned))
	for cloned.Len() > 0 {
		item := heap.Pop(&cloned).(*heapItem)
		out = append(out, item.task)
	}
	return out
}
