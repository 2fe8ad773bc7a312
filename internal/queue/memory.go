// Package queue provides the bounded in-memory priority queue feeding the
// worker pool.
//
// Ordering is by priority (lower value first) with FIFO tiebreak on the
// enqueue sequence number, so equal-priority tasks are served in submission
// order. The queue survives only as long as the process; durability lives
// in the task store, which records every submission before it is enqueued.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"

	"github.com/asolovev/wb-collector/internal/collector"
)

// ErrQueueFull rejects a submission when the queue is at capacity.
var ErrQueueFull = errors.New("queue is full")

// Memory implements collector.Queue.
type Memory struct {
	mu       sync.Mutex
	items    refHeap
	seq      int64
	capacity int
	notify   chan struct{}
}

// NewMemory builds a queue bounded at capacity entries. A non-positive
// capacity falls back to 256.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 256
	}
	return &Memory{
		capacity: capacity,
		notify:   make(chan struct{}, capacity),
	}
}

// Enqueue adds a task reference, rejecting with ErrQueueFull at capacity.
func (q *Memory) Enqueue(_ context.Context, ref collector.TaskRef) error {
	q.mu.Lock()
	if q.items.Len() >= q.capacity {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.seq++
	ref.Submitted = q.seq
	heap.Push(&q.items, ref)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue blocks until an item is available or the context finishes.
func (q *Memory) Dequeue(ctx context.Context) (collector.TaskRef, error) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			ref := heap.Pop(&q.items).(collector.TaskRef)
			q.mu.Unlock()
			return ref, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return collector.TaskRef{}, ctx.Err()
		case <-q.notify:
			// Wakeups can be spurious when another worker won the race;
			// loop and recheck.
		}
	}
}

// Len reports the number of queued entries.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

type refHeap []collector.TaskRef

func (h refHeap) Len() int { return len(h) }

func (h refHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Submitted < h[j].Submitted
}

func (h refHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *refHeap) Push(x any) { *h = append(*h, x.(collector.TaskRef)) }

func (h *refHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
