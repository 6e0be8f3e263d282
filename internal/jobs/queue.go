package jobs

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO of jobs. Push never blocks.
type Queue struct {
	mu    sync.Mutex
	items []*Job
	ready chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends a job.
func (q *Queue) Push(j *Job) {
	q.mu.Lock()
	q.items = append(q.items, j)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest job, waiting until one is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			j := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				// Pass the wakeup on so a later Pop does not wait for the next Push.
				select {
				case q.ready <- struct{}{}:
				default:
				}
			}
			return j, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.ready:
		}
	}
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
