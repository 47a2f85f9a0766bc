package queue

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// MemoryQueue implements Queue in process. Records are copied on the way
// in and out, as they would be through Redis.
type MemoryQueue struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	pending []string
	notify  chan struct{}
	closed  bool
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		jobs:   make(map[string]*Job),
		notify: make(chan struct{}),
	}
}

func copyJob(job *Job) *Job {
	cp := *job
	cp.Inputs = slices.Clone(job.Inputs)
	cp.PhaseMicros = maps.Clone(job.PhaseMicros)
	return &cp
}

// wake releases every blocked Pop. Callers hold mu.
func (q *MemoryQueue) wake() {
	close(q.notify)
	q.notify = make(chan struct{})
}

func (q *MemoryQueue) Push(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	job.Status = StatusPending

	q.jobs[job.ID] = copyJob(job)
	q.pending = append(q.pending, job.ID)
	q.wake()
	return nil
}

func (q *MemoryQueue) Pop(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			id := q.pending[0]
			q.pending = q.pending[1:]
			job := copyJob(q.jobs[id])
			q.mu.Unlock()
			return job, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

func (q *MemoryQueue) Update(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.jobs[job.ID]; !ok {
		return ErrJobNotFound
	}
	job.UpdatedAt = time.Now()
	q.jobs[job.ID] = copyJob(job)
	return nil
}

func (q *MemoryQueue) Get(ctx context.Context, id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return copyJob(job), nil
}

// Len returns the number of jobs waiting to be popped.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		q.wake()
	}
	return nil
}
