// Package queue distributes per-session FHE runs to worker processes.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Common errors.
var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrJobNotFound = errors.New("job not found")
	ErrQueueClosed = errors.New("queue closed")
	ErrJobStale    = errors.New("job record stale")
)

// JobStatus represents the state of a job.
type JobStatus uint8

const (
	StatusPending JobStatus = iota
	StatusProcessing
	StatusCompleted
	StatusFailed
)

func (s JobStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("JobStatus(%d)", uint8(s))
}

// Done reports whether the job reached a terminal state.
func (s JobStatus) Done() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the record of one Session's run: its parameters on the way in,
// its decrypted result and phase timings on the way out.
type Job struct {
	ID      string `json:"id"`
	RunID   string `json:"run_id"`
	Session int    `json:"session"`
	Level   string `json:"level"`
	Inputs  []bool `json:"inputs"`

	Status JobStatus `json:"status"`
	Worker string    `json:"worker,omitempty"`

	Bit          bool             `json:"bit"`
	Expected     bool             `json:"expected"`
	Margin       float64          `json:"margin"`
	PhaseMicros  map[string]int64 `json:"phase_micros,omitempty"`
	ResultHandle string           `json:"result_handle,omitempty"`
	Error        string           `json:"error,omitempty"`
	// Mismatch marks a completed run whose result differs from the reference.
	Mismatch bool `json:"mismatch,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Queue defines the interface for job queue operations.
type Queue interface {
	// Push adds a job to the queue.
	Push(ctx context.Context, job *Job) error
	// Pop blocks until a job is available and removes it from the queue.
	Pop(ctx context.Context) (*Job, error)
	// Update stores the job record.
	Update(ctx context.Context, job *Job) error
	// Get retrieves a job by ID.
	Get(ctx context.Context, id string) (*Job, error)
	// Close closes the queue connection.
	Close() error
}

// WaitAll polls the records of ids until every job is done. A job in
// processing that has not been updated for longer than stale is taken as
// abandoned and fails the wait with ErrJobStale. Zero disables the check.
func WaitAll(ctx context.Context, q Queue, ids []string, poll, stale time.Duration) ([]*Job, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	jobs := make([]*Job, len(ids))
	for {
		pending := 0
		for i, id := range ids {
			if jobs[i] != nil && jobs[i].Status.Done() {
				continue
			}
			job, err := q.Get(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("job %s: %w", id, err)
			}
			jobs[i] = job
			if job.Status.Done() {
				continue
			}
			if stale > 0 && job.Status == StatusProcessing && time.Since(job.UpdatedAt) > stale {
				return nil, fmt.Errorf("%w: job %s on %s not updated since %s",
					ErrJobStale, id, job.Worker, job.UpdatedAt.Format(time.RFC3339))
			}
			pending++
		}
		if pending == 0 {
			return jobs, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// RedisQueue implements Queue using Redis.
type RedisQueue struct {
	client    *redis.Client
	queueKey  string
	jobPrefix string
	ttl       time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisQueue creates a new Redis-backed queue.
func NewRedisQueue(cfg RedisConfig, queueName string) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisQueue{
		client:    client,
		queueKey:  "fhe-sessions:queue:" + queueName,
		jobPrefix: "fhe-sessions:job:",
		ttl:       24 * time.Hour,
	}, nil
}

func (q *RedisQueue) Push(ctx context.Context, job *Job) error {
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	job.Status = StatusPending

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.Set(ctx, q.jobPrefix+job.ID, data, q.ttl)
	pipe.LPush(ctx, q.queueKey, job.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push job: %w", err)
	}

	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) (*Job, error) {
	result, err := q.client.BRPop(ctx, 0, q.queueKey).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if errors.Is(err, redis.ErrClosed) {
			return nil, ErrQueueClosed
		}
		return nil, fmt.Errorf("pop job: %w", err)
	}

	if len(result) < 2 {
		return nil, ErrQueueEmpty
	}

	return q.Get(ctx, result[1])
}

func (q *RedisQueue) Update(ctx context.Context, job *Job) error {
	job.UpdatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	if err := q.client.Set(ctx, q.jobPrefix+job.ID, data, q.ttl).Err(); err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	return nil
}

func (q *RedisQueue) Get(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.Get(ctx, q.jobPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}

	return &job, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
