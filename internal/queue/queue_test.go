package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	for i, id := range []string{"run/0", "run/1"} {
		require.NoError(t, q.Push(ctx, &Job{ID: id, RunID: "run", Session: i, Level: "TOY", Inputs: []bool{true, true}}))
	}
	require.Equal(t, 2, q.Len())

	job, err := q.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, "run/0", job.ID)
	require.Equal(t, StatusPending, job.Status)

	// Records are copies.
	job.Inputs[0] = false
	stored, err := q.Get(ctx, "run/0")
	require.NoError(t, err)
	require.True(t, stored.Inputs[0])

	job.Status = StatusCompleted
	job.PhaseMicros = map[string]int64{"Dec": 12}
	require.NoError(t, q.Update(ctx, job))

	stored, err = q.Get(ctx, "run/0")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)
	require.Equal(t, int64(12), stored.PhaseMicros["Dec"])

	_, err = q.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrJobNotFound)
	require.ErrorIs(t, q.Update(ctx, &Job{ID: "missing"}), ErrJobNotFound)
}

func TestMemoryQueueBlockingPop(t *testing.T) {
	q := NewMemoryQueue()

	got := make(chan *Job)
	go func() {
		job, err := q.Pop(context.Background())
		if err == nil {
			got <- job
		}
		close(got)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Push(context.Background(), &Job{ID: "late"}))

	select {
	case job := <-got:
		require.NotNil(t, job)
		require.Equal(t, "late", job.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("Pop did not return after Push")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Pop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, q.Close())
	_, err = q.Pop(context.Background())
	require.ErrorIs(t, err, ErrQueueClosed)
	require.ErrorIs(t, q.Push(context.Background(), &Job{ID: "x"}), ErrQueueClosed)
}

func TestWaitAll(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	ids := []string{"a", "b"}
	for _, id := range ids {
		require.NoError(t, q.Push(ctx, &Job{ID: id}))
	}

	go func() {
		for range ids {
			job, err := q.Pop(ctx)
			if err != nil {
				return
			}
			job.Status = StatusCompleted
			job.Bit = true
			_ = q.Update(ctx, job)
		}
	}()

	jobs, err := WaitAll(ctx, q, ids, time.Millisecond, time.Minute)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		require.True(t, job.Status.Done())
		require.True(t, job.Bit)
	}

	_, err = WaitAll(ctx, q, []string{"nope"}, time.Millisecond, 0)
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestWaitAllStale(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, &Job{ID: "orphan"}))
	require.NoError(t, q.Push(ctx, &Job{ID: "queued"}))
	job, err := q.Pop(ctx)
	require.NoError(t, err)
	job.Status = StatusProcessing
	job.Worker = "gone/0"
	require.NoError(t, q.Update(ctx, job))

	time.Sleep(20 * time.Millisecond)

	// A job still waiting in the queue is never stale.
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = WaitAll(waitCtx, q, []string{"queued"}, time.Millisecond, 5*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = WaitAll(ctx, q, []string{"queued", "orphan"}, time.Millisecond, 5*time.Millisecond)
	require.ErrorIs(t, err, ErrJobStale)
	require.Contains(t, err.Error(), "gone/0")
}

func TestJobStatus(t *testing.T) {
	require.Equal(t, "failed", StatusFailed.String())
	require.False(t, StatusProcessing.Done())
	require.True(t, StatusFailed.Done())
}
