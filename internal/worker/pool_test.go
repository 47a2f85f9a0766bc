package worker

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fhe "github.com/luxfi/fhe-sessions"
	"github.com/luxfi/fhe-sessions/internal/queue"
	"github.com/luxfi/fhe-sessions/internal/storage"
)

func newTestPool(q queue.Queue, s storage.Storage) *Pool {
	return NewPool(Config{
		Name:     "test",
		Workers:  2,
		Queue:    q,
		Storage:  s,
		Logger:   log.New(io.Discard, "", 0),
		PopRetry: time.Millisecond,
	})
}

func TestPool(t *testing.T) {
	q := queue.NewMemoryQueue()
	store := storage.NewMemoryStorage(64)
	pool := newTestPool(q, store)

	ctx := context.Background()
	ids := []string{"run/0", "run/1"}
	for i, id := range ids {
		require.NoError(t, q.Push(ctx, &queue.Job{ID: id, RunID: "run", Session: i, Level: "TOY", Inputs: []bool{true, true}}))
	}

	require.NoError(t, pool.Start(ctx))
	require.Error(t, pool.Start(ctx))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	jobs, err := queue.WaitAll(waitCtx, q, ids, 10*time.Millisecond, 0)
	require.NoError(t, err)

	ec, err := fhe.NewEngineContext(fhe.SecurityToy)
	require.NoError(t, err)

	for i, job := range jobs {
		require.Equal(t, queue.StatusCompleted, job.Status, job.Error)
		require.Equal(t, i, job.Session)
		require.True(t, job.Bit)
		require.True(t, job.Expected)
		require.False(t, job.Mismatch)
		require.True(t, strings.HasPrefix(job.Worker, "test/"))
		require.Contains(t, job.PhaseMicros, "Dec")

		data, err := store.Load(ctx, storage.Handle(job.ResultHandle))
		require.NoError(t, err)
		cts, err := fhe.UnmarshalCiphertexts(ec.Parameters(), data)
		require.NoError(t, err)
		require.Len(t, cts, 1)
	}

	require.Equal(t, Stats{Success: 2}, pool.Stats())

	srv := httptest.NewServer(pool.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(body), `fhe_session_jobs_total{status="success"} 2`)

	require.NoError(t, pool.Stop(time.Minute))

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestProcessFailure(t *testing.T) {
	q := queue.NewMemoryQueue()
	pool := newTestPool(q, storage.NewMemoryStorage(1))
	ctx := context.Background()

	for _, job := range []*queue.Job{
		{ID: "bad-level", Level: "STD512", Inputs: []bool{true, true}},
		{ID: "bad-inputs", Level: "TOY", Inputs: []bool{true}},
	} {
		require.NoError(t, q.Push(ctx, job))
		popped, err := q.Pop(ctx)
		require.NoError(t, err)

		pool.Process(ctx, "test/0", popped)

		stored, err := q.Get(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, queue.StatusFailed, stored.Status)
		require.Contains(t, stored.Error, "invalid configuration")
	}

	require.Equal(t, Stats{Failure: 2}, pool.Stats())
}
