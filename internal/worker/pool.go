// Package worker executes queued session jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	fhe "github.com/luxfi/fhe-sessions"
	"github.com/luxfi/fhe-sessions/circuit"
	"github.com/luxfi/fhe-sessions/internal/queue"
	"github.com/luxfi/fhe-sessions/internal/storage"
	"github.com/luxfi/fhe-sessions/session"
)

// Config configures a Pool.
type Config struct {
	// Name identifies this process in job records.
	Name          string
	Workers       int
	Queue         queue.Queue
	Storage       storage.Storage
	KeyGenTimeout time.Duration
	Logger        *log.Logger
	// PopRetry is the pause after a failed Pop. Defaults to one second.
	PopRetry time.Duration
}

// Pool runs jobs from a queue, one Session per job.
type Pool struct {
	cfg Config
	log *log.Logger

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	running atomic.Bool

	successCount  atomic.Int64
	failureCount  atomic.Int64
	mismatchCount atomic.Int64
}

// NewPool creates a stopped pool.
func NewPool(cfg Config) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PopRetry <= 0 {
		cfg.PopRetry = time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "worker"
	}
	l := cfg.Logger
	if l == nil {
		l = log.Default()
	}
	return &Pool{cfg: cfg, log: l}
}

// Stats is a snapshot of the job counters.
type Stats struct {
	Success  int64
	Failure  int64
	Mismatch int64
}

// Stats returns the job counters. Mismatches are counted as successes too:
// the run completed, its result was wrong.
func (p *Pool) Stats() Stats {
	return Stats{
		Success:  p.successCount.Load(),
		Failure:  p.failureCount.Load(),
		Mismatch: p.mismatchCount.Load(),
	}
}

// Start starts the worker goroutines.
func (p *Pool) Start(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("pool already running")
	}

	ctx, p.cancel = context.WithCancel(ctx)

	p.log.Printf("Starting %d workers", p.cfg.Workers)

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	return nil
}

// Stop cancels the workers and waits up to timeout for them to exit.
func (p *Pool) Stop(timeout time.Duration) error {
	if !p.running.Load() {
		return nil
	}

	p.log.Println("Stopping worker pool...")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Println("Worker pool stopped")
	case <-time.After(timeout):
		return errors.New("shutdown timeout")
	}

	p.running.Store(false)
	return nil
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.cfg.Queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrQueueClosed) {
				return
			}
			p.log.Printf("Worker %d: failed to pop job: %v", id, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.PopRetry):
			}
			continue
		}

		p.Process(ctx, fmt.Sprintf("%s/%d", p.cfg.Name, id), job)
	}
}

// Process runs one job and records its outcome in the queue.
func (p *Pool) Process(ctx context.Context, worker string, job *queue.Job) {
	p.log.Printf("%s: processing job %s (session %d, %s)", worker, job.ID, job.Session, job.Level)

	job.Status = queue.StatusProcessing
	job.Worker = worker
	if err := p.cfg.Queue.Update(ctx, job); err != nil {
		p.log.Printf("%s: failed to update job status: %v", worker, err)
	}

	run, err := p.runJob(ctx, job)
	var mismatch *circuit.MismatchError
	switch {
	case errors.As(err, &mismatch):
		job.Mismatch = true
		p.mismatchCount.Add(1)
	case err != nil:
		p.fail(ctx, worker, job, err)
		return
	}

	handle, err := p.cfg.Storage.Store(ctx, run.Ciphertext)
	if err != nil {
		p.fail(ctx, worker, job, fmt.Errorf("store result: %w", err))
		return
	}

	job.Status = queue.StatusCompleted
	job.Bit = run.Result.Bit
	job.Expected = run.Result.Expected
	job.Margin = run.Result.Margin
	job.PhaseMicros = run.Timing.Micros()
	job.ResultHandle = string(handle)
	if err := p.cfg.Queue.Update(ctx, job); err != nil {
		p.log.Printf("%s: failed to update job result: %v", worker, err)
	}

	p.successCount.Add(1)
	p.log.Printf("%s: job %s completed in %s", worker, job.ID, run.Timing.Total())
}

func (p *Pool) runJob(ctx context.Context, job *queue.Job) (*circuit.SessionRun, error) {
	level, err := fhe.ParseSecurityLevel(job.Level)
	if err != nil {
		return nil, err
	}

	cfg := circuit.DefaultConfig()
	cfg.Level = level
	cfg.Sessions = 1
	cfg.Workers = 1
	cfg.Inputs = job.Inputs
	cfg.KeyGenTimeout = p.cfg.KeyGenTimeout

	r, err := circuit.NewRunner(cfg, circuit.WithLogger(p.log))
	if err != nil {
		return nil, err
	}

	return r.RunSession(ctx, session.ID(job.Session))
}

func (p *Pool) fail(ctx context.Context, worker string, job *queue.Job, err error) {
	job.Status = queue.StatusFailed
	job.Error = err.Error()
	if uerr := p.cfg.Queue.Update(ctx, job); uerr != nil {
		p.log.Printf("%s: failed to update job status: %v", worker, uerr)
	}
	p.failureCount.Add(1)
	p.log.Printf("%s: job %s failed: %v", worker, job.ID, err)
}

// Handler serves /health and the job counters on /metrics.
func (p *Pool) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !p.running.Load() {
			http.Error(w, "stopped", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s := p.Stats()
		fmt.Fprintf(w, "# HELP fhe_session_jobs_total Session jobs processed\n")
		fmt.Fprintf(w, "# TYPE fhe_session_jobs_total counter\n")
		fmt.Fprintf(w, "fhe_session_jobs_total{status=\"success\"} %d\n", s.Success)
		fmt.Fprintf(w, "fhe_session_jobs_total{status=\"failure\"} %d\n", s.Failure)
		fmt.Fprintf(w, "# HELP fhe_session_mismatches_total Completed jobs whose result differs from the reference\n")
		fmt.Fprintf(w, "# TYPE fhe_session_mismatches_total counter\n")
		fmt.Fprintf(w, "fhe_session_mismatches_total %d\n", s.Mismatch)
	})
	return mux
}
