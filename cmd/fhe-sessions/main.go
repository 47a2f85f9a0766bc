// Command fhe-sessions evaluates (a AND b) OR (a AND NOT b) in many
// independent FHE sessions and verifies every decrypted result.
//
// Exit status is 0 when every result matches, 1 on setup failure and 2 on a
// result mismatch.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"

	fhe "github.com/luxfi/fhe-sessions"
	"github.com/luxfi/fhe-sessions/circuit"
	"github.com/luxfi/fhe-sessions/internal/profile"
	"github.com/luxfi/fhe-sessions/internal/queue"
	"github.com/luxfi/fhe-sessions/internal/timing"
	"github.com/luxfi/fhe-sessions/session"
)

const (
	exitOK       = 0
	exitSetup    = 1
	exitMismatch = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		level         = flag.String("level", "STD256", "security level: TOY, MEDIUM, STD128, STD128Q, STD192, STD256")
		sessions      = flag.Int("sessions", 10, "number of independent sessions")
		inputs        = flag.String("inputs", "1,1", "input bits a,b")
		policy        = flag.String("policy", "strict", "combination policy: strict or keyswitch")
		workers       = flag.Int("workers", runtime.NumCPU(), "sessions processed concurrently within a phase")
		runs          = flag.Int("runs", 1, "number of runs; more than one prints phase statistics")
		keyGenTimeout = flag.Duration("keygen-timeout", 0, "per-session key generation deadline (0 disables)")
		verbose       = flag.Bool("v", false, "per-session phase timings")
		noColor       = flag.Bool("no-color", false, "disable colored output")
		redisAddr     = flag.String("redis", "", "dispatch sessions to fhe-worker processes through this Redis address")
		redisDB       = flag.Int("redis-db", 0, "Redis database number")
		queueName     = flag.String("queue", "default", "queue name")
		poll          = flag.Duration("poll", 500*time.Millisecond, "job status poll interval")
		stale         = flag.Duration("stale", 10*time.Minute, "fail when a job is processing without update for this long (0 disables)")
		cpuProfile    = flag.String("cpuprofile", "", "write CPU profile to file")
		memProfile    = flag.String("memprofile", "", "write memory profile to file")
		blockProfile  = flag.String("blockprofile", "", "write block profile to file")
		mutexProfile  = flag.String("mutexprofile", "", "write mutex profile to file")
	)
	flag.Parse()

	if *noColor {
		color.NoColor = true
	}

	pcfg := profile.Config{
		CPUProfile:   *cpuProfile,
		MemProfile:   *memProfile,
		BlockProfile: *blockProfile,
		MutexProfile: *mutexProfile,
	}
	if pcfg.Enabled() {
		profiler := profile.New(pcfg, log.Default())
		if err := profiler.Start(); err != nil {
			log.Printf("error: %v", err)
			return exitSetup
		}
		defer func() {
			if err := profiler.Stop(); err != nil {
				log.Printf("profile: %v", err)
			}
		}()
	}

	cfg, err := buildConfig(*level, *sessions, *inputs, *policy, *workers, *runs, *keyGenTimeout, *verbose)
	if err != nil {
		log.Printf("error: %v", err)
		return exitSetup
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *redisAddr != "" {
		err = runDistributed(ctx, cfg, queue.RedisConfig{Addr: *redisAddr, DB: *redisDB}, *queueName, *poll, *stale)
	} else {
		err = runLocal(ctx, cfg)
	}
	return verdict(err)
}

func buildConfig(level string, sessions int, inputs, policy string, workers, runs int,
	keyGenTimeout time.Duration, verbose bool) (circuit.Config, error) {

	cfg := circuit.DefaultConfig()

	var err error
	if cfg.Level, err = fhe.ParseSecurityLevel(level); err != nil {
		return cfg, err
	}
	if cfg.Inputs, err = circuit.ParseInputs(inputs); err != nil {
		return cfg, err
	}
	if cfg.Policy, err = circuit.ParsePolicy(policy); err != nil {
		return cfg, err
	}
	cfg.Sessions = sessions
	cfg.Workers = workers
	cfg.Runs = runs
	cfg.KeyGenTimeout = keyGenTimeout
	cfg.Verbose = verbose

	return cfg, cfg.Validate()
}

func runLocal(ctx context.Context, cfg circuit.Config) error {
	r, err := circuit.NewRunner(cfg)
	if err != nil {
		return err
	}

	log.Printf("Running %d sessions at %s, policy %s, %d workers", cfg.Sessions, cfg.Level, cfg.Policy, cfg.Workers)

	sum := timing.NewSummary()
	var last *circuit.Report
	for i := 0; i < cfg.Runs; i++ {
		rep, err := r.Run(ctx)
		if rep != nil {
			last = rep
			sum.Add(rep.Timing)
		}
		if err != nil {
			if last != nil {
				printReport(last)
			}
			return fmt.Errorf("run %d: %w", i+1, err)
		}
	}

	printReport(last)
	if cfg.Verbose {
		profile.LogMemStats(log.Default())
	}
	if cfg.Runs > 1 {
		fmt.Printf("\nPhase statistics over %d runs\n", cfg.Runs)
		if err := sum.Print(os.Stdout); err != nil {
			return err
		}
	}
	return nil
}

func printReport(rep *circuit.Report) {
	rep.Print(os.Stdout)
	fmt.Println()
	rep.Timing.Print(os.Stdout)
}

// runDistributed pushes one job per session and waits for the workers.
// Sessions are independent only under the strict policy.
func runDistributed(ctx context.Context, cfg circuit.Config, rcfg queue.RedisConfig, queueName string, poll, stale time.Duration) error {
	if cfg.Policy != circuit.PolicyStrict {
		return fmt.Errorf("%w: policy %s needs every session in one process", fhe.ErrConfig, cfg.Policy)
	}

	q, err := queue.NewRedisQueue(rcfg, queueName)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	defer q.Close()

	runID := fmt.Sprintf("run-%d", time.Now().UnixNano())
	ids := make([]string, cfg.Sessions)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s/%d", runID, i)
		job := &queue.Job{
			ID:      ids[i],
			RunID:   runID,
			Session: i,
			Level:   cfg.Level.String(),
			Inputs:  cfg.Inputs,
		}
		if err := q.Push(ctx, job); err != nil {
			return err
		}
	}
	log.Printf("Dispatched %d sessions as %s on queue %q", cfg.Sessions, runID, queueName)

	jobs, err := queue.WaitAll(ctx, q, ids, poll, stale)
	if err != nil {
		return err
	}

	rep := &circuit.Report{
		Level:  cfg.Level,
		Policy: cfg.Policy,
		Inputs: cfg.Inputs,
	}
	sum := timing.NewSummary()
	for _, job := range jobs {
		if job.Status == queue.StatusFailed {
			return fmt.Errorf("session %d on %s: %s", job.Session, job.Worker, job.Error)
		}
		rep.Results = append(rep.Results, circuit.SessionResult{
			Session:       session.ID(job.Session),
			Bit:           job.Bit,
			Expected:      job.Expected,
			Margin:        job.Margin,
			LowConfidence: job.Margin < fhe.LowConfidenceMargin,
		})
		for _, label := range circuit.Phases {
			if us, ok := job.PhaseMicros[label]; ok {
				sum.Record(label, us)
			}
		}
	}

	rep.Print(os.Stdout)
	fmt.Printf("\nPhase statistics over %d sessions\n", len(jobs))
	if err := sum.Print(os.Stdout); err != nil {
		return err
	}

	if mm := rep.Mismatches(); len(mm) > 0 {
		return &circuit.MismatchError{Mismatches: mm}
	}
	return nil
}

func verdict(err error) int {
	switch {
	case err == nil:
		color.New(color.FgGreen, color.Bold).Println("PASS")
		return exitOK
	case errors.Is(err, circuit.ErrCorrectness):
		color.New(color.FgRed, color.Bold).Printf("FAIL: %v\n", err)
		return exitMismatch
	}

	switch {
	case errors.Is(err, session.ErrKeyGenTimeout):
		log.Printf("key generation timed out: %v", err)
	case errors.Is(err, session.ErrKeyGen):
		log.Printf("key generation failed: %v", err)
	case errors.Is(err, session.ErrGateEval):
		log.Printf("gate evaluation precondition violated: %v", err)
	default:
		log.Printf("error: %v", err)
	}
	color.New(color.FgRed, color.Bold).Println("ERROR")
	return exitSetup
}
