// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package circuit

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	fhe "github.com/luxfi/fhe-sessions"
	"github.com/luxfi/fhe-sessions/internal/timing"
	"github.com/luxfi/fhe-sessions/session"
)

// Phase labels, in execution order.
const (
	PhaseKeyGen    = "KeyGen"
	PhaseBTKeyGen  = "BTKeyGen"
	PhaseEncrypt   = "Enc"
	PhaseAND       = "Eval_And"
	PhaseANDNot    = "Eval_AndNot"
	PhaseCombine   = "Combine"
	PhaseKeySwitch = "KeySwitch"
	PhaseDecrypt   = "Dec"
)

// Phases lists every phase label in execution order.
var Phases = []string{
	PhaseKeyGen, PhaseBTKeyGen, PhaseEncrypt, PhaseAND, PhaseANDNot,
	PhaseCombine, PhaseKeySwitch, PhaseDecrypt,
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger for run progress and warnings.
func WithLogger(l *log.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// Runner evaluates SubCircuit in every Session of a run.
type Runner struct {
	cfg  Config
	prog Program
	ec   *fhe.EngineContext
	log  *log.Logger
}

// NewRunner validates cfg and selects the engine parameters.
func NewRunner(cfg Config, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := SubCircuit.Validate(); err != nil {
		return nil, err
	}
	ec, err := fhe.NewEngineContext(cfg.Level)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:  cfg,
		prog: SubCircuit,
		ec:   ec,
		log:  log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config returns the run configuration.
func (r *Runner) Config() Config {
	return r.cfg
}

// lane holds the state of one Session through the phases. Only the
// goroutine working on the lane touches it within a phase.
type lane struct {
	s      *session.Session
	wires  map[string]*session.Ciphertext
	result *session.Ciphertext
	m      fhe.Measurement
}

// crossLane holds the cross-session combination under the key-switch policy.
type crossLane struct {
	from, to *lane
	result   *session.Ciphertext
	m        fhe.Measurement
}

// Run executes one run over Config.Sessions Sessions. The report is
// returned even when verification fails; the error is then a
// *MismatchError.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	rep, _, err := r.run(ctx, r.cfg.Sessions, r.cfg.Policy)
	if err != nil {
		return nil, err
	}
	return rep, r.verify(rep)
}

// SessionRun is the outcome of RunSession.
type SessionRun struct {
	Result SessionResult
	Timing *timing.Timing
	// Ciphertext is the serialized combined result.
	Ciphertext []byte
}

// RunSession runs the whole pipeline for a single Session under the
// strict policy. Distributed workers call it once per job; id labels the
// result.
func (r *Runner) RunSession(ctx context.Context, id session.ID) (*SessionRun, error) {
	rep, lanes, err := r.run(ctx, 1, PolicyStrict)
	if err != nil {
		return nil, err
	}

	data, err := fhe.MarshalCiphertexts([]*fhe.Ciphertext{lanes[0].result.Raw()})
	if err != nil {
		return nil, fmt.Errorf("session %d: %w", id, err)
	}

	rep.Results[0].Session = id
	run := &SessionRun{
		Result:     rep.Results[0],
		Timing:     rep.Timing,
		Ciphertext: data,
	}
	return run, r.verify(rep)
}

func (r *Runner) run(ctx context.Context, n int, policy Policy) (*Report, []*lane, error) {
	ref, err := r.prog.Reference(r.cfg.Inputs)
	if err != nil {
		return nil, nil, err
	}
	out0, out1 := r.prog.Outputs[0], r.prog.Outputs[1]
	want := ref[out0] || ref[out1]

	m := session.NewManager(r.ec,
		session.WithKeyGenTimeout(r.cfg.KeyGenTimeout),
		session.WithLogger(r.log))

	tm := timing.New()
	lanes := make([]*lane, n)

	// Lane i names its Session once created. KeyGen assigns ids in
	// scheduling order, so lanes are sorted by id after that phase.
	laneName := func(i int) string {
		if lanes[i] == nil {
			return fmt.Sprintf("lane %d", i)
		}
		return lanes[i].s.String()
	}

	err = r.phase(ctx, tm, PhaseKeyGen, n, laneName, func(ctx context.Context, i int) error {
		s, err := m.KeyGen(ctx)
		if err != nil {
			return err
		}
		lanes[i] = &lane{s: s, wires: make(map[string]*session.Ciphertext)}
		return nil
	})
	if err != nil {
		m.Wait()
		return nil, nil, err
	}
	sort.Slice(lanes, func(i, j int) bool { return lanes[i].s.ID() < lanes[j].s.ID() })

	err = r.phase(ctx, tm, PhaseBTKeyGen, n, laneName, func(ctx context.Context, i int) error {
		return m.BootstrapKeyGen(ctx, lanes[i].s)
	})
	if err != nil {
		m.Wait()
		return nil, nil, err
	}

	err = r.phase(ctx, tm, PhaseEncrypt, n, laneName, func(_ context.Context, i int) error {
		l := lanes[i]
		for k, name := range r.prog.Inputs {
			ct, err := l.s.Encrypt(r.cfg.Inputs[k])
			if err != nil {
				return err
			}
			l.wires[name] = ct
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	for _, ph := range r.prog.Phases() {
		err = r.phase(ctx, tm, ph, n, laneName, func(_ context.Context, i int) error {
			return r.prog.evalPhase(lanes[i].s, ph, lanes[i].wires)
		})
		if err != nil {
			return nil, nil, err
		}
	}

	err = r.phase(ctx, tm, PhaseCombine, n, laneName, func(_ context.Context, i int) error {
		l := lanes[i]
		res, err := l.s.EvalGate(fhe.GateOR, l.wires[out0], l.wires[out1])
		if err != nil {
			return err
		}
		l.result = res
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	rep := &Report{
		Level:  r.cfg.Level,
		Policy: policy,
		Inputs: append([]bool(nil), r.cfg.Inputs...),
		Timing: tm,
	}

	var cross *crossLane
	if policy == PolicyKeySwitch {
		if n < 2 {
			r.log.Printf("policy %s: single session, cross-session step skipped", policy)
			rep.Cross = &CrossResult{Skipped: true}
		} else {
			cross = &crossLane{from: lanes[1], to: lanes[0]}
			crossName := func(int) string { return fmt.Sprintf("%s -> %s", cross.from.s, cross.to.s) }
			err = r.phase(ctx, tm, PhaseKeySwitch, 1, crossName, func(context.Context, int) error {
				switched, err := m.KeySwitch(cross.from.wires[out0], cross.to.s)
				if err != nil {
					return err
				}
				res, err := cross.to.s.EvalGate(fhe.GateOR, cross.to.wires[out0], switched)
				if err != nil {
					return err
				}
				cross.result = res
				return nil
			})
			if err != nil {
				return nil, nil, err
			}
		}
	}

	err = r.phase(ctx, tm, PhaseDecrypt, n, laneName, func(_ context.Context, i int) error {
		l := lanes[i]
		meas, err := l.s.Decrypt(l.result)
		if err != nil {
			return err
		}
		l.m = meas
		if cross != nil && cross.to == l {
			meas, err := l.s.Decrypt(cross.result)
			if err != nil {
				return err
			}
			cross.m = meas
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	rep.Results = make([]SessionResult, n)
	for i, l := range lanes {
		rep.Results[i] = SessionResult{
			Session:       l.s.ID(),
			Bit:           l.m.Bit,
			Expected:      want,
			Margin:        l.m.Margin,
			LowConfidence: l.m.LowConfidence(),
		}
	}
	if cross != nil {
		// Both Sessions evaluate the same inputs, so the cross OR equals
		// the AND output.
		rep.Cross = &CrossResult{
			From:          cross.from.s.ID(),
			To:            cross.to.s.ID(),
			Bit:           cross.m.Bit,
			Expected:      ref[out0],
			Margin:        cross.m.Margin,
			LowConfidence: cross.m.LowConfidence(),
		}
	}
	return rep, lanes, nil
}

// phase runs fn for every lane index with at most Config.Workers at a time
// and records the phase sample, with one sub-sample per index labelled by
// name in verbose mode. The first error cancels the phase.
func (r *Runner) phase(ctx context.Context, tm *timing.Timing, label string, n int,
	name func(i int) string, fn func(ctx context.Context, i int) error) error {

	durations := make([]time.Duration, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			err := fn(gctx, i)
			durations[i] = time.Since(start)
			return err
		})
	}
	err := g.Wait()

	sample := tm.Sample(label)
	if r.cfg.Verbose {
		for i, d := range durations {
			sample.AbsSubSample(name(i), d)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	return nil
}

// verify compares every decrypted bit with its reference value.
func (r *Runner) verify(rep *Report) error {
	for _, res := range rep.Results {
		if res.LowConfidence {
			r.log.Printf("warning: session %d: low decryption margin %.3f", res.Session, res.Margin)
		}
	}
	if c := rep.Cross; c != nil && !c.Skipped && c.LowConfidence {
		r.log.Printf("warning: session %d <- %d: low decryption margin %.3f", c.To, c.From, c.Margin)
	}

	if mm := rep.Mismatches(); len(mm) > 0 {
		return &MismatchError{Mismatches: mm}
	}
	return nil
}
