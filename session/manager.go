// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	fhe "github.com/luxfi/fhe-sessions"
)

// Option configures a Manager.
type Option func(*Manager)

// WithKeyGenTimeout bounds each key generation step. Zero disables the bound.
// The lattice library cannot be interrupted: a step that misses its deadline
// keeps running in the background until it completes, and Wait blocks until
// every such step has exited.
func WithKeyGenTimeout(d time.Duration) Option {
	return func(m *Manager) { m.keyGenTimeout = d }
}

// WithLogger sets the logger used for key lifecycle events.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// Manager creates Sessions over one engine context and brokers key
// switching between them.
type Manager struct {
	ec            *fhe.EngineContext
	keyGenTimeout time.Duration
	log           *log.Logger

	next atomic.Int64
	// inflight counts key generation steps, including abandoned ones.
	inflight sync.WaitGroup

	mu       sync.Mutex
	sessions map[ID]*Session
	ksk      map[[2]ID]*fhe.KeySwitchKey

	// genSecretKey is replaced in tests to inject key generation failures.
	genSecretKey func(*fhe.KeyGenerator) *fhe.SecretKey
}

// NewManager returns a Manager for the engine context.
func NewManager(ec *fhe.EngineContext, opts ...Option) *Manager {
	m := &Manager{
		ec:           ec,
		log:          log.Default(),
		sessions:     make(map[ID]*Session),
		ksk:          make(map[[2]ID]*fhe.KeySwitchKey),
		genSecretKey: (*fhe.KeyGenerator).GenSecretKey,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EngineContext returns the engine context shared by all Sessions.
func (m *Manager) EngineContext() *fhe.EngineContext {
	return m.ec
}

// Session returns the Session with the given id.
func (m *Manager) Session(id ID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// KeyGen creates a Session with a fresh secret key and no bootstrap key-set.
func (m *Manager) KeyGen(ctx context.Context) (*Session, error) {
	return m.keyGen(ctx, ID(m.next.Add(1)-1))
}

func (m *Manager) keyGen(ctx context.Context, id ID) (*Session, error) {
	var sk *fhe.SecretKey
	err := m.generate(ctx, id, "secret key", func() {
		sk = m.genSecretKey(m.ec.NewKeyGenerator())
	})
	if err != nil {
		return nil, err
	}

	s := newSession(id, m.ec.Parameters(), sk)

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.log.Printf("session %d: secret key generated", id)
	return s, nil
}

// BootstrapKeyGen derives the bootstrap key-set of s. It fails if s
// already has one.
func (m *Manager) BootstrapKeyGen(ctx context.Context, s *Session) error {
	if s.HasBootstrapKey() {
		return fmt.Errorf("%w: %s already has a bootstrap key", ErrKeyGen, s)
	}

	var bsk *fhe.BootstrapKey
	err := m.generate(ctx, s.id, "bootstrap key", func() {
		bsk = m.ec.NewKeyGenerator().GenBootstrapKey(s.sk)
	})
	if err != nil {
		return err
	}
	if err := s.setBootstrapKey(bsk); err != nil {
		return err
	}

	m.log.Printf("session %d: bootstrap key generated", s.id)
	return nil
}

// Create creates a Session with both its secret key and bootstrap key-set.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	s, err := m.KeyGen(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.BootstrapKeyGen(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateAll creates n fully keyed Sessions with consecutive ids, generating
// at most workers of them at a time. The result is ordered by id.
func (m *Manager) CreateAll(ctx context.Context, n, workers int) ([]*Session, error) {
	if n < 1 || workers < 1 {
		return nil, fmt.Errorf("%w: need at least one session and one worker, got %d and %d", fhe.ErrConfig, n, workers)
	}

	base := ID(m.next.Add(int64(n)) - int64(n))
	out := make([]*Session, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range out {
		g.Go(func() error {
			s, err := m.keyGen(gctx, base+ID(i))
			if err != nil {
				return err
			}
			if err := m.BootstrapKeyGen(gctx, s); err != nil {
				return err
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.Wait()
		return nil, err
	}
	return out, nil
}

// Wait blocks until every key generation step started by m has returned,
// including steps abandoned after a deadline or cancellation.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// generate runs fn under the key generation deadline. A panic inside the
// lattice library is reported as ErrKeyGen.
func (m *Manager) generate(ctx context.Context, id ID, what string, fn func()) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: session %d: %s: %w", ErrKeyGen, id, what, err)
	}
	if m.keyGenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.keyGenTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: session %d: %s: %v", ErrKeyGen, id, what, r)
			}
		}()
		fn()
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: session %d: %s", ErrKeyGenTimeout, id, what)
		}
		return fmt.Errorf("%w: session %d: %s: %w", ErrKeyGen, id, what, ctx.Err())
	}
}

// KeySwitch re-encrypts ct under the key of Session to. Key switching keys
// are generated on first use per ordered pair and cached.
func (m *Manager) KeySwitch(ct *Ciphertext, to *Session) (*Ciphertext, error) {
	if ct == nil || ct.ct == nil {
		return nil, fmt.Errorf("%w: key switch of nil ciphertext", ErrParameterMismatch)
	}
	if ct.owner == to.id {
		return ct, nil
	}

	from, ok := m.Session(ct.owner)
	if !ok {
		return nil, fmt.Errorf("%w: session %d is not managed here", ErrSessionMismatch, ct.owner)
	}
	if err := from.checkOperands("key switch", ct); err != nil {
		return nil, err
	}

	ksk := m.keySwitchKey(from, to)

	from.mu.Lock()
	defer from.mu.Unlock()

	eval := from.eval
	if eval == nil {
		eval = fhe.NewEvaluator(from.params, nil)
	}
	out, err := eval.KeySwitch(ct.ct, ksk)
	if err != nil {
		return nil, fmt.Errorf("%s -> %s: %w", from, to, err)
	}
	return &Ciphertext{owner: to.id, ct: out}, nil
}

func (m *Manager) keySwitchKey(from, to *Session) *fhe.KeySwitchKey {
	pair := [2]ID{from.id, to.id}

	m.mu.Lock()
	ksk, ok := m.ksk[pair]
	m.mu.Unlock()
	if ok {
		return ksk
	}

	// Generated without holding mu. Concurrent callers for the same pair may
	// both generate; the first key published wins.
	fresh := m.ec.NewKeyGenerator().GenKeySwitchKey(from.sk, to.sk)

	m.mu.Lock()
	defer m.mu.Unlock()
	if ksk, ok := m.ksk[pair]; ok {
		return ksk
	}
	m.ksk[pair] = fresh
	m.log.Printf("%s -> %s: key switching key generated", from, to)
	return fresh
}
