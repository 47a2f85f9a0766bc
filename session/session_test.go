// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package session

import (
	"context"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fhe "github.com/luxfi/fhe-sessions"
)

func newTestManager(t testing.TB, opts ...Option) *Manager {
	t.Helper()
	ec, err := fhe.NewEngineContext(fhe.SecurityToy)
	require.NoError(t, err)
	opts = append([]Option{WithLogger(log.New(io.Discard, "", 0))}, opts...)
	return NewManager(ec, opts...)
}

func encrypt(t testing.TB, s *Session, bit bool) *Ciphertext {
	t.Helper()
	ct, err := s.Encrypt(bit)
	require.NoError(t, err)
	return ct
}

func decrypt(t testing.TB, s *Session, ct *Ciphertext) bool {
	t.Helper()
	m, err := s.Decrypt(ct)
	require.NoError(t, err)
	return m.Bit
}

func TestSessionGates(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create(context.Background())
	require.NoError(t, err)
	require.True(t, s.HasBootstrapKey())

	a := encrypt(t, s, true)
	b := encrypt(t, s, false)
	require.Equal(t, s.ID(), a.Owner())

	and, err := s.EvalGate(fhe.GateAND, a, b)
	require.NoError(t, err)
	require.False(t, decrypt(t, s, and))

	notb, err := s.EvalNot(b)
	require.NoError(t, err)
	require.Equal(t, s.ID(), notb.Owner())

	andnot, err := s.Eval(fhe.GateAND, notb, a)
	require.NoError(t, err)
	require.True(t, decrypt(t, s, andnot))

	_, err = s.Eval(fhe.GateNOT, a, b)
	require.ErrorIs(t, err, fhe.ErrUnsupportedGate)
	_, err = s.EvalGate(fhe.GateNOT, a, b)
	require.ErrorIs(t, err, fhe.ErrUnsupportedGate)
}

func TestSessionIsolation(t *testing.T) {
	m := newTestManager(t)
	sessions, err := m.CreateAll(context.Background(), 2, 2)
	require.NoError(t, err)
	s0, s1 := sessions[0], sessions[1]
	require.Equal(t, ID(0), s0.ID())
	require.Equal(t, ID(1), s1.ID())

	a0 := encrypt(t, s0, true)
	a1 := encrypt(t, s1, true)

	_, err = s0.EvalGate(fhe.GateOR, a0, a1)
	require.ErrorIs(t, err, ErrSessionMismatch)
	require.ErrorIs(t, err, ErrGateEval)

	_, err = s1.EvalNot(a0)
	require.ErrorIs(t, err, ErrSessionMismatch)

	_, err = s1.Decrypt(a0)
	require.ErrorIs(t, err, ErrSessionMismatch)

	_, err = s0.EvalGate(fhe.GateAND, a0, nil)
	require.ErrorIs(t, err, ErrParameterMismatch)
	require.ErrorIs(t, err, ErrGateEval)
}

func TestMissingBootstrapKey(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	s, err := m.KeyGen(ctx)
	require.NoError(t, err)
	require.False(t, s.HasBootstrapKey())

	// Encryption and decryption need only the secret key.
	a := encrypt(t, s, true)
	require.True(t, decrypt(t, s, a))

	_, err = s.EvalGate(fhe.GateAND, a, a)
	require.ErrorIs(t, err, ErrMissingBootstrapKey)
	require.ErrorIs(t, err, ErrGateEval)

	require.NoError(t, m.BootstrapKeyGen(ctx, s))
	and, err := s.EvalGate(fhe.GateAND, a, a)
	require.NoError(t, err)
	require.True(t, decrypt(t, s, and))

	// Keys are write-once.
	require.ErrorIs(t, m.BootstrapKeyGen(ctx, s), ErrKeyGen)
}

func TestKeyGenFailure(t *testing.T) {
	t.Run("Panic", func(t *testing.T) {
		m := newTestManager(t)
		m.genSecretKey = func(*fhe.KeyGenerator) *fhe.SecretKey {
			panic("sampler exhausted")
		}

		_, err := m.Create(context.Background())
		require.ErrorIs(t, err, ErrKeyGen)
		require.Contains(t, err.Error(), "sampler exhausted")
	})

	t.Run("Timeout", func(t *testing.T) {
		m := newTestManager(t, WithKeyGenTimeout(time.Millisecond))
		release := make(chan struct{})
		defer close(release)
		m.genSecretKey = func(kg *fhe.KeyGenerator) *fhe.SecretKey {
			<-release
			return kg.GenSecretKey()
		}

		_, err := m.Create(context.Background())
		require.ErrorIs(t, err, ErrKeyGenTimeout)
	})

	t.Run("TimeoutWaitsForStragglers", func(t *testing.T) {
		m := newTestManager(t, WithKeyGenTimeout(time.Millisecond))
		var started, finished atomic.Int32
		m.genSecretKey = func(kg *fhe.KeyGenerator) *fhe.SecretKey {
			started.Add(1)
			time.Sleep(50 * time.Millisecond)
			finished.Add(1)
			return kg.GenSecretKey()
		}

		_, err := m.CreateAll(context.Background(), 3, 3)
		require.ErrorIs(t, err, ErrKeyGenTimeout)
		require.NotZero(t, started.Load())
		require.Equal(t, started.Load(), finished.Load())
	})

	t.Run("Canceled", func(t *testing.T) {
		m := newTestManager(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := m.CreateAll(ctx, 2, 1)
		require.ErrorIs(t, err, ErrKeyGen)
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("BadCount", func(t *testing.T) {
		m := newTestManager(t)
		_, err := m.CreateAll(context.Background(), 0, 1)
		require.ErrorIs(t, err, fhe.ErrConfig)
	})
}

func TestManagerKeySwitch(t *testing.T) {
	m := newTestManager(t)
	sessions, err := m.CreateAll(context.Background(), 2, 1)
	require.NoError(t, err)
	s0, s1 := sessions[0], sessions[1]

	and1, err := s1.EvalGate(fhe.GateAND, encrypt(t, s1, true), encrypt(t, s1, true))
	require.NoError(t, err)

	switched, err := m.KeySwitch(and1, s0)
	require.NoError(t, err)
	require.Equal(t, s0.ID(), switched.Owner())
	require.True(t, decrypt(t, s0, switched))

	// The source ciphertext still belongs to and decrypts under s1.
	require.Equal(t, s1.ID(), and1.Owner())
	require.True(t, decrypt(t, s1, and1))

	res, err := s0.EvalGate(fhe.GateOR, encrypt(t, s0, false), switched)
	require.NoError(t, err)
	require.True(t, decrypt(t, s0, res))

	// The key for the pair is cached.
	require.Len(t, m.ksk, 1)
	_, err = m.KeySwitch(encrypt(t, s1, false), s0)
	require.NoError(t, err)
	require.Len(t, m.ksk, 1)

	same, err := m.KeySwitch(switched, s0)
	require.NoError(t, err)
	require.Same(t, switched, same)
}

func TestManagerKeySwitchConcurrent(t *testing.T) {
	m := newTestManager(t)
	sessions, err := m.CreateAll(context.Background(), 2, 2)
	require.NoError(t, err)
	s0, s1 := sessions[0], sessions[1]

	const n = 4
	keys := make([]*fhe.KeySwitchKey, n)
	lookups := make(chan bool, 8)

	var wg sync.WaitGroup
	for i := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys[i] = m.keySwitchKey(s1, s0)
		}()
	}
	// Session lookups proceed while keys are being generated.
	go func() {
		_, ok := m.Session(s1.ID())
		lookups <- ok
	}()
	wg.Wait()

	require.True(t, <-lookups)
	require.Len(t, m.ksk, 1)
	for _, k := range keys {
		require.Same(t, keys[0], k)
	}
}
