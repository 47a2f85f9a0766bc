package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeHandle(t *testing.T) {
	h := ComputeHandle([]byte("ciphertext"))
	require.Len(t, string(h), 64)
	require.NoError(t, h.Validate())
	require.Equal(t, h, ComputeHandle([]byte("ciphertext")))
	require.NotEqual(t, h, ComputeHandle([]byte("ciphertexT")))

	require.NoError(t, h.Verify([]byte("ciphertext")))
	require.Error(t, h.Verify([]byte("other")))

	for _, bad := range []Handle{"", "abc", "../../etc/passwd", Handle(strings.Repeat("z", 64))} {
		require.ErrorIs(t, bad.Validate(), ErrInvalidHandle, string(bad))
	}
}

func testStorage(t *testing.T, s Storage) {
	ctx := context.Background()
	data := []byte("session 3 result")

	h, err := s.Store(ctx, data)
	require.NoError(t, err)

	again, err := s.Store(ctx, data)
	require.NoError(t, err)
	require.Equal(t, h, again)

	ok, err := s.Exists(ctx, h)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.Load(ctx, h)
	require.NoError(t, err)
	require.Equal(t, data, got)

	require.NoError(t, s.Delete(ctx, h))
	require.ErrorIs(t, s.Delete(ctx, h), ErrNotFound)

	_, err = s.Load(ctx, h)
	require.ErrorIs(t, err, ErrNotFound)

	ok, err = s.Exists(ctx, h)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Close())
}

func TestMemoryStorage(t *testing.T) {
	testStorage(t, NewMemoryStorage(1))

	s := NewMemoryStorage(1)
	_, err := s.Store(context.Background(), make([]byte, 512*1024))
	require.NoError(t, err)
	require.Equal(t, int64(512*1024), s.Size())

	_, err = s.Store(context.Background(), make([]byte, 600*1024))
	require.ErrorIs(t, err, ErrStorageFull)
}

func TestFileStorage(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStorage(dir)
	require.NoError(t, err)
	testStorage(t, s)

	ctx := context.Background()
	_, err = s.Load(ctx, "../escape")
	require.ErrorIs(t, err, ErrInvalidHandle)

	// A corrupted file is detected on load.
	h, err := s.Store(ctx, []byte("payload"))
	require.NoError(t, err)
	path := filepath.Join(dir, string(h)[:2], string(h))
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0600))

	_, err = s.Load(ctx, h)
	require.Error(t, err)
}
