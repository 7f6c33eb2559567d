package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWritesPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "deskhook.pid")
	l, err := Acquire(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	pid, err := ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.Equal(t, path, l.Path())
}

func TestAcquireTwiceFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "deskhook.pid")
	first, err := Acquire(path)
	require.NoError(t, err)

	_, err = Acquire(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHeld), "got %v", err)

	require.NoError(t, first.Release())
	again, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, again.Release())
	require.NoError(t, again.Release())
}

func TestAcquireEmptyPath(t *testing.T) {
	t.Parallel()
	_, err := Acquire("")
	assert.Error(t, err)
}

func TestPathFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, filepath.Join("data", "deskhook.pid"), PathFor(filepath.Join("data", "deskhook.db"), "deskhook"))
	assert.Equal(t, filepath.Join(os.TempDir(), "deskhook.pid"), PathFor("", "deskhook"))
}
