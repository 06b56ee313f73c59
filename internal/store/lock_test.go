package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexLock_LockUnlock(t *testing.T) {
	dir := t.TempDir()
	lock := NewIndexLock(dir)

	assert.Equal(t, filepath.Join(dir, ".index.lock"), lock.Path())
	assert.False(t, lock.IsLocked())

	require.NoError(t, lock.Lock())
	assert.True(t, lock.IsLocked())

	require.NoError(t, lock.Unlock())
	assert.False(t, lock.IsLocked())
}

func TestIndexLock_TryLockContention(t *testing.T) {
	dir := t.TempDir()
	first := NewIndexLock(dir)
	second := NewIndexLock(dir)

	require.NoError(t, first.Lock())
	defer first.Unlock()

	// flock is per-process on some platforms, so a second handle in the same
	// process may succeed. Only assert the call itself does not error.
	_, err := second.TryLock()
	assert.NoError(t, err)
	_ = second.Unlock()
}

func TestIndexLock_UnlockWithoutLock(t *testing.T) {
	lock := NewIndexLock(t.TempDir())
	assert.NoError(t, lock.Unlock())
	assert.NoError(t, lock.Unlock())
}

func TestIndexLock_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "index")
	lock := NewIndexLock(dir)

	acquired, err := lock.TryLock()
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NoError(t, lock.Unlock())
}
