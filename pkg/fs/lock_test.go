package fs

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLockSucceedsWhenUnheld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")
	lk := NewLocker(path)

	lock, err := lk.TryLock()
	require.NoError(t, err)
	defer lock.Unlock()
}

func TestTryLockReturnsWouldBlockWhenHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	lock1, err := NewLocker(path).TryLock()
	require.NoError(t, err)
	defer lock1.Unlock()

	_, err = NewLocker(path).TryLock()
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestUnlockReleasesForNextAcquirer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	lock1, err := NewLocker(path).TryLock()
	require.NoError(t, err)
	require.NoError(t, lock1.Unlock())

	lock2, err := NewLocker(path).TryLock()
	require.NoError(t, err)
	defer lock2.Unlock()
}

func TestTryRLockAllowsMultipleSharedHolders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	r1, err := NewLocker(path).TryRLock()
	require.NoError(t, err)
	defer r1.Unlock()

	r2, err := NewLocker(path).TryRLock()
	require.NoError(t, err)
	defer r2.Unlock()
}

func TestLockWithTimeoutRejectsNonPositiveTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")
	_, err := NewLocker(path).LockWithTimeout(0)
	assert.ErrorIs(t, err, ErrInvalidTimeout)
}

func TestLockWithTimeoutTimesOutWhileHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")

	held, err := NewLocker(path).TryLock()
	require.NoError(t, err)
	defer held.Unlock()

	_, err = NewLocker(path).LockWithTimeout(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrWouldBlock)
}
