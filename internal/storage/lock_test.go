package storage

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockAcquireRelease(t *testing.T) {
	s := newTestStore(t, Config{})
	require.NoError(t, s.ensureRoot())

	lock, err := s.acquireLock()
	require.NoError(t, err)
	_, statErr := os.Stat(s.lockPath())
	assert.NoError(t, statErr)

	lock.release()
	_, statErr = os.Stat(s.lockPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestLockHeldByOther(t *testing.T) {
	s := newTestStore(t, Config{})
	require.NoError(t, s.ensureRoot())

	held := lockInfo{
		Token:      "someone-else",
		Holder:     "otherhost",
		PID:        99999,
		AcquiredAt: time.Now(),
		ExpiresAt:  time.Now().Add(LockTimeout),
	}
	data, err := json.Marshal(held)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.lockPath(), data, FilePermissions))

	_, err = s.acquireLock()
	assert.ErrorIs(t, err, ErrLocked)
}

func TestLockStaleIsStolen(t *testing.T) {
	s := newTestStore(t, Config{})
	require.NoError(t, s.ensureRoot())

	stale := lockInfo{
		Token:      "dead-process",
		Holder:     "otherhost",
		PID:        99999,
		AcquiredAt: time.Now().Add(-time.Minute),
		ExpiresAt:  time.Now().Add(-time.Minute + LockTimeout),
	}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.lockPath(), data, FilePermissions))

	lock, err := s.acquireLock()
	require.NoError(t, err)
	lock.release()
}

func TestLockCorruptIsStolen(t *testing.T) {
	s := newTestStore(t, Config{})
	require.NoError(t, s.ensureRoot())
	require.NoError(t, os.WriteFile(s.lockPath(), []byte("garbage"), FilePermissions))

	lock, err := s.acquireLock()
	require.NoError(t, err)
	lock.release()
}

func TestReleaseLeavesForeignLock(t *testing.T) {
	s := newTestStore(t, Config{})
	require.NoError(t, s.ensureRoot())

	lock, err := s.acquireLock()
	require.NoError(t, err)

	// Simulate the lock expiring and another writer claiming it.
	other := lockInfo{Token: "new-owner", ExpiresAt: time.Now().Add(LockTimeout)}
	data, err := json.Marshal(other)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.lockPath(), data, FilePermissions))

	lock.release()
	_, statErr := os.Stat(s.lockPath())
	assert.NoError(t, statErr, "release must not remove a lock it no longer owns")
}
