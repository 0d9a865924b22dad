package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

const (
	// LockFileSuffix is appended to the index path to form the lock path.
	LockFileSuffix = ".lock"

	// LockTimeout is how long a lock is honored before it is considered
	// stale and stolen. Writers hold the lock only for one index replace,
	// so anything older than this belongs to a dead process.
	LockTimeout = 10 * time.Second
)

// ErrLocked means another live process is replacing the index right now.
var ErrLocked = errors.New("history index is locked by another process")

// lockInfo is the JSON body of the lock file.
type lockInfo struct {
	Token      string    `json:"token"`
	Holder     string    `json:"holder"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// indexLock is a held advisory lock on the index document.
type indexLock struct {
	path  string
	token string
}

func (s *Store) lockPath() string {
	return s.IndexPath() + LockFileSuffix
}

// acquireLock takes the advisory lock around index replacement. The lock
// file is created with O_EXCL so creation itself is the atomic claim; a
// stale or unreadable lock left by a dead process is removed and claimed
// once. A live lock held by someone else returns ErrLocked.
func (s *Store) acquireLock() (*indexLock, error) {
	hostname, _ := os.Hostname()
	info := lockInfo{
		Token:      uuid.NewString(),
		Holder:     hostname,
		PID:        os.Getpid(),
		AcquiredAt: time.Now(),
		ExpiresAt:  time.Now().Add(LockTimeout),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}

	lock := &indexLock{path: s.lockPath(), token: info.Token}
	if err := claimLockFile(lock.path, data); err == nil {
		return lock, nil
	} else if !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create index lock: %w", err)
	}

	// Lock file already exists. Steal it only when it is unreadable,
	// corrupted, or expired; a second claim attempt that still collides
	// means an active writer beat us to it.
	existing, readErr := os.ReadFile(lock.path)
	if readErr == nil {
		var held lockInfo
		if json.Unmarshal(existing, &held) == nil && time.Now().Before(held.ExpiresAt) {
			return nil, ErrLocked
		}
	}
	os.Remove(lock.path)
	if err := claimLockFile(lock.path, data); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("create index lock: %w", err)
	}
	return lock, nil
}

// claimLockFile atomically creates the lock file with the given body.
func claimLockFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, FilePermissions)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

// release drops the lock if we still own it. A lock stolen after expiry is
// left alone so the new holder is not disturbed.
func (l *indexLock) release() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	var held lockInfo
	if json.Unmarshal(data, &held) == nil && held.Token != l.token {
		return
	}
	os.Remove(l.path)
}
