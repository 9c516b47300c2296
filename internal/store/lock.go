package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	mverr "github.com/Aman-CERP/multivec/internal/errors"
)

// DirLock guards a data directory against concurrent writers from other
// processes. Works on all platforms via gofrs/flock.
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDirLock creates a lock for the given data directory. The lock file
// lives at <dir>/.multivec.lock.
func NewDirLock(dir string) *DirLock {
	lockPath := filepath.Join(dir, ".multivec.lock")
	return &DirLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Acquire takes the lock without blocking. If another process holds it,
// an ERR_203_INDEX_LOCKED error is returned.
func (l *DirLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return mverr.New(mverr.ErrCodeStorage, "failed to acquire data directory lock", err)
	}
	if !acquired {
		return mverr.New(mverr.ErrCodeIndexLocked, "data directory is locked by another process", nil).
			WithDetail("lock_file", l.path)
	}
	l.locked = true
	return nil
}

// Release drops the lock. Safe to call on an unlocked DirLock.
func (l *DirLock) Release() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		l.locked = false
		return fmt.Errorf("release lock: %w", err)
	}
	l.locked = false
	return nil
}

// Path returns the lock file path.
func (l *DirLock) Path() string {
	return l.path
}
