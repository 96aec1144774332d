package audit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is created in the audit directory while a monitor owns it.
const LockFileName = ".ppe-monitor.lock"

// ErrDirLocked is returned when another process already owns the directory.
var ErrDirLocked = errors.New("audit directory is locked by another process")

// DirLock keeps a single writer on an audit directory so two monitors never
// interleave rows in the same daily file.
type DirLock struct {
	lock *flock.Flock
}

// LockDir takes the directory lock without blocking.
func LockDir(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	path := filepath.Join(dir, LockFileName)
	l := flock.New(path)
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDirLocked, path)
	}
	return &DirLock{lock: l}, nil
}

// Path returns the lock file path.
func (d *DirLock) Path() string { return d.lock.Path() }

// Unlock releases the directory.
func (d *DirLock) Unlock() error {
	if err := d.lock.Unlock(); err != nil {
		opsf("failed to release %s: %v", d.lock.Path(), err)
		return err
	}
	return nil
}
