//go:build unix || linux || darwin

// flock(2) non-blocking variant. Mirrors jpl-au-folio/lock_unix.go save
// for LOCK_NB: a coordinator must fail fast on contention, not wait.
package recovery

import (
	"fmt"
	"syscall"
)

func (l *runLock) tryLock() error {
	err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err == syscall.EWOULDBLOCK {
		return fmt.Errorf("%w: %s", ErrLockContention, l.path)
	}
	if err != nil {
		return fmt.Errorf("%w: flock %q: %v", ErrFatal, l.path, err)
	}
	return nil
}

func (l *runLock) unlock() error {
	return syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
}
