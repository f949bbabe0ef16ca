// Advisory lockfile for the recovery coordinator (-k file, spec.md §5:
// "the recovery parent holds an exclusive advisory lock on <tmp>/<lockfile>;
// concurrent invocations fail fast"). Retargets jpl-au-folio's fileLock
// (lock.go, lock_unix.go, lock_windows.go) — same flock(2)/LockFileEx
// technique, same mutex-guards-the-handle discipline — at a recovery run's
// lockfile instead of the database file. Unlike the teacher's blocking
// Lock, a coordinator startup must fail immediately on contention rather
// than wait, so this wraps the OS primitive's non-blocking mode instead.
package recovery

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// runLock coordinates exclusive, non-blocking access to one lockfile path
// across concurrent recovery invocations.
type runLock struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// acquireLock opens (creating if needed) the lockfile at path and takes a
// non-blocking exclusive lock. Returns ErrLockContention, wrapped in
// ErrFatal, if another process already holds it.
func acquireLock(path string) (*runLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening lockfile %q: %v", ErrFatal, path, err)
	}

	l := &runLock{f: f, path: path}
	l.mu.Lock()
	err = l.tryLock()
	l.mu.Unlock()
	if err != nil {
		f.Close()
		if !errors.Is(err, ErrFatal) {
			err = fmt.Errorf("%w: %w", ErrFatal, err)
		}
		return nil, err
	}
	return l, nil
}

// Release unlocks and closes the lockfile. Safe to call once.
func (l *runLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.unlock()
	closeErr := l.f.Close()
	l.f = nil
	if err != nil {
		return err
	}
	return closeErr
}
