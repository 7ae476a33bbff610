package fs

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by [Locker.TryLock] and [Locker.TryRLock] when
// the lock is already held by another process.
var ErrWouldBlock = errors.New("fs: lock would block")

// ErrInvalidTimeout is returned when a non-positive timeout is passed to
// a *WithTimeout locking method.
var ErrInvalidTimeout = errors.New("fs: invalid timeout")

var errInodeMismatch = errors.New("fs: lock path was replaced while locking")

// Locker manages an advisory exclusive or shared lock on a single path via
// flock(2). A database engine holds one exclusive Locker on a lock file
// beside its data file for the lifetime of the open handle, which is what turns a second
// concurrent Open into DatabaseBusy instead of silent corruption.
type Locker struct {
	path string
}

// NewLocker returns a Locker for path. The path is not opened until Lock,
// RLock, or a Try/WithTimeout variant is called.
func NewLocker(path string) *Locker {
	return &Locker{path: path}
}

// Lock is a held exclusive or shared advisory lock. Closing it releases the
// flock and closes the underlying file descriptor.
type Lock struct {
	f        *os.File
	exclusive bool
}

// Unlock releases the lock and closes its file descriptor. Safe to call
// once; a second call returns an error from the underlying close.
func (l *Lock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	// The flock is released implicitly on close, but release it explicitly
	// first so a slow close doesn't extend the window another process sees
	// the lock held.
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}

// Lock blocks until an exclusive lock on the Locker's path is acquired.
func (lk *Locker) Lock() (*Lock, error) {
	return lk.acquire(unix.LOCK_EX, true)
}

// RLock blocks until a shared lock on the Locker's path is acquired.
func (lk *Locker) RLock() (*Lock, error) {
	return lk.acquire(unix.LOCK_SH, false)
}

// TryLock attempts to acquire an exclusive lock without blocking, returning
// [ErrWouldBlock] if another process holds it.
func (lk *Locker) TryLock() (*Lock, error) {
	return lk.acquire(unix.LOCK_EX|unix.LOCK_NB, true)
}

// TryRLock attempts to acquire a shared lock without blocking, returning
// [ErrWouldBlock] if another process holds an exclusive lock.
func (lk *Locker) TryRLock() (*Lock, error) {
	return lk.acquire(unix.LOCK_SH|unix.LOCK_NB, false)
}

// LockWithTimeout polls for an exclusive lock, backing off from 1ms to a
// 25ms cap, until it succeeds or timeout elapses.
func (lk *Locker) LockWithTimeout(timeout time.Duration) (*Lock, error) {
	return lk.pollWithTimeout(unix.LOCK_EX, true, timeout)
}

// RLockWithTimeout polls for a shared lock, backing off from 1ms to a 25ms
// cap, until it succeeds or timeout elapses.
func (lk *Locker) RLockWithTimeout(timeout time.Duration) (*Lock, error) {
	return lk.pollWithTimeout(unix.LOCK_SH, false, timeout)
}

func (lk *Locker) pollWithTimeout(how int, exclusive bool, timeout time.Duration) (*Lock, error) {
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}

	deadline := time.Now().Add(timeout)
	backoff := time.Millisecond
	const backoffCap = 25 * time.Millisecond

	for {
		lock, err := lk.acquire(how|unix.LOCK_NB, exclusive)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, ErrWouldBlock) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrWouldBlock
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > backoffCap {
			backoff = backoffCap
		}
	}
}

func (lk *Locker) acquire(how int, exclusive bool) (*Lock, error) {
	f, err := os.OpenFile(lk.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fs: open lock file %q: %w", lk.path, err)
	}

	if err := flockRetryEINTR(int(f.Fd()), how); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrWouldBlock
		}
		return nil, fmt.Errorf("fs: flock %q: %w", lk.path, err)
	}

	matched, err := inodeMatchesPath(f, lk.path)
	if err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, err
	}
	if !matched {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, errInodeMismatch
	}

	return &Lock{f: f, exclusive: exclusive}, nil
}

// flockRetryEINTR retries flock(2) on EINTR, which can occur if the calling
// goroutine's thread receives a signal mid-syscall.
func flockRetryEINTR(fd, how int) error {
	const maxRetries = 10000
	for i := 0; i < maxRetries; i++ {
		err := unix.Flock(fd, how)
		if err != unix.EINTR {
			return err
		}
	}
	return fmt.Errorf("fs: flock: too many EINTR retries")
}

// inodeMatchesPath guards against a race where path was removed and
// recreated between open and flock: without this check a process could
// hold a lock on an unlinked inode while a second process legitimately
// locks the new file at the same path.
func inodeMatchesPath(f *os.File, path string) (bool, error) {
	var fst, pst unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &fst); err != nil {
		return false, fmt.Errorf("fs: fstat lock file: %w", err)
	}
	if err := unix.Stat(path, &pst); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		return false, fmt.Errorf("fs: stat lock path: %w", err)
	}
	return fst.Dev == pst.Dev && fst.Ino == pst.Ino, nil
}
