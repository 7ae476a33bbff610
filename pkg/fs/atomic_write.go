package fs

import (
	"bytes"
	"errors"
	"os"

	"github.com/natefinch/atomic"
)

// AtomicWriter writes files atomically using rename.
//
// Writes always go through a temp file in the target's directory followed
// by a rename, the same pattern the storage layer uses for its own page
// file; natefinch/atomic supplies the platform-specific rename semantics
// (Windows needs a different trick than POSIX) so this package doesn't
// have to special-case an OS.
type AtomicWriter struct {
	fs FS
}

// NewAtomicWriter creates an AtomicWriter. The fs argument is currently
// unused by Write itself (natefinch/atomic always goes through the real
// OS), but is kept so callers can be built against the FS abstraction and
// swapped onto a fake in tests that don't exercise Write.
func NewAtomicWriter(fsys FS) *AtomicWriter {
	if fsys == nil {
		panic("fs is nil")
	}

	return &AtomicWriter{fs: fsys}
}

// AtomicWriteOptions configures Write behavior.
type AtomicWriteOptions struct {
	// Perm specifies the file permissions applied after the rename.
	// Must be non-zero.
	Perm os.FileMode
}

// Write writes data to path atomically: a temp file in path's
// directory is written, synced, and renamed over path.
func (w *AtomicWriter) Write(path string, data []byte, opts AtomicWriteOptions) error {
	if path == "" {
		return errors.New("path is empty")
	}

	if opts.Perm == 0 {
		return errors.New("opts.Perm must be non-zero")
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return err
	}

	return os.Chmod(path, opts.Perm)
}

// WriteWithDefaults writes data atomically using default permissions.
func (w *AtomicWriter) WriteWithDefaults(path string, data []byte) error {
	return w.Write(path, data, w.DefaultOptions())
}

// DefaultOptions returns the default atomic write options.
func (*AtomicWriter) DefaultOptions() AtomicWriteOptions {
	return AtomicWriteOptions{Perm: 0o644}
}
