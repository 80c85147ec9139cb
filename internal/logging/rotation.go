package logging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 3
)

// RotatingWriter appends to a file and shifts it to path.1, path.2, ...
// once it outgrows its size limit. Safe for concurrent use.
type RotatingWriter struct {
	mu         sync.Mutex
	path       string
	limit      int64
	maxBackups int

	f    *os.File
	size int64
}

// NewRotatingWriter opens path for appending. Non-positive maxSizeMB and
// maxBackups mean 10 MB and 3 backups.
func NewRotatingWriter(path string, maxSizeMB, maxBackups int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxSizeMB
	}
	return OpenRotating(path, int64(maxSizeMB)<<20, maxBackups)
}

// OpenRotating is NewRotatingWriter with the limit given in bytes.
func OpenRotating(path string, limit int64, maxBackups int) (*RotatingWriter, error) {
	if maxBackups <= 0 {
		maxBackups = defaultMaxBackups
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", path, err)
	}
	rw := &RotatingWriter{path: path, limit: limit, maxBackups: maxBackups}
	if err := rw.reopen(); err != nil {
		return nil, err
	}
	return rw, nil
}

// Write rotates first when p would push a non-empty file past the limit.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if !rw.fitsLocked(len(p)) {
		// a failed shift still leaves a usable live file
		if err := rw.rotateLocked(); err != nil && rw.f == nil {
			return 0, fmt.Errorf("rotate %s: %w", rw.path, err)
		}
	}
	return rw.writeLocked(p)
}

// Append writes p without checking the limit. Callers that rotate on their
// own schedule pair it with Fits and Rotate.
func (rw *RotatingWriter) Append(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.writeLocked(p)
}

// Fits reports whether n more bytes can be written without rotating.
func (rw *RotatingWriter) Fits(n int) bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.fitsLocked(n)
}

// Rotate shifts the current file into the backups and starts an empty one.
// Errors from shifting backups are reported even when the new file opened.
func (rw *RotatingWriter) Rotate() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.rotateLocked()
}

// Sync flushes the current file to disk.
func (rw *RotatingWriter) Sync() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.f == nil {
		return os.ErrClosed
	}
	return rw.f.Sync()
}

// Path is the live file.
func (rw *RotatingWriter) Path() string { return rw.path }

// BackupName is the path of the n-th backup; 0 is the live file.
func (rw *RotatingWriter) BackupName(n int) string {
	if n == 0 {
		return rw.path
	}
	return fmt.Sprintf("%s.%d", rw.path, n)
}

func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.f == nil {
		return nil
	}
	err := rw.f.Close()
	rw.f = nil
	return err
}

func (rw *RotatingWriter) fitsLocked(n int) bool {
	return rw.size == 0 || rw.size+int64(n) <= rw.limit
}

func (rw *RotatingWriter) writeLocked(p []byte) (int, error) {
	if rw.f == nil {
		return 0, os.ErrClosed
	}
	n, err := rw.f.Write(p)
	rw.size += int64(n)
	return n, err
}

func (rw *RotatingWriter) reopen() error {
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", rw.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat %s: %w", rw.path, err)
	}
	rw.f, rw.size = f, info.Size()
	return nil
}

// rotateLocked drops the oldest backup, shifts the rest up by one and moves
// the live file to .1. Missing backups are not an error. It must not log:
// the log file itself may be the writer being rotated.
func (rw *RotatingWriter) rotateLocked() error {
	if rw.f != nil {
		rw.f.Close()
		rw.f = nil
	}
	var errs []error
	if err := os.Remove(rw.BackupName(rw.maxBackups)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	for n := rw.maxBackups; n >= 1; n-- {
		if err := os.Rename(rw.BackupName(n-1), rw.BackupName(n)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	errs = append(errs, rw.reopen())
	return errors.Join(errs...)
}

// Output builds the writer Init should log to: stderr alone, or stderr
// tee'd with a rotating file when path is set. The closer is never nil.
func Output(path string, maxSizeMB, maxBackups int) (io.Writer, io.Closer, error) {
	if path == "" {
		return os.Stderr, io.NopCloser(nil), nil
	}
	rw, err := NewRotatingWriter(path, maxSizeMB, maxBackups)
	if err != nil {
		return nil, nil, err
	}
	return io.MultiWriter(os.Stderr, rw), rw, nil
}
