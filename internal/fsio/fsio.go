// Package fsio wraps the small set of low-level file operations the
// journal needs: advisory locking, retry-on-short-write, and buffered
// append. Grounded on original_source/journal.c's write_all and
// journal_file_open, translated to golang.org/x/sys/unix so the
// semantics (exclusive non-blocking flock, short-write retry) match
// exactly rather than approximating with os.File alone.
package fsio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// WriteAll writes the entirety of buf to fd, retrying on short writes
// the way original_source/journal.c's write_all does, and returns an
// error the first time the underlying write syscall fails.
func WriteAll(f *os.File, buf []byte) error {
	for len(buf) > 0 {
		n, err := f.Write(buf)
		if err != nil {
			return fmt.Errorf("fsio: write: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("fsio: write: zero-length write with %d bytes remaining", len(buf))
		}
		buf = buf[n:]
	}
	return nil
}

// Lock takes an exclusive, non-blocking advisory lock on f using
// flock(2), mirroring journal_init's single-writer guarantee
// (spec.md §5: "at most one process may hold the journal open for
// writing at a time").
func Lock(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("fsio: flock: %w", err)
	}
	return nil
}

// Unlock releases a lock taken with Lock.
func Unlock(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("fsio: funlock: %w", err)
	}
	return nil
}

// BufferedWriter accumulates writes to an *os.File in memory, flushing
// to the OS before a write that would take the buffer past limit bytes.
// A buffer holding exactly limit bytes is not flushed. The journal uses one
// BufferedWriter per open data file, capped at 1MiB per
// original_source/journal.c's JOURNAL_BUFFER_SIZE.
type BufferedWriter struct {
	f     *os.File
	buf   []byte
	limit int
}

// DefaultBufferLimit is the 1MiB per-file buffer size used by the
// original journal implementation.
const DefaultBufferLimit = 1 << 20

// NewBufferedWriter returns a BufferedWriter over f with the given
// flush threshold. A limit of zero selects DefaultBufferLimit.
func NewBufferedWriter(f *os.File, limit int) *BufferedWriter {
	if limit <= 0 {
		limit = DefaultBufferLimit
	}
	return &BufferedWriter{f: f, limit: limit}
}

// Write appends p to the in-memory buffer, flushing first if p would
// overflow the configured limit.
func (w *BufferedWriter) Write(p []byte) error {
	if len(w.buf)+len(p) > w.limit && len(w.buf) > 0 {
		if err := w.Flush(); err != nil {
			return err
		}
	}
	if len(p) >= w.limit {
		return WriteAll(w.f, p)
	}
	w.buf = append(w.buf, p...)
	return nil
}

// Flush writes any buffered bytes out to the file and clears the buffer.
func (w *BufferedWriter) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	if err := WriteAll(w.f, w.buf); err != nil {
		return err
	}
	w.buf = w.buf[:0]
	return nil
}

// Sync flushes buffered bytes, then fsyncs the underlying file.
func (w *BufferedWriter) Sync() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.f.Sync()
}

// MapReadOnly maps the first length bytes of f into memory read-only via
// unix.Mmap, for bulk reads (ts-compact's ScanCompacted) that would
// otherwise copy the whole file through a read(2) buffer. The caller
// must call the returned closer exactly once, before f is closed or
// modified underneath the mapping. length zero is rejected by mmap(2)
// itself (EINVAL on a zero-length mapping), so callers should skip
// mapping an empty file rather than call this.
func MapReadOnly(f *os.File, length int) ([]byte, func() error, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, length, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("fsio: mmap: %w", err)
	}
	closer := func() error {
		if err := unix.Munmap(data); err != nil {
			return fmt.Errorf("fsio: munmap: %w", err)
		}
		return nil
	}
	return data, closer, nil
}
