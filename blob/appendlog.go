// AppendLog owns the two on-disk logs (data and history) and their tail
// offsets. A single mutex per log serializes tail advancement and writes so
// concurrent appends cannot interleave the bytes of two records — readers
// only ever observe a fully-written record or none at all, because the
// tail is not published until the write returns. This mirrors the teacher's
// single raw()-path write discipline (jpl-au-folio/write.go), generalized
// from newline-delimited JSON framing to fixed DiskControl framing.
package blob

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// LogConfig controls one log file's alignment policy.
type LogConfig struct {
	BlockSize int // 0 disables padding
}

// appendLog is one append-only file plus its tail offset and write mutex.
type appendLog struct {
	mu    sync.Mutex
	f     *os.File
	tail  int64
	block int
}

func openAppendLog(f *os.File, block int) (*appendLog, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat: %v", ErrIO, err)
	}
	return &appendLog{f: f, tail: info.Size(), block: block}, nil
}

// Tail returns the current end-of-file offset. Monotonically
// non-decreasing for the life of the process.
func (l *appendLog) Tail() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tail
}

// append writes a DiskControl header followed by payload at the current
// tail, pads to the next block-size multiple, and publishes the new tail
// only after the full write succeeds. On any error the tail is not
// advanced. Returns the record's starting offset and its total on-disk
// size (header + payload + padding).
func (l *appendLog) append(ctl DiskControl, payload []byte) (offset int64, onDiskSize int64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	offset = l.tail
	onDiskSize = padded(ctl.Size, l.block)

	buf := make([]byte, 0, onDiskSize)
	hdr := ctl.encode()
	buf = append(buf, hdr[:]...)
	buf = append(buf, payload...)
	if pad := onDiskSize - int64(len(buf)); pad > 0 {
		buf = append(buf, make([]byte, pad)...)
	}

	if err := writeFullAt(l.f, buf, offset); err != nil {
		return 0, 0, fmt.Errorf("%w: append at offset %d: %v", ErrIO, offset, err)
	}

	l.tail = offset + onDiskSize
	return offset, onDiskSize, nil
}

// readAt performs a positional read of length bytes starting at offset.
// It does not touch the tail and is safe to call concurrently with
// append (readers see either the pre-write or post-write state, never a
// torn record, because append only publishes the tail after the bytes
// are fully on disk).
func (l *appendLog) readAt(offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := l.f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: read at offset %d: %v", ErrIO, offset, err)
	}
	return buf[:n], nil
}

// overwriteHeader rewrites the DiskControl at offset in place — used to
// flip the REMOVED flag on tombstone. Never resizes the record.
func (l *appendLog) overwriteHeader(offset int64, ctl DiskControl) error {
	hdr := ctl.encode()
	if err := writeFullAt(l.f, hdr[:], offset); err != nil {
		return fmt.Errorf("%w: overwrite header at offset %d: %v", ErrIO, offset, err)
	}
	return nil
}

// readHeader reads just the DiskControl at offset, without the payload.
func (l *appendLog) readHeader(offset int64) (DiskControl, error) {
	buf, err := l.readAt(offset, HeaderSize)
	if err != nil {
		return DiskControl{}, err
	}
	return decodeDiskControl(buf)
}

func (l *appendLog) Close() error {
	return l.f.Close()
}

// writeFullAt loops WriteAt until the entire buffer is persisted or an
// error occurs. A partial write return is not itself an error condition
// from the OS, so callers must loop rather than assume one call flushes
// everything.
func writeFullAt(f *os.File, buf []byte, offset int64) error {
	for len(buf) > 0 {
		n, err := f.WriteAt(buf, offset)
		if err != nil {
			return err
		}
		buf = buf[n:]
		offset += int64(n)
	}
	return nil
}
