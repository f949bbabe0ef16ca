// Package blob is an append-only, key-addressed object store. It keeps an
// in-memory index over two on-disk logs (data and history) and dispatches
// WRITE/READ/DEL/STAT commands against them.
package blob

import "errors"

// Sentinel errors returned by backend operations. Callers compare with
// errors.Is; none of these are ever nil or share a message.
var (
	// ErrNotFound is returned when a key is missing from the Index.
	ErrNotFound = errors.New("blob: key not found")

	// ErrInvalidArgument is returned for bounds violations, malformed
	// IoAttr values, or an unrecognized command code.
	ErrInvalidArgument = errors.New("blob: invalid argument")

	// ErrIO is returned on OS-level read/write failure. The wrapping
	// message carries the offending offset.
	ErrIO = errors.New("blob: io error")

	// ErrOutOfMemory is returned when history assembly cannot allocate.
	ErrOutOfMemory = errors.New("blob: out of memory")

	// ErrUnsupported is returned for commands not implemented (LIST).
	ErrUnsupported = errors.New("blob: unsupported command")

	// ErrClosed is returned when operating on a closed backend.
	ErrClosed = errors.New("blob: backend is closed")

	// ErrCorrupt is returned when a buffer is too short to hold a
	// DiskControl header. A log scan does not return it: a truncated tail
	// record ends the scan without error.
	ErrCorrupt = errors.New("blob: corrupt log")
)
