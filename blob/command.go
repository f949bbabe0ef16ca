// CommandHandler dispatches the four commands a wire transport forwards
// from the ring: WRITE, READ, DEL, STAT. Grounded on the teacher's
// one-file-per-verb layout (jpl-au-folio/get.go, set.go, delete.go) —
// generalized from label-addressed JSON documents to Identifier-addressed
// binary blobs with an explicit IoAttr descriptor instead of positional
// string arguments.
package blob

import (
	"fmt"
	"time"
)

// Command identifies which verb a Dispatch call performs: one of the four
// implemented commands, or CmdList, which is recognized but not
// implemented.
type Command uint8

const (
	CmdWrite Command = iota + 1
	CmdRead
	CmdDel
	CmdStat
	CmdList // always rejected with ErrUnsupported
)

// ReadResult is the outcome of a READ command. Exactly one of Data or
// Stream is populated: Data when the caller supplied a non-empty dst
// buffer (pread path), Stream when it did not (zero-copy path — the
// caller reads directly from the backing log file via the returned
// sectionReader instead of an intermediate copy).
type ReadResult struct {
	Data   []byte
	Stream *sectionReader
}

// sectionReader is the minimal handle a zero-copy READ reply needs:
// enough to stream bytes from the backing file without the command
// handler copying them into a buffer first.
type sectionReader struct {
	log    *appendLog
	offset int64
	length int
}

// Bytes materializes the section. Provided for callers (tests, the
// in-memory NodeClient) that don't have a true zero-copy transport to
// hand the sectionReader to.
func (s *sectionReader) Bytes() ([]byte, error) {
	return s.log.readAt(s.offset, s.length)
}

// Dispatch executes cmd against attr and payload. dst is the caller's
// destination buffer for READ; pass nil/empty to take the zero-copy
// streaming path instead.
func (db *DB) Dispatch(cmd Command, attr IoAttr, payload []byte, dst []byte) (any, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	switch cmd {
	case CmdWrite:
		return nil, db.write(attr, payload)
	case CmdRead:
		return db.read(attr, dst)
	case CmdDel:
		return nil, db.del(attr)
	case CmdStat:
		return db.stat()
	case CmdList:
		return nil, fmt.Errorf("%w: LIST", ErrUnsupported)
	default:
		return nil, fmt.Errorf("%w: unknown command %d", ErrInvalidArgument, cmd)
	}
}

// write implements the WRITE command. If FlagIsHistory is set it updates
// the history chain directly (writeHistory); otherwise it writes the data
// record and, unless FlagNoHistoryUpdate is set, appends a HistoryEntry
// recording the logical write.
func (db *DB) write(attr IoAttr, payload []byte) error {
	if attr.Flags.Has(FlagIsHistory) {
		return db.writeHistory(attr, payload)
	}
	return db.writeData(attr, payload)
}

// writeData appends payload as a new data record. Data writes are always
// appends: attr.Offset is recorded in the HistoryEntry as the logical
// offset but never affects placement on disk.
func (db *DB) writeData(attr IoAttr, payload []byte) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	ctl := DiskControl{ID: attr.ID, Size: uint64(len(payload))}
	offset, onDisk, err := db.data.append(ctl, payload)
	if err != nil {
		return err
	}
	db.index.InsertOrReplace(dataKey(attr.ID), RamControl{Offset: offset, OnDiskSize: onDisk})

	if !attr.Flags.Has(FlagNoHistoryUpdate) {
		entry := HistoryEntry{
			ID:        attr.ID,
			Offset:    attr.Offset,
			Size:      uint64(len(payload)),
			Timestamp: nowMillis(),
			Flags:     attr.Flags,
		}
		if err := db.appendHistoryEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

// read implements the READ command: locate the entry in the Index, then
// either pread into dst or hand back a streaming section.
func (db *DB) read(attr IoAttr, dst []byte) (ReadResult, error) {
	kind := KindData
	if attr.Flags.Has(FlagIsHistory) {
		kind = KindHistory
	}
	rc, ok := db.index.Lookup(Key{ID: attr.ID, Kind: kind})
	if !ok {
		return ReadResult{}, ErrNotFound
	}

	log := db.logFor(kind)
	ctl, err := log.readHeader(rc.Offset)
	if err != nil {
		return ReadResult{}, err
	}
	if ctl.ID != attr.ID {
		return ReadResult{}, fmt.Errorf("%w: index pointed at mismatched id", ErrIO)
	}

	if attr.Offset+attr.Size > ctl.Size {
		return ReadResult{}, fmt.Errorf("%w: offset+size exceeds record size", ErrInvalidArgument)
	}

	readSize := attr.Size
	if readSize == 0 {
		readSize = ctl.Size - attr.Offset
	}
	payloadOffset := rc.Offset + HeaderSize + int64(attr.Offset)

	if len(dst) > 0 {
		n := int(readSize)
		if n > len(dst) {
			n = len(dst)
		}
		buf, err := log.readAt(payloadOffset, n)
		if err != nil {
			return ReadResult{}, err
		}
		copy(dst, buf)
		return ReadResult{Data: buf}, nil
	}

	return ReadResult{Stream: &sectionReader{log: log, offset: payloadOffset, length: int(readSize)}}, nil
}

// del erases a key. Per the Open Question resolution in DESIGN.md, DEL
// tombstones the on-disk record (so a crash-restart rebuild agrees with
// the live Index) and erases the Index entry in the same call.
func (db *DB) del(attr IoAttr) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	kind := KindData
	if attr.Flags.Has(FlagIsHistory) {
		kind = KindHistory
	}
	key := Key{ID: attr.ID, Kind: kind}

	rc, ok := db.index.Lookup(key)
	if !ok {
		return ErrNotFound
	}
	log := db.logFor(kind)
	ctl, err := log.readHeader(rc.Offset)
	if err != nil {
		return err
	}
	ctl.Flags |= FlagRemoved
	if err := log.overwriteHeader(rc.Offset, ctl); err != nil {
		return err
	}
	db.index.Erase(key)
	return nil
}

// stat delegates to the caller-supplied StatFunc, or returns a built-in
// snapshot if none was configured.
func (db *DB) stat() (Stat, error) {
	if db.cfg.StatFunc != nil {
		return db.cfg.StatFunc()
	}
	return Stat{
		DataTail:    db.data.Tail(),
		HistoryTail: db.history.Tail(),
		Keys:        db.index.Len(),
	}, nil
}

func (db *DB) appendHistoryEntry(entry HistoryEntry) error {
	ctl := DiskControl{ID: entry.ID, Size: uint64(historyEntrySize)}
	offset, onDisk, err := db.history.append(ctl, entry.encode())
	if err != nil {
		return err
	}
	db.index.InsertOrReplace(historyKey(entry.ID), RamControl{Offset: offset, OnDiskSize: onDisk})
	return nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }
