// Whole-blob convenience helpers used by the recovery engine's in-memory
// NodeClient (recovery/transport.go). CommandHandler's Dispatch contract
// carries caller-managed offsets for partial reads/writes (spec.md §4.3);
// recovery only ever needs whole-object transfer, so these wrap Dispatch
// with the offset/size bookkeeping fixed at "the whole record".
package blob

import "fmt"

// Entry is one row of a range scan: enough of a DATA record's state for
// the recovery engine's iterator RPC reply (spec.md §6: "a stream of
// records (id, size, timestamp, flags) sorted by id"). Timestamp is the
// most recent HistoryEntry timestamp for the key, or 0 if history tracking
// was disabled for every write.
type Entry struct {
	ID        Identifier
	Size      uint64
	Timestamp int64
	Flags     IoAttrFlags
}

// ScanRange returns every live DATA key in [start, end) (half-open,
// wrapping if end <= start) with its current size and latest history
// timestamp. Order is unspecified; callers that need a sorted stream
// (the iterator RPC does) must sort the result themselves.
func (db *DB) ScanRange(start, end Identifier) ([]Entry, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	var out []Entry
	db.index.Each(KindData, start, end, func(id Identifier, rc RamControl) {
		out = append(out, Entry{ID: id, Size: uint64(rc.OnDiskSize)})
	})
	for i, e := range out {
		if hrc, ok := db.index.Lookup(historyKey(e.ID)); ok {
			if entry, err := db.readHistoryEntryAt(hrc.Offset); err == nil {
				out[i].Timestamp = entry.Timestamp
				out[i].Flags = entry.Flags
			}
		}
	}
	return out, nil
}

// readHistoryEntryAt reads and decodes the HistoryEntry stored at offset
// in the history log.
func (db *DB) readHistoryEntryAt(offset int64) (HistoryEntry, error) {
	ctl, err := db.history.readHeader(offset)
	if err != nil {
		return HistoryEntry{}, err
	}
	buf, err := db.history.readAt(offset+HeaderSize, int(ctl.Size))
	if err != nil {
		return HistoryEntry{}, err
	}
	return decodeHistoryEntry(buf)
}

// ReadFull returns the entire current DATA payload for id.
func (db *DB) ReadFull(id Identifier) ([]byte, error) {
	res, err := db.Dispatch(CmdRead, IoAttr{ID: id}, nil, nil)
	if err != nil {
		return nil, err
	}
	rr := res.(ReadResult)
	if rr.Data != nil {
		return rr.Data, nil
	}
	return rr.Stream.Bytes()
}

// WriteFull writes data as a new DATA record for id, recording a normal
// HistoryEntry (no NO_HISTORY_UPDATE).
func (db *DB) WriteFull(id Identifier, data []byte) error {
	attr := IoAttr{ID: id, Size: uint64(len(data))}
	_, err := db.Dispatch(CmdWrite, attr, data, nil)
	if err != nil {
		return fmt.Errorf("writefull %x: %w", id[:8], err)
	}
	return nil
}

// DeleteFull tombstones id's DATA record and erases it from the Index.
func (db *DB) DeleteFull(id Identifier) error {
	_, err := db.Dispatch(CmdDel, IoAttr{ID: id}, nil, nil)
	return err
}
