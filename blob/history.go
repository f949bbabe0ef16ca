// writeHistory implements the explicit write-history chain update (spec
// §4.3 "Write-history semantics"), used when a caller sends a WRITE with
// FlagIsHistory set to replace a key's history chain directly — as
// opposed to the implicit per-data-write HistoryEntry append in
// writeData, which is a plain, unconditional append.
//
// Steps, matching the spec exactly: read the prior history blob at its
// indexed offset, mark the prior on-disk header REMOVED in place, strip
// the header from the old blob in memory, let the caller-supplied
// MetaProcessor combine old+new, append the combined blob as a fresh
// record, update the Index to the new offset.
package blob

import "fmt"

func (db *DB) writeHistory(attr IoAttr, newBlob []byte) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	key := historyKey(attr.ID)

	var oldBlob []byte
	var oldEntry HistoryEntry

	if rc, ok := db.index.Lookup(key); ok {
		ctl, err := db.history.readHeader(rc.Offset)
		if err != nil {
			return err
		}
		if ctl.ID != attr.ID {
			return fmt.Errorf("%w: index pointed at mismatched id", ErrIO)
		}

		payload, err := db.history.readAt(rc.Offset+HeaderSize, int(ctl.Size))
		if err != nil {
			return err
		}
		oldBlob = payload
		if decoded, err := decodeHistoryEntry(payload); err == nil {
			oldEntry = decoded
		}

		// Mark the prior record REMOVED in place before appending its
		// replacement, so a crash between these two steps never leaves
		// two live history records for one key.
		ctl.Flags |= FlagRemoved
		if err := db.history.overwriteHeader(rc.Offset, ctl); err != nil {
			return err
		}
	}

	newEntry := HistoryEntry{
		ID:        attr.ID,
		Offset:    attr.Offset,
		Size:      uint64(len(newBlob)),
		Timestamp: nowMillis(),
		Flags:     attr.Flags,
	}
	if decoded, err := decodeHistoryEntry(newBlob); err == nil {
		newEntry = decoded
	}

	combined := newBlob
	if db.cfg.MetaProcessor != nil {
		out, err := db.cfg.MetaProcessor(oldEntry, newEntry, oldBlob, newBlob)
		if err != nil {
			return fmt.Errorf("%w: meta processor: %v", ErrOutOfMemory, err)
		}
		combined = out
	}

	ctl := DiskControl{ID: attr.ID, Size: uint64(len(combined))}
	offset, onDisk, err := db.history.append(ctl, combined)
	if err != nil {
		return err
	}
	db.index.InsertOrReplace(key, RamControl{Offset: offset, OnDiskSize: onDisk})
	return nil
}
