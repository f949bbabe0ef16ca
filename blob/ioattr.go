package blob

import "encoding/binary"

// IoAttrFlags encode per-request modifiers carried in command payloads.
type IoAttrFlags uint32

const (
	FlagIsHistory       IoAttrFlags = 1 << iota // operate on the history log, not data
	FlagAppend                                  // reserved: append semantics (data writes are always appends)
	FlagNoHistoryUpdate                         // WRITE: skip the implicit HistoryEntry append
	FlagMeta                                    // request carries/targets metadata rather than payload
)

// Has reports whether flag is set.
func (f IoAttrFlags) Has(flag IoAttrFlags) bool { return f&flag != 0 }

// ioAttrSize is the wire width of IoAttr: two Identifiers, two uint64s,
// one uint32 of flags.
const ioAttrSize = IdLen + IdLen + 8 + 8 + 4

// IoAttr is the per-request descriptor carried in command payloads,
// decoded from the wire's host-order-converted bytes by the transport
// before reaching CommandHandler.
type IoAttr struct {
	ID     Identifier
	Origin Identifier
	Offset uint64
	Size   uint64
	Flags  IoAttrFlags
}

// decodeIoAttr parses an IoAttr from its little-endian wire form.
func decodeIoAttr(buf []byte) (IoAttr, error) {
	if len(buf) < ioAttrSize {
		return IoAttr{}, ErrInvalidArgument
	}
	var a IoAttr
	copy(a.ID[:], buf[:IdLen])
	copy(a.Origin[:], buf[IdLen:2*IdLen])
	off := 2 * IdLen
	a.Offset = binary.LittleEndian.Uint64(buf[off : off+8])
	a.Size = binary.LittleEndian.Uint64(buf[off+8 : off+16])
	a.Flags = IoAttrFlags(binary.LittleEndian.Uint32(buf[off+16 : off+20]))
	return a, nil
}

// Encode serializes an IoAttr to its little-endian wire form, for tests
// and for callers constructing command payloads.
func (a IoAttr) Encode() []byte {
	buf := make([]byte, ioAttrSize)
	copy(buf[:IdLen], a.ID[:])
	copy(buf[IdLen:2*IdLen], a.Origin[:])
	off := 2 * IdLen
	binary.LittleEndian.PutUint64(buf[off:off+8], a.Offset)
	binary.LittleEndian.PutUint64(buf[off+8:off+16], a.Size)
	binary.LittleEndian.PutUint32(buf[off+16:off+20], uint32(a.Flags))
	return buf
}

// historyEntrySize is the wire width of a HistoryEntry.
const historyEntrySize = IdLen + 8 + 8 + 8 + 4

// HistoryEntry is appended to the history log on every data write when
// history tracking is enabled. It records the logical offset and size of
// the write, not the write's placement (data writes are always appends).
type HistoryEntry struct {
	ID        Identifier
	Offset    uint64
	Size      uint64
	Timestamp int64
	Flags     IoAttrFlags
}

func (h HistoryEntry) encode() []byte {
	buf := make([]byte, historyEntrySize)
	copy(buf[:IdLen], h.ID[:])
	off := IdLen
	binary.LittleEndian.PutUint64(buf[off:off+8], h.Offset)
	binary.LittleEndian.PutUint64(buf[off+8:off+16], h.Size)
	binary.LittleEndian.PutUint64(buf[off+16:off+24], uint64(h.Timestamp))
	binary.LittleEndian.PutUint32(buf[off+24:off+28], uint32(h.Flags))
	return buf
}

func decodeHistoryEntry(buf []byte) (HistoryEntry, error) {
	if len(buf) < historyEntrySize {
		return HistoryEntry{}, ErrInvalidArgument
	}
	var h HistoryEntry
	copy(h.ID[:], buf[:IdLen])
	off := IdLen
	h.Offset = binary.LittleEndian.Uint64(buf[off : off+8])
	h.Size = binary.LittleEndian.Uint64(buf[off+8 : off+16])
	h.Timestamp = int64(binary.LittleEndian.Uint64(buf[off+16 : off+24]))
	h.Flags = IoAttrFlags(binary.LittleEndian.Uint32(buf[off+24 : off+28]))
	return h, nil
}

// MetaProcessor transforms a history chain on update: given the prior
// HistoryEntry/blob and the new one, it returns the blob to append as the
// fresh history record. The source calls this an external "process_meta"
// hook invoked from write_history step 4; here it is a first-class Go
// function value supplied at CommandHandler construction instead of a
// registered callback, per the Design Notes' directive to turn type-erased
// pointers into concrete interfaces. A nil MetaProcessor means "append the
// new blob unchanged", which is the behaviour most callers want.
type MetaProcessor func(old, new HistoryEntry, oldBlob, newBlob []byte) ([]byte, error)
