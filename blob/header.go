// DiskControl header: the fixed-size record prepended to every on-disk
// entry in both logs. Layout and byte order are wire-specified (spec §6)
// and must not change without a version bump at a higher layer — readers
// written against this layout assume little-endian, IdLen-parametrized
// offsets.
package blob

import "encoding/binary"

// FlagRemoved marks a record as a tombstone. Scan skips these; the
// Index never points at one.
const FlagRemoved uint64 = 1 << 0

// HeaderSize is the on-disk width of a DiskControl: IdLen bytes of
// Identifier, 8 bytes of flags, 8 bytes of size.
const HeaderSize = IdLen + 8 + 8

// DiskControl is the fixed header prepended to every on-disk record.
// Encoded little-endian: offset 0 is ID, offset IdLen is Flags, offset
// IdLen+8 is Size.
type DiskControl struct {
	ID    Identifier
	Flags uint64
	Size  uint64 // payload length in bytes, excludes header and padding
}

// Removed reports whether the REMOVED tombstone bit is set.
func (d DiskControl) Removed() bool {
	return d.Flags&FlagRemoved != 0
}

// encode serializes a DiskControl into exactly HeaderSize bytes,
// little-endian.
func (d DiskControl) encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[:IdLen], d.ID[:])
	binary.LittleEndian.PutUint64(buf[IdLen:IdLen+8], d.Flags)
	binary.LittleEndian.PutUint64(buf[IdLen+8:], d.Size)
	return buf
}

// decodeDiskControl parses a HeaderSize-byte buffer into a DiskControl.
func decodeDiskControl(buf []byte) (DiskControl, error) {
	if len(buf) < HeaderSize {
		return DiskControl{}, ErrCorrupt
	}
	var d DiskControl
	copy(d.ID[:], buf[:IdLen])
	d.Flags = binary.LittleEndian.Uint64(buf[IdLen : IdLen+8])
	d.Size = binary.LittleEndian.Uint64(buf[IdLen+8:])
	return d, nil
}

// padded returns the total on-disk size (header + payload + alignment
// padding) for a payload of length size, given a log's block size. When
// block is 0, no padding is added.
func padded(size uint64, block int) int64 {
	total := int64(HeaderSize) + int64(size)
	if block <= 0 {
		return total
	}
	if rem := total % int64(block); rem != 0 {
		total += int64(block) - rem
	}
	return total
}
