// Iterator rebuilds the in-memory Index by sequentially scanning a log
// file from offset 0 at startup. This is the structural generalization of
// the teacher's scanm (jpl-au-folio/scan.go), which walks newline-delimited
// JSON lines extracting metadata without a full parse; here the framing is
// a fixed DiskControl header so no delimiter search is needed at all — each
// record's length is read directly from its header.
package blob

import (
	"io"
	"os"
)

// rebuild scans f from offset 0, inserting or replacing entries in idx for
// every live record of the given kind, and returns the offset at which
// scanning stopped (the log's tail). A truncated tail record (header
// claims more payload than remains in the file) ends the scan early
// without error — the log is treated as ending at the last complete
// record, per spec §4.2.
func rebuild(f *os.File, kind Kind, block int, idx *Index) (tail int64, err error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()

	var offset int64
	for offset < size {
		remaining := size - offset
		if remaining < HeaderSize {
			break
		}

		hdrBuf := make([]byte, HeaderSize)
		if _, err := f.ReadAt(hdrBuf, offset); err != nil && err != io.EOF {
			return offset, err
		}
		ctl, err := decodeDiskControl(hdrBuf)
		if err != nil {
			break
		}

		onDisk := padded(ctl.Size, block)
		if remaining < onDisk {
			// Truncated tail: header claims more than the file has left.
			break
		}

		if !ctl.Removed() {
			idx.InsertOrReplace(Key{ID: ctl.ID, Kind: kind}, RamControl{
				Offset:     offset,
				OnDiskSize: onDisk,
			})
		}

		offset += onDisk
	}

	return offset, nil
}
