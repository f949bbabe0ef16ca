// Scratch-file namespace management (spec.md §5 "Shared-resource policy"):
// every file a work unit writes under the tmp directory carries one of the
// fixed prefixes iterator_, diff_, merge_, and at startup the coordinator
// sweeps the tmp directory clean of any pre-existing file with those
// prefixes — they are safe to delete, by construction, at the start of any
// run. Grounded on jpl-au-folio/repair.go's tmp-file-then-rename-swap
// discipline, generalized from one repair tmp file to a whole per-unit
// scratch directory.
package recovery

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"
	"github.com/ringkv/ringstore/blob"
)

// scratchPrefixes enumerates the prefixes that mark a file as
// coordinator-owned scratch state, safe to remove at startup.
var scratchPrefixes = []string{"iterator_", "diff_", "merge_"}

// scratchDir resolves -D's directory for recoveryType, substituting the
// %TYPE% literal the CLI surface documents (spec.md §6).
func scratchDir(dirTemplate string, recoveryType RecoveryType) string {
	return strings.ReplaceAll(dirTemplate, "%TYPE%", recoveryType.String())
}

// sweepScratch removes every pre-existing file under dir whose name
// carries a scratch prefix, including those inside the unit_
// subdirectories left by earlier runs. Called once at coordinator startup before any
// work unit claims its own subdirectory.
func sweepScratch(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: reading scratch dir %q: %v", ErrFatal, dir, err)
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.IsDir() && strings.HasPrefix(e.Name(), "unit_") {
			// Per-unit namespaces (unitScratchDir) hold the prefixed files.
			if err := sweepScratch(path); err != nil {
				return err
			}
			continue
		}
		if !hasScratchPrefix(e.Name()) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("%w: removing stale scratch file %q: %v", ErrFatal, path, err)
		}
	}
	return nil
}

func hasScratchPrefix(name string) bool {
	for _, p := range scratchPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// unitScratchDir returns (and creates) the namespace a single work unit
// owns under dir: one subdirectory per unit, so concurrent goroutines
// never share a mutable scratch path (spec.md §4.4 redesign note:
// "per-unit isolation... must still hold" even when workers are
// goroutines instead of processes).
func unitScratchDir(dir string, unitID string) (string, error) {
	path := filepath.Join(dir, "unit_"+unitID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating scratch dir %q: %v", ErrFatal, path, err)
	}
	return path, nil
}

// iteratorScratchPath names the file a work unit writes one remote node's
// iterator stream to, per spec.md §4.4 step 2 ("iterator_<node>_<range>").
func iteratorScratchPath(unitDir, node, rangeLabel string) string {
	return filepath.Join(unitDir, fmt.Sprintf("iterator_%s_%s", sanitize(node), sanitize(rangeLabel)))
}

func diffScratchPath(unitDir, label string) string {
	return filepath.Join(unitDir, "diff_"+sanitize(label))
}

func mergeScratchPath(unitDir, label string) string {
	return filepath.Join(unitDir, "merge_"+sanitize(label))
}

// sanitize replaces path separators so node addresses and range labels
// can't escape the scratch directory when interpolated into a filename.
func sanitize(s string) string {
	r := strings.NewReplacer("/", "_", ":", "_", "\\", "_")
	return r.Replace(s)
}

// checksum returns the xxh3 digest of buf, used to validate scratch-file
// contents survived a crash between writes (not a content hash of blob
// data — identifiers remain caller-supplied, per spec.md §1 non-goals).
func checksum(buf []byte) uint64 {
	return xxh3.Hash(buf)
}

// recordWireSize is the fixed encoding width of one Record: Identifier,
// int64 timestamp, uint64 size, uint32 flags.
const recordWireSize = blob.IdLen + 8 + 8 + 4

// encodeRecords serializes an iterator stream to its fixed-width wire
// form before it is compressed and written to a scratch file.
func encodeRecords(recs []Record) []byte {
	buf := make([]byte, len(recs)*recordWireSize)
	for i, r := range recs {
		off := i * recordWireSize
		copy(buf[off:off+blob.IdLen], r.ID[:])
		binary.LittleEndian.PutUint64(buf[off+blob.IdLen:], uint64(r.Timestamp))
		binary.LittleEndian.PutUint64(buf[off+blob.IdLen+8:], r.Size)
		binary.LittleEndian.PutUint32(buf[off+blob.IdLen+16:], uint32(r.Flags))
	}
	return buf
}

func decodeRecords(buf []byte) ([]Record, error) {
	if len(buf)%recordWireSize != 0 {
		return nil, fmt.Errorf("%w: malformed record stream (%d bytes)", ErrFatal, len(buf))
	}
	recs := make([]Record, len(buf)/recordWireSize)
	for i := range recs {
		off := i * recordWireSize
		var id blob.Identifier
		copy(id[:], buf[off:off+blob.IdLen])
		recs[i] = Record{
			ID:        id,
			Timestamp: int64(binary.LittleEndian.Uint64(buf[off+blob.IdLen:])),
			Size:      binary.LittleEndian.Uint64(buf[off+blob.IdLen+8:]),
			Flags:     blob.IoAttrFlags(binary.LittleEndian.Uint32(buf[off+blob.IdLen+16:])),
		}
	}
	return recs, nil
}

// scratchEncoder/scratchDecoder are package-level because zstd's EncodeAll/
// DecodeAll are stateless and safe to share across the goroutines WorkerPool
// fans out (no Close is ever called on either).
var (
	scratchEncoder, _ = zstd.NewWriter(nil)
	scratchDecoder, _ = zstd.NewReader(nil)
)

// writeRecordStream persists recs to path as an xxh3-checksummed,
// zstd-compressed blob: spec.md §4.4 step 2 has a work unit write each
// node's iterator stream to scratch before diffing. Nothing resumes from
// these files: a rerun fetches every stream again, and the startup sweep
// removes them.
func writeRecordStream(path string, recs []Record) error {
	compressed := scratchEncoder.EncodeAll(encodeRecords(recs), nil)
	out := make([]byte, 8+len(compressed))
	binary.LittleEndian.PutUint64(out, checksum(compressed))
	copy(out[8:], compressed)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("%w: writing scratch stream %q: %v", ErrFatal, path, err)
	}
	return nil
}

// readRecordStream reverses writeRecordStream, rejecting a file whose
// checksum doesn't match its contents.
func readRecordStream(path string) ([]Record, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading scratch stream %q: %v", ErrFatal, path, err)
	}
	if len(buf) < 8 {
		return nil, fmt.Errorf("%w: truncated scratch stream %q", ErrFatal, path)
	}
	want := binary.LittleEndian.Uint64(buf)
	compressed := buf[8:]
	if checksum(compressed) != want {
		return nil, fmt.Errorf("%w: checksum mismatch in scratch stream %q", ErrFatal, path)
	}
	raw, err := scratchDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing scratch stream %q: %v", ErrFatal, path, err)
	}
	return decodeRecords(raw)
}

// stashStream writes recs to node's scratch file under dir and immediately
// reads it back, round-tripping the iterator stream through scratch the way
// spec.md §4.4 step 2 describes, rather than diffing straight out of memory.
func stashStream(dir, node string, rangeLabel string, recs []Record) ([]Record, error) {
	path := iteratorScratchPath(dir, node, rangeLabel)
	if err := writeRecordStream(path, recs); err != nil {
		return nil, err
	}
	return readRecordStream(path)
}
