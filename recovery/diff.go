// Diff implements the two comparison rules the coordinators use (spec
// §4.4 step 3): merge-diff compares one local stream against one remote
// stream; dc-diff merges k replica streams simultaneously and picks a
// winner per key. Both take already-sorted-by-id input, matching what the
// iterator RPC promises ("a stream of records sorted by id").
package recovery

import (
	"cmp"
	"slices"

	"github.com/ringkv/ringstore/blob"
)

// Record is one entry of an iterator RPC stream: (id, timestamp, size,
// flags), sorted by id within a stream.
type Record struct {
	ID        blob.Identifier
	Timestamp int64
	Size      uint64
	Flags     blob.IoAttrFlags
}

// MergeDiff computes the merge-recovery transfer set (spec §8 P6): every
// key present locally and either absent remotely or locally newer.
// local and remote must each be sorted by ID.
func MergeDiff(local, remote []Record) []blob.Identifier {
	remoteByID := make(map[blob.Identifier]Record, len(remote))
	for _, r := range remote {
		remoteByID[r.ID] = r
	}

	var transfer []blob.Identifier
	for _, l := range local {
		r, ok := remoteByID[l.ID]
		if !ok || l.Timestamp > r.Timestamp {
			transfer = append(transfer, l.ID)
		}
	}
	return transfer
}

// Transfer describes one winner-to-stale-replica instruction emitted by
// DcDiff.
type Transfer struct {
	ID       blob.Identifier
	FromAddr string
	ToAddr   string
}

// DcDiff merges k per-replica streams and, for each key, designates the
// winner as argmax(timestamp, size, -address) (spec §8 P7: ties broken by
// highest size, then lowest node address). It emits a Transfer from the
// winner to every other replica that is stale or missing the key.
func DcDiff(streams map[string][]Record) []Transfer {
	type seen struct {
		rec  Record
		addr string
	}
	byID := map[blob.Identifier][]seen{}

	for addr, records := range streams {
		for _, r := range records {
			byID[r.ID] = append(byID[r.ID], seen{rec: r, addr: addr})
		}
	}

	var out []Transfer
	for id, entries := range byID {
		winner := entries[0]
		for _, e := range entries[1:] {
			if winnerLess(winner, e) {
				winner = e
			}
		}
		for addr := range streams {
			if addr == winner.addr {
				continue
			}
			upToDate := false
			for _, e := range entries {
				if e.addr == addr && e.rec.Timestamp == winner.rec.Timestamp && e.rec.Size == winner.rec.Size {
					upToDate = true
					break
				}
			}
			if !upToDate {
				out = append(out, Transfer{ID: id, FromAddr: winner.addr, ToAddr: addr})
			}
		}
	}

	slices.SortFunc(out, func(a, b Transfer) int {
		if c := a.ID.Compare(b.ID); c != 0 {
			return c
		}
		return cmp.Compare(a.ToAddr, b.ToAddr)
	})
	return out
}

// winnerLess reports whether a should be replaced by b as the winner:
// b has a higher timestamp, or a tied timestamp with a higher size, or a
// tied timestamp and size with a lexicographically lower address.
func winnerLess(a, b struct {
	rec  Record
	addr string
}) bool {
	if a.rec.Timestamp != b.rec.Timestamp {
		return b.rec.Timestamp > a.rec.Timestamp
	}
	if a.rec.Size != b.rec.Size {
		return b.rec.Size > a.rec.Size
	}
	return b.addr < a.addr
}

// FilterSince drops records whose timestamp is older than cutoff (spec
// §4.4 "Time-window filter"). cutoff, like Record.Timestamp, is Unix
// milliseconds (see ParseTimeSpec). A cutoff of 0 disables filtering.
func FilterSince(records []Record, cutoff int64) []Record {
	if cutoff == 0 {
		return records
	}
	out := records[:0:0]
	for _, r := range records {
		if r.Timestamp >= cutoff {
			out = append(out, r)
		}
	}
	return out
}
