// RouteTable is the parsed ring membership the recovery engine consumes
// from the ring (spec §1: "the recovery engine consumes from the ring a
// routing table and an iterator RPC"). It is an ordered list of
// RouteEntry; successive entries define ranges over the ring.
package recovery

import (
	"sort"

	"github.com/ringkv/ringstore/blob"
)

// RouteEntry is one row of the routing table: the start of an identifier
// range, the node address that owns it, and the replica group it belongs
// to.
type RouteEntry struct {
	RangeStart blob.Identifier
	Address    string
	GroupID    uint32
}

// RouteTable is an ordered list of RouteEntry. Order matters only for
// group ambiguity: per DESIGN.md's Open Question decision, it resolves
// which group an address belongs to when it appears in more than one.
// Ranges do not depend on it: each group's entries are sorted by
// RangeStart, and each range runs from its RangeStart to the next one,
// wrapping at the ring.
type RouteTable struct {
	Entries []RouteEntry
}

// NewRouteTable builds a RouteTable from entries, preserving input order.
// Callers are expected to supply entries already in ring order (as the
// ring itself would enumerate them); NewRouteTable does not re-sort.
func NewRouteTable(entries []RouteEntry) *RouteTable {
	return &RouteTable{Entries: append([]RouteEntry(nil), entries...)}
}

// Range is a half-open identifier range [Start, End) that a node covers
// on behalf of a group. Wraps marks a group's last range, which runs from
// Start past the end of the keyspace and around to End.
type Range struct {
	Start   blob.Identifier
	End     blob.Identifier
	Wraps   bool
	Address string
	GroupID uint32
}

// RangesForGroup returns every range owned by group, sorted by RangeStart.
// Each entry's range ends at the next RangeStart of the same group, or
// wraps to the group's lowest RangeStart if it is the last one.
func (rt *RouteTable) RangesForGroup(group uint32) []Range {
	var members []RouteEntry
	for _, e := range rt.Entries {
		if rt.groupFor(e.Address) == group {
			members = append(members, e)
		}
	}
	return buildRanges(members, group)
}

// Groups returns the distinct group IDs present in the table, sorted.
func (rt *RouteTable) Groups() []uint32 {
	seen := map[uint32]bool{}
	for _, e := range rt.Entries {
		seen[e.GroupID] = true
	}
	out := make([]uint32, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// groupFor resolves which group an address belongs to. An address may
// legitimately appear in more than one group's entries if the route table
// was assembled from overlapping configs; per DESIGN.md's Open Question
// decision, the first matching RouteEntry in table order wins, since the
// table is documented as ordered and no other signal disambiguates this.
func (rt *RouteTable) groupFor(addr string) uint32 {
	for _, e := range rt.Entries {
		if e.Address == addr {
			return e.GroupID
		}
	}
	return 0
}

// ReplicasFor returns, for every group in the table, the address
// responsible for the range containing id. Used by dc recovery to find
// the k replicas of a key.
func (rt *RouteTable) ReplicasFor(id blob.Identifier) map[uint32]string {
	out := map[uint32]string{}
	for _, g := range rt.Groups() {
		ranges := rt.RangesForGroup(g)
		for _, r := range ranges {
			if r.contains(id) {
				out[g] = r.Address
				break
			}
		}
	}
	return out
}

func (r Range) contains(id blob.Identifier) bool {
	if r.Wraps {
		return !id.Less(r.Start) || id.Less(r.End)
	}
	return !id.Less(r.Start) && id.Less(r.End)
}

func buildRanges(members []RouteEntry, group uint32) []Range {
	if len(members) == 0 {
		return nil
	}
	sort.Slice(members, func(i, j int) bool { return members[i].RangeStart.Less(members[j].RangeStart) })

	ranges := make([]Range, len(members))
	for i, m := range members {
		next := members[(i+1)%len(members)]
		ranges[i] = Range{
			Start:   m.RangeStart,
			End:     next.RangeStart,
			Wraps:   i == len(members)-1,
			Address: m.Address,
			GroupID: group,
		}
	}
	return ranges
}
