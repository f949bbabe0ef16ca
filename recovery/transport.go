// transport.go defines the seam between the recovery coordinators and the
// ring: spec.md §1 calls out "the recovery engine consumes from the ring a
// routing table and an iterator RPC" and explicitly leaves the transport
// itself out of scope (§1 Non-goals: "the transport's connection
// handling"). NodeClient is that boundary as a Go interface; memClient is
// an in-memory implementation used by tests and same-process recovery,
// grounded on jpl-au-folio/db_test.go's pattern of exercising the public
// API against a real temp-file-backed database instead of a mock.
package recovery

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/ringkv/ringstore/blob"
)

// NodeClient is the RPC boundary a coordinator calls against: iterate a
// range for diffing, then bulk-read/bulk-write/bulk-delete to apply the
// computed transfer set (spec.md §6 "Iterator RPC", §4.4 step 4).
type NodeClient interface {
	Iterate(ctx context.Context, addr string, groupID uint32, rangeStart, rangeEnd blob.Identifier, since int64) iter.Seq2[Record, error]
	BulkRead(ctx context.Context, addr string, ids []blob.Identifier) (map[blob.Identifier][]byte, error)
	BulkWrite(ctx context.Context, addr string, blobs map[blob.Identifier][]byte) error
	BulkDelete(ctx context.Context, addr string, ids []blob.Identifier) error
}

// memClient serves every address from a fixed map of *blob.DB, keyed by
// node address. It is not a wire client — no framing, no connection
// handling — only the same (cmd, IoAttr, payload) contract CommandHandler
// already exposes, reused in-process. Good enough for tests and for
// driving recovery between databases that live in the same process.
type memClient struct {
	nodes map[string]*blob.DB
}

// newMemClient builds a memClient over nodes, a map of address to backing
// database.
func newMemClient(nodes map[string]*blob.DB) *memClient {
	return &memClient{nodes: nodes}
}

// NewMemNodeClient is the exported constructor for memClient: a NodeClient
// that resolves each address directly to an already-open *blob.DB,
// skipping the wire transport entirely. cmd/ringrecover uses this when
// every node named in the route table is a local directory rather than a
// remote peer — the one topology this repo can drive end-to-end without
// implementing the network transport spec.md §1 places out of scope.
func NewMemNodeClient(nodes map[string]*blob.DB) NodeClient {
	return newMemClient(nodes)
}

func (c *memClient) db(addr string) (*blob.DB, error) {
	db, ok := c.nodes[addr]
	if !ok {
		return nil, fmt.Errorf("%w: unknown node %q", ErrTransient, addr)
	}
	return db, nil
}

// Iterate returns every live DATA-kind record whose identifier falls in
// [rangeStart, rangeEnd) and whose history timestamp is >= since, sorted by
// id — the shape the wire iterator RPC promises (spec.md §6). since is Unix
// milliseconds, the same unit Record.Timestamp carries (blob's nowMillis),
// matching what Context.Since/ParseTimeSpec hands the coordinators.
func (c *memClient) Iterate(ctx context.Context, addr string, groupID uint32, rangeStart, rangeEnd blob.Identifier, since int64) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		db, err := c.db(addr)
		if err != nil {
			yield(Record{}, err)
			return
		}

		entries, err := db.ScanRange(rangeStart, rangeEnd)
		if err != nil {
			yield(Record{}, fmt.Errorf("%w: %v", ErrTransient, err))
			return
		}

		sort.Slice(entries, func(i, j int) bool { return entries[i].ID.Less(entries[j].ID) })
		for _, e := range entries {
			if since != 0 && e.Timestamp < since {
				continue
			}
			if ctx.Err() != nil {
				yield(Record{}, ctx.Err())
				return
			}
			r := Record{ID: e.ID, Timestamp: e.Timestamp, Size: e.Size, Flags: e.Flags}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (c *memClient) BulkRead(ctx context.Context, addr string, ids []blob.Identifier) (map[blob.Identifier][]byte, error) {
	db, err := c.db(addr)
	if err != nil {
		return nil, err
	}
	out := make(map[blob.Identifier][]byte, len(ids))
	for _, id := range ids {
		data, err := db.ReadFull(id)
		if err != nil {
			return nil, fmt.Errorf("%w: read %x: %v", ErrTransient, id[:8], err)
		}
		out[id] = data
	}
	return out, nil
}

func (c *memClient) BulkWrite(ctx context.Context, addr string, blobs map[blob.Identifier][]byte) error {
	db, err := c.db(addr)
	if err != nil {
		return err
	}
	for id, data := range blobs {
		if err := db.WriteFull(id, data); err != nil {
			return fmt.Errorf("%w: write %x: %v", ErrTransient, id[:8], err)
		}
	}
	return nil
}

func (c *memClient) BulkDelete(ctx context.Context, addr string, ids []blob.Identifier) error {
	db, err := c.db(addr)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := db.DeleteFull(id); err != nil {
			return fmt.Errorf("%w: delete %x: %v", ErrTransient, id[:8], err)
		}
	}
	return nil
}

// waitTimeout wraps ctx with the per-operation deadline carried by -w
// (spec.md §5 "Cancellation and timeouts"). A zero timeout disables the
// deadline.
func waitTimeout(ctx context.Context, secs int) (context.Context, context.CancelFunc) {
	if secs <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(secs)*time.Second)
}
