// MergeCoordinator drives recovery within a single ring (spec.md §2, §4.4):
// Plan partitions the ring's key ranges into work units, Iterate pulls a
// local and a remote stream per unit, Diff runs MergeDiff, Transfer moves
// the resulting keys in batch_size groups. Grounded on the four-phase
// structure spec.md §4.4 specifies directly; the goroutine fan-out is
// WorkerPool's (workerpool.go).
package recovery

import (
	"context"
	"fmt"

	"github.com/ringkv/ringstore/blob"
)

// UnitState is the per-work-unit state machine spec.md §4.4 specifies.
type UnitState int

const (
	StatePending UnitState = iota
	StateIterating
	StateDiffing
	StateTransferring
	StateDone
	StateFailed
)

func (s UnitState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateIterating:
		return "ITERATING"
	case StateDiffing:
		return "DIFFING"
	case StateTransferring:
		return "TRANSFERRING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// MergeCoordinator recovers a single ring's ranges: for each range this
// node owns, it compares the local view against a peer's and transfers
// whatever the peer is missing or holds stale.
type MergeCoordinator struct {
	ctx     *Context
	client  NodeClient
	localID string // address identifying "this" node's stream in each range
}

// NewMergeCoordinator builds a MergeCoordinator. localID is this node's
// address as it appears in the route table.
func NewMergeCoordinator(ctx *Context, client NodeClient, localID string) *MergeCoordinator {
	return &MergeCoordinator{ctx: ctx, client: client, localID: localID}
}

// MergeRangeResult is one range's outcome: the transfer set computed and
// whichever error, if any, moved the unit to FAILED.
type MergeRangeResult struct {
	Range     Range
	State     UnitState
	Transfers []blob.Identifier
	Err       error
}

// Plan enumerates the ranges this node is responsible for, restricted to
// -g's groups when non-empty (spec.md §4.4 step 1).
func (mc *MergeCoordinator) Plan() []Range {
	groups := mc.ctx.Groups
	if len(groups) == 0 {
		groups = mc.ctx.Routes.Groups()
	}
	var ranges []Range
	for _, g := range groups {
		for _, r := range mc.ctx.Routes.RangesForGroup(g) {
			if r.Address == mc.localID {
				ranges = append(ranges, r)
			}
		}
	}
	return ranges
}

// Run executes all four phases for every planned range via the
// WorkerPool, then applies (or, in dry-run, merely counts) the transfer
// sets.
func (mc *MergeCoordinator) Run(ctx context.Context, pool *WorkerPool) ([]MergeRangeResult, error) {
	ranges := mc.Plan()
	results := make([]MergeRangeResult, len(ranges))

	units := make([]WorkUnit, len(ranges))
	for i, r := range ranges {
		i, r := i, r
		units[i] = WorkUnit{
			Label: fmt.Sprintf("merge_%s_%x", r.Address, r.Start[:8]),
			Run: func(uctx context.Context, scratchDir string) error {
				res := mc.runOne(uctx, r, scratchDir)
				results[i] = res
				if res.Err != nil {
					return res.Err
				}
				return nil
			},
		}
	}

	if _, err := pool.Run(ctx, units); err != nil {
		return nil, err
	}
	return results, nil
}

// runOne carries one range through ITERATING -> DIFFING -> TRANSFERRING.
func (mc *MergeCoordinator) runOne(ctx context.Context, r Range, scratchDir string) MergeRangeResult {
	res := MergeRangeResult{Range: r, State: StatePending}
	log := mc.ctx.Log

	since, err := mc.ctx.Since(timeNow())
	if err != nil {
		res.State, res.Err = StateFailed, err
		return res
	}

	res.State = StateIterating
	rctx, cancel := waitTimeout(ctx, mc.ctx.WaitTimeout)
	defer cancel()

	rangeLabel := fmt.Sprintf("%x", r.Start[:8])

	local, err := collect(mc.client.Iterate(rctx, mc.localID, r.GroupID, r.Start, r.End, since))
	if err != nil {
		res.State, res.Err = StateFailed, fmt.Errorf("%w: iterate local: %v", ErrTransient, err)
		mc.ctx.Monitor.AddFailed(TypeMerge, 1)
		return res
	}
	if local, err = stashStream(scratchDir, mc.localID, rangeLabel, local); err != nil {
		res.State, res.Err = StateFailed, err
		mc.ctx.Monitor.AddFailed(TypeMerge, 1)
		return res
	}
	remote, err := collect(mc.client.Iterate(rctx, r.Address, r.GroupID, r.Start, r.End, since))
	if err != nil {
		res.State, res.Err = StateFailed, fmt.Errorf("%w: iterate remote: %v", ErrTransient, err)
		mc.ctx.Monitor.AddFailed(TypeMerge, 1)
		return res
	}
	if remote, err = stashStream(scratchDir, r.Address, rangeLabel, remote); err != nil {
		res.State, res.Err = StateFailed, err
		mc.ctx.Monitor.AddFailed(TypeMerge, 1)
		return res
	}
	mc.ctx.Monitor.AddIterated(TypeMerge, int64(len(local)+len(remote)))

	res.State = StateDiffing
	res.Transfers = MergeDiff(local, remote)
	mc.ctx.Monitor.AddDiff(TypeMerge, int64(len(res.Transfers)))

	if log != nil {
		log.Infow("merge diff computed", "range", fmt.Sprintf("%x", r.Start[:8]), "peer", r.Address, "transfers", len(res.Transfers))
	}

	if mc.ctx.DryRun {
		res.State = StateDone
		return res
	}

	res.State = StateTransferring
	if err := mc.transfer(rctx, r, res.Transfers); err != nil {
		res.State, res.Err = StateFailed, err
		mc.ctx.Monitor.AddFailed(TypeMerge, 1)
		return res
	}

	res.State = StateDone
	return res
}

// transfer moves res in batch_size groups: bulk-read from the local node,
// bulk-write to the peer, and — unless -S (safe mode) — bulk-delete the
// source afterward (spec.md §4.4 step 4).
func (mc *MergeCoordinator) transfer(ctx context.Context, r Range, ids []blob.Identifier) error {
	batch := mc.ctx.BatchSize
	for start := 0; start < len(ids); start += batch {
		end := start + batch
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		blobs, err := mc.client.BulkRead(ctx, mc.localID, chunk)
		if err != nil {
			return fmt.Errorf("%w: bulk-read: %v", ErrTransient, err)
		}
		if err := mc.client.BulkWrite(ctx, r.Address, blobs); err != nil {
			return fmt.Errorf("%w: bulk-write: %v", ErrTransient, err)
		}
		var n int64
		for _, b := range blobs {
			n += int64(len(b))
		}
		mc.ctx.Monitor.AddTransferred(TypeMerge, int64(len(chunk)))
		mc.ctx.Monitor.AddBytes(TypeMerge, n)

		if !mc.ctx.Safe {
			if err := mc.client.BulkDelete(ctx, mc.localID, chunk); err != nil {
				return fmt.Errorf("%w: bulk-delete source: %v", ErrTransient, err)
			}
		}
	}
	return nil
}
