// DcCoordinator drives recovery across rings (spec.md §2, §4.4 "DC diff"):
// for each key range, it pulls one iterator stream per replica group,
// finds the per-key winner (DcDiff), and transfers from winner to every
// stale or missing replica. Structurally identical to MergeCoordinator
// except Diff uses DcDiff's k-stream merge instead of MergeDiff's 2-stream
// merge, per spec.md §4.4 step 3.
package recovery

import (
	"context"
	"fmt"

	"github.com/ringkv/ringstore/blob"
)

// DcCoordinator reconciles replicas of the same range across replica
// groups.
type DcCoordinator struct {
	ctx    *Context
	client NodeClient
}

// NewDcCoordinator builds a DcCoordinator.
func NewDcCoordinator(ctx *Context, client NodeClient) *DcCoordinator {
	return &DcCoordinator{ctx: ctx, client: client}
}

// DcRangeResult is one range's dc-recovery outcome.
type DcRangeResult struct {
	Range     Range
	State     UnitState
	Transfers []Transfer
	Err       error
}

// dcPlanUnit is one (range, replica-set) tuple: the range identified by
// its start and the address of every replica that should hold it.
type dcPlanUnit struct {
	Start, End blob.Identifier
	GroupID    uint32
	Replicas   []string
}

// Plan enumerates (range, peer-set) tuples: every range any restricted (or
// all, if -g is empty) group owns, paired with the addresses of the nodes
// that hold a replica of it across groups.
func (dc *DcCoordinator) Plan() []dcPlanUnit {
	groups := dc.ctx.Groups
	if len(groups) == 0 {
		groups = dc.ctx.Routes.Groups()
	}

	seen := map[string]*dcPlanUnit{}
	var order []string
	for _, g := range groups {
		for _, r := range dc.ctx.Routes.RangesForGroup(g) {
			key := fmt.Sprintf("%x-%x", r.Start, r.End)
			u, ok := seen[key]
			if !ok {
				u = &dcPlanUnit{Start: r.Start, End: r.End, GroupID: r.GroupID}
				seen[key] = u
				order = append(order, key)
			}
			u.Replicas = append(u.Replicas, r.Address)
		}
	}

	units := make([]dcPlanUnit, len(order))
	for i, k := range order {
		units[i] = *seen[k]
	}
	return units
}

// Run executes all four phases for every planned (range, replica-set) via
// the WorkerPool.
func (dc *DcCoordinator) Run(ctx context.Context, pool *WorkerPool) ([]DcRangeResult, error) {
	plan := dc.Plan()
	results := make([]DcRangeResult, len(plan))

	units := make([]WorkUnit, len(plan))
	for i, p := range plan {
		i, p := i, p
		units[i] = WorkUnit{
			Label: fmt.Sprintf("dc_%x_g%d", p.Start[:8], p.GroupID),
			Run: func(uctx context.Context, scratchDir string) error {
				res := dc.runOne(uctx, p, scratchDir)
				results[i] = res
				return res.Err
			},
		}
	}

	if _, err := pool.Run(ctx, units); err != nil {
		return nil, err
	}
	return results, nil
}

func (dc *DcCoordinator) runOne(ctx context.Context, p dcPlanUnit, scratchDir string) DcRangeResult {
	r := Range{Start: p.Start, End: p.End, GroupID: p.GroupID}
	res := DcRangeResult{Range: r, State: StatePending}
	log := dc.ctx.Log

	since, err := dc.ctx.Since(timeNow())
	if err != nil {
		res.State, res.Err = StateFailed, err
		return res
	}

	res.State = StateIterating
	rctx, cancel := waitTimeout(ctx, dc.ctx.WaitTimeout)
	defer cancel()

	rangeLabel := fmt.Sprintf("%x", p.Start[:8])
	streams := make(map[string][]Record, len(p.Replicas))
	var total int64
	for _, addr := range p.Replicas {
		recs, err := collect(dc.client.Iterate(rctx, addr, p.GroupID, p.Start, p.End, since))
		if err != nil {
			res.State, res.Err = StateFailed, fmt.Errorf("%w: iterate %s: %v", ErrTransient, addr, err)
			dc.ctx.Monitor.AddFailed(TypeDC, 1)
			return res
		}
		if recs, err = stashStream(scratchDir, addr, rangeLabel, recs); err != nil {
			res.State, res.Err = StateFailed, err
			dc.ctx.Monitor.AddFailed(TypeDC, 1)
			return res
		}
		streams[addr] = recs
		total += int64(len(recs))
	}
	dc.ctx.Monitor.AddIterated(TypeDC, total)

	res.State = StateDiffing
	res.Transfers = DcDiff(streams)
	dc.ctx.Monitor.AddDiff(TypeDC, int64(len(res.Transfers)))

	if log != nil {
		log.Infow("dc diff computed", "range", fmt.Sprintf("%x", p.Start[:8]), "replicas", len(p.Replicas), "transfers", len(res.Transfers))
	}

	if dc.ctx.DryRun {
		res.State = StateDone
		return res
	}

	res.State = StateTransferring
	if err := dc.transfer(rctx, res.Transfers); err != nil {
		res.State, res.Err = StateFailed, err
		dc.ctx.Monitor.AddFailed(TypeDC, 1)
		return res
	}

	res.State = StateDone
	return res
}

// transfer groups DcDiff's per-key instructions by (from, to) pair and
// moves each group in batch_size chunks. Unlike merge recovery, dc
// recovery never deletes the source — spec.md §4.4 step 4's -S exception
// applies to merge only.
func (dc *DcCoordinator) transfer(ctx context.Context, transfers []Transfer) error {
	byPair := map[[2]string][]blob.Identifier{}
	var order [][2]string
	for _, t := range transfers {
		pair := [2]string{t.FromAddr, t.ToAddr}
		if _, ok := byPair[pair]; !ok {
			order = append(order, pair)
		}
		byPair[pair] = append(byPair[pair], t.ID)
	}

	batch := dc.ctx.BatchSize
	for _, pair := range order {
		ids := byPair[pair]
		for start := 0; start < len(ids); start += batch {
			end := start + batch
			if end > len(ids) {
				end = len(ids)
			}
			chunk := ids[start:end]

			blobs, err := dc.client.BulkRead(ctx, pair[0], chunk)
			if err != nil {
				return fmt.Errorf("%w: bulk-read: %v", ErrTransient, err)
			}
			if err := dc.client.BulkWrite(ctx, pair[1], blobs); err != nil {
				return fmt.Errorf("%w: bulk-write: %v", ErrTransient, err)
			}
			var n int64
			for _, b := range blobs {
				n += int64(len(b))
			}
			dc.ctx.Monitor.AddTransferred(TypeDC, int64(len(chunk)))
			dc.ctx.Monitor.AddBytes(TypeDC, n)
		}
	}
	return nil
}
