package recovery

import (
	"context"
	"testing"

	"github.com/ringkv/ringstore/blob"
)

func newTestContext(t *testing.T, batchSize int) *Context {
	t.Helper()
	return &Context{
		Mode:       "merge",
		BatchSize:  batchSize,
		NProcess:   2,
		TmpDirTmpl: t.TempDir(),
		Monitor:    NewMonitor(0),
	}
}

// TestMergeCoordinatorTransfersStaleAndMissingKeys exercises scenario 5's
// shape end-to-end through a real *blob.DB pair instead of bare Records:
// only the remote holds k1, and only the local node holds k2; only k2
// needs to move (merge-diff sends only local keys, and k1 is not one —
// the remote is already current for it).
func TestMergeCoordinatorTransfersStaleAndMissingKeys(t *testing.T) {
	local := openTestNode(t)
	remote := openTestNode(t)

	k1, k2 := rtID(1), rtID(2)
	mustWrite(t, remote, k1, "remote-v1")
	mustWrite(t, local, k2, "local-only")

	client := newMemClient(map[string]*blob.DB{"local": local, "remote": remote})

	rt := NewRouteTable([]RouteEntry{
		{RangeStart: rtID(0), Address: "local", GroupID: 1},
	})

	ctx := newTestContext(t, 1024)
	ctx.Routes = rt
	ctx.Groups = []uint32{1}

	mc := NewMergeCoordinator(ctx, client, "local")
	ranges := mc.Plan()
	if len(ranges) != 1 {
		t.Fatalf("Plan() = %d ranges, want 1", len(ranges))
	}
	ranges[0].Address = "remote"

	res := mc.runOne(context.Background(), ranges[0], t.TempDir())
	if res.Err != nil {
		t.Fatalf("runOne: %v", res.Err)
	}
	if res.State != StateDone {
		t.Fatalf("state = %v, want DONE", res.State)
	}

	found := false
	for _, id := range res.Transfers {
		if id == k2 {
			found = true
		}
		if id == k1 {
			t.Errorf("k1 should not be in the transfer set (remote already current)")
		}
	}
	if !found {
		t.Errorf("expected k2 in transfer set, got %v", res.Transfers)
	}

	data, err := remote.ReadFull(k2)
	if err != nil || string(data) != "local-only" {
		t.Errorf("remote did not receive k2: data=%q err=%v", data, err)
	}
}

func TestMergeCoordinatorDryRunAppliesNothing(t *testing.T) {
	local := openTestNode(t)
	remote := openTestNode(t)
	k1 := rtID(1)
	mustWrite(t, local, k1, "v1")

	client := newMemClient(map[string]*blob.DB{"local": local, "remote": remote})
	ctx := newTestContext(t, 1024)
	ctx.DryRun = true

	mc := NewMergeCoordinator(ctx, client, "local")
	r := Range{Start: rtID(0), End: func() blob.Identifier { var e blob.Identifier; e[0] = 0xff; return e }(), Address: "remote"}

	res := mc.runOne(context.Background(), r, t.TempDir())
	if res.Err != nil {
		t.Fatalf("runOne: %v", res.Err)
	}
	if len(res.Transfers) != 1 {
		t.Fatalf("transfers = %v, want 1 entry", res.Transfers)
	}
	if _, err := remote.ReadFull(k1); err == nil {
		t.Errorf("dry-run must not apply the transfer")
	}
}

func mustWrite(t *testing.T, db *blob.DB, id blob.Identifier, payload string) {
	t.Helper()
	if err := db.WriteFull(id, []byte(payload)); err != nil {
		t.Fatalf("WriteFull: %v", err)
	}
}
