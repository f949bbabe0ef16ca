package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestWorkerPoolRunsAllUnitsWithIsolatedScratchDirs(t *testing.T) {
	dir := t.TempDir()
	pool := NewWorkerPool(4, dir, nil)

	var mu sync.Mutex
	seenDirs := map[string]bool{}

	units := make([]WorkUnit, 10)
	for i := range units {
		i := i
		units[i] = WorkUnit{
			Label: fmt.Sprintf("unit-%d", i),
			Run: func(ctx context.Context, scratchDir string) error {
				mu.Lock()
				seenDirs[scratchDir] = true
				mu.Unlock()
				return os.WriteFile(filepath.Join(scratchDir, "marker"), []byte("ok"), 0o644)
			},
		}
	}

	results, err := pool.Run(context.Background(), units)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("len(results) = %d, want 10", len(results))
	}
	if len(seenDirs) != 10 {
		t.Errorf("expected 10 distinct scratch dirs, got %d", len(seenDirs))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("unit %s failed: %v", r.Label, r.Err)
		}
	}
}

func TestWorkerPoolUnitFailureDoesNotAbortSiblings(t *testing.T) {
	dir := t.TempDir()
	pool := NewWorkerPool(2, dir, nil)

	boom := errors.New("boom")
	units := []WorkUnit{
		{Label: "a", Run: func(ctx context.Context, scratchDir string) error { return boom }},
		{Label: "b", Run: func(ctx context.Context, scratchDir string) error { return nil }},
	}

	results, err := pool.Run(context.Background(), units)
	if err != nil {
		t.Fatalf("Run should not fail overall on a per-unit error: %v", err)
	}

	byLabel := map[string]UnitResult{}
	for _, r := range results {
		byLabel[r.Label] = r
	}
	if !errors.Is(byLabel["a"].Err, boom) {
		t.Errorf("unit a should report boom, got %v", byLabel["a"].Err)
	}
	if byLabel["b"].Err != nil {
		t.Errorf("unit b should have succeeded, got %v", byLabel["b"].Err)
	}
}

func TestPartitionIsStaticRoundRobin(t *testing.T) {
	units := make([]WorkUnit, 5)
	for i := range units {
		units[i] = WorkUnit{Label: fmt.Sprintf("u%d", i)}
	}
	groups := partition(units, 2)
	if len(groups) != 2 {
		t.Fatalf("len(groups) = %d, want 2", len(groups))
	}
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	if total != 5 {
		t.Errorf("total units across groups = %d, want 5", total)
	}
}
