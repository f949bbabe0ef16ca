package recovery

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestMonitorSnapshotReflectsCounters(t *testing.T) {
	m := NewMonitor(0)
	m.AddIterated(TypeMerge, 10)
	m.AddDiff(TypeMerge, 4)
	m.AddTransferred(TypeMerge, 3)
	m.AddBytes(TypeMerge, 2048)
	m.AddFailed(TypeDC, 1)

	snap := m.Snapshot()
	if !strings.Contains(snap, "[merge]") || !strings.Contains(snap, "[dc]") {
		t.Fatalf("snapshot missing section headers: %s", snap)
	}
	if !strings.Contains(snap, "iterated_keys 10") {
		t.Errorf("snapshot missing iterated_keys: %s", snap)
	}
	if !strings.Contains(snap, "failed_keys 1") {
		t.Errorf("snapshot missing dc failed_keys: %s", snap)
	}
}

func TestMonitorCountersIndependentByType(t *testing.T) {
	m := NewMonitor(0)
	m.AddTransferred(TypeMerge, 5)
	if m.set(TypeDC).transferredKeys.Load() != 0 {
		t.Errorf("dc counters should be unaffected by merge updates")
	}
}

func TestMonitorStartStopNoopWithoutPort(t *testing.T) {
	m := NewMonitor(0)
	if err := m.Start(); err != nil {
		t.Fatalf("Start with port 0 should be a no-op: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop without Start should be a no-op: %v", err)
	}
}

func TestMonitorHTTPEndpointServesSnapshot(t *testing.T) {
	m := NewMonitor(18099)
	m.AddIterated(TypeMerge, 7)
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Stop(ctx)
	}()

	var resp *http.Response
	var err error
	for i := 0; i < 20; i++ {
		resp, err = http.Get("http://127.0.0.1:18099/stats.txt")
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /stats.txt: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "iterated_keys 7") {
		t.Errorf("HTTP body missing counters: %s", body)
	}
}
