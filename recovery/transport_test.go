package recovery

import (
	"context"
	"errors"
	"testing"

	"github.com/ringkv/ringstore/blob"
)

func openTestNode(t *testing.T) *blob.DB {
	t.Helper()
	db, err := blob.Open(t.TempDir(), blob.Config{})
	if err != nil {
		t.Fatalf("blob.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMemClientWriteReadDeleteRoundTrip(t *testing.T) {
	db := openTestNode(t)
	client := newMemClient(map[string]*blob.DB{"n1": db})
	ctx := context.Background()

	id := rtID(7)
	if err := client.BulkWrite(ctx, "n1", map[blob.Identifier][]byte{id: []byte("payload")}); err != nil {
		t.Fatalf("BulkWrite: %v", err)
	}

	out, err := client.BulkRead(ctx, "n1", []blob.Identifier{id})
	if err != nil {
		t.Fatalf("BulkRead: %v", err)
	}
	if string(out[id]) != "payload" {
		t.Errorf("BulkRead = %q, want %q", out[id], "payload")
	}

	if err := client.BulkDelete(ctx, "n1", []blob.Identifier{id}); err != nil {
		t.Fatalf("BulkDelete: %v", err)
	}
	if _, err := client.BulkRead(ctx, "n1", []blob.Identifier{id}); err == nil {
		t.Errorf("expected error reading deleted key")
	}
}

func TestMemClientUnknownAddrIsTransient(t *testing.T) {
	client := newMemClient(map[string]*blob.DB{})
	_, err := client.BulkRead(context.Background(), "ghost", nil)
	if err == nil {
		t.Fatal("expected error for unknown node")
	}
	if !errors.Is(err, ErrTransient) {
		t.Errorf("err = %v, want ErrTransient", err)
	}
}

func TestMemClientIterateSortedAndFiltered(t *testing.T) {
	db := openTestNode(t)
	client := newMemClient(map[string]*blob.DB{"n1": db})
	ctx := context.Background()

	ids := []blob.Identifier{rtID(30), rtID(10), rtID(20)}
	for _, id := range ids {
		if err := client.BulkWrite(ctx, "n1", map[blob.Identifier][]byte{id: []byte("x")}); err != nil {
			t.Fatalf("BulkWrite: %v", err)
		}
	}

	var start, end blob.Identifier
	end[0] = 0xff
	recs, err := collect(client.Iterate(ctx, "n1", 0, start, end, 0))
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("len(recs) = %d, want 3", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if !recs[i-1].ID.Less(recs[i].ID) {
			t.Errorf("records not sorted by id: %v", recs)
		}
	}
}
