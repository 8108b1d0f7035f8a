package store

import (
	"context"
	"fmt"
	"testing"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"

	"github.com/showgrid/showgrid/pkg/errors"
	"github.com/showgrid/showgrid/pkg/types"
)

// TestKVBackend_PutGetDelete tests the basic record operations
func TestKVBackend_PutGetDelete(t *testing.T) {
	kv := NewKVBackend(nil, nil)
	defer kv.Close()
	ctx := context.Background()

	if err := kv.Put(ctx, "movie:603", []byte("matrix")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	value, ok, err := kv.Get(ctx, "movie:603")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || string(value) != "matrix" {
		t.Errorf("expected matrix, got %q (ok=%v)", value, ok)
	}

	if _, ok, _ := kv.Get(ctx, "movie:0"); ok {
		t.Error("expected miss for absent key")
	}

	if err := kv.Delete(ctx, "movie:603"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "movie:603"); ok {
		t.Error("deleted key should be gone")
	}
}

// TestKVBackend_ValueCap tests the size cap on fallback records
func TestKVBackend_ValueCap(t *testing.T) {
	kv := NewKVBackend(&KVConfig{MaxValueSize: 10}, nil)
	defer kv.Close()

	err := kv.Put(context.Background(), "movie:1", make([]byte, 11))
	if err == nil {
		t.Fatal("expected oversized value to be rejected")
	}
	if errors.Code(err) != errors.ErrCodeValueTooLarge {
		t.Errorf("expected VALUE_TOO_LARGE, got %s", errors.Code(err))
	}

	if err := kv.Put(context.Background(), "movie:1", make([]byte, 10)); err != nil {
		t.Errorf("value at the cap should be accepted: %v", err)
	}
}

// TestKVBackend_Namespace tests that records live under the versioned
// cache prefix in the underlying datastore
func TestKVBackend_Namespace(t *testing.T) {
	child := dssync.MutexWrap(ds.NewMapDatastore())
	kv := NewKVBackend(nil, child)
	ctx := context.Background()

	if err := kv.Put(ctx, "movie:603", []byte("matrix")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	raw := fmt.Sprintf("/showgrid/cache/v%d/movie:603", types.SchemaVersion)
	value, err := child.Get(ctx, ds.NewKey(raw))
	if err != nil {
		t.Fatalf("expected record under %s: %v", raw, err)
	}
	if string(value) != "matrix" {
		t.Errorf("expected matrix under namespaced key, got %q", value)
	}
}

// TestKVBackend_KeysAndClear tests listing and wiping the namespace
func TestKVBackend_KeysAndClear(t *testing.T) {
	kv := NewKVBackend(nil, nil)
	defer kv.Close()
	ctx := context.Background()

	for _, key := range []string{"movie:1", "tv:2", "list:trending"} {
		if err := kv.Put(ctx, key, []byte("x")); err != nil {
			t.Fatalf("Put %s failed: %v", key, err)
		}
	}

	keys, err := kv.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("expected 3 keys, got %d: %v", len(keys), keys)
	}
	for _, key := range keys {
		if key == "" || key[0] == '/' {
			t.Errorf("keys should be returned without the datastore prefix, got %q", key)
		}
	}

	if err := kv.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	keys, err = kv.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys after clear failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected empty namespace after clear, got %v", keys)
	}
}
