package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/showgrid/showgrid/pkg/errors"
)

// TestBoltBackend_OpenCreatesDirectory tests lazy open and directory setup
func TestBoltBackend_OpenCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	b := NewBoltBackend(&BoltConfig{Directory: dir})
	defer b.Close()

	if b.Ready() {
		t.Error("backend should not be ready before Open")
	}

	if err := b.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !b.Ready() {
		t.Error("backend should be ready after Open")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("store directory was not created: %v", err)
	}
}

// TestBoltBackend_PutGetDelete tests the basic record operations
func TestBoltBackend_PutGetDelete(t *testing.T) {
	b := NewBoltBackend(&BoltConfig{Directory: t.TempDir()})
	defer b.Close()
	ctx := context.Background()

	if err := b.Put(ctx, "movie:603", []byte("matrix")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	value, ok, err := b.Get(ctx, "movie:603")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || string(value) != "matrix" {
		t.Errorf("expected matrix, got %q (ok=%v)", value, ok)
	}

	if _, ok, _ := b.Get(ctx, "movie:0"); ok {
		t.Error("expected miss for absent key")
	}

	if err := b.Delete(ctx, "movie:603"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := b.Get(ctx, "movie:603"); ok {
		t.Error("deleted key should be gone")
	}
}

// TestBoltBackend_Keys tests key listing
func TestBoltBackend_Keys(t *testing.T) {
	b := NewBoltBackend(&BoltConfig{Directory: t.TempDir()})
	defer b.Close()
	ctx := context.Background()

	for _, key := range []string{"movie:1", "movie:2", "tv:3"} {
		if err := b.Put(ctx, key, []byte("x")); err != nil {
			t.Fatalf("Put %s failed: %v", key, err)
		}
	}

	keys, err := b.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	if len(keys) != 3 {
		t.Errorf("expected 3 keys, got %d: %v", len(keys), keys)
	}
}

// TestBoltBackend_Clear tests bucket reset
func TestBoltBackend_Clear(t *testing.T) {
	b := NewBoltBackend(&BoltConfig{Directory: t.TempDir()})
	defer b.Close()
	ctx := context.Background()

	b.Put(ctx, "movie:1", []byte("x"))
	b.Put(ctx, "movie:2", []byte("y"))

	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	keys, err := b.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys after clear failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected empty store after clear, got %v", keys)
	}

	// The bucket must still accept writes.
	if err := b.Put(ctx, "movie:3", []byte("z")); err != nil {
		t.Errorf("Put after clear failed: %v", err)
	}
}

// TestBoltBackend_UnavailableDirectory tests the permanent-failure path
func TestBoltBackend_UnavailableDirectory(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatalf("failed to create blocker file: %v", err)
	}

	b := NewBoltBackend(&BoltConfig{Directory: filepath.Join(blocker, "store")})
	ctx := context.Background()

	err := b.Open(ctx)
	if err == nil {
		t.Fatal("expected Open to fail")
	}
	if errors.Code(err) != errors.ErrCodeStorageUnavailable {
		t.Errorf("expected STORAGE_UNAVAILABLE, got %s", errors.Code(err))
	}
	if b.Available(ctx) {
		t.Error("backend should report unavailable")
	}

	// Every operation surfaces the remembered open error.
	if _, _, err := b.Get(ctx, "movie:1"); err == nil {
		t.Error("Get should fail on unavailable backend")
	}
	if err := b.Put(ctx, "movie:1", []byte("x")); err == nil {
		t.Error("Put should fail on unavailable backend")
	}
}

// TestBoltBackend_Quota tests the size watermark
func TestBoltBackend_Quota(t *testing.T) {
	b := NewBoltBackend(&BoltConfig{Directory: t.TempDir(), QuotaBytes: 1})
	defer b.Close()

	err := b.Put(context.Background(), "movie:1", []byte("x"))
	if err == nil {
		t.Fatal("expected quota error")
	}
	if !errors.IsQuotaExceeded(err) {
		t.Errorf("expected QUOTA_EXCEEDED, got %s", errors.Code(err))
	}
}

// TestBoltBackend_PersistsAcrossReopen tests durability across handles
func TestBoltBackend_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b1 := NewBoltBackend(&BoltConfig{Directory: dir})
	if err := b1.Put(ctx, "movie:120", []byte("lotr")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := b1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b2 := NewBoltBackend(&BoltConfig{Directory: dir})
	defer b2.Close()

	value, ok, err := b2.Get(ctx, "movie:120")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if !ok || string(value) != "lotr" {
		t.Errorf("expected lotr after reopen, got %q (ok=%v)", value, ok)
	}
}
