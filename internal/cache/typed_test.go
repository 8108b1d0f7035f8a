package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/showgrid/showgrid/pkg/errors"
)

type movieRecord struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
}

// TestTypedSetGet tests the typed round trip through the orchestrator
func TestTypedSetGet(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	want := movieRecord{Title: "Heat", Year: 1995}
	if err := Set(ctx, o, "movie:949", want, Options{Class: TTLMedium}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok := Get[movieRecord](ctx, o, "movie:949", Options{})
	if !ok {
		t.Fatal("expected typed hit")
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

// TestTypedGetMiss tests that an absent key reports a zero value
func TestTypedGetMiss(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)

	got, ok := Get[movieRecord](context.Background(), o, "movie:404", Options{})
	if ok {
		t.Fatal("expected miss")
	}
	if got != (movieRecord{}) {
		t.Errorf("expected zero value, got %+v", got)
	}
}

// TestTypedGetShapeMismatch tests that a payload of the wrong shape is a
// miss rather than an error
func TestTypedGetShapeMismatch(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	o.Set(ctx, "movie:949", json.RawMessage(`["not","an","object"]`), Options{})

	if _, ok := Get[movieRecord](ctx, o, "movie:949", Options{}); ok {
		t.Fatal("expected shape mismatch to read as a miss")
	}

	// The raw record is untouched and still readable.
	if _, ok := o.Get(ctx, "movie:949", Options{}); !ok {
		t.Fatal("raw record should survive a typed shape mismatch")
	}
}

// TestTypedSetUnencodable tests that an unencodable value fails cleanly
func TestTypedSetUnencodable(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	err := Set(ctx, o, "movie:949", make(chan int), Options{})
	if err == nil {
		t.Fatal("expected encode failure")
	}
	if errors.Code(err) != errors.ErrCodeInternalError {
		t.Errorf("expected INTERNAL_ERROR, got %s", errors.Code(err))
	}
	if _, ok := o.Get(ctx, "movie:949", Options{}); ok {
		t.Error("nothing should be cached after an encode failure")
	}
}

// TestTypedGetSWR tests the decode path over stale-while-revalidate
func TestTypedGetSWR(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	ctx := context.Background()

	var calls int32
	fetch := fetchReturning(&calls, `{"title":"Alien","year":1979}`, nil)

	got, err := GetSWR[movieRecord](ctx, o, "movie:348", Options{Class: TTLMedium}, time.Minute, fetch)
	if err != nil {
		t.Fatalf("GetSWR failed: %v", err)
	}
	if got.Title != "Alien" || got.Year != 1979 {
		t.Errorf("got %+v", got)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected 1 fetch, got %d", n)
	}

	// Fresh entry, no second fetch.
	if _, err := GetSWR[movieRecord](ctx, o, "movie:348", Options{Class: TTLMedium}, time.Minute, fetch); err != nil {
		t.Fatalf("GetSWR failed: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected fetch count to stay at 1, got %d", n)
	}
}

// TestTypedGetSWRShapeMismatch tests that a fetched payload of the wrong
// shape surfaces as an error
func TestTypedGetSWRShapeMismatch(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)

	var calls int32
	fetch := fetchReturning(&calls, `[1,2,3]`, nil)

	_, err := GetSWR[movieRecord](context.Background(), o, "movie:348", Options{}, time.Minute, fetch)
	if err == nil {
		t.Fatal("expected decode failure")
	}
	if errors.Code(err) != errors.ErrCodeCorruptRecord {
		t.Errorf("expected CORRUPT_RECORD, got %s", errors.Code(err))
	}
}
