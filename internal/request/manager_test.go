package request

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/showgrid/showgrid/pkg/errors"
	"github.com/showgrid/showgrid/pkg/types"
)

func newTestManager(t *testing.T, config *ManagerConfig) *Manager {
	t.Helper()

	m := NewManager(config)
	t.Cleanup(func() { m.Close() })

	return m
}

// countingFetch returns data and counts how many times it actually ran
func countingFetch(calls *int32, data string) types.FetchFunc {
	return func(ctx context.Context) (json.RawMessage, error) {
		atomic.AddInt32(calls, 1)
		return json.RawMessage(data), nil
	}
}

// blockingFetch parks until release closes or the request is cancelled
func blockingFetch(release <-chan struct{}, data string) types.FetchFunc {
	return func(ctx context.Context) (json.RawMessage, error) {
		select {
		case <-release:
			return json.RawMessage(data), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func pollUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestNewManager tests manager creation with defaults
func TestNewManager(t *testing.T) {
	m := newTestManager(t, nil)

	if m.config.MaxConcurrent != 6 {
		t.Errorf("expected default concurrency 6, got %d", m.config.MaxConcurrent)
	}
	if m.config.MaxQueued != 200 {
		t.Errorf("expected default backlog 200, got %d", m.config.MaxQueued)
	}
	if m.config.ResultTTL != 30*time.Second {
		t.Errorf("expected default result TTL 30s, got %v", m.config.ResultTTL)
	}
}

// TestManager_Fetch tests the direct fetch path
func TestManager_Fetch(t *testing.T) {
	m := newTestManager(t, nil)

	var calls int32
	got, err := m.Fetch(context.Background(), "movie:603", countingFetch(&calls, `{"title":"The Matrix"}`), types.PriorityHigh)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(got) != `{"title":"The Matrix"}` {
		t.Errorf("unexpected data: %s", got)
	}

	stats := m.Stats()
	if stats.Completed != 1 {
		t.Errorf("expected 1 completed, got %d", stats.Completed)
	}
	if stats.InFlight != 0 {
		t.Errorf("expected 0 in flight after settle, got %d", stats.InFlight)
	}
}

// TestManager_DedupConcurrentFetches tests that identical concurrent
// fetches collapse to one underlying call
func TestManager_DedupConcurrentFetches(t *testing.T) {
	m := newTestManager(t, nil)

	var calls int32
	slow := func(ctx context.Context) (json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return json.RawMessage(`{"id":42}`), nil
	}

	var wg sync.WaitGroup
	results := make([]json.RawMessage, 10)
	wg.Add(10)
	for i := 0; i < 10; i++ {
		go func(idx int) {
			defer wg.Done()
			data, err := m.Fetch(context.Background(), "movie:42", slow, types.PriorityNormal)
			if err != nil {
				t.Errorf("Fetch failed: %v", err)
				return
			}
			results[idx] = data
		}(i)
	}
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected 1 underlying call, got %d", n)
	}
	for i, data := range results {
		if string(data) != `{"id":42}` {
			t.Errorf("caller %d got %s", i, data)
		}
	}
	if joins := m.Stats().DedupJoins; joins != 9 {
		t.Errorf("expected 9 dedup joins, got %d", joins)
	}
}

// TestManager_ResultCache tests that a fresh completed answer short-circuits
// a repeat request
func TestManager_ResultCache(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	var calls int32
	fn := countingFetch(&calls, `{"id":7}`)

	if _, err := m.Fetch(ctx, "movie:7", fn, types.PriorityNormal); err != nil {
		t.Fatalf("first Fetch failed: %v", err)
	}
	got, err := m.Fetch(ctx, "movie:7", fn, types.PriorityNormal)
	if err != nil {
		t.Fatalf("second Fetch failed: %v", err)
	}
	if string(got) != `{"id":7}` {
		t.Errorf("unexpected data: %s", got)
	}

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected cached answer, got %d calls", n)
	}
	if hits := m.Stats().ResultCacheHits; hits != 1 {
		t.Errorf("expected 1 result cache hit, got %d", hits)
	}
}

// TestManager_ResultCacheExpiry tests that stale answers refetch
func TestManager_ResultCacheExpiry(t *testing.T) {
	m := newTestManager(t, &ManagerConfig{ResultTTL: 50 * time.Millisecond})
	ctx := context.Background()

	var calls int32
	fn := countingFetch(&calls, `{"id":7}`)

	if _, err := m.Fetch(ctx, "movie:7", fn, types.PriorityNormal); err != nil {
		t.Fatalf("first Fetch failed: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if _, err := m.Fetch(ctx, "movie:7", fn, types.PriorityNormal); err != nil {
		t.Fatalf("second Fetch failed: %v", err)
	}

	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("expected refetch after TTL, got %d calls", n)
	}
}

// TestManager_NoNegativeCaching tests that failures are never cached and
// an immediate retry runs the fetch again
func TestManager_NoNegativeCaching(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	var calls int32
	flaky := func(fctx context.Context) (json.RawMessage, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.NewError(errors.ErrCodeNetworkError, "timeout")
		}
		return json.RawMessage(`{"id":9}`), nil
	}

	_, err := m.Fetch(ctx, "movie:9", flaky, types.PriorityNormal)
	if err == nil {
		t.Fatal("expected first fetch to fail")
	}
	if errors.Code(err) != errors.ErrCodeFetchFailed {
		t.Errorf("expected FETCH_FAILED wrapper, got %s", errors.Code(err))
	}

	got, err := m.Fetch(ctx, "movie:9", flaky, types.PriorityNormal)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if string(got) != `{"id":9}` {
		t.Errorf("unexpected retry data: %s", got)
	}

	stats := m.Stats()
	if stats.Failed != 1 || stats.Completed != 1 {
		t.Errorf("expected 1 failed and 1 completed, got %d/%d", stats.Failed, stats.Completed)
	}
}

// TestManager_Queue tests the queued path end to end
func TestManager_Queue(t *testing.T) {
	m := newTestManager(t, nil)

	var calls int32
	ch := m.Queue(context.Background(), "movie:603", countingFetch(&calls, `{"id":603}`), types.PriorityLow)

	select {
	case res := <-ch:
		if res.Err != nil {
			t.Fatalf("queued request failed: %v", res.Err)
		}
		if string(res.Data) != `{"id":603}` {
			t.Errorf("unexpected data: %s", res.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued result never arrived")
	}
}

// TestManager_QueueJoinsExistingFlight tests dedup across the queued path
func TestManager_QueueJoinsExistingFlight(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	release := make(chan struct{})
	ch1 := m.Queue(ctx, "movie:603", blockingFetch(release, `{"id":603}`), types.PriorityNormal)
	pollUntil(t, func() bool { return m.Stats().InFlight == 1 }, "first request never started")

	ch2 := m.Queue(ctx, "movie:603", blockingFetch(release, `{"other":true}`), types.PriorityNormal)
	if joins := m.Stats().DedupJoins; joins != 1 {
		t.Errorf("expected 1 dedup join, got %d", joins)
	}

	close(release)
	for i, ch := range []<-chan Result{ch1, ch2} {
		select {
		case res := <-ch:
			if res.Err != nil {
				t.Fatalf("waiter %d failed: %v", i, res.Err)
			}
			if string(res.Data) != `{"id":603}` {
				t.Errorf("waiter %d got %s", i, res.Data)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("waiter %d never got a result", i)
		}
	}
}

// TestManager_ConcurrencyCeiling tests that the backlog drains at most
// MaxConcurrent at a time and a freed slot admits the next item
func TestManager_ConcurrencyCeiling(t *testing.T) {
	m := newTestManager(t, &ManagerConfig{MaxConcurrent: 2})
	ctx := context.Background()

	release := make(chan struct{})
	chans := make([]<-chan Result, 5)
	for i := 0; i < 5; i++ {
		key := "movie:" + string(rune('a'+i))
		chans[i] = m.Queue(ctx, key, blockingFetch(release, `{}`), types.PriorityNormal)
	}

	pollUntil(t, func() bool { return m.Stats().InFlight == 2 }, "ceiling never filled")
	if queued := m.Stats().Queued; queued != 3 {
		t.Errorf("expected 3 queued behind the ceiling, got %d", queued)
	}

	close(release)
	for i, ch := range chans {
		select {
		case res := <-ch:
			if res.Err != nil {
				t.Errorf("request %d failed: %v", i, res.Err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("request %d never completed", i)
		}
	}
	if completed := m.Stats().Completed; completed != 5 {
		t.Errorf("expected 5 completed, got %d", completed)
	}
}

// TestManager_PriorityOrder tests highest-band-first draining with FIFO
// inside a band
func TestManager_PriorityOrder(t *testing.T) {
	m := newTestManager(t, &ManagerConfig{MaxConcurrent: 1})
	ctx := context.Background()

	// Occupy the only slot so the rest stack up in the backlog.
	hold := make(chan struct{})
	holdCh := m.Queue(ctx, "hold", blockingFetch(hold, `{}`), types.PriorityCritical)
	pollUntil(t, func() bool { return m.Stats().InFlight == 1 }, "holder never started")

	var mu sync.Mutex
	var order []string
	recording := func(key string) types.FetchFunc {
		return func(fctx context.Context) (json.RawMessage, error) {
			mu.Lock()
			order = append(order, key)
			mu.Unlock()
			return json.RawMessage(`{}`), nil
		}
	}

	chans := []<-chan Result{
		m.Queue(ctx, "bg", recording("bg"), types.PriorityBackground),
		m.Queue(ctx, "n1", recording("n1"), types.PriorityNormal),
		m.Queue(ctx, "n2", recording("n2"), types.PriorityNormal),
		m.Queue(ctx, "cr", recording("cr"), types.PriorityCritical),
	}

	close(hold)
	<-holdCh
	for i, ch := range chans {
		select {
		case res := <-ch:
			if res.Err != nil {
				t.Errorf("request %d failed: %v", i, res.Err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("request %d never completed", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"cr", "n1", "n2", "bg"}
	if len(order) != len(want) {
		t.Fatalf("expected %d executions, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected drain order %v, got %v", want, order)
		}
	}
}

// TestManager_QueueFull tests backlog capping
func TestManager_QueueFull(t *testing.T) {
	m := newTestManager(t, &ManagerConfig{MaxConcurrent: 1, MaxQueued: 2})
	ctx := context.Background()

	hold := make(chan struct{})
	defer close(hold)
	m.Queue(ctx, "hold", blockingFetch(hold, `{}`), types.PriorityCritical)
	pollUntil(t, func() bool { return m.Stats().InFlight == 1 }, "holder never started")

	m.Queue(ctx, "movie:1", blockingFetch(hold, `{}`), types.PriorityNormal)
	m.Queue(ctx, "movie:2", blockingFetch(hold, `{}`), types.PriorityNormal)

	ch := m.Queue(ctx, "movie:3", blockingFetch(hold, `{}`), types.PriorityNormal)
	select {
	case res := <-ch:
		if res.Err == nil {
			t.Fatal("expected rejection on a full backlog")
		}
		if errors.Code(res.Err) != errors.ErrCodeQueueFull {
			t.Errorf("expected QUEUE_FULL, got %s", errors.Code(res.Err))
		}
	case <-time.After(time.Second):
		t.Fatal("rejection never delivered")
	}
}

// TestManager_Cancel tests single-key cancellation
func TestManager_Cancel(t *testing.T) {
	m := newTestManager(t, nil)

	release := make(chan struct{})
	defer close(release)

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Fetch(context.Background(), "movie:603", blockingFetch(release, `{}`), types.PriorityNormal)
		errCh <- err
	}()
	pollUntil(t, func() bool { return m.Stats().InFlight == 1 }, "fetch never started")

	m.Cancel("movie:603")

	select {
	case err := <-errCh:
		if !errors.IsCancelled(err) {
			t.Errorf("expected cancellation error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never released")
	}
	if cancelled := m.Stats().Cancelled; cancelled != 1 {
		t.Errorf("expected 1 cancelled, got %d", cancelled)
	}
}

// TestManager_CancelBelow tests priority-threshold cancellation
func TestManager_CancelBelow(t *testing.T) {
	m := newTestManager(t, nil)

	release := make(chan struct{})

	keys := map[string]types.Priority{
		"critical": types.PriorityCritical,
		"high":     types.PriorityHigh,
		"normal":   types.PriorityNormal,
		"low":      types.PriorityLow,
	}
	var mu sync.Mutex
	errs := make(map[string]error)
	var wg sync.WaitGroup
	for key, prio := range keys {
		wg.Add(1)
		go func(key string, prio types.Priority) {
			defer wg.Done()
			_, err := m.Fetch(context.Background(), key, blockingFetch(release, `{}`), prio)
			mu.Lock()
			errs[key] = err
			mu.Unlock()
		}(key, prio)
	}
	pollUntil(t, func() bool { return m.Stats().InFlight == 4 }, "fetches never started")

	m.CancelBelow(types.PriorityHigh)

	pollUntil(t, func() bool { return m.Stats().Cancelled == 2 }, "cancellations never recorded")
	if inFlight := m.Stats().InFlight; inFlight != 2 {
		t.Errorf("expected critical and high to remain, got %d in flight", inFlight)
	}

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for _, key := range []string{"normal", "low"} {
		if !errors.IsCancelled(errs[key]) {
			t.Errorf("expected %s to be cancelled, got %v", key, errs[key])
		}
	}
	for _, key := range []string{"critical", "high"} {
		if errs[key] != nil {
			t.Errorf("expected %s to survive, got %v", key, errs[key])
		}
	}
}

// TestManager_SetUserIntent tests intent-tag cancellation
func TestManager_SetUserIntent(t *testing.T) {
	m := newTestManager(t, nil)

	release := make(chan struct{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	errs := make(map[string]error)
	start := func(key string, prio types.Priority) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Fetch(context.Background(), key, blockingFetch(release, `{}`), prio)
			mu.Lock()
			errs[key] = err
			mu.Unlock()
		}()
	}
	start("movie:1", types.PriorityNormal)
	start("tv:9", types.PriorityNormal)
	start("tv:11", types.PriorityCritical)
	pollUntil(t, func() bool { return m.Stats().InFlight == 3 }, "fetches never started")

	m.SetUserIntent("movie")

	pollUntil(t, func() bool { return m.Stats().Cancelled == 1 }, "cancellation never recorded")

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if !errors.IsCancelled(errs["tv:9"]) {
		t.Errorf("expected tv:9 cancelled off intent, got %v", errs["tv:9"])
	}
	if errs["movie:1"] != nil {
		t.Errorf("expected movie:1 to survive, got %v", errs["movie:1"])
	}
	if errs["tv:11"] != nil {
		t.Errorf("expected critical tv:11 to survive, got %v", errs["tv:11"])
	}
}

// TestManager_CancelledFetchCachesNothing tests that a fetch finishing
// after cancellation writes no result
func TestManager_CancelledFetchCachesNothing(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	// This fetch ignores its context and returns data anyway.
	release := make(chan struct{})
	var calls int32
	stubborn := func(fctx context.Context) (json.RawMessage, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return json.RawMessage(`{"late":true}`), nil
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Fetch(ctx, "movie:7", stubborn, types.PriorityNormal)
		errCh <- err
	}()
	pollUntil(t, func() bool { return m.Stats().InFlight == 1 }, "fetch never started")

	m.Cancel("movie:7")
	if err := <-errCh; !errors.IsCancelled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	close(release)
	pollUntil(t, func() bool { return m.Stats().InFlight == 0 }, "stubborn fetch never drained")

	// The late result must not satisfy this fetch from the result cache.
	var retryCalls int32
	got, err := m.Fetch(ctx, "movie:7", countingFetch(&retryCalls, `{"fresh":true}`), types.PriorityNormal)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if string(got) != `{"fresh":true}` {
		t.Errorf("expected a fresh fetch, got %s", got)
	}
	if n := atomic.LoadInt32(&retryCalls); n != 1 {
		t.Errorf("expected retry to run, got %d calls", n)
	}
}

// TestManager_FetchAbandonLeavesFlight tests that a caller timing out
// does not kill the shared fetch
func TestManager_FetchAbandonLeavesFlight(t *testing.T) {
	m := newTestManager(t, nil)

	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Fetch(ctx, "movie:603", blockingFetch(release, `{"id":603}`), types.PriorityNormal)
		errCh <- err
	}()
	pollUntil(t, func() bool { return m.Stats().InFlight == 1 }, "fetch never started")

	cancel()
	if err := <-errCh; err != context.Canceled {
		t.Fatalf("expected caller context error, got %v", err)
	}

	// The flight itself is still live and settles normally.
	close(release)
	pollUntil(t, func() bool { return m.Stats().Completed == 1 }, "abandoned flight never completed")
}

// TestManager_FetchPromotesQueuedFlight tests that a direct fetch for a
// backlogged key starts it without waiting for a slot
func TestManager_FetchPromotesQueuedFlight(t *testing.T) {
	m := newTestManager(t, &ManagerConfig{MaxConcurrent: 1})
	ctx := context.Background()

	hold := make(chan struct{})
	m.Queue(ctx, "hold", blockingFetch(hold, `{}`), types.PriorityCritical)
	pollUntil(t, func() bool { return m.Stats().InFlight == 1 }, "holder never started")

	var calls int32
	m.Queue(ctx, "movie:9", countingFetch(&calls, `{"id":9}`), types.PriorityBackground)
	pollUntil(t, func() bool { return m.Stats().Queued == 1 }, "request never queued")

	var joinCalls int32
	got, err := m.Fetch(ctx, "movie:9", countingFetch(&joinCalls, `{"other":true}`), types.PriorityHigh)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(got) != `{"id":9}` {
		t.Errorf("expected the queued flight's data, got %s", got)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected the queued fetch to run once, got %d", n)
	}
	if n := atomic.LoadInt32(&joinCalls); n != 0 {
		t.Errorf("joining fetch function should not run, got %d calls", n)
	}
	if joins := m.Stats().DedupJoins; joins != 1 {
		t.Errorf("expected 1 dedup join, got %d", joins)
	}

	close(hold)
}

// TestManager_Close tests shutdown with pending work
func TestManager_Close(t *testing.T) {
	m := NewManager(nil)

	release := make(chan struct{})
	defer close(release)

	ch := m.Queue(context.Background(), "movie:603", blockingFetch(release, `{}`), types.PriorityNormal)
	pollUntil(t, func() bool { return m.Stats().InFlight == 1 }, "request never started")

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case res := <-ch:
		if !errors.IsCancelled(res.Err) {
			t.Errorf("expected cancellation on close, got %v", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never released on close")
	}

	// Requests after close are rejected.
	_, err := m.Fetch(context.Background(), "movie:1", countingFetch(new(int32), `{}`), types.PriorityNormal)
	if errors.Code(err) != errors.ErrCodeComponentStopped {
		t.Errorf("expected COMPONENT_STOPPED after close, got %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
