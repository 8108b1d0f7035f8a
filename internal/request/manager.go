package request

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/deque"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/semaphore"

	"github.com/showgrid/showgrid/pkg/errors"
	"github.com/showgrid/showgrid/pkg/types"
)

var log = logging.Logger("request")

// ManagerConfig represents request manager configuration
type ManagerConfig struct {
	// MaxConcurrent bounds how many queued requests run at once.
	MaxConcurrent int `yaml:"max_concurrent"`
	// MaxQueued bounds the total backlog across all priority bands.
	MaxQueued int `yaml:"max_queued"`
	// ResultTTL is how long a completed answer satisfies repeat requests.
	ResultTTL time.Duration `yaml:"result_ttl"`
}

// Result carries the outcome of a queued request
type Result struct {
	Data json.RawMessage
	Err  error
}

type flightState int

const (
	stateQueued flightState = iota
	stateRunning
	stateSettled
)

// flight is one pending request. At most one flight exists per key;
// concurrent callers join it and wait on done.
type flight struct {
	key      string
	priority types.Priority
	fn       types.FetchFunc

	state     flightState
	queuedAt  time.Time
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	// data and err are written before done closes and never after.
	done chan struct{}
	data json.RawMessage
	err  error
}

type resultEntry struct {
	data json.RawMessage
	at   time.Time
}

// Manager deduplicates fetches, tracks cancellable in-flight requests by
// key, and drains a five-band priority queue under a concurrency ceiling.
//
// Fetch starts work immediately (user-driven reads never wait behind the
// backlog); Queue enters the banded backlog and runs when a slot frees.
// Both paths share one registry, so a key never has two live fetches.
type Manager struct {
	config *ManagerConfig

	mu      sync.Mutex
	flights map[string]*flight
	bands   [types.PriorityCritical + 1]deque.Deque[*flight]
	results map[string]resultEntry
	queued  int
	running int
	closed  bool

	completed       uint64
	failed          uint64
	cancelled       uint64
	dedupJoins      uint64
	resultCacheHits uint64

	slots  *semaphore.Weighted
	wakeCh chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a new request manager and starts its dispatcher
func NewManager(config *ManagerConfig) *Manager {
	if config == nil {
		config = &ManagerConfig{}
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 6
	}
	if config.MaxQueued <= 0 {
		config.MaxQueued = 200
	}
	if config.ResultTTL <= 0 {
		config.ResultTTL = 30 * time.Second
	}

	m := &Manager{
		config:  config,
		flights: make(map[string]*flight),
		results: make(map[string]resultEntry),
		slots:   semaphore.NewWeighted(int64(config.MaxConcurrent)),
		wakeCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}

	m.wg.Add(1)
	go m.dispatchLoop()

	return m
}

// Fetch returns the value for key, deduplicating against the result cache
// and any in-flight request. A new request starts immediately without
// waiting for a queue slot. ctx cancels only this caller's wait, not the
// underlying fetch, which other callers may have joined.
func (m *Manager) Fetch(ctx context.Context, key string, fn types.FetchFunc, priority types.Priority) (json.RawMessage, error) {
	f, direct := m.admit(key, fn, priority, false)
	if direct != nil {
		return direct.Data, direct.Err
	}

	select {
	case <-f.done:
		return f.data, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Queue adds a request to the priority backlog and returns a channel that
// receives its result. The request runs when a slot frees; duplicates join
// the existing flight. ctx abandons the wait, not the fetch.
func (m *Manager) Queue(ctx context.Context, key string, fn types.FetchFunc, priority types.Priority) <-chan Result {
	ch := make(chan Result, 1)

	f, direct := m.admit(key, fn, priority, true)
	if direct != nil {
		ch <- *direct
		return ch
	}

	go func() {
		defer m.wg.Done()
		select {
		case <-f.done:
			ch <- Result{Data: f.data, Err: f.err}
		case <-ctx.Done():
			ch <- Result{Err: ctx.Err()}
		}
	}()

	return ch
}

// Cancel aborts the pending request for key, if any. Its waiters receive
// errors.ErrRequestCancelled.
func (m *Manager) Cancel(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.flights[key]; ok {
		m.cancelLocked(f)
	}
}

// CancelBelow aborts every pending request with priority strictly below
// priority, queued or started
func (m *Manager) CancelBelow(priority types.Priority) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, f := range m.flights {
		if f.priority < priority {
			m.cancelLocked(f)
			n++
		}
	}

	if n > 0 {
		log.Debugw("cancelled lower priority requests", "below", priority.String(), "count", n)
	}
}

// CancelAll aborts every pending request
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelAllLocked()
}

// SetUserIntent aborts every pending request whose key does not contain
// tag. Critical requests survive; their results are wanted regardless of
// what the user is looking at now.
func (m *Manager) SetUserIntent(tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, f := range m.flights {
		if f.priority == types.PriorityCritical {
			continue
		}
		if strings.Contains(f.key, tag) {
			continue
		}
		m.cancelLocked(f)
		n++
	}

	if n > 0 {
		log.Debugw("cancelled requests off user intent", "tag", tag, "count", n)
	}
}

// Stats returns request manager statistics
func (m *Manager) Stats() types.RequestStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return types.RequestStats{
		InFlight:        m.running,
		Queued:          m.queued,
		Completed:       m.completed,
		Failed:          m.failed,
		Cancelled:       m.cancelled,
		DedupJoins:      m.dedupJoins,
		ResultCacheHits: m.resultCacheHits,
	}
}

// Close cancels all pending requests and stops the dispatcher. Waiters
// receive errors.ErrRequestCancelled.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.cancelAllLocked()
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()

	return nil
}

// Helper methods

// admit resolves a request against the result cache and the in-flight
// registry, creating a new flight only when neither answers. A non-nil
// Result is final; otherwise the caller waits on the returned flight.
func (m *Manager) admit(key string, fn types.FetchFunc, priority types.Priority, queued bool) (*flight, *Result) {
	if !priority.Valid() {
		priority = types.PriorityNormal
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, &Result{Err: errors.NewError(errors.ErrCodeComponentStopped, "request manager closed").
			WithComponent("request").
			WithKey(key)}
	}

	if r, ok := m.results[key]; ok {
		if time.Since(r.at) < m.config.ResultTTL {
			m.resultCacheHits++
			return nil, &Result{Data: r.data}
		}
		delete(m.results, key)
	}

	if f, ok := m.flights[key]; ok {
		m.dedupJoins++
		log.Debugw("joined in-flight request", "key", key)

		// A direct fetch for a still-queued key starts it now. The user
		// asked for this record; it no longer waits for a slot.
		if !queued && f.state == stateQueued {
			m.startLocked(f)
		}

		if queued {
			m.wg.Add(1)
		}
		return f, nil
	}

	if fn == nil {
		return nil, &Result{Err: errors.NewError(errors.ErrCodeFetchFailed, "no fetch function provided").
			WithComponent("request").
			WithKey(key)}
	}

	if queued && m.queued >= m.config.MaxQueued {
		return nil, &Result{Err: errors.NewError(errors.ErrCodeQueueFull, "request backlog full").
			WithComponent("request").
			WithKey(key).
			WithDetail("max_queued", m.config.MaxQueued)}
	}

	fctx, cancel := context.WithCancel(context.Background())
	f := &flight{
		key:      key,
		priority: priority,
		fn:       fn,
		ctx:      fctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		queuedAt: time.Now(),
	}
	m.flights[key] = f

	if queued {
		f.state = stateQueued
		m.queued++
		m.bands[priority].PushBack(f)
		m.wake()
		m.wg.Add(1)
	} else {
		m.startLocked(f)
	}

	return f, nil
}

// startLocked moves a flight to running and launches its fetch without a
// queue slot
func (m *Manager) startLocked(f *flight) {
	if f.state == stateQueued {
		m.queued--
	}
	f.state = stateRunning
	f.startedAt = time.Now()
	m.running++
	m.wg.Add(1)
	go m.run(f, false)
}

// run executes one flight's fetch and settles it. slot marks flights
// admitted from the backlog; their slot is returned when the fetch ends.
func (m *Manager) run(f *flight, slot bool) {
	defer m.wg.Done()

	data, err := f.fn(f.ctx)

	m.mu.Lock()
	switch {
	case f.ctx.Err() != nil:
		m.settleLocked(f, nil, cancelledError(f.key))
	case err != nil:
		m.settleLocked(f, nil, errors.NewError(errors.ErrCodeFetchFailed, "fetch failed").
			WithComponent("request").
			WithKey(f.key).
			WithCause(err))
	default:
		m.settleLocked(f, data, nil)
	}
	m.mu.Unlock()

	if slot {
		m.slots.Release(1)
		m.wake()
	}
}

// settleLocked finishes a flight exactly once: records the outcome,
// clears the registry entry, and releases the waiters. A successful
// result enters the result cache; failures and cancellations never do.
func (m *Manager) settleLocked(f *flight, data json.RawMessage, err error) {
	if f.state == stateSettled {
		return
	}

	if f.state == stateQueued {
		m.queued--
	} else {
		m.running--
	}
	f.state = stateSettled
	delete(m.flights, f.key)

	f.data = data
	f.err = err

	now := time.Now()
	switch {
	case err == nil:
		m.results[f.key] = resultEntry{data: data, at: now}
		m.completed++
	case errors.IsCancelled(err):
		m.cancelled++
	default:
		m.failed++
	}
	m.pruneResultsLocked(now)

	f.cancel()
	close(f.done)
}

// cancelLocked settles a flight with a cancellation error. A started
// fetch keeps draining in the background under its cancelled context and
// cannot write any result once settled.
func (m *Manager) cancelLocked(f *flight) {
	if f.state == stateSettled {
		return
	}
	f.cancel()
	m.settleLocked(f, nil, cancelledError(f.key))
}

func (m *Manager) cancelAllLocked() {
	n := 0
	for _, f := range m.flights {
		m.cancelLocked(f)
		n++
	}
	for i := range m.bands {
		m.bands[i].Clear()
	}

	if n > 0 {
		log.Debugw("cancelled all requests", "count", n)
	}
}

// pruneResultsLocked drops result cache entries past their TTL
func (m *Manager) pruneResultsLocked(now time.Time) {
	for key, r := range m.results {
		if now.Sub(r.at) >= m.config.ResultTTL {
			delete(m.results, key)
		}
	}
}

// nextQueuedLocked pops the oldest entry of the highest non-empty band,
// skipping flights that were promoted or cancelled while queued
func (m *Manager) nextQueuedLocked() *flight {
	for p := types.PriorityCritical; p >= types.PriorityBackground; p-- {
		band := &m.bands[p]
		for band.Len() > 0 {
			f := band.PopFront()
			if f.state == stateQueued {
				return f
			}
		}
	}
	return nil
}

func (m *Manager) dispatch() {
	for m.slots.TryAcquire(1) {
		m.mu.Lock()
		f := m.nextQueuedLocked()
		if f == nil {
			m.mu.Unlock()
			m.slots.Release(1)
			return
		}

		m.queued--
		f.state = stateRunning
		f.startedAt = time.Now()
		m.running++
		m.wg.Add(1)
		m.mu.Unlock()

		go m.run(f, true)
	}
}

func (m *Manager) dispatchLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopCh:
			return
		case <-m.wakeCh:
			m.dispatch()
		}
	}
}

// wake nudges the dispatcher. The send never blocks, so calling it with
// mu held is safe.
func (m *Manager) wake() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}

func cancelledError(key string) *errors.GridError {
	return errors.NewError(errors.ErrCodeRequestCancelled, "request cancelled").
		WithComponent("request").
		WithKey(key)
}
