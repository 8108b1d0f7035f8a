package prefetch

import (
	"context"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/time/rate"

	"github.com/showgrid/showgrid/internal/request"
	"github.com/showgrid/showgrid/pkg/types"
)

var log = logging.Logger("prefetch")

// completedCap bounds the completed set; overflowing resets it. A reset
// only costs redundant enqueues, which collapse in the request manager.
const completedCap = 4096

// SchedulerConfig represents prefetch scheduler configuration
type SchedulerConfig struct {
	// HoverDelay is the debounce before a hover becomes a prefetch.
	// Doubled while the network reports slow.
	HoverDelay time.Duration `yaml:"hover_delay"`
	// ViewportMargin is the pre-trigger margin, in pixels, UI layers apply
	// to visibility detection.
	ViewportMargin int `yaml:"viewport_margin"`
	// MaxConcurrent bounds prefetches handed to the request manager at once.
	MaxConcurrent int `yaml:"max_concurrent"`
	// MaxQueueSize bounds the decision queue.
	MaxQueueSize int `yaml:"max_queue_size"`
	// DisableOnSlowNetwork drops all prefetching while the network is slow.
	DisableOnSlowNetwork bool `yaml:"disable_on_slow_network"`
	// ReducedPrefetchOnSlow degrades prefetches to essential fields only
	// while the network is slow.
	ReducedPrefetchOnSlow bool `yaml:"reduced_prefetch_on_slow"`
	// AdmitRate and AdmitBurst cap how fast UI signals may enqueue work.
	AdmitRate  float64 `yaml:"admit_rate"`
	AdmitBurst int     `yaml:"admit_burst"`
}

func (c *SchedulerConfig) applyDefaults() {
	if c.HoverDelay <= 0 {
		c.HoverDelay = 200 * time.Millisecond
	}
	if c.ViewportMargin <= 0 {
		c.ViewportMargin = 200
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 2
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 50
	}
	if c.AdmitRate <= 0 {
		c.AdmitRate = 20
	}
	if c.AdmitBurst <= 0 {
		c.AdmitBurst = 10
	}
}

// hoverArm is one armed hover debounce. The generation identifies a
// timer fire after re-hovers replace the timer under the same key.
type hoverArm struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler decides what to prefetch and when. UI signals (hover,
// viewport visibility, explicit requests) become queue decisions; a pump
// hands the best decision to the request manager whenever a prefetch slot
// is free. The scheduler performs no network I/O itself.
type Scheduler struct {
	requests *request.Manager
	fetcher  types.Fetcher
	network  types.NetworkObserver

	mu        sync.Mutex
	config    *SchedulerConfig
	limiter   *rate.Limiter
	pending   map[string]*types.PrefetchItem
	inflight  map[string]struct{}
	completed map[string]struct{}
	hovers    map[string]hoverArm
	hoverSeq  uint64
	viewports map[uint64]string
	attachID  uint64
	running   int
	closed    bool
	stats     types.PrefetchStats

	wakeCh    chan struct{}
	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewScheduler creates a new prefetch scheduler feeding requests
func NewScheduler(config *SchedulerConfig, requests *request.Manager, fetcher types.Fetcher, network types.NetworkObserver) *Scheduler {
	if config == nil {
		config = &SchedulerConfig{ReducedPrefetchOnSlow: true}
	}
	config.applyDefaults()

	s := &Scheduler{
		requests:  requests,
		fetcher:   fetcher,
		network:   network,
		config:    config,
		limiter:   rate.NewLimiter(rate.Limit(config.AdmitRate), config.AdmitBurst),
		pending:   make(map[string]*types.PrefetchItem),
		inflight:  make(map[string]struct{}),
		completed: make(map[string]struct{}),
		hovers:    make(map[string]hoverArm),
		viewports: make(map[uint64]string),
		wakeCh:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.pumpLoop()

	return s
}

// Configure replaces the scheduler's configuration at runtime
func (s *Scheduler) Configure(config *SchedulerConfig) {
	if config == nil {
		return
	}
	config.applyDefaults()

	s.mu.Lock()
	s.config = config
	s.limiter = rate.NewLimiter(rate.Limit(config.AdmitRate), config.AdmitBurst)
	s.mu.Unlock()

	s.wake()
}

// OnHoverStart arms the hover debounce for an item. A hover that survives
// the delay enqueues at Low priority; re-hovering restarts the clock.
func (s *Scheduler) OnHoverStart(id string, kind types.ContentKind) {
	item := types.PrefetchItem{ID: id, Kind: kind}
	key := item.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	delay := s.config.HoverDelay
	if s.status().SlowConnection {
		delay *= 2
	}

	if arm, ok := s.hovers[key]; ok {
		arm.timer.Stop()
	}
	s.hoverSeq++
	gen := s.hoverSeq
	s.hovers[key] = hoverArm{
		timer: time.AfterFunc(delay, func() { s.hoverFire(id, kind, gen) }),
		gen:   gen,
	}
}

// OnHoverEnd disarms the hover debounce. A short hover never fetches.
func (s *Scheduler) OnHoverEnd(id string, kind types.ContentKind) {
	item := types.PrefetchItem{ID: id, Kind: kind}
	key := item.Key()

	s.mu.Lock()
	arm, ok := s.hovers[key]
	delete(s.hovers, key)
	s.mu.Unlock()

	if ok {
		arm.timer.Stop()
	}
}

// Queue enqueues an explicit prefetch decision at the caller's priority
func (s *Scheduler) Queue(id string, kind types.ContentKind, priority types.Priority) {
	s.mu.Lock()
	s.enqueueLocked(id, kind, priority)
	s.mu.Unlock()
}

// Stats returns prefetch scheduler statistics
func (s *Scheduler) Stats() types.PrefetchStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Pending returns the number of queued decisions
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Running returns the number of prefetches handed to the request manager
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Close stops the pump, disarms timers, and abandons queued decisions.
// Prefetches already handed to the request manager are its to finish or
// cancel.
func (s *Scheduler) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for key, arm := range s.hovers {
			arm.timer.Stop()
			delete(s.hovers, key)
		}
		s.pending = make(map[string]*types.PrefetchItem)
		s.mu.Unlock()

		close(s.stopCh)
		s.wg.Wait()
	})

	return nil
}

// Helper methods

// hoverFire runs when a hover outlives the debounce. A fire that lost a
// race with OnHoverEnd or a re-hover carries a stale generation and
// backs off.
func (s *Scheduler) hoverFire(id string, kind types.ContentKind, gen uint64) {
	item := types.PrefetchItem{ID: id, Kind: kind}
	key := item.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.hovers[key].gen != gen {
		return
	}

	delete(s.hovers, key)
	s.stats.HoverTriggers++
	s.enqueueLocked(id, kind, types.PriorityLow)
}

// enqueueLocked is the single admission gate: network policy, dedup
// against completed and in-flight work, upgrade-in-place for queued
// duplicates, queue capacity, and the burst limiter, in that order.
func (s *Scheduler) enqueueLocked(id string, kind types.ContentKind, priority types.Priority) {
	if s.closed {
		return
	}

	status := s.status()
	if status.Offline {
		s.stats.Skipped++
		return
	}
	if status.SlowConnection && s.config.DisableOnSlowNetwork {
		s.stats.SlowNetworkSkips++
		return
	}

	item := &types.PrefetchItem{ID: id, Kind: kind, Priority: priority, QueuedAt: time.Now()}
	key := item.Key()

	if _, done := s.completed[key]; done {
		s.stats.Skipped++
		return
	}
	if _, live := s.inflight[key]; live {
		s.stats.Skipped++
		return
	}

	if existing, ok := s.pending[key]; ok {
		if priority > existing.Priority {
			existing.Priority = priority
			s.stats.Upgraded++
			log.Debugw("upgraded queued prefetch", "key", key, "priority", priority.String())
		} else {
			s.stats.Skipped++
		}
		return
	}

	if len(s.pending) >= s.config.MaxQueueSize {
		s.stats.Skipped++
		return
	}
	if !s.limiter.Allow() {
		s.stats.Skipped++
		return
	}

	s.pending[key] = item
	s.stats.Enqueued++
	s.wake()
}

// status reads the network observer, defaulting to a healthy network when
// none is wired
func (s *Scheduler) status() types.NetworkStatus {
	if s.network == nil {
		return types.NetworkStatus{}
	}
	return s.network.Status()
}

// nextLocked picks the queued decision with the highest priority, oldest
// first within a band
func (s *Scheduler) nextLocked() *types.PrefetchItem {
	var best *types.PrefetchItem
	for _, item := range s.pending {
		if best == nil {
			best = item
			continue
		}
		if item.Priority > best.Priority ||
			(item.Priority == best.Priority && item.QueuedAt.Before(best.QueuedAt)) {
			best = item
		}
	}
	return best
}

// pump hands queued decisions to the request manager while slots are free
func (s *Scheduler) pump() {
	for {
		s.mu.Lock()
		if s.closed || s.running >= s.config.MaxConcurrent {
			s.mu.Unlock()
			return
		}

		item := s.nextLocked()
		if item == nil {
			s.mu.Unlock()
			return
		}

		key := item.Key()
		delete(s.pending, key)
		s.inflight[key] = struct{}{}
		s.running++

		// A reduced prefetch flies under the essential key; a full-detail
		// request for the same item must never join its flight or see its
		// result.
		essential := s.status().SlowConnection && s.config.ReducedPrefetchOnSlow
		requestKey := key
		if essential {
			requestKey = types.EssentialKey(key)
		}
		var fn types.FetchFunc
		if s.fetcher != nil {
			fn = s.fetcher.FetcherFor(item.Kind, item.ID, essential)
		}

		s.wg.Add(1)
		s.mu.Unlock()

		go s.execute(key, requestKey, item, fn)
	}
}

// execute waits out one handed-off prefetch and frees its slot
func (s *Scheduler) execute(key, requestKey string, item *types.PrefetchItem, fn types.FetchFunc) {
	defer s.wg.Done()

	reduced := requestKey != key
	if fn == nil {
		s.finish(key, false, reduced)
		return
	}

	ch := s.requests.Queue(context.Background(), requestKey, fn, item.Priority)
	select {
	case res := <-ch:
		if res.Err != nil {
			log.Debugw("prefetch failed", "key", requestKey, "error", res.Err)
		}
		s.finish(key, res.Err == nil, reduced)
	case <-s.stopCh:
	}
}

// finish frees a prefetch slot. Only full-shape successes enter the
// completed set; a reduced success leaves the item eligible for a full
// prefetch.
func (s *Scheduler) finish(key string, ok, reduced bool) {
	s.mu.Lock()
	delete(s.inflight, key)
	s.running--
	if ok {
		s.stats.Completed++
		if !reduced {
			if len(s.completed) >= completedCap {
				s.completed = make(map[string]struct{})
			}
			s.completed[key] = struct{}{}
		}
	}
	s.mu.Unlock()

	s.wake()
}

func (s *Scheduler) pumpLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.wakeCh:
			s.pump()
		}
	}
}

// wake nudges the pump. The send never blocks, so calling it with mu held
// is safe.
func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}
