package cache

import (
	"runtime"
	"sync"
	"time"

	"github.com/showgrid/showgrid/pkg/errors"
)

// PressureConfig represents memory pressure monitor configuration
type PressureConfig struct {
	Enabled        bool          `yaml:"enabled"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	HighWatermark  uint64        `yaml:"high_watermark_bytes"`
	EvictFraction  float64       `yaml:"evict_fraction"`
}

// PressureStats tracks memory pressure monitor statistics
type PressureStats struct {
	Samples        uint64 `json:"samples"`
	Reliefs        uint64 `json:"reliefs"`
	EvictedEntries int    `json:"evicted_entries"`
	LastHeapBytes  uint64 `json:"last_heap_bytes"`
}

// PressureMonitor samples the heap and sheds cache entries when allocation
// crosses the watermark. Expired entries go first; if the heap is still
// high the cold end of the LRU is trimmed by the configured fraction.
type PressureMonitor struct {
	config *PressureConfig
	cache  *MemoryCache

	mu      sync.Mutex
	started bool
	stats   PressureStats

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPressureMonitor creates a new pressure monitor over cache
func NewPressureMonitor(cache *MemoryCache, config *PressureConfig) *PressureMonitor {
	if config == nil {
		config = &PressureConfig{}
	}
	if config.SampleInterval <= 0 {
		config.SampleInterval = 30 * time.Second
	}
	if config.HighWatermark == 0 {
		config.HighWatermark = 512 << 20
	}
	if config.EvictFraction <= 0 || config.EvictFraction > 1 {
		config.EvictFraction = 0.25
	}

	return &PressureMonitor{
		config: config,
		cache:  cache,
		stopCh: make(chan struct{}),
	}
}

// Start starts the sampling loop
func (p *PressureMonitor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "pressure monitor already started").
			WithComponent("cache").
			WithOperation("start")
	}

	p.started = true
	p.wg.Add(1)
	go p.sampleLoop()

	return nil
}

// Stop stops the sampling loop
func (p *PressureMonitor) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
}

// Stats returns monitor statistics
func (p *PressureMonitor) Stats() PressureStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Sample takes one pressure reading and relieves the cache if needed.
// Exposed for tests; the loop calls it on every tick.
func (p *PressureMonitor) Sample() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	p.mu.Lock()
	p.stats.Samples++
	p.stats.LastHeapBytes = m.HeapAlloc
	over := m.HeapAlloc > p.config.HighWatermark
	p.mu.Unlock()

	if over {
		p.relieve()
	}
}

// Helper methods

func (p *PressureMonitor) relieve() {
	evicted := p.cache.EvictExpired()

	target := int(float64(p.cache.Len()) * p.config.EvictFraction)
	if target > 0 {
		evicted += p.cache.EvictOldest(target)
	}

	p.mu.Lock()
	p.stats.Reliefs++
	p.stats.EvictedEntries += evicted
	heap := p.stats.LastHeapBytes
	p.mu.Unlock()

	log.Infow("memory pressure relief", "evicted", evicted, "heap_bytes", heap)
}

func (p *PressureMonitor) sampleLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Sample()
		}
	}
}
