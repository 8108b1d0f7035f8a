package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/hashicorp/go-multierror"

	"github.com/showgrid/showgrid/internal/store"
	"github.com/showgrid/showgrid/pkg/types"
)

var log = logging.Logger("cache")

// TTLClass buckets cache entries by how quickly their content goes stale.
// Search results churn in minutes; catalog metadata barely moves in a week.
type TTLClass int

const (
	TTLShort TTLClass = iota
	TTLMedium
	TTLLong
	TTLPersistent
)

// String returns the string representation of a TTL class
func (c TTLClass) String() string {
	switch c {
	case TTLShort:
		return "short"
	case TTLMedium:
		return "medium"
	case TTLLong:
		return "long"
	case TTLPersistent:
		return "persistent"
	default:
		return "unknown"
	}
}

// Options control how a single cache operation is routed
type Options struct {
	Class       TTLClass      // TTL bucket, ignored when TTL is set
	TTL         time.Duration // explicit TTL override
	SkipMemory  bool          // bypass the memory tier
	SkipPersist bool          // bypass the durable tier
	UserScoped  bool          // namespace the key under the signed-in identity
}

// OrchestratorConfig represents cache orchestrator configuration
type OrchestratorConfig struct {
	TTLShort      time.Duration `yaml:"ttl_short"`
	TTLMedium     time.Duration `yaml:"ttl_medium"`
	TTLLong       time.Duration `yaml:"ttl_long"`
	TTLPersistent time.Duration `yaml:"ttl_persistent"`

	RevalidateTimeout time.Duration `yaml:"revalidate_timeout"`
}

// OrchestratorStats tracks combined cache statistics
type OrchestratorStats struct {
	TotalHits   uint64  `json:"total_hits"`
	TotalMisses uint64  `json:"total_misses"`
	MemoryHits  uint64  `json:"memory_hits"`
	StoreHits   uint64  `json:"store_hits"`
	Promotions  uint64  `json:"promotions"`
	HitRatio    float64 `json:"hit_ratio"`

	ServedStale          uint64 `json:"served_stale"`
	Revalidations        uint64 `json:"revalidations"`
	RevalidationFailures uint64 `json:"revalidation_failures"`

	Memory types.CacheStats `json:"memory"`
	Store  types.StoreStats `json:"store"`
}

// Orchestrator routes reads and writes across the memory and durable
// tiers. Reads try memory first and promote durable hits; writes land in
// both tiers, optionally through the write-behind batcher. Durable-tier
// failures are logged and absorbed so a broken disk degrades the cache
// instead of the UI.
type Orchestrator struct {
	config  *OrchestratorConfig
	memory  *MemoryCache
	tiers   *store.TieredStore
	batcher *store.Batcher
	scope   types.Namespacer

	statsMu sync.Mutex
	stats   OrchestratorStats

	revalidate revalidator
}

// NewOrchestrator creates a new cache orchestrator over the given tiers.
// A nil batcher means durable writes are synchronous. A nil scope leaves
// user-scoped keys unprefixed.
func NewOrchestrator(config *OrchestratorConfig, memory *MemoryCache, tiers *store.TieredStore, batcher *store.Batcher, scope types.Namespacer) *Orchestrator {
	if config == nil {
		config = &OrchestratorConfig{}
	}
	if config.TTLShort <= 0 {
		config.TTLShort = 5 * time.Minute
	}
	if config.TTLMedium <= 0 {
		config.TTLMedium = 30 * time.Minute
	}
	if config.TTLLong <= 0 {
		config.TTLLong = 24 * time.Hour
	}
	if config.TTLPersistent <= 0 {
		config.TTLPersistent = 7 * 24 * time.Hour
	}
	if config.RevalidateTimeout <= 0 {
		config.RevalidateTimeout = 15 * time.Second
	}

	return &Orchestrator{
		config:  config,
		memory:  memory,
		tiers:   tiers,
		batcher: batcher,
		scope:   scope,
	}
}

// Get retrieves the data cached under key, trying memory before the
// durable tiers. Durable hits are promoted into memory.
func (o *Orchestrator) Get(ctx context.Context, key string, opts Options) (json.RawMessage, bool) {
	entry, ok := o.getEntry(ctx, key, opts)
	if !ok {
		return nil, false
	}
	return entry.Data, true
}

// Set caches data under key in both tiers. Failures in the durable tier
// are logged and absorbed; the memory tier cannot fail.
func (o *Orchestrator) Set(ctx context.Context, key string, data json.RawMessage, opts Options) {
	scoped := o.scopedKey(key, opts)
	ttl := o.resolveTTL(opts)

	if !opts.SkipMemory {
		o.memory.Set(scoped, data, ttl)
	}
	if opts.SkipPersist {
		return
	}

	if o.batcher != nil {
		o.batcher.Enqueue(scoped, data, ttl)
		return
	}
	if err := o.tiers.Set(ctx, scoped, data, ttl); err != nil {
		log.Warnw("durable cache write failed", "key", scoped, "error", err)
	}
}

// Delete removes key from every tier
func (o *Orchestrator) Delete(ctx context.Context, key string, opts Options) {
	scoped := o.scopedKey(key, opts)

	o.memory.Delete(scoped)
	if o.batcher != nil {
		o.batcher.EnqueueDelete(scoped)
		return
	}
	if err := o.tiers.Delete(ctx, scoped); err != nil {
		log.Warnw("durable cache delete failed", "key", scoped, "error", err)
	}
}

// WipePrefix removes every entry whose key has the given prefix from both
// tiers and returns how many durable records went. Used for identity
// changes, where user-scoped records must not leak across accounts.
func (o *Orchestrator) WipePrefix(ctx context.Context, prefix string) (int, error) {
	o.memory.DeletePrefix(prefix)
	return o.tiers.DeletePrefix(ctx, prefix)
}

// Clear empties every tier
func (o *Orchestrator) Clear(ctx context.Context) error {
	o.memory.Clear()
	return o.tiers.Clear(ctx)
}

// Stats returns combined cache statistics
func (o *Orchestrator) Stats() OrchestratorStats {
	o.statsMu.Lock()
	stats := o.stats
	o.statsMu.Unlock()

	stats.Memory = o.memory.Stats()
	stats.Store = o.tiers.Stats()

	total := stats.TotalHits + stats.TotalMisses
	if total > 0 {
		stats.HitRatio = float64(stats.TotalHits) / float64(total)
	}
	return stats
}

// Close shuts down the tiers this orchestrator owns
func (o *Orchestrator) Close() error {
	var result *multierror.Error

	if o.batcher != nil {
		if err := o.batcher.Stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	o.memory.Close()
	if err := o.tiers.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Helper methods

// getEntry is the read path shared with stale-while-revalidate, which
// needs the entry's age rather than just its payload.
func (o *Orchestrator) getEntry(ctx context.Context, key string, opts Options) (*types.CacheEntry, bool) {
	scoped := o.scopedKey(key, opts)

	if !opts.SkipMemory {
		if entry, ok := o.memory.Get(scoped); ok {
			o.recordHit(true)
			return entry, true
		}
	}

	if !opts.SkipPersist {
		entry, ok, err := o.tiers.Get(ctx, scoped)
		if err != nil {
			log.Debugw("durable cache read failed", "key", scoped, "error", err)
		} else if ok {
			if !opts.SkipMemory {
				o.memory.SetEntry(entry)
				o.statsMu.Lock()
				o.stats.Promotions++
				o.statsMu.Unlock()
			}
			o.recordHit(false)
			return entry, true
		}
	}

	o.statsMu.Lock()
	o.stats.TotalMisses++
	o.statsMu.Unlock()
	return nil, false
}

func (o *Orchestrator) scopedKey(key string, opts Options) string {
	if opts.UserScoped && o.scope != nil {
		return o.scope.Key(key, true)
	}
	return key
}

func (o *Orchestrator) resolveTTL(opts Options) time.Duration {
	if opts.TTL > 0 {
		return opts.TTL
	}
	switch opts.Class {
	case TTLShort:
		return o.config.TTLShort
	case TTLMedium:
		return o.config.TTLMedium
	case TTLLong:
		return o.config.TTLLong
	case TTLPersistent:
		return o.config.TTLPersistent
	default:
		return o.config.TTLMedium
	}
}

func (o *Orchestrator) recordHit(memory bool) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()

	o.stats.TotalHits++
	if memory {
		o.stats.MemoryHits++
	} else {
		o.stats.StoreHits++
	}
}
