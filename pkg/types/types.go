package types

import (
	"encoding/json"
	"time"
)

// SchemaVersion is the running cache schema version. Durable entries written
// under a different version are treated as absent and purged lazily on
// access. Bump it when the persisted record shape changes meaning.
const SchemaVersion = 3

// Priority orders fetch and prefetch work. Higher values are more urgent.
type Priority int

const (
	PriorityBackground Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the string representation of a priority
func (p Priority) String() string {
	switch p {
	case PriorityBackground:
		return "background"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the defined priority levels
func (p Priority) Valid() bool {
	return p >= PriorityBackground && p <= PriorityCritical
}

// ContentKind identifies the class of content a cache key or prefetch
// request refers to
type ContentKind int

const (
	KindMovie ContentKind = iota
	KindTVShow
	KindList
	KindSearch
)

// String returns the string representation of a content kind
func (k ContentKind) String() string {
	switch k {
	case KindMovie:
		return "movie"
	case KindTVShow:
		return "tv"
	case KindList:
		return "list"
	case KindSearch:
		return "search"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the defined content kinds
func (k ContentKind) Valid() bool {
	return k >= KindMovie && k <= KindSearch
}

// CacheEntry is the unit stored in every durable tier. Data is kept
// serialized so the entry shape is identical across backends.
type CacheEntry struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	TTL       time.Duration   `json:"ttl"`
	Version   int             `json:"version"`
}

// Age returns how long ago the entry was written
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}

// Expired reports whether the entry has outlived its TTL
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.Age(now) >= e.TTL
}

// Stale reports whether the entry is from a different schema version or
// has outlived its TTL. Stale entries are treated as absent everywhere.
func (e *CacheEntry) Stale(now time.Time) bool {
	return e.Version != SchemaVersion || e.Expired(now)
}

// PrefetchItem is one queued prefetch decision
type PrefetchItem struct {
	ID       string      `json:"id"`
	Kind     ContentKind `json:"kind"`
	Priority Priority    `json:"priority"`
	QueuedAt time.Time   `json:"queued_at"`
}

// Key returns the logical cache/request key for the item
func (p *PrefetchItem) Key() string {
	return p.Kind.String() + ":" + p.ID
}

// EssentialKey returns the key variant a reduced payload lives under.
// Reduced records never alias the full record: a cached full record may
// satisfy an essential read, a reduced one never satisfies a full read,
// so every layer keying fetches must keep the two apart.
func EssentialKey(key string) string {
	return key + ":essential"
}

// NetworkStatus is the connectivity snapshot consulted before every
// prefetch decision
type NetworkStatus struct {
	Offline        bool `json:"offline"`
	SlowConnection bool `json:"slow_connection"`
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	Evictions     uint64  `json:"evictions"`
	Expirations   uint64  `json:"expirations"`
	Size          int     `json:"size"`
	Capacity      int     `json:"capacity"`
	HitRate       float64 `json:"hit_rate"`
	Utilization   float64 `json:"utilization"`
	AccessDensity float64 `json:"access_density"`
}

// StoreStats represents durable tier statistics
type StoreStats struct {
	ObjectStoreAvailable bool   `json:"object_store_available"`
	Reads                uint64 `json:"reads"`
	Hits                 uint64 `json:"hits"`
	FallbackHits         uint64 `json:"fallback_hits"`
	Writes               uint64 `json:"writes"`
	DroppedWrites        uint64 `json:"dropped_writes"`
	Purged               uint64 `json:"purged"`
	Sweeps               uint64 `json:"sweeps"`
}

// RequestStats represents request manager statistics
type RequestStats struct {
	InFlight        int    `json:"in_flight"`
	Queued          int    `json:"queued"`
	Completed       uint64 `json:"completed"`
	Failed          uint64 `json:"failed"`
	Cancelled       uint64 `json:"cancelled"`
	DedupJoins      uint64 `json:"dedup_joins"`
	ResultCacheHits uint64 `json:"result_cache_hits"`
}

// SessionStats represents identity namespace statistics
type SessionStats struct {
	Anonymous    bool   `json:"anonymous"`
	Switches     uint64 `json:"switches"`
	WipedEntries uint64 `json:"wiped_entries"`
}

// PrefetchStats represents prefetch scheduler statistics
type PrefetchStats struct {
	Enqueued         uint64 `json:"enqueued"`
	Completed        uint64 `json:"completed"`
	Upgraded         uint64 `json:"upgraded"`
	Skipped          uint64 `json:"skipped"`
	HoverTriggers    uint64 `json:"hover_triggers"`
	ViewportTriggers uint64 `json:"viewport_triggers"`
	SlowNetworkSkips uint64 `json:"slow_network_skips"`
}
