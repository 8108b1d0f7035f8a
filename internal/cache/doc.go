/*
Package cache provides the in-memory tier and the orchestration layer for ShowGrid's
client-resident cache.

This package sits between the application-facing engine and the durable store. It keeps
the hottest records in a bounded LRU, promotes durable hits into memory, applies the
TTL policy for every content class, and serves stale records while refreshing them in
the background so browsing never blocks on the network.

# Cache Architecture

Two tiers coordinated by a single orchestrator:

	┌─────────────────────────────────────────────┐
	│              Application                    │
	│      (grids, detail panes, search)          │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│             Orchestrator                    │  ← This Package
	│   (TTL classes, scoping, SWR, stats)        │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│             Memory Cache                    │
	│  ┌─────────────────────────────────────────┐  │
	│  │           LRU + TTL                     │  │
	│  │   • Count-bounded entries               │  │
	│  │   • Lazy expiry on access               │  │
	│  │   • Background cleanup sweep            │  │
	│  │   • Volatile, per-process               │  │
	│  └─────────────────────────────────────────┘  │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│            Durable Store                    │
	│     (internal/store tiered backend)         │
	│   • Survives restarts                       │
	│   • Compressed records                      │
	│   • Quota-bounded                           │
	└─────────────────────────────────────────────┘

# Read Path

Every Get walks the tiers in order:

 1. Memory cache. A hit returns immediately and refreshes the entry's LRU
    position.
 2. Durable store. A hit is promoted into memory (keeping its original
    timestamp so age-based staleness math stays honest) and returned.
 3. Miss. The caller decides whether to fetch; GetSWR does it for them.

Durable store failures never fail a read. They are logged and the lookup
degrades to a miss.

# TTL Classes

Callers pick a class instead of inventing durations:

	TTLShort       5 minutes    search results, trending rows
	TTLMedium      30 minutes   detail records, credits, videos
	TTLLong        24 hours     configuration, genre lists
	TTLPersistent  7 days       watch providers, static catalogs

An explicit Options.TTL always wins over the class. Entries carry their TTL
with them, so a record written under one policy expires under that policy
even if defaults change later.

# Stale-While-Revalidate

GetSWR serves three cases:

Fresh hit:
- Entry age is under the freshness window
- Returned as-is, no upstream traffic

Stale hit (expired freshness, unexpired TTL):
- Old data is returned immediately
- One background refresh runs per key, deduplicated across callers
- A failed refresh keeps the old entry and is only logged

Miss:
- The fetch runs synchronously, deduplicated across concurrent callers
- The result is written to both tiers before returning

The background refresh detaches from the caller's context. The response was
already served, so the refresh runs under its own timeout and its outcome
only affects the next reader.

# Typed Access

The orchestrator speaks json.RawMessage so fetch functions and the request
manager never pay for a decode. Callers who want typed records use the
package-level generic functions:

	movie, ok := cache.Get[tmdb.Movie](ctx, orch, "movie:603", opts)
	err := cache.Set(ctx, orch, "movie:603", movie, opts)
	movie, err := cache.GetSWR[tmdb.Movie](ctx, orch, "movie:603", opts, fresh, fetch)

A cached payload that does not decode into the requested type reads as a
miss under Get and as an error under GetSWR, where a fetch already ran and
there is no miss to fall back to.

# User Scoping

Options.UserScoped routes the key through the session namespacer, prefixing
it with the active identity. Scoped entries live alongside global ones and
are wiped in bulk through WipePrefix when the identity changes.

# Memory Pressure

The pressure monitor samples the Go heap on an interval. When allocation
crosses the watermark it evicts expired entries first, then trims the cold
end of the LRU by a configured fraction. Relief events are logged with the
heap reading that triggered them.

# Usage Examples

Basic orchestrator setup:

	mc := cache.NewMemoryCache(&cache.MemoryConfig{MaxEntries: 500})
	orch := cache.NewOrchestrator(nil, mc, tiers, nil, session)
	defer orch.Close()

	// Store a detail record under the medium class
	orch.Set(ctx, "movie:603", data, cache.Options{Class: cache.TTLMedium})

	// Read it back
	if data, ok := orch.Get(ctx, "movie:603", cache.Options{}); ok {
		fmt.Printf("hit: %s\n", data)
	}

Stale-while-revalidate with a fetch function, typically one produced by the
metadata client's FetcherFor:

	fetch := client.FetcherFor(types.KindMovie, "603", false)
	data, err := orch.GetSWR(ctx, "movie:603",
		cache.Options{Class: cache.TTLMedium}, 5*time.Minute, fetch)

Statistics:

	stats := orch.Stats()
	fmt.Printf("hit ratio: %.2f%%\n", stats.HitRatio*100)
	fmt.Printf("promotions: %d\n", stats.Promotions)
	fmt.Printf("served stale: %d\n", stats.ServedStale)

# Configuration Examples

Production configuration (subsystem file layout):

	memory:
	  max_entries: 500
	  default_ttl: 30m
	  pressure:
	    enabled: true
	    sample_interval: 30s
	    high_watermark_bytes: 536870912
	    shrink_factor: 0.5
	ttl_classes:
	  short: 5m
	  medium: 30m
	  long: 24h
	  persistent: 168h

Development configuration:

	memory:
	  max_entries: 50
	  default_ttl: 1m
	  pressure:
	    enabled: false

# Thread Safety

All types in this package are safe for concurrent use:

- The memory cache serializes mutations behind a single mutex; reads that
  touch LRU order take the same lock
- The orchestrator keeps its statistics behind a dedicated mutex
- Revalidations and miss fills are collapsed per key, so each key has at
  most one upstream fetch in flight regardless of caller count
- Background loops (cleanup, pressure sampling) stop cleanly on Close

This package is the layer that makes ShowGrid feel instant: the grid reads
memory, the durable store absorbs restarts, and staleness is refreshed
behind the user's back instead of in front of it.
*/
package cache
