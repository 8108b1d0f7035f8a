/*
Package types provides the core interfaces, data structures, and type definitions
for the showgrid cache and prefetch subsystem.

This package is the foundation every other component builds on: it defines the
contracts between the cache tiers, the request layer, and the prefetch layer,
and the data structures that cross those boundaries.

# Architecture Overview

The subsystem is layered, with intent signals flowing down and cached data
flowing back up:

	┌─────────────────────────────────────────────┐
	│               UI Consumers                  │
	│    (hover, viewport, route-intent signals)  │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Prefetch Scheduler                │
	│           (internal/prefetch)               │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│            Request Manager                  │
	│            (internal/request)               │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Cache Orchestrator                │
	│            (internal/cache)                 │
	└─────────────────────────────────────────────┘
	          │                       │
	┌─────────┴───────┐     ┌─────────┴─────────┐
	│  Memory Cache   │     │    Tiered Store   │
	│ (internal/cache)│     │  (internal/store) │
	└─────────────────┘     └───────────────────┘

# Core Interfaces

StoreBackend:
One physical durable store (the transactional object store or the simple
key/value fallback). Backends hold opaque encoded records; versioning and
TTL interpretation happen in the tiered store above them.

Fetcher:
Produces fetch functions for content metadata by kind and id, with an
essential-fields mode for constrained networks.

NetworkObserver:
Connectivity snapshot consulted before every prefetch decision.

Namespacer:
Maps logical cache keys to storage keys, applying the per-identity prefix
for user-scoped entries so data never leaks across identities.

# Data Structures

CacheEntry:
The versioned, TTL-stamped unit stored in every durable tier. An entry from
a different schema version, or past its TTL, is absent everywhere.

PrefetchItem:
One queued prefetch decision, ordered by (priority desc, queued-at asc).

Priority:
Ordered urgency levels: Critical > High > Normal > Low > Background.

Statistics Types:
Per-component counters (CacheStats, StoreStats, RequestStats, PrefetchStats)
surfaced through the diagnostics API. Non-authoritative.

# Thread Safety

Implementations of the interfaces defined here must be safe for concurrent
use. Implementers must ensure:

- Concurrent access safety for all methods
- Proper synchronization for shared resources
- Atomic operations for statistics counters
- Context-aware cancellation handling

This package imports only the standard library so every component can depend
on it without cycles.
*/
package types
