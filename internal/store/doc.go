/*
Package store provides the durable cache tier with a transactional object
store and a key-value fallback.

This package implements the persistence layer behind the in-memory cache.
Records survive process restarts, are shared by every feature that caches
catalog data, and age out through TTLs and schema-version checks rather
than explicit invalidation.

# Store Architecture

Two tiers with one-way failover:

	┌─────────────────────────────────────────────┐
	│           Cache Orchestrator                │
	│        (read-through callers)               │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│             Tiered Store                    │  ← This Package
	│  ┌─────────────────────────────────────────┐  │
	│  │           Object Store                  │  │
	│  │         (bbolt - Primary)               │  │
	│  │   • Single database file                │  │
	│  │   • Transactional reads/writes          │  │
	│  │   • Quota watermark on file size        │  │
	│  │   • Takes records of any size           │  │
	│  └─────────────────────────────────────────┘  │
	│                     │ unavailable             │
	│  ┌─────────────────────────────────────────┐  │
	│  │          Key-Value Store                │  │
	│  │       (go-datastore - Fallback)         │  │
	│  │   • Versioned namespace                 │  │
	│  │   • Per-record size cap                 │  │
	│  │   • Still read on object-store misses   │  │
	│  └─────────────────────────────────────────┘  │
	└─────────────────────────────────────────────┘

The object store is the primary tier. When its database cannot be opened,
the backend is marked unavailable for the rest of the process and every
write lands in the key-value tier instead. The key-value tier is still
consulted on object-store misses, so records written during an outage stay
reachable after the object store comes back.

# Record Encoding

Every record is a flag byte followed by the JSON-encoded entry. Payloads at
or above the compression threshold are gzip-compressed when that actually
shrinks them. Records that fail to decode are treated as corrupt and purged
on the next read.

Entries carry the schema version they were written under. A version
mismatch reads as a miss and purges the record, which is how schema
migrations happen: bump the version constant and old records evaporate
lazily instead of through an upgrade pass.

# Large Values

Records larger than the configured threshold are never written to the
key-value tier. When the object store is unavailable, such a write is
dropped and the caller gets a VALUE_TOO_LARGE error; serving slightly stale
data on the next visit beats wedging a size-capped fallback store.

# Sweeps and Quota

A background sweep runs on a fixed interval and purges stale records from
every tier. A write rejected by the object-store quota is dropped, counted,
and triggers an immediate sweep so the next write has a chance to fit.

# Write-Behind Batching

The Batcher coalesces writes per key and applies them on a flush interval,
size trigger, or shutdown. Only the newest pending version of a key reaches
disk, which keeps bursty browse sessions from hammering the object store.

# Usage Example

	ts := store.NewTieredStore(&store.Config{
		Bolt: &store.BoltConfig{
			Directory:  "/var/cache/showgrid",
			QuotaBytes: 256 << 20,
		},
		LargeValueThreshold: 32 << 10,
		SweepInterval:       10 * time.Minute,
	}, nil)
	defer ts.Close()

	err := ts.Set(ctx, "movie:603", payload, 30*time.Minute)
	entry, ok, err := ts.Get(ctx, "movie:603")

# Thread Safety

All exported types are safe for concurrent use. Statistics are tracked
under a dedicated mutex so hot read paths never contend with sweeps.
*/
package store
