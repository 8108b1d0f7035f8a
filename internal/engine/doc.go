/*
Package engine assembles the cache subsystem from one validated
configuration and owns its lifecycle. Embedding applications construct
an Engine, start it, and reach every component through its accessors;
nothing in this module is a package-level singleton.

	            New(cfg)                 Start(ctx)
	               │                         │
	               ▼                         ▼
	┌──────────────────────────────────────────────────────────────┐
	│                           Engine                             │
	│                                                              │
	│  memory ── orchestrator ── tiered store ── write-behind      │
	│               │    ▲                                         │
	│   session ────┘    │ composed fetches                        │
	│                    │                                         │
	│  requests ── prefetch ── metadata client                     │
	│                                                              │
	│  network monitor   health checker   metrics collector        │
	│                          │                 │                 │
	│                          └────── api ──────┘                 │
	└──────────────────────────────────────────────────────────────┘

# Assembly

New builds components in dependency order and wires them together. The
session manager and the orchestrator need each other (the orchestrator
scopes keys through the session, the session wipes prefixes through the
orchestrator); a function adapter defers the wipe binding so neither
constructor sees a half-built peer.

Several components are optional and stay nil when not configured: the
write-behind batcher, the pressure monitor, the prefetch scheduler, and
the diagnostics server follow their config switches, and the metadata
client exists only when an API key is set. Accessors return nil for
absent components and the rest of the engine degrades accordingly; an
engine without an API key still caches, it just cannot fetch.

The key-value fallback tier defaults to an in-process map store whose
records last the session. Deployments wanting durable fallback records
pass their own datastore:

	eng, err := engine.New(cfg, engine.WithFallbackDatastore(store))

A constructor failure tears down whatever was already built, so a bad
configuration never leaks goroutines.

# Composed Fetches

The Engine itself implements types.Fetcher. A composed fetch checks the
cache, goes upstream on a miss, and writes the result back:

  - Movie and TV records cache on the medium class; list pages and
    search results on the short class.
  - Essential payloads cache under a suffixed key on the short class. A
    cached full record satisfies an essential fetch; a reduced record
    never satisfies a full one.
  - A fetch whose context was cancelled never reaches the cache-write
    path, and cancellations are not fed to the connectivity monitor.
    Timeouts are: a deadline that expired says something about the
    network.

Every upstream outcome feeds the network monitor and the fetch duration
histogram, so connectivity classification and latency metrics come for
free with normal traffic.

# Lifecycle

Start brings up the background loops: write-behind flushing, pressure
sampling, network probing, health evaluation, and the diagnostics
server. Stop drains and closes everything in reverse dependency order,
aggregating errors rather than stopping at the first one. Stop is
idempotent and works on an engine that never started; a stopped engine
stays stopped and cannot be restarted.

# Usage Example

	cfg := config.NewDefault()
	cfg.Metadata.APIKey = os.Getenv("SHOWGRID_TMDB_API_KEY")

	eng, err := engine.New(cfg)
	if err != nil {
	    return err
	}
	if err := eng.Start(ctx); err != nil {
	    return err
	}
	defer eng.Stop(context.Background())

	fetch := eng.FetcherFor(types.KindMovie, "603", false)
	data, err := eng.Requests().Fetch(ctx, "movie:603", fetch, types.PriorityHigh)

# Thread Safety

Start and Stop are mutually safe and one-shot. Every component reached
through an accessor carries its own synchronization; the engine adds
none on the data path.
*/
package engine
