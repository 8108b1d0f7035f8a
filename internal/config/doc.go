/*
Package config provides configuration management for the showgrid cache
subsystem with multi-source support.

Every recognized option is enumerated in a closed struct with a documented
default; there are no loose option bags. Loading is strict: unknown YAML keys
fail instead of silently reverting to defaults.

# Configuration Architecture

Multi-source configuration hierarchy with precedence:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│            (SHOWGRID_*)                     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration Files                 │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (Compiled-in defaults)               │
	└─────────────────────────────────────────────┘

# Configuration Structure

Memory:
In-process LRU tier capacity, default TTL, and the optional memory
pressure watcher.

Store:
Durable tier layout (directory, database file), the large-value routing
threshold, compression threshold, quota watermark, sweep interval, the
key/value fallback namespace and size cap, and optional write-behind
batching.

TTL Classes:
The four freshness classes (short, medium, long, persistent) mapped to
concrete durations. Validation enforces their ordering.

Request:
Concurrency ceiling, pending queue capacity, and the completed-result
cache window.

Prefetch:
Hover debounce delay, viewport margin, queue bounds, slow-network policy,
and the admission rate limit.

Network:
Connectivity probing and the thresholds that classify a connection as
slow or offline.

Metadata:
Content metadata API endpoint, credentials, and HTTP retry bounds.

Monitoring:
Prometheus metrics, periodic health checks, and the optional diagnostics
HTTP server.

# Usage

	cfg := config.NewDefault()
	if err := cfg.LoadFromFile("showgrid.yaml"); err != nil {
		// missing file is fine when running on defaults
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

Validation checks every section and returns the first violation; a
configuration that passes Validate is safe to hand to engine.New.
*/
package config
