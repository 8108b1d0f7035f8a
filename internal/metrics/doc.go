/*
Package metrics exposes the cache, request, prefetch, session, and network
counters in Prometheus exposition format.

# Overview

Every subsystem already keeps its own cumulative counters and reports them
through a Stats() snapshot. Rather than threading a metrics handle into each
component and double-counting, the collector reads those snapshots at scrape
time and converts them to Prometheus samples on the fly.

Architecture

	┌───────────┐  ┌──────────┐  ┌──────────┐  ┌─────────┐  ┌─────────┐
	│   Cache   │  │ Requests │  │ Prefetch │  │ Session │  │ Network │
	│  Stats()  │  │  Stats() │  │  Stats() │  │ Stats() │  │ Stats() │
	└─────┬─────┘  └────┬─────┘  └────┬─────┘  └────┬────┘  └────┬────┘
	      │             │             │             │            │
	      └─────────────┴──────┬──────┴─────────────┴────────────┘
	                           │  read at scrape time
	                    ┌──────▼──────┐
	                    │  Collector  │
	                    └──────┬──────┘
	                           │
	                    ┌──────▼──────┐
	                    │  Registry   │──── Handler() ──── GET /metrics
	                    └─────────────┘

# Scrape Model

The collector implements prometheus.Collector directly. On each scrape it
calls the Sources functions, takes one snapshot per subsystem, and emits
const metrics built from the snapshot values. All samples within a scrape
come from the same instant per subsystem, and a subsystem that is not wired
(a nil source) is simply absent from the output.

The one instrument the collector owns itself is the fetch duration
histogram. Latency distributions cannot be reconstructed from cumulative
counters after the fact, so fetch wrappers record observations as they
happen via RecordFetch.

# Metrics

Cache: hits and misses per tier, evictions, expirations, wipes, entry and
byte gauges.

Requests: enqueued, deduplicated, settled by status, queue depth and
in-flight gauges.

Prefetch: enqueued, upgraded, skipped, completed, slow-network reductions,
viewport triggers.

Session: identity switches, wiped entries, anonymous flag.

Network: online flag, slow flag, probe and transition counters, average
latency.

# Usage

	collector, err := metrics.NewCollector(&metrics.Config{Enabled: true}, metrics.Sources{
		Cache:    orchestrator.Stats,
		Requests: requests.Stats,
	})
	if err != nil {
		return err
	}
	mux.Handle("/metrics", collector.Handler())

Recording a fetch:

	start := time.Now()
	data, err := fetch(ctx)
	collector.RecordFetch(time.Since(start), err == nil)

# Configuration

	monitoring:
	  metrics:
	    enabled: true
	    namespace: showgrid

When disabled, NewCollector returns a collector with no registry. All
methods remain safe to call and Handler serves 404.

# Thread Safety

A nil *Collector is safe to call. Sources functions must be safe for
concurrent use, which holds for every Stats() method in this module, and
scrapes may run concurrently with RecordFetch.
*/
package metrics
