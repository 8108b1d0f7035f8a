/*
Package prefetch turns UI signals into speculative fetches so that detail
views open from cache instead of from the network.

The scheduler sits between the UI layer and the request manager:

	┌─────────────────────────────────────────────────────────────┐
	│                         UI Layer                            │
	│        hover events, viewport visibility, navigation        │
	└───────────────┬───────────────┬───────────────┬─────────────┘
	                │               │               │
	         OnHoverStart    AttachViewport       Queue
	         OnHoverEnd        (detach)        (explicit)
	                │               │               │
	                ▼               ▼               ▼
	┌─────────────────────────────────────────────────────────────┐
	│                        Scheduler                            │
	│   debounce → admission gate → pending queue → pump          │
	└───────────────────────────┬─────────────────────────────────┘
	                            │ FetcherFor(kind, id, essential)
	                            ▼
	┌─────────────────────────────────────────────────────────────┐
	│                     Request Manager                         │
	│          deduplicated, priority-banded execution            │
	└─────────────────────────────────────────────────────────────┘

# Triggers

Three signals feed the queue:

 1. Hover. OnHoverStart arms a debounce timer (default 200ms, doubled
    while the network is slow). A pointer that leaves before the timer
    fires costs nothing; one that stays enqueues the item at Low
    priority.

 2. Viewport. AttachViewport enqueues at Normal priority immediately,
    on the theory that a visible card is far more likely to be opened
    than a hovered one. The returned detach func only unregisters the
    attachment; decided work is never recalled just because a card
    scrolled away.

 3. Explicit. Queue enqueues at whatever priority the caller chooses,
    for cases like warming the next page of a list.

# Admission

Every trigger passes one gate, in order:

  - Offline networks skip everything.
  - Slow networks skip everything when DisableOnSlowNetwork is set.
  - Items already completed or in flight are dropped.
  - A duplicate of a queued item upgrades its priority in place when the
    new signal is stronger. Priorities never downgrade, and work already
    handed to the request manager is never cancelled by a weaker signal.
  - The pending queue is capacity bounded and admission is rate limited,
    so a fast scroll through a grid cannot flood the scheduler.

# Execution

A single pump drains the pending queue whenever a slot is free, best
decision first (highest priority, oldest within a band). Each decision
becomes a fetch function from the wired Fetcher and is handed to the
request manager at the item's priority, so user-initiated requests
always overtake prefetches there. On a slow network with
ReducedPrefetchOnSlow set, the pump asks the Fetcher for essential
fields only.

Completions are remembered in a bounded set so repeated passes over the
same grid stay cheap. Failures are forgotten immediately, which lets a
later signal retry the item.

# Usage Example

	scheduler := prefetch.NewScheduler(nil, requests, fetcher, network)
	defer scheduler.Close()

	// Hover handling in the UI bridge.
	scheduler.OnHoverStart("603", types.KindMovie)
	// ... pointer leaves ...
	scheduler.OnHoverEnd("603", types.KindMovie)

	// Visibility handling.
	detach := scheduler.AttachViewport("1399", types.KindTVShow)
	defer detach()

# Configuration Example

	prefetch:
	  enabled: true
	  hover_delay: 200ms
	  viewport_margin: 200
	  max_concurrent: 3
	  max_queue_size: 50
	  disable_on_slow_network: false
	  reduced_prefetch_on_slow: true
	  admit_per_second: 8
	  admit_burst: 16

# Thread Safety

All methods are safe for concurrent use. Hover timers fire on runtime
timer goroutines and re-check their registration under the scheduler
lock, so a timer racing a disarm or a re-hover is a no-op.
*/
package prefetch
