/*
Package request provides deduplicated, priority-scheduled fetch orchestration for
ShowGrid's network traffic.

Every metadata fetch in the application funnels through one Manager. The manager
guarantees that a logical key never has two live fetches, that recently completed
answers are reused instead of refetched, and that background work drains through a
bounded number of slots so prefetching never starves a user's click.

# Request Lifecycle

	┌──────────────┐     ┌──────────────┐
	│ Fetch (user) │     │ Queue (bg)   │
	└──────┬───────┘     └──────┬───────┘
	       │                    │
	       ▼                    ▼
	┌─────────────────────────────────────┐
	│ 1. result cache (~30s)              │ → fresh answer returned
	│ 2. in-flight registry               │ → join the pending flight
	│ 3. new flight                       │
	└──────┬──────────────────┬───────────┘
	       │ starts now       │ priority bands
	       ▼                  ▼
	┌──────────────┐   ┌──────────────────┐
	│   running    │◄──│ dispatcher       │
	│  (fetch fn)  │   │ (slots ≤ ceiling)│
	└──────┬───────┘   └──────────────────┘
	       ▼
	settle: result cache + waiters released

Fetch is the direct path for cache misses the user is waiting on; it starts
immediately and never queues. Queue is the polite path for prefetches; items wait
in five FIFO bands (Critical down to Background) and run as slots free, highest
band first. A direct Fetch for a key that is still waiting in the backlog starts
it on the spot; user intent outranks the queue.

# Deduplication

Three layers, checked in order:

 1. Result cache. A completed answer satisfies repeat requests for a short
    window. Only successes are stored; a failure may be retried immediately.
 2. In-flight registry. One flight per key. Later callers join the existing
    flight and share its outcome, whichever path they arrived by.
 3. Neither: a new cancellable flight starts, registered under its key until
    it settles.

# Cancellation

Flights run under their own context, detached from any one caller. A caller
abandoning its wait (context timeout) leaves the flight running for the other
joiners. Explicit cancellation is a manager-level act:

- Cancel(key) aborts one flight
- CancelBelow(p) aborts every flight with priority strictly below p
- SetUserIntent(tag) aborts every non-Critical flight whose key does not
  mention tag
- CancelAll and Close abort everything

Cancelled waiters receive errors.ErrRequestCancelled, which callers treat as
abandoned work rather than failure. A fetch that keeps running after
cancellation is drained in the background and its late result is discarded;
nothing a cancelled flight produces ever reaches the result cache.

# Failure

Fetch errors are wrapped with the FETCH_FAILED code, carry the original error
as their cause, and propagate to every joined waiter. The manager imposes no
retry policy; callers own their own deadlines and retries through the fetch
functions they supply.

# Thread Safety

The Manager is safe for concurrent use. The registry, bands, and counters live
behind one mutex; waiters synchronize on per-flight done channels that close
exactly once. The dispatcher is a single goroutine woken by enqueues and slot
releases, so band draining is strictly ordered.
*/
package request
