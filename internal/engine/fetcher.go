package engine

import (
	"context"
	"encoding/json"
	stderr "errors"
	"net/http"
	"time"

	"github.com/showgrid/showgrid/internal/cache"
	"github.com/showgrid/showgrid/internal/netstatus"
	"github.com/showgrid/showgrid/pkg/errors"
	"github.com/showgrid/showgrid/pkg/types"
)

// ttlClassFor maps content kinds to freshness classes. Title details age
// slowly; list pages and search results churn.
func ttlClassFor(kind types.ContentKind) cache.TTLClass {
	switch kind {
	case types.KindMovie, types.KindTVShow:
		return cache.TTLMedium
	default:
		return cache.TTLShort
	}
}

// FetcherFor implements types.Fetcher. The returned fetch checks the
// cache first, fetches upstream on a miss, and writes the result back
// through the orchestrator. Essential payloads cache under a suffixed
// key on the short class; a cached full record satisfies an essential
// fetch, never the other way around. Returns nil when no metadata
// client is configured or the kind is unfetchable.
func (e *Engine) FetcherFor(kind types.ContentKind, id string, essential bool) types.FetchFunc {
	if e.metadata == nil {
		return nil
	}
	upstream := e.metadata.FetcherFor(kind, id, essential)
	if upstream == nil {
		return nil
	}

	item := types.PrefetchItem{Kind: kind, ID: id}
	fullKey := item.Key()
	key := fullKey
	opts := cache.Options{Class: ttlClassFor(kind)}
	if essential {
		key = types.EssentialKey(fullKey)
		opts.Class = cache.TTLShort
	}

	return func(ctx context.Context) (json.RawMessage, error) {
		if essential {
			if data, ok := e.orch.Get(ctx, fullKey, opts); ok {
				return data, nil
			}
		}
		if data, ok := e.orch.Get(ctx, key, opts); ok {
			return data, nil
		}

		data, err := e.observe(ctx, upstream)
		if err != nil {
			return nil, err
		}
		if ctx.Err() != nil {
			// A cancelled fetch never reaches the cache-write path.
			return nil, errors.NewError(errors.ErrCodeRequestCancelled, "fetch cancelled").
				WithComponent("engine").
				WithKey(key).
				WithCause(ctx.Err())
		}
		e.orch.Set(ctx, key, data, opts)
		return data, nil
	}
}

// observe runs one upstream fetch and feeds its outcome to the network
// monitor and the fetch duration histogram. Cancellations say nothing
// about connectivity and are not sampled.
func (e *Engine) observe(ctx context.Context, fetch types.FetchFunc) (json.RawMessage, error) {
	start := time.Now()
	data, err := fetch(ctx)
	elapsed := time.Since(start)

	if !fetchCancelled(err) {
		e.network.ReportSample(elapsed, err)
		e.collector.RecordFetch(elapsed, err == nil)
	}
	return data, err
}

func fetchCancelled(err error) bool {
	if err == nil {
		return false
	}
	return errors.IsCancelled(err) || stderr.Is(err, context.Canceled)
}

// probeFunc builds the active connectivity probe: a HEAD request against
// the configured endpoint. The monitor paces calls and records outcomes.
func (e *Engine) probeFunc() netstatus.ProbeFunc {
	client := &http.Client{Timeout: e.config.Network.ProbeTimeout}
	probeURL := e.config.Network.ProbeURL

	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, probeURL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return errors.NewError(errors.ErrCodeNetworkError, "probe endpoint unhealthy").
				WithComponent("engine").
				WithOperation("probe").
				WithDetail("http_status", resp.StatusCode)
		}
		return nil
	}
}
