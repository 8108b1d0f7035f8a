package cache

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/showgrid/showgrid/pkg/errors"
	"github.com/showgrid/showgrid/pkg/types"
)

// revalidator collapses concurrent refreshes so each key has at most one
// fetch in flight, shared by miss fills and background revalidations.
type revalidator struct {
	group singleflight.Group
}

// GetSWR retrieves key with stale-while-revalidate semantics. Entries
// younger than freshFor are returned as-is. Older entries still within
// their TTL are returned immediately while one background refresh runs;
// if the refresh fails the old entry stays. A miss fetches synchronously.
//
// freshFor of zero or less defaults to half the resolved TTL.
func (o *Orchestrator) GetSWR(ctx context.Context, key string, opts Options, freshFor time.Duration, fetch types.FetchFunc) (json.RawMessage, error) {
	if freshFor <= 0 {
		freshFor = o.resolveTTL(opts) / 2
	}

	if entry, ok := o.getEntry(ctx, key, opts); ok {
		if entry.Age(time.Now()) < freshFor {
			return entry.Data, nil
		}

		o.statsMu.Lock()
		o.stats.ServedStale++
		o.statsMu.Unlock()

		if fetch != nil {
			go o.refresh(key, opts, fetch)
		}
		return entry.Data, nil
	}

	if fetch == nil {
		return nil, errors.NewError(errors.ErrCodeFetchFailed, "no fetch function for cache miss").
			WithComponent("cache").
			WithOperation("get_swr").
			WithKey(key)
	}

	data, err := o.fill(ctx, key, opts, fetch)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// fill fetches key synchronously through the shared flight group, so
// concurrent misses for one key produce a single upstream call.
func (o *Orchestrator) fill(ctx context.Context, key string, opts Options, fetch types.FetchFunc) (json.RawMessage, error) {
	scoped := o.scopedKey(key, opts)

	value, err, _ := o.revalidate.group.Do(scoped, func() (interface{}, error) {
		data, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		o.Set(ctx, key, data, opts)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(json.RawMessage), nil
}

// refresh revalidates key in the background. It is detached from the
// caller's context: the stale response has already been served, and the
// refresh should finish even if that request goes away.
func (o *Orchestrator) refresh(key string, opts Options, fetch types.FetchFunc) {
	scoped := o.scopedKey(key, opts)

	_, err, _ := o.revalidate.group.Do(scoped, func() (interface{}, error) {
		o.statsMu.Lock()
		o.stats.Revalidations++
		o.statsMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), o.config.RevalidateTimeout)
		defer cancel()

		data, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		o.Set(ctx, key, data, opts)
		return data, nil
	})
	if err != nil {
		o.statsMu.Lock()
		o.stats.RevalidationFailures++
		o.statsMu.Unlock()
		log.Debugw("revalidation failed, keeping stale entry", "key", scoped, "error", err)
	}
}
