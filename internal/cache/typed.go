package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/showgrid/showgrid/pkg/errors"
	"github.com/showgrid/showgrid/pkg/types"
)

// Typed accessors over the orchestrator. Methods cannot carry type
// parameters, so these are package functions taking the orchestrator as
// their first value argument: cache.Get[tmdb.Movie](ctx, o, key, opts).
// The raw json.RawMessage surface stays the primary one; fetch functions
// and the request manager speak raw bytes and never pay for a decode.

// Get retrieves the value cached under key and decodes it into T. A
// cached payload that does not decode into T is reported as a miss, not
// an error: the raw record may still be valid for other readers.
func Get[T any](ctx context.Context, o *Orchestrator, key string, opts Options) (T, bool) {
	var value T

	raw, ok := o.Get(ctx, key, opts)
	if !ok {
		return value, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		log.Debugw("cached payload does not match requested shape", "key", key, "error", err)
		return value, false
	}
	return value, true
}

// Set encodes value and caches it under key. Encoding failures are the
// only way this can fail; nothing is cached in that case.
func Set[T any](ctx context.Context, o *Orchestrator, key string, value T, opts Options) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.NewError(errors.ErrCodeInternalError, "failed to encode cache value").
			WithComponent("cache").
			WithOperation("set").
			WithKey(key).
			WithCause(err)
	}
	o.Set(ctx, key, data, opts)
	return nil
}

// GetSWR retrieves key with stale-while-revalidate semantics and decodes
// the payload into T. Unlike Get, a payload that does not decode is an
// error here: the caller asked for a fetch-backed value of a known shape
// and there is no miss to fall back to.
func GetSWR[T any](ctx context.Context, o *Orchestrator, key string, opts Options, freshFor time.Duration, fetch types.FetchFunc) (T, error) {
	var value T

	raw, err := o.GetSWR(ctx, key, opts, freshFor, fetch)
	if err != nil {
		return value, err
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, errors.NewError(errors.ErrCodeCorruptRecord, "cached payload does not match requested shape").
			WithComponent("cache").
			WithOperation("get_swr").
			WithKey(key).
			WithCause(err)
	}
	return value, nil
}
