package types

import (
	"context"
	"encoding/json"
)

// FetchFunc performs one underlying fetch. Implementations own their own
// timeout policy; the request layer only threads cancellation through ctx.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// Fetcher produces fetch functions for content metadata
type Fetcher interface {
	FetcherFor(kind ContentKind, id string, essential bool) FetchFunc
}

// NetworkObserver reports the current connectivity snapshot
type NetworkObserver interface {
	Status() NetworkStatus
}

// Namespacer maps logical cache keys to storage keys, applying the
// per-identity prefix for user-scoped entries
type Namespacer interface {
	Key(key string, userScoped bool) string
}

// StoreBackend is one physical durable store underneath the tiered store.
// Values are opaque encoded records; interpretation happens above.
type StoreBackend interface {
	// Open prepares the backend for use. It is called lazily and must be
	// safe to call more than once.
	Open(ctx context.Context) error

	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error

	// Keys lists stored keys, used by eviction sweeps and identity wipes.
	Keys(ctx context.Context) ([]string, error)

	Close() error
}
