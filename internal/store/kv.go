package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	ds "github.com/ipfs/go-datastore"
	dsns "github.com/ipfs/go-datastore/namespace"
	dsq "github.com/ipfs/go-datastore/query"
	dssync "github.com/ipfs/go-datastore/sync"

	"github.com/showgrid/showgrid/pkg/errors"
	"github.com/showgrid/showgrid/pkg/types"
)

// KVConfig represents key-value fallback backend configuration
type KVConfig struct {
	MaxValueSize int `yaml:"max_value_size"`
}

// KVBackend is the fallback tier, a flat key-value store used when the
// object store cannot be opened. Records larger than MaxValueSize are
// rejected rather than truncated; the tiered store routes those to the
// object store only.
type KVBackend struct {
	config *KVConfig

	store ds.Batching

	mu     sync.Mutex
	closed bool
}

// NewKVBackend creates a new key-value backend. A nil child datastore gets
// an in-memory map store, which is what browsers without a persistent KV
// area effectively have.
func NewKVBackend(config *KVConfig, child ds.Batching) *KVBackend {
	if config == nil {
		config = &KVConfig{}
	}
	if config.MaxValueSize <= 0 {
		config.MaxValueSize = 64 << 10
	}
	if child == nil {
		child = dssync.MutexWrap(ds.NewMapDatastore())
	}

	prefix := ds.NewKey(fmt.Sprintf("/showgrid/cache/v%d", types.SchemaVersion))
	return &KVBackend{
		config: config,
		store:  dsns.Wrap(child, prefix),
	}
}

// MaxValueSize returns the largest record the backend accepts.
func (k *KVBackend) MaxValueSize() int {
	return k.config.MaxValueSize
}

// Open is a no-op; the datastore needs no handle setup.
func (k *KVBackend) Open(ctx context.Context) error {
	return nil
}

// Get retrieves the record stored under key
func (k *KVBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := k.store.Get(ctx, k.dsKey(key))
	if err == ds.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.NewError(errors.ErrCodeStorageRead, "key-value read failed").
			WithComponent("store").
			WithOperation("get").
			WithKey(key).
			WithCause(err)
	}
	return value, true, nil
}

// Put stores a record under key, rejecting oversized values
func (k *KVBackend) Put(ctx context.Context, key string, value []byte) error {
	if len(value) > k.config.MaxValueSize {
		return errors.NewError(errors.ErrCodeValueTooLarge, "record exceeds key-value size cap").
			WithComponent("store").
			WithOperation("put").
			WithKey(key).
			WithDetail("size", len(value)).
			WithDetail("max_size", k.config.MaxValueSize)
	}

	if err := k.store.Put(ctx, k.dsKey(key), value); err != nil {
		return errors.NewError(errors.ErrCodeStorageWrite, "key-value write failed").
			WithComponent("store").
			WithOperation("put").
			WithKey(key).
			WithCause(err)
	}
	return nil
}

// Delete removes the record stored under key
func (k *KVBackend) Delete(ctx context.Context, key string) error {
	if err := k.store.Delete(ctx, k.dsKey(key)); err != nil {
		return errors.NewError(errors.ErrCodeStorageWrite, "key-value delete failed").
			WithComponent("store").
			WithOperation("delete").
			WithKey(key).
			WithCause(err)
	}
	return nil
}

// Clear removes every record in the cache namespace
func (k *KVBackend) Clear(ctx context.Context) error {
	keys, err := k.Keys(ctx)
	if err != nil {
		return err
	}

	batch, err := k.store.Batch(ctx)
	if err != nil {
		return errors.NewError(errors.ErrCodeStorageWrite, "key-value batch failed").
			WithComponent("store").
			WithOperation("clear").
			WithCause(err)
	}
	for _, key := range keys {
		if err := batch.Delete(ctx, k.dsKey(key)); err != nil {
			return errors.NewError(errors.ErrCodeStorageWrite, "key-value delete failed").
				WithComponent("store").
				WithOperation("clear").
				WithKey(key).
				WithCause(err)
		}
	}
	if err := batch.Commit(ctx); err != nil {
		return errors.NewError(errors.ErrCodeStorageWrite, "key-value batch commit failed").
			WithComponent("store").
			WithOperation("clear").
			WithCause(err)
	}
	return nil
}

// Keys lists every stored key
func (k *KVBackend) Keys(ctx context.Context) ([]string, error) {
	results, err := k.store.Query(ctx, dsq.Query{KeysOnly: true})
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeStorageRead, "key-value query failed").
			WithComponent("store").
			WithOperation("keys").
			WithCause(err)
	}
	defer results.Close()

	var keys []string
	for result := range results.Next() {
		if result.Error != nil {
			return nil, errors.NewError(errors.ErrCodeStorageRead, "key-value query failed").
				WithComponent("store").
				WithOperation("keys").
				WithCause(result.Error)
		}
		keys = append(keys, strings.TrimPrefix(result.Key, "/"))
	}
	return keys, nil
}

// Close closes the underlying datastore
func (k *KVBackend) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil
	}
	k.closed = true
	return k.store.Close()
}

func (k *KVBackend) dsKey(key string) ds.Key {
	return ds.NewKey("/" + key)
}
