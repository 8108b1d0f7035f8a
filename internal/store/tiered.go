package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	ds "github.com/ipfs/go-datastore"
	logging "github.com/ipfs/go-log/v2"

	"github.com/hashicorp/go-multierror"

	"github.com/showgrid/showgrid/pkg/errors"
	"github.com/showgrid/showgrid/pkg/types"
)

var log = logging.Logger("store")

// Config represents tiered store configuration
type Config struct {
	Bolt *BoltConfig `yaml:"bolt"`
	KV   *KVConfig   `yaml:"kv"`

	LargeValueThreshold int           `yaml:"large_value_threshold"`
	CompressThreshold   int           `yaml:"compress_threshold"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
}

// TieredStore is the durable layer behind the in-memory cache. The object
// store is the primary tier; the key-value tier takes writes only while the
// object store is unavailable, and is still read on object-store misses so
// records written during an outage stay reachable. Records larger than
// LargeValueThreshold are never written to the key-value tier.
type TieredStore struct {
	config *Config
	codec  *codec
	bolt   *BoltBackend
	kv     *KVBackend

	statsMu sync.Mutex
	stats   types.StoreStats

	sweepMu    sync.Mutex
	warnOnce   sync.Once
	stopCh     chan struct{}
	closeOnce  sync.Once
	sweepersWG sync.WaitGroup
}

// NewTieredStore creates a new tiered store. A nil child datastore gives the
// key-value tier an in-memory map store.
func NewTieredStore(config *Config, child ds.Batching) *TieredStore {
	if config == nil {
		config = &Config{}
	}
	if config.LargeValueThreshold <= 0 {
		config.LargeValueThreshold = 32 << 10
	}
	if config.CompressThreshold <= 0 {
		config.CompressThreshold = 4 << 10
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 10 * time.Minute
	}

	t := &TieredStore{
		config: config,
		codec:  newCodec(config.CompressThreshold),
		bolt:   NewBoltBackend(config.Bolt),
		kv:     NewKVBackend(config.KV, child),
		stopCh: make(chan struct{}),
	}

	t.sweepersWG.Add(1)
	go t.sweepLoop()

	return t
}

// Get retrieves the entry stored under key. Stale entries, whether expired
// or written under an older schema version, are purged and reported as
// misses.
func (t *TieredStore) Get(ctx context.Context, key string) (*types.CacheEntry, bool, error) {
	t.statsMu.Lock()
	t.stats.Reads++
	t.statsMu.Unlock()

	if t.objectStoreAvailable(ctx) {
		entry, ok, err := t.getFrom(ctx, t.bolt, key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			t.statsMu.Lock()
			t.stats.Hits++
			t.statsMu.Unlock()
			return entry, true, nil
		}
	}

	entry, ok, err := t.getFrom(ctx, t.kv, key)
	if err != nil {
		return nil, false, err
	}
	if ok {
		t.statsMu.Lock()
		t.stats.FallbackHits++
		t.statsMu.Unlock()
		return entry, true, nil
	}
	return nil, false, nil
}

// Set stores data under key with the given TTL, stamped with the current
// schema version. A write that exceeds the object-store quota is dropped
// and triggers a sweep; the caller gets the quota error either way.
func (t *TieredStore) Set(ctx context.Context, key string, data json.RawMessage, ttl time.Duration) error {
	entry := &types.CacheEntry{
		Key:       key,
		Data:      data,
		Timestamp: time.Now(),
		TTL:       ttl,
		Version:   types.SchemaVersion,
	}

	record, err := t.codec.Encode(entry)
	if err != nil {
		return err
	}

	if t.objectStoreAvailable(ctx) {
		if err := t.bolt.Put(ctx, key, record); err != nil {
			t.statsMu.Lock()
			t.stats.DroppedWrites++
			t.statsMu.Unlock()
			if errors.IsQuotaExceeded(err) {
				if _, serr := t.Sweep(ctx); serr != nil {
					log.Warnw("sweep after quota drop failed", "error", serr)
				}
			}
			return err
		}
		t.statsMu.Lock()
		t.stats.Writes++
		t.statsMu.Unlock()
		return nil
	}

	if len(record) > t.config.LargeValueThreshold {
		t.statsMu.Lock()
		t.stats.DroppedWrites++
		t.statsMu.Unlock()
		return errors.NewError(errors.ErrCodeValueTooLarge, "record too large for key-value fallback").
			WithComponent("store").
			WithOperation("set").
			WithKey(key).
			WithDetail("size", len(record)).
			WithDetail("threshold", t.config.LargeValueThreshold)
	}

	if err := t.kv.Put(ctx, key, record); err != nil {
		t.statsMu.Lock()
		t.stats.DroppedWrites++
		t.statsMu.Unlock()
		return err
	}
	t.statsMu.Lock()
	t.stats.Writes++
	t.statsMu.Unlock()
	return nil
}

// Delete removes key from every tier
func (t *TieredStore) Delete(ctx context.Context, key string) error {
	var result *multierror.Error

	if t.bolt.Ready() {
		if err := t.bolt.Delete(ctx, key); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := t.kv.Delete(ctx, key); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// DeletePrefix removes every key with the given prefix from every tier.
// Used when the signed-in identity changes, to wipe user-scoped records.
func (t *TieredStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	deleted := 0
	var result *multierror.Error

	for _, backend := range t.activeBackends(ctx) {
		keys, err := backend.Keys(ctx)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		for _, key := range keys {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			if err := backend.Delete(ctx, key); err != nil {
				result = multierror.Append(result, err)
				continue
			}
			deleted++
		}
	}
	return deleted, result.ErrorOrNil()
}

// Clear removes every entry from every tier
func (t *TieredStore) Clear(ctx context.Context) error {
	var result *multierror.Error

	if t.objectStoreAvailable(ctx) {
		if err := t.bolt.Clear(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := t.kv.Clear(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Sweep scans every tier and purges stale entries. Returns the number of
// entries removed. At most one sweep runs at a time.
func (t *TieredStore) Sweep(ctx context.Context) (int, error) {
	t.sweepMu.Lock()
	defer t.sweepMu.Unlock()

	now := time.Now()
	purged := 0
	var result *multierror.Error

	for _, backend := range t.activeBackends(ctx) {
		keys, err := backend.Keys(ctx)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		for _, key := range keys {
			record, ok, err := backend.Get(ctx, key)
			if err != nil || !ok {
				continue
			}
			entry, err := t.codec.Decode(record)
			if err == nil && !entry.Stale(now) {
				continue
			}
			if err := backend.Delete(ctx, key); err != nil {
				result = multierror.Append(result, err)
				continue
			}
			purged++
		}
	}

	t.statsMu.Lock()
	t.stats.Sweeps++
	t.stats.Purged += uint64(purged)
	t.statsMu.Unlock()

	if purged > 0 {
		log.Debugw("sweep complete", "purged", purged)
	}
	return purged, result.ErrorOrNil()
}

// Stats returns store statistics
func (t *TieredStore) Stats() types.StoreStats {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()

	stats := t.stats
	stats.ObjectStoreAvailable = t.bolt.Ready()
	return stats
}

// SizeBytes returns the object-store file size, zero when unavailable.
func (t *TieredStore) SizeBytes() int64 {
	return t.bolt.Size()
}

// PingObjectStore reports whether the object store can serve requests,
// opening it on first use.
func (t *TieredStore) PingObjectStore(ctx context.Context) error {
	if t.bolt.Available(ctx) {
		return nil
	}
	err := errors.NewError(errors.ErrCodeStorageUnavailable, "object store unavailable").
		WithComponent("store").
		WithOperation("ping").
		WithDetail("path", t.bolt.Path())
	if cause := t.bolt.Open(ctx); cause != nil {
		err = err.WithCause(cause)
	}
	return err
}

// PingKV verifies the key-value tier answers a read
func (t *TieredStore) PingKV(ctx context.Context) error {
	_, _, err := t.kv.Get(ctx, "health/ping")
	return err
}

// Close stops the sweep loop and closes every tier
func (t *TieredStore) Close() error {
	t.closeOnce.Do(func() {
		close(t.stopCh)
	})
	t.sweepersWG.Wait()

	var result *multierror.Error
	if err := t.bolt.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := t.kv.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Helper methods

func (t *TieredStore) objectStoreAvailable(ctx context.Context) bool {
	if t.bolt.Available(ctx) {
		return true
	}
	t.warnOnce.Do(func() {
		log.Warnw("object store unavailable, key-value fallback takes writes",
			"path", t.bolt.Path(),
			"error", t.bolt.Open(ctx))
	})
	return false
}

// getFrom reads and decodes one record, purging it when stale or corrupt.
func (t *TieredStore) getFrom(ctx context.Context, backend types.StoreBackend, key string) (*types.CacheEntry, bool, error) {
	record, ok, err := backend.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	entry, err := t.codec.Decode(record)
	if err != nil {
		log.Debugw("purging corrupt record", "key", key, "error", err)
		t.purge(ctx, backend, key)
		return nil, false, nil
	}
	if entry.Stale(time.Now()) {
		t.purge(ctx, backend, key)
		return nil, false, nil
	}
	return entry, true, nil
}

func (t *TieredStore) purge(ctx context.Context, backend types.StoreBackend, key string) {
	if err := backend.Delete(ctx, key); err != nil {
		log.Debugw("purge failed", "key", key, "error", err)
		return
	}
	t.statsMu.Lock()
	t.stats.Purged++
	t.statsMu.Unlock()
}

// activeBackends returns the tiers that currently hold data. The key-value
// tier is always included; old fallback records must age out even after the
// object store comes back.
func (t *TieredStore) activeBackends(ctx context.Context) []types.StoreBackend {
	backends := []types.StoreBackend{t.kv}
	if t.objectStoreAvailable(ctx) {
		backends = append(backends, t.bolt)
	}
	return backends
}

func (t *TieredStore) sweepLoop() {
	defer t.sweepersWG.Done()

	ticker := time.NewTicker(t.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			if _, err := t.Sweep(context.Background()); err != nil {
				log.Debugw("periodic sweep failed", "error", err)
			}
		}
	}
}
