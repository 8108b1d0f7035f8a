package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/showgrid/showgrid/pkg/errors"
)

// BatcherConfig contains configuration for the write-behind batcher
type BatcherConfig struct {
	MaxBatch      int           `yaml:"max_batch"`      // Flush immediately at this many pending keys
	FlushInterval time.Duration `yaml:"flush_interval"` // Maximum time a write stays pending
}

// BatcherStats tracks write-behind batcher statistics
type BatcherStats struct {
	Enqueued  uint64 `json:"enqueued"`
	Coalesced uint64 `json:"coalesced"`
	Flushes   uint64 `json:"flushes"`
	Applied   uint64 `json:"applied"`
	Errors    uint64 `json:"errors"`
}

// writeOp is one pending store mutation. A later write to the same key
// replaces the pending one, so only the newest version reaches disk.
type writeOp struct {
	key    string
	data   json.RawMessage
	ttl    time.Duration
	remove bool
}

// Batcher coalesces store writes and applies them in the background. The
// durable tiers see at most one write per key per flush window, which keeps
// bursty browse sessions from hammering the object store.
type Batcher struct {
	config *BatcherConfig
	store  *TieredStore

	mu         sync.Mutex
	pending    map[string]*writeOp
	order      []string
	flushTimer *time.Timer
	started    bool
	stats      BatcherStats

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBatcher creates a new write-behind batcher in front of store
func NewBatcher(store *TieredStore, config *BatcherConfig) *Batcher {
	if config == nil {
		config = &BatcherConfig{}
	}
	if config.MaxBatch <= 0 {
		config.MaxBatch = 32
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 250 * time.Millisecond
	}

	return &Batcher{
		config:  config,
		store:   store,
		pending: make(map[string]*writeOp),
		stopCh:  make(chan struct{}),
	}
}

// Start starts the background flush loop
func (b *Batcher) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "batcher already started").
			WithComponent("store").
			WithOperation("start")
	}

	b.started = true
	b.wg.Add(1)
	go b.flushLoop()

	return nil
}

// Stop stops the flush loop and applies everything still pending
func (b *Batcher) Stop() error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	b.mu.Unlock()

	close(b.stopCh)
	b.wg.Wait()

	return b.Flush(context.Background())
}

// Enqueue queues a write for key. Pending writes to the same key are
// replaced, not appended.
func (b *Batcher) Enqueue(key string, data json.RawMessage, ttl time.Duration) {
	b.submit(&writeOp{key: key, data: data, ttl: ttl})
}

// EnqueueDelete queues a delete for key, superseding any pending write
func (b *Batcher) EnqueueDelete(key string) {
	b.submit(&writeOp{key: key, remove: true})
}

// Flush applies every pending operation in enqueue order
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}
	pending := b.pending
	order := b.order
	b.pending = make(map[string]*writeOp)
	b.order = nil
	if len(order) > 0 {
		b.stats.Flushes++
	}
	b.mu.Unlock()

	if len(order) == 0 {
		return nil
	}

	var result *multierror.Error
	for _, key := range order {
		op := pending[key]
		var err error
		if op.remove {
			err = b.store.Delete(ctx, op.key)
		} else {
			err = b.store.Set(ctx, op.key, op.data, op.ttl)
		}

		b.mu.Lock()
		if err != nil {
			b.stats.Errors++
		} else {
			b.stats.Applied++
		}
		b.mu.Unlock()

		if err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Pending returns the number of keys waiting to be flushed
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Stats returns batcher statistics
func (b *Batcher) Stats() BatcherStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Helper methods

func (b *Batcher) submit(op *writeOp) {
	b.mu.Lock()

	if _, exists := b.pending[op.key]; exists {
		b.stats.Coalesced++
	} else {
		b.order = append(b.order, op.key)
	}
	b.pending[op.key] = op
	b.stats.Enqueued++

	full := len(b.order) >= b.config.MaxBatch
	if !full && b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.config.FlushInterval, func() {
			b.Flush(context.Background())
		})
	}
	b.mu.Unlock()

	if full {
		go b.Flush(context.Background())
	}
}

func (b *Batcher) flushLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.Flush(context.Background())
		}
	}
}
