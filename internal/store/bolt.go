package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/showgrid/showgrid/pkg/errors"
)

// entriesBucket is the single bucket all cache records live in.
var entriesBucket = []byte("entries")

// BoltConfig represents object-store backend configuration
type BoltConfig struct {
	Directory  string        `yaml:"directory"`
	FileName   string        `yaml:"file_name"`
	QuotaBytes int64         `yaml:"quota_bytes"`
	Timeout    time.Duration `yaml:"timeout"`
}

// BoltBackend is the transactional object-store tier, backed by a single
// bbolt database file. The handle is opened lazily on first use and shared
// by all callers; a failed open marks the backend unavailable for the rest
// of the process, which is what sends the tiered store to its fallback.
type BoltBackend struct {
	config *BoltConfig

	openOnce sync.Once
	openErr  error
	db       *bolt.DB
	ready    atomic.Bool

	mu     sync.Mutex
	closed bool
}

// NewBoltBackend creates a new object-store backend
func NewBoltBackend(config *BoltConfig) *BoltBackend {
	if config == nil {
		config = &BoltConfig{}
	}
	if config.Directory == "" {
		config.Directory = filepath.Join(os.TempDir(), "showgrid")
	}
	if config.FileName == "" {
		config.FileName = "showgrid-cache.db"
	}
	if config.QuotaBytes <= 0 {
		config.QuotaBytes = 256 << 20
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Second
	}

	return &BoltBackend{config: config}
}

// Path returns the database file path.
func (b *BoltBackend) Path() string {
	return filepath.Join(b.config.Directory, b.config.FileName)
}

// Open opens the database handle if it is not open yet. Safe to call from
// any goroutine; only the first call does work.
func (b *BoltBackend) Open(ctx context.Context) error {
	b.openOnce.Do(func() {
		if err := os.MkdirAll(b.config.Directory, 0750); err != nil {
			b.openErr = errors.NewError(errors.ErrCodeStorageUnavailable, "failed to create store directory").
				WithComponent("store").
				WithOperation("open").
				WithContext("path", b.config.Directory).
				WithCause(err)
			return
		}

		db, err := bolt.Open(b.Path(), 0600, &bolt.Options{Timeout: b.config.Timeout})
		if err != nil {
			b.openErr = errors.NewError(errors.ErrCodeStorageUnavailable, "failed to open object store").
				WithComponent("store").
				WithOperation("open").
				WithContext("path", b.Path()).
				WithCause(err)
			return
		}

		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(entriesBucket)
			return err
		})
		if err != nil {
			db.Close()
			b.openErr = errors.NewError(errors.ErrCodeStorageUnavailable, "failed to initialize object store").
				WithComponent("store").
				WithOperation("open").
				WithCause(err)
			return
		}

		b.db = db
		b.ready.Store(true)
	})
	return b.openErr
}

// Available reports whether the backend opened successfully, opening it on
// first call.
func (b *BoltBackend) Available(ctx context.Context) bool {
	return b.Open(ctx) == nil
}

// Ready reports whether the backend is open, without triggering an open.
func (b *BoltBackend) Ready() bool {
	return b.ready.Load()
}

// Get retrieves the record stored under key
func (b *BoltBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := b.Open(ctx); err != nil {
		return nil, false, err
	}

	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(entriesBucket).Get([]byte(key))
		if v != nil {
			value = make([]byte, len(v))
			copy(value, v)
		}
		return nil
	})
	if err != nil {
		return nil, false, errors.NewError(errors.ErrCodeStorageRead, "object store read failed").
			WithComponent("store").
			WithOperation("get").
			WithKey(key).
			WithCause(err)
	}
	return value, value != nil, nil
}

// Put stores a record under key, enforcing the quota watermark
func (b *BoltBackend) Put(ctx context.Context, key string, value []byte) error {
	if err := b.Open(ctx); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		if tx.Size()+int64(len(value)) > b.config.QuotaBytes {
			return errors.NewError(errors.ErrCodeQuotaExceeded, "object store quota exceeded").
				WithComponent("store").
				WithOperation("put").
				WithKey(key).
				WithDetail("quota_bytes", b.config.QuotaBytes).
				WithDetail("db_bytes", tx.Size())
		}
		return tx.Bucket(entriesBucket).Put([]byte(key), value)
	})
	if err != nil {
		if errors.IsQuotaExceeded(err) {
			return err
		}
		return errors.NewError(errors.ErrCodeStorageWrite, "object store write failed").
			WithComponent("store").
			WithOperation("put").
			WithKey(key).
			WithCause(err)
	}
	return nil
}

// Delete removes the record stored under key
func (b *BoltBackend) Delete(ctx context.Context, key string) error {
	if err := b.Open(ctx); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Delete([]byte(key))
	})
	if err != nil {
		return errors.NewError(errors.ErrCodeStorageWrite, "object store delete failed").
			WithComponent("store").
			WithOperation("delete").
			WithKey(key).
			WithCause(err)
	}
	return nil
}

// Clear removes every record
func (b *BoltBackend) Clear(ctx context.Context) error {
	if err := b.Open(ctx); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(entriesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(entriesBucket)
		return err
	})
	if err != nil {
		return errors.NewError(errors.ErrCodeStorageWrite, "object store clear failed").
			WithComponent("store").
			WithOperation("clear").
			WithCause(err)
	}
	return nil
}

// Keys lists every stored key
func (b *BoltBackend) Keys(ctx context.Context) ([]string, error) {
	if err := b.Open(ctx); err != nil {
		return nil, err
	}

	var keys []string
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(k, v []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeStorageRead, "object store key scan failed").
			WithComponent("store").
			WithOperation("keys").
			WithCause(err)
	}
	return keys, nil
}

// Size returns the database file size in bytes.
func (b *BoltBackend) Size() int64 {
	if !b.ready.Load() {
		return 0
	}
	info, err := os.Stat(b.Path())
	if err != nil {
		return 0
	}
	return info.Size()
}

// Close closes the database handle
func (b *BoltBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.db == nil {
		return nil
	}
	b.closed = true
	b.ready.Store(false)
	return b.db.Close()
}
