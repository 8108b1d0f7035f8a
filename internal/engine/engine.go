package engine

import (
	"context"
	"sync"

	ds "github.com/ipfs/go-datastore"
	logging "github.com/ipfs/go-log/v2"

	"github.com/hashicorp/go-multierror"

	"github.com/showgrid/showgrid/internal/cache"
	"github.com/showgrid/showgrid/internal/config"
	"github.com/showgrid/showgrid/internal/health"
	"github.com/showgrid/showgrid/internal/metrics"
	"github.com/showgrid/showgrid/internal/netstatus"
	"github.com/showgrid/showgrid/internal/prefetch"
	"github.com/showgrid/showgrid/internal/request"
	"github.com/showgrid/showgrid/internal/session"
	"github.com/showgrid/showgrid/internal/store"
	"github.com/showgrid/showgrid/internal/tmdb"
	"github.com/showgrid/showgrid/pkg/api"
	"github.com/showgrid/showgrid/pkg/errors"
	"github.com/showgrid/showgrid/pkg/types"
)

var log = logging.Logger("engine")

// Stats aggregates component statistics
type Stats struct {
	Cache    cache.OrchestratorStats `json:"cache"`
	Requests types.RequestStats      `json:"requests"`
	Prefetch types.PrefetchStats     `json:"prefetch"`
	Network  netstatus.MonitorStats  `json:"network"`
	Session  types.SessionStats      `json:"session"`
	Batcher  store.BatcherStats      `json:"batcher"`
	Pressure cache.PressureStats     `json:"pressure"`
}

// Engine owns the full cache subsystem: the tiered cache, the request
// manager, the prefetch scheduler and their collaborators, assembled from
// one validated configuration. There are no package-level singletons;
// every test builds its own Engine.
type Engine struct {
	config *config.Configuration

	memory    *cache.MemoryCache
	store     *store.TieredStore
	batcher   *store.Batcher
	session   *session.Manager
	orch      *cache.Orchestrator
	pressure  *cache.PressureMonitor
	requests  *request.Manager
	network   *netstatus.Monitor
	metadata  *tmdb.Client
	prefetch  *prefetch.Scheduler
	collector *metrics.Collector
	checker   *health.Checker
	api       *api.Server

	mu      sync.Mutex
	started bool
	stopped bool
}

// Option customizes engine construction
type Option func(*options)

type options struct {
	fallbackDS ds.Batching
}

// WithFallbackDatastore supplies the datastore backing the key-value
// fallback tier. The default is an in-process map store whose records
// last the session.
func WithFallbackDatastore(d ds.Batching) Option {
	return func(o *options) { o.fallbackDS = d }
}

// New validates the configuration and constructs every component. Durable
// backends stay unopened until first use. A nil configuration gets the
// defaults.
func New(cfg *config.Configuration, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewError(errors.ErrCodeConfigValidation, "invalid configuration").
			WithComponent("engine").
			WithCause(err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{config: cfg}

	e.memory = cache.NewMemoryCache(&cache.MemoryConfig{
		MaxEntries: cfg.Memory.MaxEntries,
		DefaultTTL: cfg.Memory.DefaultTTL,
	})

	e.store = store.NewTieredStore(&store.Config{
		Bolt: &store.BoltConfig{
			Directory:  cfg.Store.Directory,
			FileName:   cfg.Store.FileName,
			QuotaBytes: cfg.Store.QuotaBytes,
		},
		KV: &store.KVConfig{
			MaxValueSize: cfg.Store.KV.MaxValueSize,
		},
		LargeValueThreshold: cfg.Store.LargeValueThreshold,
		CompressThreshold:   cfg.Store.CompressThreshold,
		SweepInterval:       cfg.Store.SweepInterval,
	}, o.fallbackDS)

	if cfg.Store.WriteBehind.Enabled {
		e.batcher = store.NewBatcher(e.store, &store.BatcherConfig{
			MaxBatch:      cfg.Store.WriteBehind.MaxBatchSize,
			FlushInterval: cfg.Store.WriteBehind.FlushInterval,
		})
	}

	// The session manager scopes keys for the orchestrator while the
	// orchestrator wipes prefixes for the session manager. The function
	// adapter breaks the construction cycle; wipes only happen after both
	// exist.
	e.session = session.NewManager(session.WiperFunc(
		func(ctx context.Context, prefix string) (int, error) {
			return e.orch.WipePrefix(ctx, prefix)
		}))

	e.orch = cache.NewOrchestrator(&cache.OrchestratorConfig{
		TTLShort:      cfg.TTLClasses.Short,
		TTLMedium:     cfg.TTLClasses.Medium,
		TTLLong:       cfg.TTLClasses.Long,
		TTLPersistent: cfg.TTLClasses.Persistent,
	}, e.memory, e.store, e.batcher, e.session)

	if cfg.Memory.Pressure.Enabled {
		e.pressure = cache.NewPressureMonitor(e.memory, &cache.PressureConfig{
			Enabled:        true,
			SampleInterval: cfg.Memory.Pressure.SampleInterval,
			HighWatermark:  cfg.Memory.Pressure.HighWatermark,
			EvictFraction:  cfg.Memory.Pressure.ShrinkFactor,
		})
	}

	e.requests = request.NewManager(&request.ManagerConfig{
		MaxConcurrent: cfg.Request.MaxConcurrent,
		MaxQueued:     cfg.Request.MaxQueueSize,
		ResultTTL:     cfg.Request.ResultCacheTTL,
	})

	e.network = netstatus.NewMonitor(&netstatus.MonitorConfig{
		FailureThreshold: uint32(cfg.Network.FailureThreshold),
		RecoveryTimeout:  cfg.Network.RecoveryTimeout,
		SlowThreshold:    cfg.Network.SlowThreshold,
		ProbeInterval:    cfg.Network.ProbeInterval,
	})

	if cfg.Metadata.APIKey != "" {
		client, err := tmdb.NewClient(&tmdb.ClientConfig{
			BaseURL:  cfg.Metadata.BaseURL,
			APIKey:   cfg.Metadata.APIKey,
			Language: cfg.Metadata.Language,
			Timeout:  cfg.Metadata.RequestTimeout,
			RetryMax: cfg.Metadata.RetryMax,
		})
		if err != nil {
			e.closeConstructed()
			return nil, err
		}
		e.metadata = client
	} else {
		log.Infow("metadata client disabled, no api key configured")
	}

	if cfg.Prefetch.Enabled {
		e.prefetch = prefetch.NewScheduler(&prefetch.SchedulerConfig{
			HoverDelay:            cfg.Prefetch.HoverDelay,
			ViewportMargin:        cfg.Prefetch.ViewportMargin,
			MaxConcurrent:         cfg.Prefetch.MaxConcurrent,
			MaxQueueSize:          cfg.Prefetch.MaxQueueSize,
			DisableOnSlowNetwork:  cfg.Prefetch.DisableOnSlowNetwork,
			ReducedPrefetchOnSlow: cfg.Prefetch.ReducedPrefetchOnSlow,
			AdmitRate:             cfg.Prefetch.AdmitPerSecond,
			AdmitBurst:            cfg.Prefetch.AdmitBurst,
		}, e.requests, e, e.network)
	}

	sources := metrics.Sources{
		Cache:    e.orch.Stats,
		Requests: e.requests.Stats,
		Session:  e.session.Stats,
		Network:  e.network.Stats,
	}
	if e.prefetch != nil {
		sources.Prefetch = e.prefetch.Stats
	}
	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.Metrics.Enabled,
		Namespace: cfg.Monitoring.Metrics.Namespace,
	}, sources)
	if err != nil {
		e.closeConstructed()
		return nil, err
	}
	e.collector = collector

	e.checker = health.NewChecker(&health.Config{
		Enabled:       cfg.Monitoring.Health.Enabled,
		CheckInterval: cfg.Monitoring.Health.Interval,
		CheckTimeout:  cfg.Monitoring.Health.Timeout,
	})
	if err := e.registerChecks(); err != nil {
		e.closeConstructed()
		return nil, err
	}

	if cfg.Monitoring.API.Enabled {
		e.api = api.NewServer(api.ServerConfig{
			Address:      cfg.Monitoring.API.Address,
			ReadTimeout:  cfg.Monitoring.API.ReadTimeout,
			WriteTimeout: cfg.Monitoring.API.WriteTimeout,
			IdleTimeout:  cfg.Monitoring.API.IdleTimeout,
			EnableCORS:   cfg.Monitoring.API.EnableCORS,
		}, api.Hooks{
			Stats:   func() interface{} { return e.Stats() },
			Health:  e.checker.Snapshot,
			Metrics: e.collector.Handler(),
		})
	}

	return e, nil
}

// Start brings up the background loops: write-behind flushing, pressure
// sampling, network probing, health evaluation, and the diagnostics
// server
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return errors.NewError(errors.ErrCodeComponentStopped, "engine stopped").
			WithComponent("engine")
	}
	if e.started {
		e.mu.Unlock()
		return errors.NewError(errors.ErrCodeAlreadyStarted, "engine already started").
			WithComponent("engine")
	}
	e.started = true
	e.mu.Unlock()

	if e.batcher != nil {
		if err := e.batcher.Start(); err != nil {
			return err
		}
	}
	if e.pressure != nil {
		if err := e.pressure.Start(); err != nil {
			return err
		}
	}
	if e.config.Network.ProbeEnabled {
		if err := e.network.StartProbe(e.probeFunc()); err != nil {
			return err
		}
	}
	if err := e.checker.Start(ctx); err != nil {
		return err
	}
	if e.api != nil {
		e.api.StartBackground()
	}

	log.Infow("engine started",
		"store", e.config.Store.Directory,
		"prefetch", e.config.Prefetch.Enabled,
		"api", e.config.Monitoring.API.Enabled)
	return nil
}

// Stop drains and closes every component in reverse dependency order,
// aggregating shutdown errors. Safe to call more than once and safe to
// call on an engine that never started.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	var result *multierror.Error

	if e.api != nil {
		if err := e.api.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := e.checker.Stop(); err != nil {
		result = multierror.Append(result, err)
	}
	if e.prefetch != nil {
		if err := e.prefetch.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := e.requests.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if e.pressure != nil {
		e.pressure.Stop()
	}
	// The orchestrator closes the batcher, the memory tier, and the
	// durable tiers it owns.
	if err := e.orch.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := e.network.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := e.session.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	log.Infow("engine stopped")
	return result.ErrorOrNil()
}

// Stats aggregates the statistics of every component
func (e *Engine) Stats() Stats {
	stats := Stats{
		Cache:    e.orch.Stats(),
		Requests: e.requests.Stats(),
		Network:  e.network.Stats(),
		Session:  e.session.Stats(),
	}
	if e.prefetch != nil {
		stats.Prefetch = e.prefetch.Stats()
	}
	if e.batcher != nil {
		stats.Batcher = e.batcher.Stats()
	}
	if e.pressure != nil {
		stats.Pressure = e.pressure.Stats()
	}
	return stats
}

// Component accessors

// Orchestrator returns the tiered cache front
func (e *Engine) Orchestrator() *cache.Orchestrator {
	return e.orch
}

// Requests returns the request manager
func (e *Engine) Requests() *request.Manager {
	return e.requests
}

// Prefetch returns the prefetch scheduler, nil when disabled
func (e *Engine) Prefetch() *prefetch.Scheduler {
	return e.prefetch
}

// Network returns the connectivity monitor
func (e *Engine) Network() *netstatus.Monitor {
	return e.network
}

// Session returns the identity manager
func (e *Engine) Session() *session.Manager {
	return e.session
}

// Health returns the health checker
func (e *Engine) Health() *health.Checker {
	return e.checker
}

// Metrics returns the metrics collector
func (e *Engine) Metrics() *metrics.Collector {
	return e.collector
}

// Helper methods

func (e *Engine) registerChecks() error {
	memory := e.memory
	if err := e.checker.Register("memory-cache", health.SeverityCritical,
		health.CapacityCheck(func() (int, int) {
			stats := memory.Stats()
			return stats.Size, stats.Capacity
		})); err != nil {
		return err
	}
	if err := e.checker.Register("object-store", health.SeverityWarning, e.store.PingObjectStore); err != nil {
		return err
	}
	if err := e.checker.Register("kv-store", health.SeverityWarning, e.store.PingKV); err != nil {
		return err
	}
	return e.checker.Register("network", health.SeverityWarning, health.NetworkCheck(e.network.Status))
}

// closeConstructed tears down whatever New managed to build before
// failing, so a constructor error never leaks goroutines.
func (e *Engine) closeConstructed() {
	if e.requests != nil {
		_ = e.requests.Close()
	}
	if e.orch != nil {
		_ = e.orch.Close()
	} else {
		if e.memory != nil {
			e.memory.Close()
		}
		if e.store != nil {
			_ = e.store.Close()
		}
	}
	if e.network != nil {
		_ = e.network.Close()
	}
	if e.session != nil {
		_ = e.session.Close()
	}
}
