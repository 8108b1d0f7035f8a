package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete subsystem configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Memory     MemoryConfig     `yaml:"memory"`
	Store      StoreConfig      `yaml:"store"`
	TTLClasses TTLClassConfig   `yaml:"ttl_classes"`
	Request    RequestConfig    `yaml:"request"`
	Prefetch   PrefetchConfig   `yaml:"prefetch"`
	Network    NetworkConfig    `yaml:"network"`
	Metadata   MetadataConfig   `yaml:"metadata"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// MemoryConfig represents the in-process cache tier settings
type MemoryConfig struct {
	MaxEntries int            `yaml:"max_entries"`
	DefaultTTL time.Duration  `yaml:"default_ttl"`
	Pressure   PressureConfig `yaml:"pressure"`
}

// PressureConfig represents memory pressure monitoring settings
type PressureConfig struct {
	Enabled        bool          `yaml:"enabled"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	HighWatermark  uint64        `yaml:"high_watermark_bytes"`
	ShrinkFactor   float64       `yaml:"shrink_factor"`
}

// StoreConfig represents the durable tier settings
type StoreConfig struct {
	Directory           string            `yaml:"directory"`
	FileName            string            `yaml:"file_name"`
	LargeValueThreshold int               `yaml:"large_value_threshold"`
	CompressThreshold   int               `yaml:"compress_threshold"`
	QuotaBytes          int64             `yaml:"quota_bytes"`
	SweepInterval       time.Duration     `yaml:"sweep_interval"`
	KV                  KVConfig          `yaml:"kv"`
	WriteBehind         WriteBehindConfig `yaml:"write_behind"`
}

// KVConfig represents the simple key/value fallback store settings. The
// store namespace is derived from the schema version and is not a knob.
type KVConfig struct {
	MaxValueSize int `yaml:"max_value_size"`
}

// WriteBehindConfig represents durable write coalescing settings
type WriteBehindConfig struct {
	Enabled       bool          `yaml:"enabled"`
	MaxBatchSize  int           `yaml:"max_batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// TTLClassConfig maps freshness classes to concrete durations
type TTLClassConfig struct {
	Short      time.Duration `yaml:"short"`
	Medium     time.Duration `yaml:"medium"`
	Long       time.Duration `yaml:"long"`
	Persistent time.Duration `yaml:"persistent"`
}

// RequestConfig represents request manager settings
type RequestConfig struct {
	MaxConcurrent  int           `yaml:"max_concurrent"`
	MaxQueueSize   int           `yaml:"max_queue_size"`
	ResultCacheTTL time.Duration `yaml:"result_cache_ttl"`
}

// PrefetchConfig represents prefetch scheduler settings
type PrefetchConfig struct {
	Enabled               bool          `yaml:"enabled"`
	HoverDelay            time.Duration `yaml:"hover_delay"`
	ViewportMargin        int           `yaml:"viewport_margin"`
	MaxConcurrent         int           `yaml:"max_concurrent"`
	MaxQueueSize          int           `yaml:"max_queue_size"`
	DisableOnSlowNetwork  bool          `yaml:"disable_on_slow_network"`
	ReducedPrefetchOnSlow bool          `yaml:"reduced_prefetch_on_slow"`
	AdmitPerSecond        float64       `yaml:"admit_per_second"`
	AdmitBurst            int           `yaml:"admit_burst"`
}

// NetworkConfig represents network status monitoring settings
type NetworkConfig struct {
	ProbeEnabled     bool          `yaml:"probe_enabled"`
	ProbeURL         string        `yaml:"probe_url"`
	ProbeInterval    time.Duration `yaml:"probe_interval"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	SlowThreshold    time.Duration `yaml:"slow_threshold"`
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

// MetadataConfig represents the content metadata client settings
type MetadataConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Language       string        `yaml:"language"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RetryMax       int           `yaml:"retry_max"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
	API     APIConfig     `yaml:"api"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// HealthConfig represents health check settings
type HealthConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// APIConfig represents the diagnostics HTTP server settings
type APIConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	EnableCORS   bool          `yaml:"enable_cors"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "info",
		},
		Memory: MemoryConfig{
			MaxEntries: 1000,
			DefaultTTL: 30 * time.Minute,
			Pressure: PressureConfig{
				Enabled:        false,
				SampleInterval: 30 * time.Second,
				HighWatermark:  256 << 20,
				ShrinkFactor:   0.5,
			},
		},
		Store: StoreConfig{
			Directory:           defaultCacheDir(),
			FileName:            "showgrid-cache.db",
			LargeValueThreshold: 64 << 10,
			CompressThreshold:   4 << 10,
			QuotaBytes:          256 << 20,
			SweepInterval:       10 * time.Minute,
			KV: KVConfig{
				MaxValueSize: 64 << 10,
			},
			WriteBehind: WriteBehindConfig{
				Enabled:       false,
				MaxBatchSize:  32,
				FlushInterval: 2 * time.Second,
			},
		},
		TTLClasses: TTLClassConfig{
			Short:      5 * time.Minute,
			Medium:     30 * time.Minute,
			Long:       24 * time.Hour,
			Persistent: 7 * 24 * time.Hour,
		},
		Request: RequestConfig{
			MaxConcurrent:  6,
			MaxQueueSize:   200,
			ResultCacheTTL: 30 * time.Second,
		},
		Prefetch: PrefetchConfig{
			Enabled:               true,
			HoverDelay:            200 * time.Millisecond,
			ViewportMargin:        200,
			MaxConcurrent:         3,
			MaxQueueSize:          50,
			DisableOnSlowNetwork:  false,
			ReducedPrefetchOnSlow: true,
			AdmitPerSecond:        8,
			AdmitBurst:            16,
		},
		Network: NetworkConfig{
			ProbeEnabled:     false,
			ProbeURL:         "",
			ProbeInterval:    30 * time.Second,
			ProbeTimeout:     5 * time.Second,
			SlowThreshold:    800 * time.Millisecond,
			FailureThreshold: 3,
			RecoveryTimeout:  30 * time.Second,
		},
		Metadata: MetadataConfig{
			BaseURL:        "https://api.themoviedb.org/3",
			APIKey:         "",
			Language:       "en-US",
			RequestTimeout: 10 * time.Second,
			RetryMax:       3,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "showgrid",
			},
			Health: HealthConfig{
				Enabled:  true,
				Interval: 30 * time.Second,
				Timeout:  5 * time.Second,
			},
			API: APIConfig{
				Enabled:      false,
				Address:      "localhost:8090",
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
				IdleTimeout:  60 * time.Second,
				EnableCORS:   true,
			},
		},
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "showgrid")
	}
	return filepath.Join(os.TempDir(), "showgrid")
}

// LoadFromFile loads configuration from a YAML file. Unknown keys are
// rejected so typos fail loudly instead of silently reverting to defaults.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return c.LoadFromBytes(data)
}

// LoadFromBytes parses YAML configuration from data
func (c *Configuration) LoadFromBytes(data []byte) error {
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// LoadFromEnv loads configuration overrides from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("SHOWGRID_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("SHOWGRID_CACHE_DIR"); val != "" {
		c.Store.Directory = val
	}
	if val := os.Getenv("SHOWGRID_MAX_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Request.MaxConcurrent = n
		}
	}
	if val := os.Getenv("SHOWGRID_MEMORY_MAX_ENTRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Memory.MaxEntries = n
		}
	}
	if val := os.Getenv("SHOWGRID_PREFETCH_ENABLED"); val != "" {
		c.Prefetch.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("SHOWGRID_TMDB_API_KEY"); val != "" {
		c.Metadata.APIKey = val
	}
	if val := os.Getenv("SHOWGRID_API_ADDRESS"); val != "" {
		c.Monitoring.API.Address = val
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToLower(c.Global.LogLevel) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Memory.MaxEntries <= 0 {
		return fmt.Errorf("memory.max_entries must be greater than 0")
	}
	if c.Memory.DefaultTTL <= 0 {
		return fmt.Errorf("memory.default_ttl must be greater than 0")
	}
	if c.Memory.Pressure.Enabled {
		if c.Memory.Pressure.SampleInterval <= 0 {
			return fmt.Errorf("memory.pressure.sample_interval must be greater than 0")
		}
		if c.Memory.Pressure.ShrinkFactor <= 0 || c.Memory.Pressure.ShrinkFactor >= 1 {
			return fmt.Errorf("memory.pressure.shrink_factor must be in (0, 1)")
		}
	}

	if c.Store.Directory == "" {
		return fmt.Errorf("store.directory must not be empty")
	}
	if c.Store.FileName == "" {
		return fmt.Errorf("store.file_name must not be empty")
	}
	if c.Store.LargeValueThreshold <= 0 {
		return fmt.Errorf("store.large_value_threshold must be greater than 0")
	}
	if c.Store.KV.MaxValueSize < c.Store.LargeValueThreshold {
		// Every value small enough to be tiered into the KV store must fit
		// under its size cap, or mid-size writes would silently vanish.
		return fmt.Errorf("store.kv.max_value_size must be >= store.large_value_threshold")
	}
	if c.Store.QuotaBytes <= 0 {
		return fmt.Errorf("store.quota_bytes must be greater than 0")
	}
	if c.Store.WriteBehind.Enabled {
		if c.Store.WriteBehind.MaxBatchSize <= 0 {
			return fmt.Errorf("store.write_behind.max_batch_size must be greater than 0")
		}
		if c.Store.WriteBehind.FlushInterval <= 0 {
			return fmt.Errorf("store.write_behind.flush_interval must be greater than 0")
		}
	}

	ttl := c.TTLClasses
	if ttl.Short <= 0 || ttl.Medium <= 0 || ttl.Long <= 0 || ttl.Persistent <= 0 {
		return fmt.Errorf("ttl_classes durations must all be greater than 0")
	}
	if ttl.Short > ttl.Medium || ttl.Medium > ttl.Long || ttl.Long > ttl.Persistent {
		return fmt.Errorf("ttl_classes must be ordered short <= medium <= long <= persistent")
	}

	if c.Request.MaxConcurrent <= 0 {
		return fmt.Errorf("request.max_concurrent must be greater than 0")
	}
	if c.Request.MaxQueueSize <= 0 {
		return fmt.Errorf("request.max_queue_size must be greater than 0")
	}
	if c.Request.ResultCacheTTL <= 0 {
		return fmt.Errorf("request.result_cache_ttl must be greater than 0")
	}

	if c.Prefetch.Enabled {
		if c.Prefetch.HoverDelay <= 0 {
			return fmt.Errorf("prefetch.hover_delay must be greater than 0")
		}
		if c.Prefetch.MaxConcurrent <= 0 {
			return fmt.Errorf("prefetch.max_concurrent must be greater than 0")
		}
		if c.Prefetch.MaxQueueSize <= 0 {
			return fmt.Errorf("prefetch.max_queue_size must be greater than 0")
		}
		if c.Prefetch.AdmitPerSecond <= 0 {
			return fmt.Errorf("prefetch.admit_per_second must be greater than 0")
		}
	}

	if c.Network.ProbeEnabled {
		if c.Network.ProbeURL == "" {
			return fmt.Errorf("network.probe_url required when probes are enabled")
		}
		if c.Network.ProbeInterval <= 0 {
			return fmt.Errorf("network.probe_interval must be greater than 0")
		}
	}
	if c.Network.FailureThreshold <= 0 {
		return fmt.Errorf("network.failure_threshold must be greater than 0")
	}
	if c.Network.SlowThreshold <= 0 {
		return fmt.Errorf("network.slow_threshold must be greater than 0")
	}

	if c.Metadata.BaseURL == "" {
		return fmt.Errorf("metadata.base_url must not be empty")
	}
	if c.Metadata.RetryMax < 0 {
		return fmt.Errorf("metadata.retry_max must not be negative")
	}

	if c.Monitoring.API.Enabled && c.Monitoring.API.Address == "" {
		return fmt.Errorf("monitoring.api.address required when the API server is enabled")
	}

	return nil
}
