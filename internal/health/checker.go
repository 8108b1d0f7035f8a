// Package health runs periodic component checks and keeps the most recent
// result per check for the diagnostics API. A failing critical check marks
// the system unhealthy; a failing warning check only degrades it. Check
// failures are logged and never panic the process.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/showgrid/showgrid/pkg/errors"
	"github.com/showgrid/showgrid/pkg/types"
)

var log = logging.Logger("health")

// Config represents health checker configuration
type Config struct {
	Enabled       bool          `yaml:"enabled"`
	CheckInterval time.Duration `yaml:"check_interval"`
	CheckTimeout  time.Duration `yaml:"check_timeout"`
}

func (c *Config) applyDefaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 30 * time.Second
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 5 * time.Second
	}
}

// CheckFunc probes one component. A nil return is healthy.
type CheckFunc func(ctx context.Context) error

// Severity decides how a failing check weighs on the overall status
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Status classifies a check result or the system as a whole
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Result is the outcome of one check run
type Result struct {
	Check     string        `json:"check"`
	Severity  Severity      `json:"severity"`
	Status    Status        `json:"status"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// Snapshot is the current health picture served by the diagnostics API
type Snapshot struct {
	Status    Status             `json:"status"`
	Timestamp time.Time          `json:"timestamp"`
	Uptime    time.Duration      `json:"uptime,omitempty"`
	Checks    map[string]*Result `json:"checks"`
}

type check struct {
	name     string
	severity Severity
	fn       CheckFunc
}

// Checker evaluates registered checks on a timer and keeps the latest
// result per check
type Checker struct {
	mu      sync.RWMutex
	config  *Config
	checks  map[string]*check
	results map[string]*Result
	overall Status
	started time.Time
	running bool
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewChecker creates a new health checker
func NewChecker(config *Config) *Checker {
	if config == nil {
		config = &Config{Enabled: true}
	}
	config.applyDefaults()

	return &Checker{
		config:  config,
		checks:  make(map[string]*check),
		results: make(map[string]*Result),
		overall: StatusUnknown,
		stopCh:  make(chan struct{}),
	}
}

// Register adds a named check. Names must be unique.
func (c *Checker) Register(name string, severity Severity, fn CheckFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.checks[name]; exists {
		return errors.NewError(errors.ErrCodeInternalError, "health check already registered").
			WithComponent("health").
			WithOperation("register").
			WithDetail("check", name)
	}
	c.checks[name] = &check{name: name, severity: severity, fn: fn}
	return nil
}

// Start begins periodic evaluation. The first pass runs immediately so a
// snapshot is available before the first interval elapses. No-op when
// disabled.
func (c *Checker) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.NewError(errors.ErrCodeAlreadyStarted, "health checker already started").
			WithComponent("health")
	}
	if c.stopped {
		c.mu.Unlock()
		return errors.NewError(errors.ErrCodeComponentStopped, "health checker stopped").
			WithComponent("health")
	}
	c.running = true
	c.started = time.Now()
	c.mu.Unlock()

	c.wg.Add(1)
	go c.checkLoop()
	return nil
}

// Stop halts periodic evaluation. Safe to call when never started.
func (c *Checker) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.stopped = true
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()
	return nil
}

// RunAll evaluates every registered check once, updates the stored
// snapshot, and returns the fresh results
func (c *Checker) RunAll(ctx context.Context) map[string]*Result {
	c.mu.RLock()
	checks := make([]*check, 0, len(c.checks))
	for _, ch := range c.checks {
		checks = append(checks, ch)
	}
	timeout := c.config.CheckTimeout
	c.mu.RUnlock()

	resultCh := make(chan *Result, len(checks))
	for _, ch := range checks {
		go func(ch *check) {
			resultCh <- c.executeCheck(ctx, ch, timeout)
		}(ch)
	}

	results := make(map[string]*Result, len(checks))
	for range checks {
		result := <-resultCh
		results[result.Check] = result
	}

	c.mu.Lock()
	previous := c.overall
	for name, result := range results {
		c.results[name] = result
	}
	c.overall = c.overallLocked()
	current := c.overall
	c.mu.Unlock()

	if current != previous {
		if current == StatusHealthy {
			log.Infow("health status changed", "from", previous, "to", current)
		} else {
			log.Warnw("health status changed", "from", previous, "to", current)
		}
	}
	return results
}

// Snapshot returns the current health picture
func (c *Checker) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := &Snapshot{
		Status:    c.overall,
		Timestamp: time.Now(),
		Checks:    make(map[string]*Result, len(c.results)),
	}
	if !c.started.IsZero() {
		snapshot.Uptime = time.Since(c.started)
	}
	for name, result := range c.results {
		copied := *result
		snapshot.Checks[name] = &copied
	}
	return snapshot
}

// Healthy reports whether no check currently fails
func (c *Checker) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.overall == StatusHealthy
}

// Helper methods

// executeCheck runs one check under the configured timeout. A panicking
// check settles as a failure instead of taking down the process.
func (c *Checker) executeCheck(ctx context.Context, ch *check, timeout time.Duration) *Result {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := runProtected(checkCtx, ch.fn)
	duration := time.Since(start)

	result := &Result{
		Check:     ch.name,
		Severity:  ch.severity,
		Duration:  duration,
		Timestamp: start,
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		log.Debugw("health check failed", "check", ch.name, "severity", ch.severity, "error", err)
	} else {
		result.Status = StatusHealthy
	}
	return result
}

func runProtected(ctx context.Context, fn CheckFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewError(errors.ErrCodeInternalError, "health check panicked").
				WithComponent("health").
				WithDetail("panic", fmt.Sprint(r))
		}
	}()
	return fn(ctx)
}

// overallLocked folds per-check results into one status. Any critical
// failure wins; otherwise any failure degrades.
func (c *Checker) overallLocked() Status {
	if len(c.results) == 0 {
		return StatusUnknown
	}

	overall := StatusHealthy
	for _, result := range c.results {
		if result.Status == StatusHealthy {
			continue
		}
		if result.Severity == SeverityCritical {
			return StatusUnhealthy
		}
		overall = StatusDegraded
	}
	return overall
}

// checkLoop evaluates all checks once up front, then on every interval
// until stopped. Per-check timeouts are applied inside RunAll.
func (c *Checker) checkLoop() {
	defer c.wg.Done()

	c.RunAll(context.Background())

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.RunAll(context.Background())
		}
	}
}

// Common checks

// CapacityCheck verifies the in-memory cache honors its entry capacity.
// A violation means eviction is broken; register it as critical.
func CapacityCheck(stats func() (entries, capacity int)) CheckFunc {
	return func(ctx context.Context) error {
		entries, capacity := stats()
		if capacity > 0 && entries > capacity {
			return errors.NewError(errors.ErrCodeInternalError, "memory cache over capacity").
				WithComponent("cache").
				WithDetail("entries", entries).
				WithDetail("capacity", capacity)
		}
		return nil
	}
}

// NetworkCheck fails while the monitor reports the app offline. Offline is
// an expected operating mode; register it as a warning.
func NetworkCheck(status func() types.NetworkStatus) CheckFunc {
	return func(ctx context.Context) error {
		if status().Offline {
			return errors.NewError(errors.ErrCodeNetworkOffline, "network offline").
				WithComponent("netstatus")
		}
		return nil
	}
}
