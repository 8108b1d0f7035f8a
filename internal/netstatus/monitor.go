package netstatus

import (
	"context"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/time/rate"

	"github.com/showgrid/showgrid/internal/signal"
	"github.com/showgrid/showgrid/pkg/errors"
	"github.com/showgrid/showgrid/pkg/types"
)

var log = logging.Logger("netstatus")

// ProbeFunc performs one reachability check. It returns nil when the
// network answered; the monitor measures the latency itself.
type ProbeFunc func(ctx context.Context) error

// MonitorConfig represents network monitor configuration
type MonitorConfig struct {
	// FailureThreshold is the consecutive-failure streak that trips offline.
	FailureThreshold uint32 `yaml:"failure_threshold"`
	// RecoveryTimeout is how long offline lasts before a sample may prove
	// the network back.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
	// SlowThreshold marks the connection slow when the rolling average
	// latency crosses it.
	SlowThreshold time.Duration `yaml:"slow_threshold"`
	// LatencyWindow is how many recent samples the rolling average spans.
	LatencyWindow int `yaml:"latency_window"`
	// ProbeInterval paces the optional active probe loop.
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// MonitorStats tracks network monitor statistics
type MonitorStats struct {
	State        string  `json:"state"`
	Slow         bool    `json:"slow"`
	Samples      uint64  `json:"samples"`
	Failures     uint64  `json:"failures"`
	Probes       uint64  `json:"probes"`
	Transitions  uint64  `json:"transitions"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Monitor classifies connectivity from fetch outcomes. Collaborators feed
// it samples through ReportSample; an optional probe loop generates its
// own. Consumers read Status or subscribe for change notifications.
type Monitor struct {
	config *MonitorConfig
	hub    *signal.Hub[types.NetworkStatus]

	mu          sync.Mutex
	breaker     *breaker
	latencies   []time.Duration
	latIdx      int
	latCount    int
	slow        bool
	last        types.NetworkStatus
	probes      uint64
	transitions uint64
	probing     bool

	probeCancel context.CancelFunc
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

// NewMonitor creates a new network monitor
func NewMonitor(config *MonitorConfig) *Monitor {
	if config == nil {
		config = &MonitorConfig{}
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 3
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 15 * time.Second
	}
	if config.SlowThreshold <= 0 {
		config.SlowThreshold = time.Second
	}
	if config.LatencyWindow <= 0 {
		config.LatencyWindow = 8
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = 30 * time.Second
	}

	return &Monitor{
		config:    config,
		hub:       signal.NewHub[types.NetworkStatus](),
		breaker:   newBreaker(config.FailureThreshold, config.RecoveryTimeout),
		latencies: make([]time.Duration, config.LatencyWindow),
	}
}

// Status returns the current connectivity snapshot. Recovering counts as
// offline until a sample proves otherwise.
func (m *Monitor) Status() types.NetworkStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.breaker.current(time.Now())
	return types.NetworkStatus{
		Offline:        state != StateOnline,
		SlowConnection: m.slow,
	}
}

// ReportSample feeds one observed fetch outcome into the classifier.
// Successful samples contribute their latency to the slow-connection
// average; failures feed the offline trip rule.
func (m *Monitor) ReportSample(latency time.Duration, err error) {
	m.mu.Lock()

	now := time.Now()
	state, changed := m.breaker.record(err, now)
	if changed {
		m.transitions++
	}

	if err == nil {
		m.pushLatencyLocked(latency)
	}

	status := types.NetworkStatus{
		Offline:        state != StateOnline,
		SlowConnection: m.slow,
	}
	publish := status != m.last
	m.last = status
	m.mu.Unlock()

	if changed {
		log.Infow("network state changed", "state", state.String(), "slow", status.SlowConnection)
	}
	if publish {
		m.hub.Publish(status)
	}
}

// Subscribe registers an observer for status changes
func (m *Monitor) Subscribe(buffer int) *signal.Subscription[types.NetworkStatus] {
	return m.hub.Subscribe(buffer)
}

// StartProbe launches the active probe loop. Probes run at the configured
// interval and their outcomes enter the classifier like any other sample.
func (m *Monitor) StartProbe(probe ProbeFunc) error {
	if probe == nil {
		return errors.NewError(errors.ErrCodeInvalidConfig, "probe function is required").
			WithComponent("netstatus").
			WithOperation("start_probe")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.probing {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "probe loop already started").
			WithComponent("netstatus").
			WithOperation("start_probe")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.probing = true
	m.probeCancel = cancel

	m.wg.Add(1)
	go m.probeLoop(ctx, probe)

	return nil
}

// Stats returns monitor statistics
func (m *Monitor) Stats() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := m.breaker.counts
	return MonitorStats{
		State:        m.breaker.current(time.Now()).String(),
		Slow:         m.slow,
		Samples:      counts.Samples,
		Failures:     counts.Failures,
		Probes:       m.probes,
		Transitions:  m.transitions,
		AvgLatencyMs: float64(m.avgLatencyLocked()) / float64(time.Millisecond),
	}
}

// Close stops the probe loop and closes the hub
func (m *Monitor) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		if m.probeCancel != nil {
			m.probeCancel()
		}
		m.probing = false
		m.mu.Unlock()

		m.wg.Wait()
		m.hub.Close()
	})

	return nil
}

// Helper methods

func (m *Monitor) probeLoop(ctx context.Context, probe ProbeFunc) {
	defer m.wg.Done()

	limiter := rate.NewLimiter(rate.Every(m.config.ProbeInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		start := time.Now()
		err := probe(ctx)
		if ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		m.probes++
		m.mu.Unlock()

		m.ReportSample(time.Since(start), err)
	}
}

// pushLatencyLocked adds one latency sample to the rolling window and
// recomputes the slow flag
func (m *Monitor) pushLatencyLocked(latency time.Duration) {
	m.latencies[m.latIdx] = latency
	m.latIdx = (m.latIdx + 1) % len(m.latencies)
	if m.latCount < len(m.latencies) {
		m.latCount++
	}

	m.slow = m.avgLatencyLocked() >= m.config.SlowThreshold
}

func (m *Monitor) avgLatencyLocked() time.Duration {
	if m.latCount == 0 {
		return 0
	}

	var total time.Duration
	for i := 0; i < m.latCount; i++ {
		total += m.latencies[i]
	}
	return total / time.Duration(m.latCount)
}
