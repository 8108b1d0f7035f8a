package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/showgrid/showgrid/internal/cache"
	"github.com/showgrid/showgrid/internal/netstatus"
	"github.com/showgrid/showgrid/pkg/types"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

func (c *Config) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "showgrid"
	}
}

// Sources are the stat snapshots the collector reads at scrape time.
// Nil fields are skipped, so a partially wired engine still scrapes.
type Sources struct {
	Cache    func() cache.OrchestratorStats
	Requests func() types.RequestStats
	Prefetch func() types.PrefetchStats
	Session  func() types.SessionStats
	Network  func() netstatus.MonitorStats
}

// Collector exposes component statistics on a private Prometheus
// registry. Counters and gauges are derived from component Stats()
// snapshots when scraped; only the fetch duration histogram is fed at
// event time, by whoever runs fetches. A nil *Collector is a no-op.
type Collector struct {
	config   *Config
	sources  Sources
	registry *prometheus.Registry

	fetchDuration *prometheus.HistogramVec

	cacheDescs    cacheDescs
	requestDescs  requestDescs
	prefetchDescs prefetchDescs
	sessionDescs  sessionDescs
	networkDescs  networkDescs
}

type cacheDescs struct {
	hits          *prometheus.Desc
	misses        *prometheus.Desc
	servedStale   *prometheus.Desc
	revalidations *prometheus.Desc
	promotions    *prometheus.Desc
	entries       *prometheus.Desc
	capacity      *prometheus.Desc
	evictions     *prometheus.Desc
	expirations   *prometheus.Desc

	storeWrites        *prometheus.Desc
	storeDroppedWrites *prometheus.Desc
	storePurged        *prometheus.Desc
	storeSweeps        *prometheus.Desc
	storeFallbackHits  *prometheus.Desc
	storeAvailable     *prometheus.Desc
}

type requestDescs struct {
	inFlight       *prometheus.Desc
	queued         *prometheus.Desc
	settled        *prometheus.Desc
	dedupJoins     *prometheus.Desc
	resultCacheHit *prometheus.Desc
}

type prefetchDescs struct {
	triggered *prometheus.Desc
	enqueued  *prometheus.Desc
	completed *prometheus.Desc
	upgraded  *prometheus.Desc
	skipped   *prometheus.Desc
}

type sessionDescs struct {
	switches  *prometheus.Desc
	wiped     *prometheus.Desc
	anonymous *prometheus.Desc
}

type networkDescs struct {
	offline     *prometheus.Desc
	slow        *prometheus.Desc
	transitions *prometheus.Desc
	probes      *prometheus.Desc
	latency     *prometheus.Desc
}

// NewCollector creates a new metrics collector over the given sources
func NewCollector(config *Config, sources Sources) (*Collector, error) {
	if config == nil {
		config = &Config{Enabled: true}
	}
	config.applyDefaults()

	collector := &Collector{
		config:  config,
		sources: sources,
	}

	if !config.Enabled {
		return collector, nil
	}

	collector.registry = prometheus.NewRegistry()
	collector.initDescs()

	collector.fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of upstream fetches in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"status"},
	)

	if err := collector.registry.Register(collector.fetchDuration); err != nil {
		return nil, err
	}
	if err := collector.registry.Register(collector); err != nil {
		return nil, err
	}

	return collector, nil
}

// Registry returns the private registry, nil when disabled
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler returns an HTTP handler serving the registry in Prometheus
// exposition format
func (c *Collector) Handler() http.Handler {
	if c == nil || c.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// RecordFetch feeds one upstream fetch into the duration histogram
func (c *Collector) RecordFetch(duration time.Duration, success bool) {
	if c == nil || c.fetchDuration == nil {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}
	c.fetchDuration.With(prometheus.Labels{"status": status}).Observe(duration.Seconds())
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.allDescs() {
		ch <- d
	}
}

// Collect implements prometheus.Collector. Each snapshot is taken once
// per scrape, so counters within one component are mutually consistent.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.sources.Cache != nil {
		c.collectCache(ch, c.sources.Cache())
	}
	if c.sources.Requests != nil {
		c.collectRequests(ch, c.sources.Requests())
	}
	if c.sources.Prefetch != nil {
		c.collectPrefetch(ch, c.sources.Prefetch())
	}
	if c.sources.Session != nil {
		c.collectSession(ch, c.sources.Session())
	}
	if c.sources.Network != nil {
		c.collectNetwork(ch, c.sources.Network())
	}
}

// Helper methods

func (c *Collector) desc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(
		prometheus.BuildFQName(c.config.Namespace, "", name),
		help, labels, nil,
	)
}

func (c *Collector) initDescs() {
	c.cacheDescs = cacheDescs{
		hits:          c.desc("cache_hits_total", "Cache hits by tier", "tier"),
		misses:        c.desc("cache_misses_total", "Cache misses across all tiers"),
		servedStale:   c.desc("cache_served_stale_total", "Reads answered with a stale entry pending revalidation"),
		revalidations: c.desc("cache_revalidations_total", "Background revalidations by outcome", "status"),
		promotions:    c.desc("cache_promotions_total", "Durable tier hits promoted into memory"),
		entries:       c.desc("cache_entries", "Entries currently cached", "tier"),
		capacity:      c.desc("cache_capacity", "Configured entry capacity", "tier"),
		evictions:     c.desc("cache_evictions_total", "Capacity evictions", "tier"),
		expirations:   c.desc("cache_expirations_total", "TTL expirations", "tier"),

		storeWrites:        c.desc("store_writes_total", "Durable tier writes"),
		storeDroppedWrites: c.desc("store_dropped_writes_total", "Writes dropped for lack of quota"),
		storePurged:        c.desc("store_purged_total", "Entries purged by sweeps"),
		storeSweeps:        c.desc("store_sweeps_total", "Expiry sweeps run"),
		storeFallbackHits:  c.desc("store_fallback_hits_total", "Reads served by the fallback tier"),
		storeAvailable:     c.desc("store_object_store_available", "Whether the primary durable backend is reachable"),
	}

	c.requestDescs = requestDescs{
		inFlight:       c.desc("requests_in_flight", "Fetches currently running"),
		queued:         c.desc("requests_queued", "Fetches waiting in the priority queue"),
		settled:        c.desc("requests_settled_total", "Settled requests by outcome", "status"),
		dedupJoins:     c.desc("request_dedup_joins_total", "Callers joined onto an existing in-flight fetch"),
		resultCacheHit: c.desc("request_result_cache_hits_total", "Requests answered from the short-lived result cache"),
	}

	c.prefetchDescs = prefetchDescs{
		triggered: c.desc("prefetch_triggered_total", "Prefetch triggers by source", "source"),
		enqueued:  c.desc("prefetch_enqueued_total", "Prefetch decisions admitted to the queue"),
		completed: c.desc("prefetch_completed_total", "Prefetches completed"),
		upgraded:  c.desc("prefetch_upgraded_total", "Queued prefetches upgraded in place"),
		skipped:   c.desc("prefetch_skipped_total", "Prefetch decisions skipped by reason", "reason"),
	}

	c.sessionDescs = sessionDescs{
		switches:  c.desc("session_switches_total", "Identity switches"),
		wiped:     c.desc("session_wiped_entries_total", "User-scoped entries wiped on identity switches"),
		anonymous: c.desc("session_anonymous", "Whether the session is anonymous"),
	}

	c.networkDescs = networkDescs{
		offline:     c.desc("network_offline", "Whether the network is classified offline"),
		slow:        c.desc("network_slow", "Whether the network is classified slow"),
		transitions: c.desc("network_transitions_total", "Network state transitions"),
		probes:      c.desc("network_probes_total", "Connectivity probes run"),
		latency:     c.desc("network_avg_latency_seconds", "Rolling average fetch latency"),
	}
}

func (c *Collector) allDescs() []*prometheus.Desc {
	return []*prometheus.Desc{
		c.cacheDescs.hits, c.cacheDescs.misses, c.cacheDescs.servedStale,
		c.cacheDescs.revalidations, c.cacheDescs.promotions, c.cacheDescs.entries,
		c.cacheDescs.capacity, c.cacheDescs.evictions, c.cacheDescs.expirations,
		c.cacheDescs.storeWrites, c.cacheDescs.storeDroppedWrites, c.cacheDescs.storePurged,
		c.cacheDescs.storeSweeps, c.cacheDescs.storeFallbackHits, c.cacheDescs.storeAvailable,
		c.requestDescs.inFlight, c.requestDescs.queued, c.requestDescs.settled,
		c.requestDescs.dedupJoins, c.requestDescs.resultCacheHit,
		c.prefetchDescs.triggered, c.prefetchDescs.enqueued, c.prefetchDescs.completed,
		c.prefetchDescs.upgraded, c.prefetchDescs.skipped,
		c.sessionDescs.switches, c.sessionDescs.wiped, c.sessionDescs.anonymous,
		c.networkDescs.offline, c.networkDescs.slow, c.networkDescs.transitions,
		c.networkDescs.probes, c.networkDescs.latency,
	}
}

func (c *Collector) collectCache(ch chan<- prometheus.Metric, stats cache.OrchestratorStats) {
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(c.cacheDescs.hits, stats.MemoryHits, "memory")
	counter(c.cacheDescs.hits, stats.StoreHits, "durable")
	counter(c.cacheDescs.misses, stats.TotalMisses)
	counter(c.cacheDescs.servedStale, stats.ServedStale)
	counter(c.cacheDescs.revalidations, stats.Revalidations, "ok")
	counter(c.cacheDescs.revalidations, stats.RevalidationFailures, "failed")
	counter(c.cacheDescs.promotions, stats.Promotions)

	gauge(c.cacheDescs.entries, float64(stats.Memory.Size), "memory")
	gauge(c.cacheDescs.capacity, float64(stats.Memory.Capacity), "memory")
	counter(c.cacheDescs.evictions, stats.Memory.Evictions, "memory")
	counter(c.cacheDescs.expirations, stats.Memory.Expirations, "memory")

	counter(c.cacheDescs.storeWrites, stats.Store.Writes)
	counter(c.cacheDescs.storeDroppedWrites, stats.Store.DroppedWrites)
	counter(c.cacheDescs.storePurged, stats.Store.Purged)
	counter(c.cacheDescs.storeSweeps, stats.Store.Sweeps)
	counter(c.cacheDescs.storeFallbackHits, stats.Store.FallbackHits)
	gauge(c.cacheDescs.storeAvailable, boolValue(stats.Store.ObjectStoreAvailable))
}

func (c *Collector) collectRequests(ch chan<- prometheus.Metric, stats types.RequestStats) {
	ch <- prometheus.MustNewConstMetric(c.requestDescs.inFlight, prometheus.GaugeValue, float64(stats.InFlight))
	ch <- prometheus.MustNewConstMetric(c.requestDescs.queued, prometheus.GaugeValue, float64(stats.Queued))
	ch <- prometheus.MustNewConstMetric(c.requestDescs.settled, prometheus.CounterValue, float64(stats.Completed), "completed")
	ch <- prometheus.MustNewConstMetric(c.requestDescs.settled, prometheus.CounterValue, float64(stats.Failed), "failed")
	ch <- prometheus.MustNewConstMetric(c.requestDescs.settled, prometheus.CounterValue, float64(stats.Cancelled), "cancelled")
	ch <- prometheus.MustNewConstMetric(c.requestDescs.dedupJoins, prometheus.CounterValue, float64(stats.DedupJoins))
	ch <- prometheus.MustNewConstMetric(c.requestDescs.resultCacheHit, prometheus.CounterValue, float64(stats.ResultCacheHits))
}

func (c *Collector) collectPrefetch(ch chan<- prometheus.Metric, stats types.PrefetchStats) {
	ch <- prometheus.MustNewConstMetric(c.prefetchDescs.triggered, prometheus.CounterValue, float64(stats.HoverTriggers), "hover")
	ch <- prometheus.MustNewConstMetric(c.prefetchDescs.triggered, prometheus.CounterValue, float64(stats.ViewportTriggers), "viewport")
	ch <- prometheus.MustNewConstMetric(c.prefetchDescs.enqueued, prometheus.CounterValue, float64(stats.Enqueued))
	ch <- prometheus.MustNewConstMetric(c.prefetchDescs.completed, prometheus.CounterValue, float64(stats.Completed))
	ch <- prometheus.MustNewConstMetric(c.prefetchDescs.upgraded, prometheus.CounterValue, float64(stats.Upgraded))
	ch <- prometheus.MustNewConstMetric(c.prefetchDescs.skipped, prometheus.CounterValue, float64(stats.SlowNetworkSkips), "slow_network")
	ch <- prometheus.MustNewConstMetric(c.prefetchDescs.skipped, prometheus.CounterValue, float64(stats.Skipped), "other")
}

func (c *Collector) collectSession(ch chan<- prometheus.Metric, stats types.SessionStats) {
	ch <- prometheus.MustNewConstMetric(c.sessionDescs.switches, prometheus.CounterValue, float64(stats.Switches))
	ch <- prometheus.MustNewConstMetric(c.sessionDescs.wiped, prometheus.CounterValue, float64(stats.WipedEntries))
	ch <- prometheus.MustNewConstMetric(c.sessionDescs.anonymous, prometheus.GaugeValue, boolValue(stats.Anonymous))
}

func (c *Collector) collectNetwork(ch chan<- prometheus.Metric, stats netstatus.MonitorStats) {
	ch <- prometheus.MustNewConstMetric(c.networkDescs.offline, prometheus.GaugeValue, boolValue(stats.State != netstatus.StateOnline.String()))
	ch <- prometheus.MustNewConstMetric(c.networkDescs.slow, prometheus.GaugeValue, boolValue(stats.Slow))
	ch <- prometheus.MustNewConstMetric(c.networkDescs.transitions, prometheus.CounterValue, float64(stats.Transitions))
	ch <- prometheus.MustNewConstMetric(c.networkDescs.probes, prometheus.CounterValue, float64(stats.Probes))
	ch <- prometheus.MustNewConstMetric(c.networkDescs.latency, prometheus.GaugeValue, stats.AvgLatencyMs/1000)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
