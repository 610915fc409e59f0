// Package metrics 把租户缓存、连接池、迁移任务和隔离守卫的状态导出为 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/cache"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/database"
	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/tenant/migration"
)

const DefaultNamespace = "jxt_tenancy"

// CacheSource *cache.Cache
type CacheSource interface {
	Stats() cache.Stats
}

// PoolSource *database.Manager
type PoolSource interface {
	AllStats() map[string]database.PoolStats
}

// JobSource *migration.Engine
type JobSource interface {
	Counts() map[migration.Status]int
}

var jobStatuses = []migration.Status{
	migration.StatusPending,
	migration.StatusRunning,
	migration.StatusCompleted,
	migration.StatusFailed,
	migration.StatusCancelled,
}

// Collector 采集时读取各组件的当前状态；守卫违规通过 ObserveViolation 计数
type Collector struct {
	cache CacheSource
	pools PoolSource
	jobs  JobSource

	violations *prometheus.CounterVec

	cacheSize      *prometheus.Desc
	cacheHits      *prometheus.Desc
	cacheMisses    *prometheus.Desc
	cacheEvictions *prometheus.Desc
	cacheHitRate   *prometheus.Desc
	poolConns      *prometheus.Desc
	poolOverflow   *prometheus.Desc
	poolWait       *prometheus.Desc
	poolCount      *prometheus.Desc
	jobsByStatus   *prometheus.Desc
}

type options struct {
	namespace string
	cache     CacheSource
	pools     PoolSource
	jobs      JobSource
}

// Option 配置 Collector
type Option func(*options)

func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

func WithCache(c CacheSource) Option {
	return func(o *options) {
		o.cache = c
	}
}

func WithPools(p PoolSource) Option {
	return func(o *options) {
		o.pools = p
	}
}

func WithJobs(j JobSource) Option {
	return func(o *options) {
		o.jobs = j
	}
}

// New 创建采集器，未设置的数据源不输出对应指标
func New(opts ...Option) *Collector {
	o := &options{namespace: DefaultNamespace}
	for _, opt := range opts {
		opt(o)
	}
	ns := o.namespace
	return &Collector{
		cache: o.cache,
		pools: o.pools,
		jobs:  o.jobs,
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "guard",
			Name:      "violations_total",
			Help:      "Statements flagged by the query isolation guard.",
		}, []string{"tenant_id", "blocked"}),
		cacheSize:      prometheus.NewDesc(prometheus.BuildFQName(ns, "cache", "size"), "Tenant records currently cached.", nil, nil),
		cacheHits:      prometheus.NewDesc(prometheus.BuildFQName(ns, "cache", "hits_total"), "Tenant cache hits.", nil, nil),
		cacheMisses:    prometheus.NewDesc(prometheus.BuildFQName(ns, "cache", "misses_total"), "Tenant cache misses.", nil, nil),
		cacheEvictions: prometheus.NewDesc(prometheus.BuildFQName(ns, "cache", "evictions_total"), "Tenant cache LRU evictions.", nil, nil),
		cacheHitRate:   prometheus.NewDesc(prometheus.BuildFQName(ns, "cache", "hit_rate_percent"), "Tenant cache hit rate in percent.", nil, nil),
		poolConns: prometheus.NewDesc(prometheus.BuildFQName(ns, "pool", "connections"),
			"Connections per tenant pool by state.", []string{"tenant_id", "state"}, nil),
		poolOverflow: prometheus.NewDesc(prometheus.BuildFQName(ns, "pool", "overflow"),
			"Connections open beyond the configured pool size.", []string{"tenant_id"}, nil),
		poolWait: prometheus.NewDesc(prometheus.BuildFQName(ns, "pool", "wait_total"),
			"Connection acquisitions that had to wait.", []string{"tenant_id"}, nil),
		poolCount:    prometheus.NewDesc(prometheus.BuildFQName(ns, "pool", "active"), "Open tenant pools.", nil, nil),
		jobsByStatus: prometheus.NewDesc(prometheus.BuildFQName(ns, "migration", "jobs"), "Migration jobs by status.", []string{"status"}, nil),
	}
}

// ObserveViolation 计入一次守卫违规，签名与 guard.WithViolationHook 一致
func (c *Collector) ObserveViolation(v *tenant.ViolationError, blocked bool) {
	b := "false"
	if blocked {
		b = "true"
	}
	c.violations.WithLabelValues(v.TenantID, b).Inc()
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.violations.Describe(ch)
	ch <- c.cacheSize
	ch <- c.cacheHits
	ch <- c.cacheMisses
	ch <- c.cacheEvictions
	ch <- c.cacheHitRate
	ch <- c.poolConns
	ch <- c.poolOverflow
	ch <- c.poolWait
	ch <- c.poolCount
	ch <- c.jobsByStatus
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.violations.Collect(ch)

	if c.cache != nil {
		s := c.cache.Stats()
		ch <- prometheus.MustNewConstMetric(c.cacheSize, prometheus.GaugeValue, float64(s.Size))
		ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(s.Hits))
		ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(s.Misses))
		ch <- prometheus.MustNewConstMetric(c.cacheEvictions, prometheus.CounterValue, float64(s.Evictions))
		ch <- prometheus.MustNewConstMetric(c.cacheHitRate, prometheus.GaugeValue, s.HitRate)
	}

	if c.pools != nil {
		all := c.pools.AllStats()
		ch <- prometheus.MustNewConstMetric(c.poolCount, prometheus.GaugeValue, float64(len(all)))
		for id, s := range all {
			ch <- prometheus.MustNewConstMetric(c.poolConns, prometheus.GaugeValue, float64(s.CheckedIn), id, "idle")
			ch <- prometheus.MustNewConstMetric(c.poolConns, prometheus.GaugeValue, float64(s.CheckedOut), id, "in_use")
			ch <- prometheus.MustNewConstMetric(c.poolOverflow, prometheus.GaugeValue, float64(s.Overflow), id)
			ch <- prometheus.MustNewConstMetric(c.poolWait, prometheus.CounterValue, float64(s.WaitCount), id)
		}
	}

	if c.jobs != nil {
		counts := c.jobs.Counts()
		for _, st := range jobStatuses {
			ch <- prometheus.MustNewConstMetric(c.jobsByStatus, prometheus.GaugeValue, float64(counts[st]), string(st))
		}
	}
}
