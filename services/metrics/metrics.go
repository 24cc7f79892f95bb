// Package metrics exposes profile lookup and session metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/masomo-portal/core/profile"
	"github.com/trezcool/masomo-portal/core/session"
)

const namespace = "masomo"

type Collector struct {
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	strategies     *prometheus.CounterVec
	lookupLatency  prometheus.Histogram
	rolesResolved  *prometheus.CounterVec
	eventsDropped  prometheus.Counter
	signInThrottle prometheus.Counter
}

var (
	_ profile.Recorder = (*Collector)(nil)
	_ session.Recorder = (*Collector)(nil)
)

// NewCollector registers the metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_cache_hits_total",
			Help:      "Profile lookups served from cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_cache_misses_total",
			Help:      "Profile lookups that went to the backend.",
		}),
		strategies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_strategy_results_total",
			Help:      "Lookup strategy results by strategy and outcome (hit, miss, error).",
		}, []string{"strategy", "outcome"}),
		lookupLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "profile_lookup_duration_seconds",
			Help:      "Duration of uncached profile lookups.",
			Buckets:   prometheus.DefBuckets,
		}),
		rolesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_roles_resolved_total",
			Help:      "Sessions authenticated, by resolved role.",
		}, []string{"role"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_signin_events_dropped_total",
			Help:      "Sign-in events ignored while a resolution was in flight.",
		}),
		signInThrottle: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_signin_throttled_total",
			Help:      "Sign-in requests rejected by the rate limiter.",
		}),
	}

	reg.MustRegister(
		c.cacheHits,
		c.cacheMisses,
		c.strategies,
		c.lookupLatency,
		c.rolesResolved,
		c.eventsDropped,
		c.signInThrottle,
	)
	return c
}

func (c *Collector) RecordCacheHit()  { c.cacheHits.Inc() }
func (c *Collector) RecordCacheMiss() { c.cacheMisses.Inc() }

func (c *Collector) RecordStrategyResult(strategy, outcome string) {
	c.strategies.WithLabelValues(strategy, outcome).Inc()
}

func (c *Collector) RecordLookupLatency(d time.Duration) {
	c.lookupLatency.Observe(d.Seconds())
}

func (c *Collector) RecordRoleResolved(role string) {
	c.rolesResolved.WithLabelValues(role).Inc()
}

func (c *Collector) RecordEventDropped() { c.eventsDropped.Inc() }

func (c *Collector) RecordSignInThrottled() { c.signInThrottle.Inc() }

// Handler serves the gathered metrics for scraping.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
