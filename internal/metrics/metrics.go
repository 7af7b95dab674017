// Package metrics registers the Prometheus collectors shared across
// components. Constructors take an explicit registerer so tests can use an
// isolated registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the service exports.
type Metrics struct {
	ActiveDebates    prometheus.Gauge
	DebatesStarted   prometheus.Counter
	DebatesStopped   prometheus.Counter
	MessagesTotal    prometheus.Counter
	FactChecksTotal  prometheus.Counter
	TurnFailures     prometheus.Counter
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	CacheCostSavedUS prometheus.Counter
	EventsDropped    prometheus.Counter
	RateLimited      prometheus.Counter
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveDebates: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mindchain_active_debates",
			Help: "Number of debates currently running.",
		}),
		DebatesStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "mindchain_debates_started_total",
			Help: "Debates accepted by the lifecycle manager.",
		}),
		DebatesStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "mindchain_debates_stopped_total",
			Help: "Debates stopped, individually or via stop-all.",
		}),
		MessagesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mindchain_messages_total",
			Help: "Debate messages appended to the log store.",
		}),
		FactChecksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mindchain_fact_checks_total",
			Help: "Fact checks recorded across all debates.",
		}),
		TurnFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mindchain_turn_failures_total",
			Help: "Background turns that failed and were skipped.",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "mindchain_cache_hits_total",
			Help: "Semantic cache hits above the similarity threshold.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "mindchain_cache_misses_total",
			Help: "Semantic cache lookups that missed.",
		}),
		CacheCostSavedUS: factory.NewCounter(prometheus.CounterOpts{
			Name: "mindchain_cache_cost_saved_usd_micros",
			Help: "Estimated generation cost avoided by cache hits, in USD micros.",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "mindchain_events_dropped_total",
			Help: "Realtime events dropped on full subscriber buffers.",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "mindchain_rate_limited_total",
			Help: "Requests rejected by the admission gate.",
		}),
	}
}

// NewNop returns collectors bound to a throwaway registry, for tests and
// optional wiring.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
