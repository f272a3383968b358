package observe

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	rerrors "github.com/oreillyross/next.js/internal/errors"
	"github.com/oreillyross/next.js/pkg/edge"
	"github.com/oreillyross/next.js/pkg/fsitem"
	"github.com/oreillyross/next.js/pkg/manifest"
	"github.com/oreillyross/next.js/pkg/routing"
)

// MetricsConfig configures the Prometheus observer.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "nextroute").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus observer.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "nextroute",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics records routing metrics. It implements routing.Observer.
//
// Metrics collected:
//   - nextroute_decisions_total: decisions by kind
//   - nextroute_resolve_duration_seconds: pipeline duration by decision kind
//   - nextroute_fs_lookups_total: filesystem lookups by item type, "miss" on a miss
//   - nextroute_route_matches_total: custom route matches by phase
//   - nextroute_middleware_duration_seconds: middleware round trips
//   - nextroute_middleware_errors_total: middleware failures by error type
//   - nextroute_table_generation: the published table generation
type Metrics struct {
	decisions          *prometheus.CounterVec
	resolveDuration    *prometheus.HistogramVec
	fsLookups          *prometheus.CounterVec
	routeMatches       *prometheus.CounterVec
	middlewareDuration prometheus.Histogram
	middlewareErrors   *prometheus.CounterVec
	generation         prometheus.Gauge
}

// NewMetrics registers the routing metrics. Registering twice on the same
// registry panics, as with promauto.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "decisions_total",
			Help:        "Routing decisions by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		resolveDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "resolve_duration_seconds",
			Help:        "Routing pipeline duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"kind"}),

		fsLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "fs_lookups_total",
			Help:        "Filesystem item lookups by result type",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),

		routeMatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "route_matches_total",
			Help:        "Custom route matches by pipeline phase",
			ConstLabels: config.ConstLabels,
		}, []string{"phase"}),

		middlewareDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "middleware_duration_seconds",
			Help:        "Middleware round trip duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}),

		middlewareErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "middleware_errors_total",
			Help:        "Middleware failures by error type",
			ConstLabels: config.ConstLabels,
		}, []string{"error_type"}),

		generation: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "table_generation",
			Help:        "Generation of the published routing table",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// OnRouteMatch implements routing.Observer.
func (m *Metrics) OnRouteMatch(_ context.Context, phase routing.Phase, _ *manifest.CustomRoute) {
	m.routeMatches.WithLabelValues(string(phase)).Inc()
}

// OnResolved implements routing.Observer.
func (m *Metrics) OnResolved(_ context.Context, _ string, item *fsitem.Item, _ time.Duration) {
	typ := "miss"
	if item != nil {
		typ = string(item.Type)
	}
	m.fsLookups.WithLabelValues(typ).Inc()
}

// OnMiddleware implements routing.Observer.
func (m *Metrics) OnMiddleware(_ context.Context, _ *edge.Response, d time.Duration, err error) {
	m.middlewareDuration.Observe(d.Seconds())
	if err != nil {
		m.middlewareErrors.WithLabelValues(categorizeError(err)).Inc()
	}
}

// OnDecision implements routing.Observer.
func (m *Metrics) OnDecision(_ context.Context, _ *http.Request, res *routing.Result, d time.Duration) {
	kind := res.Decision.Kind()
	m.decisions.WithLabelValues(kind).Inc()
	m.resolveDuration.WithLabelValues(kind).Observe(d.Seconds())
	m.generation.Set(float64(res.Generation))
}

// RecordPublish records a newly published table generation.
func (m *Metrics) RecordPublish(generation uint64) {
	m.generation.Set(float64(generation))
}

// categorizeError keeps error labels low-cardinality: registry codes,
// cancellation and timeouts get their own label.
func categorizeError(err error) string {
	var re *rerrors.Error
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &re):
		return re.Code
	default:
		return "internal"
	}
}

var _ routing.Observer = (*Metrics)(nil)
