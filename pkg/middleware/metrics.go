package middleware

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/syncline-dev/syncline/pkg/server"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "syncline").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for handler duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
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
		Namespace: "syncline",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

type metrics struct {
	dispatchesTotal  *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	dispatchErrors   *prometheus.CounterVec
	handlerPanics    prometheus.Counter
	deltasEmitted    prometheus.Counter
}

func initMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		dispatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatches_total",
			Help:        "Total number of dispatched events by handler path and status",
			ConstLabels: config.ConstLabels,
		}, []string{"handler", "status"}),

		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatch_duration_seconds",
			Help:        "Handler execution duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"handler"}),

		dispatchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatch_errors_total",
			Help:        "Total number of handler errors by type",
			ConstLabels: config.ConstLabels,
		}, []string{"handler", "error_type"}),

		handlerPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "handler_panics_total",
			Help:        "Total number of recovered handler panics",
			ConstLabels: config.ConstLabels,
		}),

		deltasEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "deltas_emitted_total",
			Help:        "Total number of deltas emitted by instrumented handlers",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// Prometheus creates middleware that records per-dispatch metrics.
//
// Metrics collected:
//   - syncline_dispatches_total: counter by handler path and status
//   - syncline_dispatch_duration_seconds: handler duration histogram
//   - syncline_dispatch_errors_total: counter by handler path and error type
//   - syncline_handler_panics_total: recovered panic counter
//   - syncline_deltas_emitted_total: deltas flushed by instrumented handlers
//
// Registering the same registry twice panics inside promauto; create one
// Prometheus middleware per registry.
func Prometheus(opts ...MetricsOption) server.Middleware {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	m := initMetrics(config)

	return func(next server.HandlerFunc) server.HandlerFunc {
		return func(c *server.Ctx) error {
			handler := c.HandlerPath()
			start := time.Now()

			err := next(c)

			m.dispatchDuration.WithLabelValues(handler).Observe(time.Since(start).Seconds())
			m.deltasEmitted.Add(float64(c.DeltaCount()))

			status := "success"
			if err != nil {
				status = "error"
				m.dispatchErrors.WithLabelValues(handler, errorType(err)).Inc()
				var he *server.HandlerError
				if errors.As(err, &he) && he.Panic != nil {
					m.handlerPanics.Inc()
				}
			}
			m.dispatchesTotal.WithLabelValues(handler, status).Inc()

			return err
		}
	}
}

// errorType maps an error to a bounded label value so handler error
// messages never become high-cardinality labels.
func errorType(err error) string {
	var he *server.HandlerError
	switch {
	case errors.As(err, &he) && he.Panic != nil:
		return "panic"
	case errors.Is(err, server.ErrHandlerNotFound):
		return "not_found"
	case errors.Is(err, server.ErrLockTimeout):
		return "lock_timeout"
	case errors.Is(err, server.ErrTaskCancelled):
		return "cancelled"
	case errors.Is(err, server.ErrSessionClosed):
		return "session_closed"
	default:
		return "handler"
	}
}
