package resolver

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/mirkobrombin/warp-resolver/v1/metrics"
)

const tracerName = "github.com/mirkobrombin/warp-resolver/v1/resolver"

type options struct {
	logger       *slog.Logger
	collectors   *metrics.Collectors
	tracer       trace.Tracer
	singleflight bool
}

// Option configures a CachedResolver.
type Option func(*options)

// WithLogger sets the logger. slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		c := metrics.NewCollectors("")
		c.Register(reg)
		o.collectors = c
	}
}

// WithCollectors records metrics on an already registered set of collectors,
// letting several resolvers share them.
func WithCollectors(c *metrics.Collectors) Option {
	return func(o *options) {
		o.collectors = c
	}
}

// WithTracing enables OpenTelemetry tracing using the global tracer provider.
func WithTracing() Option {
	return func(o *options) {
		o.tracer = otel.Tracer(tracerName)
	}
}

// WithTracerProvider enables OpenTelemetry tracing using tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp.Tracer(tracerName)
	}
}

// WithSingleflight collapses concurrent misses for the same name into a
// single delegate call within this process. Separate processes sharing a
// store can still both miss and both write; the last write wins.
func WithSingleflight() Option {
	return func(o *options) {
		o.singleflight = true
	}
}
