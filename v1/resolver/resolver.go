package resolver

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/mirkobrombin/warp-resolver/v1/adapter"
	warperrors "github.com/mirkobrombin/warp-resolver/v1/errors"
	"github.com/mirkobrombin/warp-resolver/v1/metrics"
)

// ErrInvalidName is returned by Resolve for an empty name.
var ErrInvalidName = stdErrors.New("resolver: empty name")

// Key returns the store key for name under prefix.
func Key(prefix, name string) string {
	return prefix + "." + name
}

// CachedResolver wraps a delegate Resolver with a Store lookup.
//
// R is the concrete delegate type; Delegate returns it so callers can reach
// capabilities other than Resolve. Those calls bypass the store.
type CachedResolver[R Resolver] struct {
	store    adapter.Store[Location]
	prefix   string
	delegate R

	logger     *slog.Logger
	collectors *metrics.Collectors
	tracer     trace.Tracer
	group      *singleflight.Group
}

// New returns a CachedResolver storing lookups of delegate in store under
// prefix. The prefix distinguishes applications sharing one store.
//
// ErrInvalidConfiguration is returned if store or delegate is nil.
func New[R Resolver](store adapter.Store[Location], prefix string, delegate R, opts ...Option) (*CachedResolver[R], error) {
	if isNil(store) {
		return nil, fmt.Errorf("%w: nil store", warperrors.ErrInvalidConfiguration)
	}
	if isNil(delegate) {
		return nil, fmt.Errorf("%w: nil delegate resolver", warperrors.ErrInvalidConfiguration)
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	c := &CachedResolver[R]{
		store:      store,
		prefix:     prefix,
		delegate:   delegate,
		logger:     o.logger,
		collectors: o.collectors,
		tracer:     o.tracer,
	}
	if o.singleflight {
		c.group = &singleflight.Group{}
	}
	return c, nil
}

// Delegate returns the wrapped resolver.
func (c *CachedResolver[R]) Delegate() R {
	return c.delegate
}

// Prefix returns the namespace prefix of the store keys.
func (c *CachedResolver[R]) Prefix() string {
	return c.prefix
}

// Resolve returns the cached location for name, asking the delegate and
// storing its answer on a miss. Delegate errors are returned unchanged and
// nothing is stored for them.
func (c *CachedResolver[R]) Resolve(ctx context.Context, name string) (loc Location, err error) {
	if name == "" {
		return Absent, ErrInvalidName
	}
	key := Key(c.prefix, name)

	var span trace.Span
	if c.tracer != nil {
		ctx, span = c.tracer.Start(ctx, "Resolver.Resolve",
			trace.WithAttributes(attribute.String("warp.resolver.key", key)))
		defer span.End()
	}
	if c.collectors != nil {
		start := time.Now()
		c.collectors.Resolves.Inc()
		defer func() {
			c.collectors.Latency.Observe(time.Since(start).Seconds())
			if err != nil {
				c.collectors.Errors.Inc()
			}
		}()
	}
	if span != nil {
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		}()
	}

	cached, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("warp: resolver store get failed", "key", key, "error", err)
		return Absent, fmt.Errorf("resolver: get %q: %w", key, err)
	}
	if ok {
		c.record(span, "hit")
		c.logger.Debug("warp: resolver hit", "key", key, "found", cached.Found)
		return cached, nil
	}
	c.record(span, "miss")

	if c.group == nil {
		return c.populate(ctx, key, name)
	}
	// The shared call outlives any single caller; each caller stops waiting
	// on its own context.
	ch := c.group.DoChan(key, func() (any, error) {
		return c.populate(context.WithoutCancel(ctx), key, name)
	})
	select {
	case <-ctx.Done():
		return Absent, ctx.Err()
	case res := <-ch:
		if res.Shared && span != nil {
			span.SetAttributes(attribute.Bool("warp.resolver.shared", true))
		}
		if res.Err != nil {
			return Absent, res.Err
		}
		return res.Val.(Location), nil
	}
}

func (c *CachedResolver[R]) populate(ctx context.Context, key, name string) (Location, error) {
	if c.collectors != nil {
		c.collectors.DelegateCalls.Inc()
	}
	loc, err := c.delegate.Resolve(ctx, name)
	if err != nil {
		return Absent, err
	}
	if err := c.store.Set(ctx, key, loc); err != nil {
		c.logger.Warn("warp: resolver store set failed", "key", key, "error", err)
		return Absent, fmt.Errorf("resolver: set %q: %w", key, err)
	}
	c.logger.Debug("warp: resolver populated", "key", key, "found", loc.Found)
	return loc, nil
}

func (c *CachedResolver[R]) record(span trace.Span, result string) {
	if span != nil {
		span.SetAttributes(attribute.String("warp.resolver.result", result))
	}
	if c.collectors == nil {
		return
	}
	if result == "hit" {
		c.collectors.Hits.Inc()
	} else {
		c.collectors.Misses.Inc()
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Interface, reflect.Chan, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
