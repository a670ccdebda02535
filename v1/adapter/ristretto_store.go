package adapter

import (
	"context"
	"log/slog"
	"reflect"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"
)

// RistrettoStore implements Store on top of dgraph-io/ristretto.
//
// Ristretto admits entries probabilistically and may evict them, so a
// resolver backed by it can call its delegate more than once per name.
// Dropped writes are counted by Rejected.
type RistrettoStore[T any] struct {
	c        *ristretto.Cache
	logger   *slog.Logger
	rejected atomic.Uint64
}

// RistrettoOption configures a RistrettoStore.
type RistrettoOption func(*ristrettoOptions)

type ristrettoOptions struct {
	cfg    ristretto.Config
	logger *slog.Logger
}

// WithRistretto applies a custom ristretto configuration.
//
// If cfg is nil, defaults are used.
func WithRistretto(cfg *ristretto.Config) RistrettoOption {
	return func(o *ristrettoOptions) {
		if cfg == nil {
			return
		}
		o.cfg = *cfg
	}
}

// WithRistrettoLogger logs writes ristretto refused to buffer.
func WithRistrettoLogger(l *slog.Logger) RistrettoOption {
	return func(o *ristrettoOptions) {
		o.logger = l
	}
}

// NewRistrettoStore returns a Store backed by ristretto.
func NewRistrettoStore[T any](opts ...RistrettoOption) (*RistrettoStore[T], error) {
	o := ristrettoOptions{
		cfg: ristretto.Config{
			NumCounters: 1e5,     // keys tracked for admission (100k).
			MaxCost:     1 << 22, // 4MB of paths.
			BufferItems: 64,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	rc, err := ristretto.NewCache(&o.cfg)
	if err != nil {
		return nil, err
	}
	return &RistrettoStore[T]{c: rc, logger: o.logger}, nil
}

// Rejected returns the number of writes ristretto dropped.
func (r *RistrettoStore[T]) Rejected() uint64 {
	return r.rejected.Load()
}

// Get implements Store.Get.
func (r *RistrettoStore[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	v, ok := r.c.Get(key)
	if !ok {
		return zero, false, nil
	}
	val, ok := v.(T)
	if !ok {
		return zero, false, nil
	}
	return val, true, nil
}

// Set implements Store.Set.
func (r *RistrettoStore[T]) Set(ctx context.Context, key string, value T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.c.Set(key, value, estimateCost(key, value)) {
		r.rejected.Add(1)
		if r.logger != nil {
			r.logger.Debug("warp: ristretto dropped write", "key", key)
		}
		return nil
	}
	r.c.Wait()
	return nil
}

// Close releases resources held by the cache.
func (r *RistrettoStore[T]) Close() {
	r.c.Close()
}

func estimateCost(key string, v any) int64 {
	cost := int64(len(key))
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Struct {
		for i := 0; i < rv.NumField(); i++ {
			if f := rv.Field(i); f.Kind() == reflect.String {
				cost += int64(f.Len())
			}
		}
	} else if rv.Kind() == reflect.String {
		cost += int64(rv.Len())
	}
	return cost + 1
}
