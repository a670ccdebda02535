// Package validator checks cached resolutions against their source of truth.
// The cached resolver never revisits an entry, so a moved or deleted file
// stays cached; a Validator finds such entries and optionally rewrites them.
//
// Store keys carry no owner beyond their "<prefix>." head, so with nested
// prefixes ("app" and "app.admin") the key "app.admin.Kernel" fits both.
// A Validator therefore skips names containing a dot unless told otherwise,
// and skips keys claimed by a longer prefix registered with
// WithSiblingPrefixes.
package validator

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mirkobrombin/warp-resolver/v1/adapter"
	"github.com/mirkobrombin/warp-resolver/v1/resolver"
)

const defaultInterval = time.Minute

// Mode defines validator behaviour.
type Mode int

const (
	ModeNoop Mode = iota
	ModeAlert
	ModeAutoHeal
)

// Store is a resolver store able to list its keys.
type Store interface {
	adapter.Store[resolver.Location]
	adapter.Keyer
}

// Option configures a Validator.
type Option func(*Validator)

// WithSiblingPrefixes declares the prefixes of other applications sharing
// the store. Keys matching a sibling longer than the validator's own prefix
// are left alone.
func WithSiblingPrefixes(prefixes ...string) Option {
	return func(v *Validator) {
		v.siblings = append(v.siblings, prefixes...)
	}
}

// WithDottedNames checks names containing dots too. Only safe when every
// nested prefix sharing the store is declared with WithSiblingPrefixes.
func WithDottedNames() Option {
	return func(v *Validator) {
		v.dotted = true
	}
}

// WithLogger sets the logger. slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// Validator periodically compares stored locations with a fresh lookup.
type Validator struct {
	store      Store
	prefix     string
	source     resolver.Resolver
	mode       Mode
	interval   time.Duration
	mismatches uint64
	siblings   []string
	dotted     bool
	logger     *slog.Logger
}

// New creates a new Validator for the entries written under prefix. A
// non-positive interval falls back to one minute.
func New(s Store, prefix string, source resolver.Resolver, mode Mode, interval time.Duration, opts ...Option) *Validator {
	if interval <= 0 {
		interval = defaultInterval
	}
	v := &Validator{store: s, prefix: prefix, source: source, mode: mode, interval: interval, logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Run starts the validation loop.
func (v *Validator) Run(ctx context.Context) {
	if v.store == nil || v.source == nil {
		return
	}
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := v.Scan(ctx); err != nil {
				v.logger.Warn("warp: validator scan failed", "error", err)
			}
		}
	}
}

// Scan performs one pass and returns the number of mismatches it found.
func (v *Validator) Scan(ctx context.Context) (int, error) {
	keys, err := v.store.Keys(ctx)
	if err != nil {
		return 0, err
	}
	found := 0
	for _, k := range keys {
		name, ok := v.owned(k)
		if !ok {
			continue
		}
		cached, ok, err := v.store.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		fresh, err := v.source.Resolve(ctx, name)
		if err != nil {
			continue
		}
		if cached == fresh {
			continue
		}
		found++
		atomic.AddUint64(&v.mismatches, 1)
		if v.mode == ModeAlert || v.mode == ModeAutoHeal {
			v.logger.Warn("warp: stale resolution", "key", k, "cached", cached.String(), "fresh", fresh.String())
		}
		if v.mode == ModeAutoHeal {
			if err := v.store.Set(ctx, k, fresh); err != nil {
				return found, err
			}
		}
	}
	return found, nil
}

// owned returns the name stored under k if k belongs to this validator.
func (v *Validator) owned(k string) (string, bool) {
	name, ok := strings.CutPrefix(k, resolver.Key(v.prefix, ""))
	if !ok || name == "" {
		return "", false
	}
	if !v.dotted && strings.Contains(name, ".") {
		return "", false
	}
	for _, s := range v.siblings {
		if len(s) > len(v.prefix) && strings.HasPrefix(k, resolver.Key(s, "")) {
			return "", false
		}
	}
	return name, true
}

// Metrics returns number of mismatches detected.
func (v *Validator) Metrics() uint64 {
	return atomic.LoadUint64(&v.mismatches)
}
