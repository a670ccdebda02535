package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	redis "github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mirkobrombin/warp-resolver/v1/adapter"
	warperrors "github.com/mirkobrombin/warp-resolver/v1/errors"
)

// countingResolver resolves names from a fixed table and counts calls.
type countingResolver struct {
	paths map[string]string
	calls atomic.Int32
	err   error
}

func (r *countingResolver) Resolve(ctx context.Context, name string) (Location, error) {
	r.calls.Add(1)
	if r.err != nil {
		return Absent, r.err
	}
	if p, ok := r.paths[name]; ok {
		return At(p), nil
	}
	return Absent, nil
}

// Extra stands in for a capability other than Resolve.
func (r *countingResolver) Extra(s string) string { return "extra:" + s }

// spyStore records store traffic.
type spyStore struct {
	adapter.Store[Location]
	gets, sets atomic.Int32
	getErr     error
	setErr     error
}

func (s *spyStore) Get(ctx context.Context, key string) (Location, bool, error) {
	s.gets.Add(1)
	if s.getErr != nil {
		return Absent, false, s.getErr
	}
	return s.Store.Get(ctx, key)
}

func (s *spyStore) Set(ctx context.Context, key string, v Location) error {
	s.sets.Add(1)
	if s.setErr != nil {
		return s.setErr
	}
	return s.Store.Set(ctx, key, v)
}

func newSpy() *spyStore {
	return &spyStore{Store: adapter.NewInMemoryStore[Location]()}
}

func fixtures() *countingResolver {
	return &countingResolver{paths: map[string]string{"Foo\\Bar": "/fixtures/Bar.php"}}
}

func TestResolvePopulatesAndHits(t *testing.T) {
	ctx := context.Background()
	store := newSpy()
	d := fixtures()
	c, err := New(store, "abc", d)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	loc, err := c.Resolve(ctx, "Foo\\Bar")
	if err != nil || loc != At("/fixtures/Bar.php") {
		t.Fatalf("first resolve: got %v err %v", loc, err)
	}
	v, ok, _ := store.Store.Get(ctx, "abc.Foo\\Bar")
	if !ok || v.Path != "/fixtures/Bar.php" {
		t.Fatalf("expected store to hold abc.Foo\\Bar, got %+v ok %v", v, ok)
	}

	loc, err = c.Resolve(ctx, "Foo\\Bar")
	if err != nil || loc.Path != "/fixtures/Bar.php" {
		t.Fatalf("second resolve: got %v err %v", loc, err)
	}
	if n := d.calls.Load(); n != 1 {
		t.Fatalf("expected 1 delegate call, got %d", n)
	}
	if n := store.sets.Load(); n != 1 {
		t.Fatalf("expected 1 store write, got %d", n)
	}
}

func TestResolveCachesAbsence(t *testing.T) {
	ctx := context.Background()
	store := newSpy()
	d := fixtures()
	c, _ := New(store, "abc", d)

	for i := 0; i < 3; i++ {
		loc, err := c.Resolve(ctx, "Missing\\Class")
		if err != nil || loc.Found {
			t.Fatalf("resolve %d: got %v err %v", i, loc, err)
		}
	}
	if n := d.calls.Load(); n != 1 {
		t.Fatalf("expected 1 delegate call, got %d", n)
	}
	v, ok, _ := store.Store.Get(ctx, Key("abc", "Missing\\Class"))
	if !ok || v != Absent {
		t.Fatalf("expected stored absence, got %+v ok %v", v, ok)
	}
}

func TestResolvePrefixesAreIsolated(t *testing.T) {
	ctx := context.Background()
	store := adapter.NewInMemoryStore[Location]()
	one := &countingResolver{paths: map[string]string{"App\\Kernel": "/one/Kernel.php"}}
	two := &countingResolver{paths: map[string]string{"App\\Kernel": "/two/Kernel.php"}}
	c1, _ := New(store, "one", one)
	c2, _ := New(store, "two", two)

	if loc, _ := c1.Resolve(ctx, "App\\Kernel"); loc.Path != "/one/Kernel.php" {
		t.Fatalf("c1: got %v", loc)
	}
	if loc, _ := c2.Resolve(ctx, "App\\Kernel"); loc.Path != "/two/Kernel.php" {
		t.Fatalf("c2: got %v", loc)
	}
	if one.calls.Load() != 1 || two.calls.Load() != 1 {
		t.Fatalf("expected each delegate called once, got %d and %d", one.calls.Load(), two.calls.Load())
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", store.Len())
	}
}

func TestResolveDelegateErrorNotCached(t *testing.T) {
	ctx := context.Background()
	store := newSpy()
	boom := errors.New("boom")
	d := &countingResolver{err: boom}
	c, _ := New(store, "abc", d)

	if _, err := c.Resolve(ctx, "Foo"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if store.sets.Load() != 0 {
		t.Fatal("expected no store write after delegate failure")
	}
	d.err = nil
	d.paths = map[string]string{"Foo": "/Foo.php"}
	if loc, err := c.Resolve(ctx, "Foo"); err != nil || loc.Path != "/Foo.php" {
		t.Fatalf("expected retry to reach delegate, got %v err %v", loc, err)
	}
	if d.calls.Load() != 2 {
		t.Fatalf("expected 2 delegate calls, got %d", d.calls.Load())
	}
}

func TestResolveStoreErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	t.Run("get", func(t *testing.T) {
		store := newSpy()
		store.getErr = warperrors.ErrConnectionClosed
		d := fixtures()
		c, _ := New(store, "abc", d)
		if _, err := c.Resolve(ctx, "Foo\\Bar"); !errors.Is(err, warperrors.ErrConnectionClosed) {
			t.Fatalf("expected connection closed, got %v", err)
		}
		if d.calls.Load() != 0 {
			t.Fatal("expected no fallback to the delegate")
		}
	})
	t.Run("set", func(t *testing.T) {
		store := newSpy()
		store.setErr = warperrors.ErrTimeout
		c, _ := New(store, "abc", fixtures())
		if _, err := c.Resolve(ctx, "Foo\\Bar"); !errors.Is(err, warperrors.ErrTimeout) {
			t.Fatalf("expected timeout, got %v", err)
		}
	})
}

func TestResolveEmptyName(t *testing.T) {
	store := newSpy()
	c, _ := New(store, "abc", fixtures())
	if _, err := c.Resolve(context.Background(), ""); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if store.gets.Load() != 0 {
		t.Fatal("expected no store access")
	}
}

func TestNewInvalidConfiguration(t *testing.T) {
	store := newSpy()
	var nilDelegate *countingResolver
	if _, err := New(store, "abc", nilDelegate); !errors.Is(err, warperrors.ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
	var nilFunc ResolverFunc
	if _, err := New(store, "abc", nilFunc); !errors.Is(err, warperrors.ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
	if _, err := New[*countingResolver](nil, "abc", fixtures()); !errors.Is(err, warperrors.ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
	if store.gets.Load() != 0 || store.sets.Load() != 0 {
		t.Fatal("expected no store access during construction")
	}
}

func TestDelegatePassThrough(t *testing.T) {
	store := newSpy()
	d := fixtures()
	c, _ := New(store, "abc", d)
	if got, want := c.Delegate().Extra("x"), d.Extra("x"); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if c.Prefix() != "abc" {
		t.Fatalf("unexpected prefix %q", c.Prefix())
	}
	if store.gets.Load() != 0 || store.sets.Load() != 0 {
		t.Fatal("expected no store interaction")
	}
}

func TestResolverFunc(t *testing.T) {
	c, err := New(adapter.NewInMemoryStore[Location](), "fn", ResolverFunc(func(ctx context.Context, name string) (Location, error) {
		return At("/" + name + ".php"), nil
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if loc, _ := c.Resolve(context.Background(), "X"); loc.String() != "/X.php" {
		t.Fatalf("got %v", loc)
	}
	if Absent.String() != "<absent>" {
		t.Fatalf("unexpected absent rendering %q", Absent.String())
	}
}

// gatedStore counts misses so the test can release the delegate once every
// caller is past the store lookup.
type gatedStore struct {
	adapter.Store[Location]
	misses sync.WaitGroup
}

func (s *gatedStore) Get(ctx context.Context, key string) (Location, bool, error) {
	v, ok, err := s.Store.Get(ctx, key)
	if !ok {
		s.misses.Done()
	}
	return v, ok, err
}

func TestResolveSingleflight(t *testing.T) {
	const n = 8
	store := &gatedStore{Store: adapter.NewInMemoryStore[Location]()}
	store.misses.Add(n)
	release := make(chan struct{})
	var calls atomic.Int32
	d := ResolverFunc(func(ctx context.Context, name string) (Location, error) {
		calls.Add(1)
		<-release
		return At("/slow.php"), nil
	})
	c, _ := New(store, "sf", d, WithSingleflight())

	var wg sync.WaitGroup
	results := make(chan Location, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loc, err := c.Resolve(context.Background(), "Slow")
			if err != nil {
				t.Errorf("Resolve: %v", err)
			}
			results <- loc
		}()
	}
	store.misses.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for loc := range results {
		if loc.Path != "/slow.php" {
			t.Fatalf("unexpected result %v", loc)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 delegate call, got %d", got)
	}
}

func TestResolveMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, _ := New(adapter.NewInMemoryStore[Location](), "m", fixtures(), WithMetrics(reg))
	ctx := context.Background()
	_, _ = c.Resolve(ctx, "Foo\\Bar")
	_, _ = c.Resolve(ctx, "Foo\\Bar")
	_, _ = c.Resolve(ctx, "Other")

	if got := testutil.ToFloat64(c.collectors.Resolves); got != 3 {
		t.Fatalf("expected 3 resolves, got %v", got)
	}
	if got := testutil.ToFloat64(c.collectors.Hits); got != 1 {
		t.Fatalf("expected 1 hit, got %v", got)
	}
	if got := testutil.ToFloat64(c.collectors.Misses); got != 2 {
		t.Fatalf("expected 2 misses, got %v", got)
	}
	if got := testutil.ToFloat64(c.collectors.DelegateCalls); got != 2 {
		t.Fatalf("expected 2 delegate calls, got %v", got)
	}
}

func TestResolveTracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	c, _ := New(adapter.NewInMemoryStore[Location](), "abc", fixtures(), WithTracerProvider(tp))
	ctx := context.Background()
	_, _ = c.Resolve(ctx, "Foo\\Bar")
	_, _ = c.Resolve(ctx, "Foo\\Bar")

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	want := []string{"miss", "hit"}
	for i, s := range spans {
		if s.Name() != "Resolver.Resolve" {
			t.Fatalf("unexpected span name %q", s.Name())
		}
		var result string
		for _, kv := range s.Attributes() {
			if kv.Key == "warp.resolver.result" {
				result = kv.Value.AsString()
			}
		}
		if result != want[i] {
			t.Fatalf("span %d: expected %s, got %q", i, want[i], result)
		}
	}
}

func TestResolveWithRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	d := fixtures()
	c, _ := New(adapter.NewRedisStore[Location](client), "abc", d)
	if loc, err := c.Resolve(ctx, "Foo\\Bar"); err != nil || loc.Path != "/fixtures/Bar.php" {
		t.Fatalf("resolve: got %v err %v", loc, err)
	}
	if !mr.Exists("abc.Foo\\Bar") {
		t.Fatalf("expected key abc.Foo\\Bar, have %v", mr.Keys())
	}
	if _, err := c.Resolve(ctx, "Nope"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// A second resolver sharing the store sees the same entries.
	d2 := fixtures()
	c2, _ := New(adapter.NewRedisStore[Location](client), "abc", d2)
	if loc, _ := c2.Resolve(ctx, "Foo\\Bar"); loc.Path != "/fixtures/Bar.php" {
		t.Fatalf("expected cached path, got %v", loc)
	}
	if loc, _ := c2.Resolve(ctx, "Nope"); loc.Found {
		t.Fatalf("expected cached absence, got %v", loc)
	}
	if d2.calls.Load() != 0 {
		t.Fatalf("expected no delegate calls, got %d", d2.calls.Load())
	}
}

func TestResolveSingleflightCallerCancellation(t *testing.T) {
	store := &gatedStore{Store: adapter.NewInMemoryStore[Location]()}
	store.misses.Add(2)
	release := make(chan struct{})
	var delegateCtxErr atomic.Value
	d := ResolverFunc(func(ctx context.Context, name string) (Location, error) {
		<-release
		delegateCtxErr.Store(fmt.Sprint(ctx.Err()))
		return At("/shared.php"), nil
	})
	c, _ := New(store, "sf", d, WithSingleflight())

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Resolve(leaderCtx, "Shared")
		leaderErr <- err
	}()
	type result struct {
		loc Location
		err error
	}
	follower := make(chan result, 1)
	go func() {
		loc, err := c.Resolve(context.Background(), "Shared")
		follower <- result{loc, err}
	}()

	store.misses.Wait()
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled caller to see context.Canceled, got %v", err)
	}
	close(release)

	res := <-follower
	if res.err != nil || res.loc.Path != "/shared.php" {
		t.Fatalf("expected follower to get /shared.php, got %v err %v", res.loc, res.err)
	}
	if got := delegateCtxErr.Load(); got != "<nil>" {
		t.Fatalf("expected delegate context to stay live, got %v", got)
	}
	if loc, ok, _ := store.Store.Get(context.Background(), "sf.Shared"); !ok || loc.Path != "/shared.php" {
		t.Fatalf("expected result stored, got %v ok %v", loc, ok)
	}
}
