package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"sort"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mirkobrombin/warp-resolver/v1/adapter"
	"github.com/mirkobrombin/warp-resolver/v1/finder"
	"github.com/mirkobrombin/warp-resolver/v1/metrics"
	"github.com/mirkobrombin/warp-resolver/v1/resolver"
	"github.com/mirkobrombin/warp-resolver/v1/validator"
)

// dirFlags collects repeated -dir Prefix=path values.
type dirFlags map[string][]string

func (d dirFlags) String() string {
	parts := make([]string, 0, len(d))
	for p, dirs := range d {
		parts = append(parts, p+"="+strings.Join(dirs, ","))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func (d dirFlags) Set(v string) error {
	prefix, dir, ok := strings.Cut(v, "=")
	if !ok {
		// A bare directory is a fallback directory.
		prefix, dir = "", v
	}
	if dir == "" {
		return fmt.Errorf("empty directory in %q", v)
	}
	d[prefix] = append(d[prefix], dir)
	return nil
}

type config struct {
	store     string
	redisAddr string
	hashKey   string
	prefix    string
	ext       string
	trace     bool
	debug     bool
	list      bool
	validate  string
	dirs      dirFlags
	names     []string
}

// parseFlags parses args on a private flag set; the global set already
// carries flags registered by dependencies.
func parseFlags(args []string, stderr io.Writer) (config, error) {
	cfg := config{dirs: dirFlags{}}
	fs := flag.NewFlagSet("warp-resolve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.store, "store", "memory", "Store backend: memory, ristretto or redis")
	fs.StringVar(&cfg.redisAddr, "redis", "localhost:6379", "Redis address when -store=redis")
	fs.StringVar(&cfg.hashKey, "hash", "", "Keep entries in this Redis hash instead of plain keys")
	fs.StringVar(&cfg.prefix, "prefix", "app", "Cache key prefix distinguishing applications")
	fs.StringVar(&cfg.ext, "ext", ".php", "File extension of class files")
	fs.BoolVar(&cfg.trace, "trace", false, "Print OpenTelemetry spans to stderr")
	fs.BoolVar(&cfg.debug, "debug", false, "Debug logging")
	fs.BoolVar(&cfg.list, "list", false, "List cached keys after resolving")
	fs.StringVar(&cfg.validate, "validate", "", "Check cached entries against the directories: alert or heal")
	fs.Var(cfg.dirs, "dir", "Namespace directory as Prefix=path, repeatable; a bare path is a fallback")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	switch cfg.validate {
	case "", "alert", "heal":
	default:
		return config{}, fmt.Errorf("unknown -validate mode %q: want alert or heal", cfg.validate)
	}
	switch cfg.store {
	case "memory", "ristretto", "redis":
	default:
		return config{}, fmt.Errorf("unknown store %q", cfg.store)
	}
	cfg.names = fs.Args()
	return cfg, nil
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	opts := []resolver.Option{resolver.WithLogger(logger), resolver.WithSingleflight()}
	if cfg.trace {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(stderr), stdouttrace.WithPrettyPrint())
		if err != nil {
			return err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
		defer func() { _ = tp.Shutdown(ctx) }()
		otel.SetTracerProvider(tp)
		opts = append(opts, resolver.WithTracing())
	}
	reg := metrics.NewRegistry()
	collectors := metrics.NewCollectors("")
	collectors.Register(reg)
	opts = append(opts, resolver.WithCollectors(collectors))

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeStore()

	f := finder.New(finder.WithExtension(cfg.ext))
	for p, ds := range cfg.dirs {
		f.Add(p, ds...)
	}
	r, err := resolver.New(store, cfg.prefix, f, opts...)
	if err != nil {
		return err
	}

	if err := resolveAll(ctx, r, cfg.names, stdout); err != nil {
		return err
	}
	if mfs, err := reg.Gather(); err == nil {
		for _, mf := range mfs {
			for _, m := range mf.GetMetric() {
				if c := m.GetCounter(); c != nil {
					logger.Debug("metric", "name", mf.GetName(), "value", c.GetValue())
				}
			}
		}
	}
	if cfg.validate != "" {
		vs, ok := store.(validator.Store)
		if !ok {
			return fmt.Errorf("store %q cannot be validated", cfg.store)
		}
		mode := validator.ModeAlert
		if cfg.validate == "heal" {
			mode = validator.ModeAutoHeal
		}
		n, err := validator.New(vs, cfg.prefix, f, mode, 0, validator.WithLogger(logger)).Scan(ctx)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		logger.Info("validation done", "stale", n)
	}
	if cfg.list {
		keyer, ok := store.(adapter.Keyer)
		if !ok {
			return fmt.Errorf("store %q cannot list keys", cfg.store)
		}
		keys, err := keyer.Keys(ctx)
		if err != nil {
			return fmt.Errorf("failed to list keys: %w", err)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintln(stdout, k)
		}
	}
	return nil
}

func openStore(cfg config, logger *slog.Logger) (adapter.Store[resolver.Location], func(), error) {
	switch cfg.store {
	case "memory":
		return adapter.NewInMemoryStore[resolver.Location](), func() {}, nil
	case "ristretto":
		s, err := adapter.NewRistrettoStore[resolver.Location](adapter.WithRistrettoLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
		var ropts []adapter.RedisOption
		if cfg.hashKey != "" {
			ropts = append(ropts, adapter.WithHashKey(cfg.hashKey))
		}
		return adapter.NewRedisStore[resolver.Location](client, ropts...), func() { _ = client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.store)
}

// resolveAll prints one "name<TAB>path" line per name, "-" marking absence.
func resolveAll(ctx context.Context, r resolver.Resolver, names []string, w io.Writer) error {
	for _, name := range names {
		loc, err := r.Resolve(ctx, name)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", name, err)
		}
		path := "-"
		if loc.Found {
			path = loc.Path
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\n", name, path); err != nil {
			return err
		}
	}
	return nil
}
