package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors groups the Prometheus collectors updated by a cached resolver.
type Collectors struct {
	Resolves      prometheus.Counter
	Hits          prometheus.Counter
	Misses        prometheus.Counter
	DelegateCalls prometheus.Counter
	Errors        prometheus.Counter
	Latency       prometheus.Histogram
}

// NewCollectors builds a fresh set of collectors. Namespace is used as the
// metric prefix and defaults to "warp_resolver".
func NewCollectors(namespace string) *Collectors {
	if namespace == "" {
		namespace = "warp_resolver"
	}
	return &Collectors{
		Resolves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: namespace + "_resolve_total",
			Help: "Total number of Resolve operations",
		}),
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: namespace + "_hits_total",
			Help: "Total number of lookups served from the store",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: namespace + "_misses_total",
			Help: "Total number of lookups not found in the store",
		}),
		DelegateCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: namespace + "_delegate_calls_total",
			Help: "Total number of calls to the wrapped resolver",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: namespace + "_errors_total",
			Help: "Total number of failed Resolve operations",
		}),
		Latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    namespace + "_latency_seconds",
			Help:    "Latency of Resolve operations",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Register registers all collectors on reg.
func (c *Collectors) Register(reg prometheus.Registerer) {
	reg.MustRegister(c.Resolves, c.Hits, c.Misses, c.DelegateCalls, c.Errors, c.Latency)
}

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}
