// Package metrics exposes the proxy's Prometheus gauges and counters.
// Safe to call on a nil *Registry: every method is a no-op on nil. A
// Registry built with New updates its collectors whether or not its HTTP
// listener was started.
// Grounded on the Prometheus wiring style in
// etalazz-vsa/internal/ratelimiter/telemetry/churn/prom_counters.go
// (package-level collectors registered once, a dedicated promhttp mux,
// and "no-op when disabled" hot-path guards).
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector the proxy reports. A nil *Registry is
// valid and every method on it is a no-op, so callers need not branch on
// whether metrics are enabled.
type Registry struct {
	poolOccupancy     prometheus.Gauge
	backendsSpawned   prometheus.Counter
	backendsEvicted   prometheus.Counter
	backendsCrashed   prometheus.Counter
	backendSpawnFails prometheus.Counter
	warmupQueueDepth  *prometheus.GaugeVec

	server *http.Server
}

// New builds a Registry with its own prometheus.Registerer, so repeated
// test construction never collides with package-level globals.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		poolOccupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "venvmux_pool_occupancy",
			Help: "Number of backend instances currently held in the pool.",
		}),
		backendsSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "venvmux_backends_spawned_total",
			Help: "Total backend processes successfully spawned and initialized.",
		}),
		backendsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "venvmux_backends_evicted_total",
			Help: "Total backend instances removed by LRU or TTL eviction.",
		}),
		backendsCrashed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "venvmux_backends_crashed_total",
			Help: "Total backend instances removed after a reader-task read error.",
		}),
		backendSpawnFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "venvmux_backend_spawn_failures_total",
			Help: "Total backend spawn or initialize-handshake failures.",
		}),
		warmupQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "venvmux_warmup_queue_depth",
			Help: "Number of index-dependent requests currently queued for a warming backend.",
		}, []string{"venv"}),
	}

	reg.MustRegister(r.poolOccupancy, r.backendsSpawned, r.backendsEvicted, r.backendsCrashed, r.backendSpawnFails, r.warmupQueueDepth)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	return r
}

// ListenAndServe starts the /metrics endpoint on addr in the background.
// The caller is responsible for eventually calling Shutdown.
func (r *Registry) ListenAndServe(addr string) error {
	if r == nil {
		return nil
	}
	r.server.Addr = addr
	go func() {
		_ = r.server.ListenAndServe()
	}()
	return nil
}

// Shutdown stops the metrics HTTP server, if one was started.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r == nil || r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}

func (r *Registry) SetPoolOccupancy(n int) {
	if r == nil {
		return
	}
	r.poolOccupancy.Set(float64(n))
}

func (r *Registry) IncBackendSpawned() {
	if r == nil {
		return
	}
	r.backendsSpawned.Inc()
}

func (r *Registry) IncBackendEvicted() {
	if r == nil {
		return
	}
	r.backendsEvicted.Inc()
}

func (r *Registry) IncBackendCrashed() {
	if r == nil {
		return
	}
	r.backendsCrashed.Inc()
}

func (r *Registry) IncBackendSpawnFailed() {
	if r == nil {
		return
	}
	r.backendSpawnFails.Inc()
}

func (r *Registry) SetWarmupQueueDepth(venv string, depth int) {
	if r == nil {
		return
	}
	r.warmupQueueDepth.WithLabelValues(venv).Set(float64(depth))
}

func (r *Registry) DeleteWarmupQueueDepth(venv string) {
	if r == nil {
		return
	}
	r.warmupQueueDepth.DeleteLabelValues(venv)
}
