// Package metrics exposes the registry's operational metrics on a dedicated
// Prometheus registry and HTTP server (SPEC_FULL.md §D.4), separate from the
// REST API's own listener.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultAddress is used when Config.Address is empty.
const DefaultAddress = ":9090"

// Config controls the metrics server's listen address and whether Go/process
// runtime collectors are registered alongside the registry's own metrics.
type Config struct {
	Address                 string
	EnableDefaultCollectors bool
}

// Reporter owns a dedicated Prometheus registry and HTTP server, and
// implements registry.MetricsReporter.
type Reporter struct {
	Server   *http.Server
	Registry *prometheus.Registry

	masterGauge      prometheus.Gauge
	registrations    *prometheus.CounterVec
	registerDuration prometheus.Histogram
	idBatchReserved  prometheus.Counter
}

// New builds a Reporter with its own isolated Prometheus registry, so
// multiple registry nodes in the same process (as in tests) never collide on
// metric names.
func New(cfg Config) *Reporter {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}

	registry := prometheus.NewRegistry()

	r := &Reporter{
		Registry: registry,
		masterGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "schema_registry_master",
			Help: "1 if this node currently holds the master lease, 0 otherwise.",
		}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "log_append_total",
			Help: "Total schema registration attempts, by outcome.",
		}, []string{"outcome"}),
		registerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "log_append_latency_seconds",
			Help:    "Latency of Register, from request to log readback.",
			Buckets: prometheus.DefBuckets,
		}),
		idBatchReserved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "id_batch_reservations_total",
			Help: "Total id batches reserved from the coordinator by this node's allocator.",
		}),
	}

	registry.MustRegister(r.masterGauge, r.registrations, r.registerDuration, r.idBatchReserved)
	if cfg.EnableDefaultCollectors {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	r.Server = &http.Server{
		Addr:    cfg.Address,
		Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	return r
}

// SetMasterSlaveRole implements registry.MetricsReporter.
func (r *Reporter) SetMasterSlaveRole(isMaster bool) {
	if isMaster {
		r.masterGauge.Set(1)
		return
	}
	r.masterGauge.Set(0)
}

// ObserveRegistration records a register attempt's outcome and latency.
func (r *Reporter) ObserveRegistration(start time.Time, outcome string) {
	r.registrations.WithLabelValues(outcome).Inc()
	r.registerDuration.Observe(time.Since(start).Seconds())
}

// ObserveIDBatchReservation records one batch reserved by idalloc.
func (r *Reporter) ObserveIDBatchReservation() {
	r.idBatchReserved.Inc()
}

// Start launches the metrics HTTP server in the background. Errors other
// than a clean shutdown are sent to errs.
func (r *Reporter) Start(errs chan<- error) {
	go func() {
		if err := r.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()
}

// Shutdown gracefully stops the metrics HTTP server.
func (r *Reporter) Shutdown(ctx context.Context) error {
	return r.Server.Shutdown(ctx)
}
