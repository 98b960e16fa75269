// Command schemaregistry runs a single schema registry node: it joins the
// cluster's coordinator namespace, participates in master election, tails
// the shared log into its local store, and serves the REST API over HTTP.
// Wiring follows the teacher's dependency-injection pattern (SPEC_FULL.md
// §D.6): every component is constructed by an fx.Provide factory and started
// or stopped by an fx.Lifecycle hook, replacing the teacher's manual
// signal.Notify shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"schemaregistry/internal/config"
	"schemaregistry/internal/coordinator"
	"schemaregistry/internal/dialect"
	dialectavro "schemaregistry/internal/dialect/avro"
	dialectjsonschema "schemaregistry/internal/dialect/jsonschema"
	dialectprotobuf "schemaregistry/internal/dialect/protobuf"
	"schemaregistry/internal/election"
	"schemaregistry/internal/forwarder"
	"schemaregistry/internal/idalloc"
	"schemaregistry/internal/identity"
	"schemaregistry/internal/logclient"
	"schemaregistry/internal/metrics"
	"schemaregistry/internal/registry"
	"schemaregistry/internal/rest"
	"schemaregistry/internal/store"
	"schemaregistry/internal/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

func main() {
	cfg := config.Load()

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(
			newSelf,
			newLogClient,
			newCoordinator,
			newDialectRegistry,
			newMetricsReporter,
			newStore,
			newAllocatorFactory,
			newForwarder,
			newRegistry,
			newElector,
			rest.NewHandler,
			rest.NewRouter,
		),
		fx.Invoke(
			registerStoreLifecycle,
			registerElectorLifecycle,
			registerMetricsLifecycle,
			registerHTTPLifecycle,
		),
		fx.NopLogger,
	)

	app.Run()
}

func newSelf(cfg *config.Config) identity.Identity {
	return identity.Identity{Host: cfg.HostName, Port: cfg.Port, Eligible: cfg.MasterEligibility}
}

func newLogClient(cfg *config.Config) (*logclient.NATSClient, error) {
	return logclient.Connect(logclient.Config{
		URL:        cfg.LogURL,
		StreamName: "schema-registry-log",
		Subject:    "schema-registry.records",
	})
}

func newCoordinator(cfg *config.Config) (*coordinator.NATSCoordinator, error) {
	return coordinator.Connect(coordinator.Config{
		URL:            cfg.LogURL,
		ClusterName:    cfg.ClusterName,
		NodesBucket:    fmt.Sprintf("%s_nodes", cfg.ClusterName),
		MembersBucket:  fmt.Sprintf("%s_members", cfg.ClusterName),
		SessionTimeout: cfg.CoordinatorSessionTimeout,
	})
}

func newDialectRegistry() *dialect.Registry {
	d := dialect.NewRegistry()
	d.Register(types.Avro, dialectavro.New())
	d.Register(types.JSON, dialectjsonschema.New())
	d.Register(types.Protobuf, dialectprotobuf.New())
	return d
}

func newMetricsReporter(cfg *config.Config) *metrics.Reporter {
	return metrics.New(metrics.Config{
		Address:                 cfg.MetricsAddress,
		EnableDefaultCollectors: cfg.MetricsEnableDefault,
	})
}

func newStore(cfg *config.Config, log *logclient.NATSClient) *store.LogBackedStore {
	return store.New(log, store.JSONSerializer{}, store.Config{
		BootstrapTimeout: cfg.BootstrapTimeout,
		WriteTimeout:     cfg.WriteTimeout,
	})
}

// newAllocatorFactory returns the constructor Registry calls once it knows
// its own maxIDInStore function; idalloc has no dependency on metrics
// directly, so the reservation counter is wired through OnBatchClaimed here.
func newAllocatorFactory(coord *coordinator.NATSCoordinator, m *metrics.Reporter) func(idalloc.MaxIDSource) *idalloc.Allocator {
	return func(maxID idalloc.MaxIDSource) *idalloc.Allocator {
		return idalloc.New(coord, maxID, idalloc.Config{
			OnBatchClaimed: m.ObserveIDBatchReservation,
		})
	}
}

func newForwarder() *forwarder.Forwarder {
	return forwarder.New(10 * time.Second)
}

func newRegistry(
	st *store.LogBackedStore,
	dialects *dialect.Registry,
	coord *coordinator.NATSCoordinator,
	fwd *forwarder.Forwarder,
	m *metrics.Reporter,
	cfg *config.Config,
	self identity.Identity,
	newAllocator func(idalloc.MaxIDSource) *idalloc.Allocator,
) *registry.Registry {
	return registry.New(st, dialects, coord, fwd, m, registry.Config{
		Self:               self,
		DefaultCompatLevel: cfg.DefaultCompatibilityLevel,
	}, newAllocator)
}

func newElector(coord *coordinator.NATSCoordinator, reg *registry.Registry, cfg *config.Config, self identity.Identity) *election.Elector {
	return election.New(coord, reg, election.Config{
		Self:     self,
		LeaseTTL: cfg.CoordinatorSessionTimeout,
	})
}

func registerStoreLifecycle(lc fx.Lifecycle, reg *registry.Registry) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return reg.Init(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return reg.Close(ctx)
		},
	})
}

func registerElectorLifecycle(lc fx.Lifecycle, e *election.Elector) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return e.Run(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return e.Close(ctx)
		},
	})
}

func registerMetricsLifecycle(lc fx.Lifecycle, m *metrics.Reporter) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			errs := make(chan error, 1)
			m.Start(errs)
			go func() {
				if err := <-errs; err != nil {
					slog.Error("metrics server error", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return m.Shutdown(ctx)
		},
	})
}

func registerHTTPLifecycle(lc fx.Lifecycle, router *gin.Engine, cfg *config.Config) {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: router}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				slog.Info("HTTP server listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					slog.Error("HTTP server error", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
