package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fleetfuel/fleetfuel-core/internal/config"
	"github.com/fleetfuel/fleetfuel-core/internal/estimator"
	"github.com/fleetfuel/fleetfuel-core/internal/eventbus"
	"github.com/fleetfuel/fleetfuel-core/internal/ingest"
	"github.com/fleetfuel/fleetfuel-core/internal/logging"
	"github.com/fleetfuel/fleetfuel-core/internal/persistence"
	"github.com/fleetfuel/fleetfuel-core/internal/persistence/csvstore"
	"github.com/fleetfuel/fleetfuel-core/internal/persistence/pgstore"
	"github.com/fleetfuel/fleetfuel-core/internal/persistence/rediscache"
	"github.com/fleetfuel/fleetfuel-core/internal/queryapi"
	"github.com/fleetfuel/fleetfuel-core/internal/services"
	"github.com/fleetfuel/fleetfuel-core/internal/telemetry"
	"github.com/fleetfuel/fleetfuel-core/internal/telemetry/simsource"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration:", err)
	}

	loggerConfig := &logging.LoggerConfig{
		Level:      cfg.LogLevel,
		Format:     "json",
		Output:     os.Stdout,
		AddSource:  true,
		TimeFormat: time.RFC3339,
	}
	logging.InitDefaultLogger(loggerConfig)
	logging.Info("starting fleetfuel-core", "trucks", len(cfg.TankSpecs))

	bus := eventbus.New()
	registry := estimator.NewRegistry(cfg, bus)

	adapter := buildPersistenceAdapter(cfg)
	replayCheckpoints(registry, adapter, cfg, bus)

	writer := persistence.NewWriter(bus, adapter)

	services.NewAnomalyService(cfg, bus)
	services.NewDriverBehaviorService(bus)
	services.NewMaintenanceService(cfg, bus)
	services.NewPredictionService(bus, nil)
	services.NewAlertService(cfg, bus)
	logging.Info("domain services subscribed")

	source := buildTelemetrySource(cfg)
	pool := ingest.NewPool(cfg, registry, source)

	ctx, cancelIngest := context.WithCancel(context.Background())
	go pool.Run(ctx)
	logging.Info("ingest pool running", "worker_pool_size", cfg.WorkerPoolSize)

	stopSweep := make(chan struct{})
	go runStalenessSweep(registry, cfg, stopSweep)

	router := queryapi.NewRouter(registry, adapter, cfg)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	go func() {
		logging.Info("query api listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("query api server failed", "error", err.Error())
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Warn("shutting down fleetfuel-core")

	close(stopSweep)
	cancelIngest()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("query api server forced to shutdown", "error", err.Error())
	}

	writer.Close()
	logging.Info("fleetfuel-core exited gracefully")
}

// buildPersistenceAdapter selects a persistence.Adapter from environment
// variables: DATABASE_URL for postgres, falling back to CSV_STORE_DIR
// (defaulting to ./data) when unset. REDIS_ADDR, if set, wraps whichever
// primary adapter was chosen with a write-behind retry buffer.
func buildPersistenceAdapter(cfg *config.Config) persistence.Adapter {
	var primary persistence.Adapter

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		store, err := pgstore.Open(dsn)
		if err != nil {
			log.Fatal("failed to open postgres persistence adapter:", err)
		}
		logging.Info("persistence backend: postgres")
		primary = store
	} else {
		dir := os.Getenv("CSV_STORE_DIR")
		if dir == "" {
			dir = "./data"
		}
		store, err := csvstore.Open(dir)
		if err != nil {
			log.Fatal("failed to open csv persistence adapter:", err)
		}
		logging.Warn("persistence backend: csv fallback", "dir", dir)
		primary = store
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		logging.Info("persistence write-behind buffer enabled", "redis_addr", addr)
		return rediscache.New(primary, rdb, 30*time.Second)
	}
	return primary
}

// replayCheckpoints restores every configured truck's Coordinator from its
// latest persisted snapshot: replay from the latest estimator_snapshot
// reproduces state bit-for-bit given identical configuration. Trucks with
// no snapshot yet start fresh via Registry.GetOrCreate on first reading
// instead.
func replayCheckpoints(registry *estimator.Registry, adapter persistence.Adapter, cfg *config.Config, bus *eventbus.Bus) {
	for _, ts := range cfg.TankSpecs {
		spec, ok := cfg.TankSpecFor(ts.TruckID)
		if !ok {
			continue
		}
		ekfState, idleState, found, err := adapter.LatestSnapshot(context.Background(), ts.TruckID)
		if err != nil {
			logging.Error("checkpoint replay failed, starting fresh", "truck_id", ts.TruckID, "error", err.Error())
			continue
		}
		if !found {
			continue
		}
		registry.Register(estimator.Restore(*spec, cfg, bus, ekfState, idleState))
		logging.Info("restored truck from checkpoint", "truck_id", ts.TruckID)
	}
}

// buildTelemetrySource returns the demo in-process generator unless a real
// vendor telemetry source is wired in by a deployment-specific build.
func buildTelemetrySource(cfg *config.Config) telemetry.Source {
	truckIDs := make([]string, len(cfg.TankSpecs))
	for i, ts := range cfg.TankSpecs {
		truckIDs[i] = ts.TruckID
	}
	return simsource.New(truckIDs, 5*time.Second)
}

func runStalenessSweep(registry *estimator.Registry, cfg *config.Config, stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			registry.Sweep(now, cfg.StaleWindow())
		}
	}
}
