// dlink-core - D-Link smart home integration service
//
// This is the main entry point for the dlink-core daemon. It manages a
// fleet of D-Link smart plugs, sensors, and sirens over the local
// network, fanning device state out to MQTT and InfluxDB and exposing
// a REST API for fleet management.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/dlink-core/migrations"

	"github.com/nerrad567/dlink-core/internal/api"
	"github.com/nerrad567/dlink-core/internal/device"
	"github.com/nerrad567/dlink-core/internal/discovery"
	"github.com/nerrad567/dlink-core/internal/infrastructure/config"
	"github.com/nerrad567/dlink-core/internal/infrastructure/database"
	"github.com/nerrad567/dlink-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/dlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/dlink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/dlink-core/internal/statebus"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting dlink-core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database and run migrations
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// State fan-out: device state -> retained MQTT topics + telemetry
	busDeps := statebus.Deps{
		Publisher: mqttClient,
		Logger:    log,
	}
	if influxClient != nil {
		busDeps.Metrics = influxClient
	}
	states := statebus.New(busDeps)

	// Device fleet
	repo := device.NewSQLiteRepository(db.DB, cfg.Security.Secret)
	factory := device.NewFactory(device.FactoryDeps{
		Store:    states,
		Logger:   log,
		Reporter: device.NewBusReporter(mqttClient, log),
		Timeout:  time.Duration(cfg.Devices.RequestTimeout) * time.Second,
		Persist: func(ctx context.Context, previousID string, identity device.Identity) error {
			return repo.Replace(ctx, previousID, &identity)
		},
	})
	fleet := device.NewManager(device.ManagerDeps{
		Repo:    repo,
		Factory: factory,
		Bus:     mqttClient,
		Logger:  log,
	})
	if startErr := fleet.Start(ctx); startErr != nil {
		return fmt.Errorf("starting device fleet: %w", startErr)
	}
	defer func() {
		log.Info("stopping device fleet")
		fleet.Stop()
	}()
	log.Info("device fleet started", "devices", len(fleet.List()))

	// Auto-discovery listener (optional)
	var listener *discovery.Listener
	if cfg.Discovery.Enabled {
		listener = discovery.New(discovery.Deps{
			Fleet:     fleet,
			Publisher: mqttClient,
			Logger:    log,
			Interface: cfg.Discovery.Interface,
		})
		if startErr := listener.Start(ctx); startErr != nil {
			return fmt.Errorf("starting discovery: %w", startErr)
		}
		defer func() {
			log.Info("stopping discovery")
			listener.Stop()
		}()
		log.Info("discovery listening", "interface", cfg.Discovery.Interface)
	} else {
		log.Info("discovery disabled")
	}

	// HTTP API
	health := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		health["influxdb"] = influxClient
	}
	apiDeps := api.Deps{
		Config:  cfg.API,
		Logger:  log,
		Devices: fleet,
		States:  states,
		Health:  health,
		Version: version,
	}
	if listener != nil {
		apiDeps.Discovery = listener
	}
	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting api server: %w", startErr)
	}
	defer func() {
		log.Info("stopping api server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping api server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	// Deferred Close() calls run in reverse order:
	// API server, discovery, fleet, InfluxDB, MQTT, database.

	log.Info("dlink-core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
