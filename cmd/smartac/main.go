// SmartAC Core - Air Conditioner Fleet Controller
//
// This is the main entry point for the SmartAC Core application, the
// controller process that sits between operator tooling and a fleet of
// retrofitted air-conditioning units on an MQTT broker:
//   - Reconciles inbound discovery and status reports into the registry
//   - Dispatches full-state commands and Wi-Fi provisioning payloads
//   - Serves the REST API, WebSocket state feed, and audit trail
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/ventoline/smartac-core/migrations"

	"github.com/ventoline/smartac-core/internal/api"
	"github.com/ventoline/smartac-core/internal/audit"
	"github.com/ventoline/smartac-core/internal/device"
	"github.com/ventoline/smartac-core/internal/dispatcher"
	"github.com/ventoline/smartac-core/internal/infrastructure/config"
	"github.com/ventoline/smartac-core/internal/infrastructure/database"
	"github.com/ventoline/smartac-core/internal/infrastructure/influxdb"
	"github.com/ventoline/smartac-core/internal/infrastructure/logging"
	"github.com/ventoline/smartac-core/internal/infrastructure/mqtt"
	"github.com/ventoline/smartac-core/internal/reconciler"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting SmartAC Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open database
	db, err := database.Open(ctx, database.Config{
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
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise device registry
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)

	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.Count())

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
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional triad history)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.New(cfg.InfluxDB, log)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			influxClient.Close()
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Command dispatcher
	disp := dispatcher.New(mqttClient, registry, cfg.MQTT.Namespace, byte(cfg.MQTT.QoS), cfg.Dispatch)
	disp.SetLogger(log)

	// API server (created before the reconciler so its WebSocket hub
	// can be wired as a state sink)
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Registry:   registry,
		Dispatcher: disp,
		AuditRepo:  audit.NewSQLiteRepository(db.DB),
		MQTT:       mqttClient,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Reconciliation engine: inbound MQTT traffic into the registry,
	// fanned out to the WebSocket hub and the time-series store.
	recon := reconciler.New(mqttClient, registry, cfg.MQTT.Namespace, byte(cfg.MQTT.QoS))
	recon.SetLogger(log)
	recon.AddSink(server.Hub())
	if influxClient != nil {
		recon.AddSink(&influxSink{client: influxClient})
	}

	if startErr := recon.Start(ctx); startErr != nil {
		return fmt.Errorf("starting reconciler: %w", startErr)
	}
	defer func() {
		log.Info("stopping reconciler")
		if stopErr := recon.Stop(); stopErr != nil {
			log.Error("error stopping reconciler", "error", stopErr)
		}
	}()
	log.Info("reconciler started", "namespace", cfg.MQTT.Namespace)

	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Reconciler
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("SmartAC Core stopped")
	return nil
}

// influxSink adapts the InfluxDB client to the reconciler's sink
// interface, recording every accepted device report as a sample.
type influxSink struct {
	client *influxdb.Client
}

func (s *influxSink) ObservedState(d *device.Device, at time.Time) {
	s.client.WriteState(influxdb.StatePoint{
		ExternalID:  d.ExternalID,
		Brand:       string(d.Brand),
		Power:       d.Power,
		Temperature: d.Temperature,
		Mode:        string(d.Mode),
		Timestamp:   at,
	})
}

// getConfigPath returns the configuration file path.
// Uses SMARTAC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SMARTAC_CONFIG"); path != "" {
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
