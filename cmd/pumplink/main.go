// PumpLink Core - Infusion Pump Communication Service
//
// This is the main entry point for the PumpLink Core application.
// PumpLink Core sits between ward infusion pumps and clinical clients:
//   - Consumes device telemetry over MQTT and drives infusion lifecycle
//   - Dispatches operator commands (start/stop/pause/resume) to pumps
//   - Streams live device events to dashboards over WebSocket
//   - Retains per-device snapshots so late-joining viewers catch up
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/pumplink/pumplink-core/migrations"

	"github.com/pumplink/pumplink-core/internal/api"
	"github.com/pumplink/pumplink-core/internal/dispatcher"
	"github.com/pumplink/pumplink-core/internal/infrastructure/config"
	"github.com/pumplink/pumplink-core/internal/infrastructure/database"
	"github.com/pumplink/pumplink-core/internal/infrastructure/influxdb"
	"github.com/pumplink/pumplink-core/internal/infrastructure/logging"
	"github.com/pumplink/pumplink-core/internal/infrastructure/mqtt"
	"github.com/pumplink/pumplink-core/internal/infusion"
	"github.com/pumplink/pumplink-core/internal/lifecycle"
	"github.com/pumplink/pumplink-core/internal/notifcache"
	"github.com/pumplink/pumplink-core/internal/pump"
	"github.com/pumplink/pumplink-core/internal/router"
	"github.com/pumplink/pumplink-core/internal/stream"
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
	// This is the Go pattern for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Run the application
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting PumpLink Core",
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
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(cfg.Database)
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

	// Initialise pump registry
	pumpRepo := pump.NewSQLiteRepository(db.DB)
	registry := pump.NewRegistry(pumpRepo)
	registry.SetLogger(log)

	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading pump registry: %w", refreshErr)
	}
	log.Info("pump registry initialised", "pumps", registry.GetPumpCount())

	// Infusion records and the lifecycle machine that guards them
	infusionRepo := infusion.NewSQLiteRepository(db.DB)
	machine := lifecycle.NewMachine(registry, infusionRepo)
	machine.SetLogger(log)

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

	// Set up MQTT logging callbacks. Connection lost means the reconnect
	// budget is exhausted: the service stays up so the API can report the
	// failure, but pump commands will be refused until a restart.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	mqttClient.SetOnConnectionLost(func(err error) {
		log.Error("MQTT connection permanently lost, restart required", "error", err)
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

		// Set up InfluxDB error callback
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Notification cache: Redis when configured, otherwise an in-process
	// store with the same TTL semantics.
	var store notifcache.Store
	if cfg.Cache.Enabled {
		store, err = notifcache.NewRedisStore(ctx, cfg.Cache)
		if err != nil {
			return fmt.Errorf("connecting to cache: %w", err)
		}
		log.Info("notification cache connected", "addr", cfg.Cache.Addr)
	} else {
		store = notifcache.NewMemoryStore()
		log.Info("notification cache using in-process store")
	}
	cache := notifcache.NewCache(store, cfg.NotificationTTL())
	defer func() {
		if closeErr := cache.Close(); closeErr != nil {
			log.Error("error closing notification cache", "error", closeErr)
		}
	}()

	// Stream broker fans device events out to WebSocket viewers
	broker := stream.NewBroker(registry, cache)
	broker.SetLogger(log)

	// Operator command path: service -> machine -> dispatcher -> MQTT
	disp := dispatcher.NewDispatcher(mqttClient)
	disp.SetLogger(log)
	operator := dispatcher.NewService(machine, disp)
	operator.SetLogger(log)

	// Telemetry router consumes everything the pumps publish
	var metrics router.MetricsWriter
	if influxClient != nil {
		metrics = influxClient
	}
	telemetryRouter := router.New(registry, machine, broker, cache, metrics)
	telemetryRouter.SetLogger(log)
	if startErr := telemetryRouter.Start(mqttClient); startErr != nil {
		return fmt.Errorf("starting telemetry router: %w", startErr)
	}
	log.Info("telemetry router started", "topic", mqtt.Topics{}.AllTelemetry())

	// API server: REST command surface plus the WebSocket stream endpoint
	health := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
		"cache":    cache,
	}
	if influxClient != nil {
		health["influxdb"] = influxClient
	}

	apiServer, err := api.New(api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Security:     cfg.Security,
		Logger:       log,
		Registry:     registry,
		Operator:     operator,
		Broker:       broker,
		InfusionRepo: infusionRepo,
		Health:       health,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server started",
		"addr", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"tls", cfg.API.TLS.Enabled,
	)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, cache, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. Notification cache
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("PumpLink Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses PUMPLINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PUMPLINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - cache: Notification cache to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, cache *notifcache.Cache, influxClient *influxdb.Client) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	// Check notification cache
	if err := cache.HealthCheck(ctx); err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
