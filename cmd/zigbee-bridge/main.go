// Zigbee bridge for IOT Platforma.
//
// This is the main entry point of the bridge. It reads the device roster
// published by zigbee2mqtt and represents every zigbee device as a virtual
// device on the IoT platform broker. Unpaired devices wait in the guest
// realm until the platform hands them an apiKey; paired devices connect with
// their stored apiKey and forward telemetry and set commands both ways.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/founek2/IOT-Platforma-zigbee/migrations"

	"github.com/founek2/IOT-Platforma-zigbee/internal/api"
	"github.com/founek2/IOT-Platforma-zigbee/internal/bridges/zigbee"
	"github.com/founek2/IOT-Platforma-zigbee/internal/credential"
	"github.com/founek2/IOT-Platforma-zigbee/internal/infrastructure/config"
	"github.com/founek2/IOT-Platforma-zigbee/internal/infrastructure/database"
	"github.com/founek2/IOT-Platforma-zigbee/internal/infrastructure/influxdb"
	"github.com/founek2/IOT-Platforma-zigbee/internal/infrastructure/logging"
	"github.com/founek2/IOT-Platforma-zigbee/internal/infrastructure/mqtt"
	"github.com/founek2/IOT-Platforma-zigbee/internal/platform"
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
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting zigbee bridge",
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
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store, storeCloser, err := credential.Open(cfg.Credentials, db.DB)
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	defer func() {
		if closeErr := storeCloser.Close(); closeErr != nil {
			log.Error("error closing credential store", "error", closeErr)
		}
	}()
	log.Info("credential store ready", "backend", cfg.Credentials.Backend)

	// Connect to the zigbee2mqtt broker
	gateway, err := mqtt.Connect(cfg.Gateway.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to gateway MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from gateway MQTT")
		if closeErr := gateway.Close(); closeErr != nil {
			log.Error("error closing gateway MQTT", "error", closeErr)
		}
	}()
	gateway.SetLogger(log)
	gateway.SetOnConnect(func() {
		log.Info("gateway MQTT reconnected")
	})
	gateway.SetOnDisconnect(func(err error) {
		log.Warn("gateway MQTT disconnected", "error", err)
	})
	log.Info("gateway MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Gateway.MQTT.Broker.Host, cfg.Gateway.MQTT.Broker.Port),
		"base_topic", cfg.Gateway.BaseTopic,
	)

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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// The hub is created before the dispatcher so it sees every event.
	hub := api.NewHub(cfg.WebSocket, log)

	dispatcher, err := startDispatcher(ctx, cfg, store, gateway, influxClient, hub, log)
	if err != nil {
		return fmt.Errorf("starting zigbee dispatcher: %w", err)
	}
	defer func() {
		log.Info("stopping zigbee dispatcher")
		dispatcher.Stop()
	}()

	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Logger:      log,
			Devices:     dispatcher,
			Gateway:     gateway,
			Database:    db,
			ExternalHub: hub,
			Version:     version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, db, gateway, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, dispatcher (which
	// disconnects every platform session), InfluxDB, gateway MQTT,
	// credential store, database.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses ZBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ZBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startDispatcher wires one Platform per roster device and subscribes to
// the zigbee2mqtt base topic.
//
// Parameters:
//   - ctx: Lifetime of the platforms' event loops
//   - cfg: Application configuration
//   - store: apiKey persistence shared by every platform
//   - gateway: zigbee2mqtt broker connection
//   - influxClient: Telemetry sink (may be nil if disabled)
//   - hub: WebSocket hub receiving platform events
//   - log: Logger instance
//
// Returns:
//   - *zigbee.Dispatcher: Running dispatcher
//   - error: If the dispatcher cannot subscribe
func startDispatcher(
	ctx context.Context,
	cfg *config.Config,
	store credential.Store,
	gateway *mqtt.Client,
	influxClient *influxdb.Client,
	hub *api.Hub,
	log *logging.Logger,
) (*zigbee.Dispatcher, error) {
	dialer := mqtt.NewSessionDialer(cfg.Platform, log)

	newPlatform := func(identity platform.Identity, observer platform.Observer) (*platform.Platform, error) {
		return platform.New(platform.Options{
			Identity:     identity,
			Store:        store,
			Factory:      dialer.Dial,
			GuestPrefix:  cfg.Platform.GuestPrefix,
			TopicVersion: cfg.Platform.TopicVersion,
			KeepAlive:    cfg.GetKeepAlive(),
			AutoRepair:   cfg.Platform.AutoRepairOnAuthFailure,
			Observer:     observer,
			Logger:       log.With("device_id", identity.DeviceID),
		})
	}

	observers := platform.Observers{hub}
	opts := zigbee.Options{
		Gateway:           gateway,
		BaseTopic:         cfg.Gateway.BaseTopic,
		Realm:             cfg.Platform.Realm,
		NewPlatform:       newPlatform,
		Logger:            log,
		MaxConcurrentInit: cfg.Zigbee.MaxConcurrentInit,
		Backoff: zigbee.BackoffConfig{
			Initial: time.Duration(cfg.Zigbee.RestartBackoff.Initial) * time.Second,
			Max:     time.Duration(cfg.Zigbee.RestartBackoff.Max) * time.Second,
		},
	}
	// A nil *influxdb.Client must not end up inside an interface.
	if influxClient != nil {
		opts.Telemetry = influxClient
		observers = append(observers, influxClient)
	}
	opts.Observer = observers

	dispatcher, err := zigbee.New(opts)
	if err != nil {
		return nil, err
	}
	if err := dispatcher.Start(ctx); err != nil {
		return nil, err
	}

	log.Info("zigbee dispatcher started",
		"realm", cfg.Platform.Realm,
		"platform_broker", fmt.Sprintf("%s:%d", cfg.Platform.Broker.Host, cfg.Platform.Broker.Port),
		"auto_repair", cfg.Platform.AutoRepairOnAuthFailure,
	)
	return dispatcher, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - gateway: Gateway MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, gateway *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := gateway.HealthCheck(ctx); err != nil {
		return fmt.Errorf("gateway mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Platform sessions are per device and report failures as events; they
	// are not part of startup health.
	return nil
}
