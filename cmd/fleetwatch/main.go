// fleetwatch - device fleet monitoring service
//
// fleetwatch ingests status, metric, log, event and command-response
// messages published by devices over MQTT, keeps the fleet's state in
// SQLite, detects silent devices, and pushes live updates to dashboard
// clients over WebSocket. A REST API exposes the same data and lets
// operators send commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/fleetwatch/migrations"

	"github.com/nerrad567/fleetwatch/internal/alert"
	"github.com/nerrad567/fleetwatch/internal/api"
	"github.com/nerrad567/fleetwatch/internal/clock"
	"github.com/nerrad567/fleetwatch/internal/command"
	"github.com/nerrad567/fleetwatch/internal/device"
	"github.com/nerrad567/fleetwatch/internal/infrastructure/config"
	"github.com/nerrad567/fleetwatch/internal/infrastructure/database"
	"github.com/nerrad567/fleetwatch/internal/infrastructure/influxdb"
	"github.com/nerrad567/fleetwatch/internal/infrastructure/logging"
	"github.com/nerrad567/fleetwatch/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleetwatch/internal/ingest"
	"github.com/nerrad567/fleetwatch/internal/monitor"
	"github.com/nerrad567/fleetwatch/internal/telemetry"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configEnvVar      = "FLEETWATCH_CONFIG"

	// mqttConnectTimeout bounds the wait for the first CONNACK. paho keeps
	// retrying in the background afterwards.
	mqttConnectTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown after ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting fleetwatch",
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

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	clk := clock.Real{}
	devices := device.NewSQLiteRepository(db.DB, clk)
	groups := device.NewSQLiteGroupRepository(db.DB, clk)
	telemetryRepo := telemetry.NewSQLiteRepository(db.DB, clk)
	alerts := alert.NewSQLiteRepository(db.DB, clk)
	commands := command.NewSQLiteRepository(db.DB, clk)

	// Every producer publishes through the hub; it is the fleet's event bus.
	hub := api.NewHub(cfg.WebSocket, log)
	emitter := alert.NewEmitter(alerts, hub, clk)

	mqttClient := mqtt.New(cfg.MQTT)
	mqttClient.SetLogger(log)
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	dispatcher := command.NewDispatcher(command.DispatcherConfig{
		Commands:  commands,
		Devices:   devices,
		Transport: mqttClient,
		Topics:    mqttClient.Topics(),
		Bus:       hub,
		Clock:     clk,
	})
	dispatcher.SetLogger(log)

	influxClient := connectInflux(ctx, cfg.InfluxDB, log)
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	handlersCfg := ingest.HandlersConfig{
		Devices:   devices,
		Telemetry: telemetryRepo,
		Alerts:    emitter,
		Commands:  dispatcher,
		Bus:       hub,
		Clock:     clk,
	}
	if influxClient != nil {
		handlersCfg.Mirror = influxClient
	}
	router := ingest.NewRouter(mqttClient.Topics(), ingest.NewHandlers(handlersCfg))
	router.SetLogger(log)

	// Filters are recorded before connecting and applied on every CONNACK.
	if subErr := router.Subscribe(mqttClient); subErr != nil {
		return fmt.Errorf("subscribing to device topics: %w", subErr)
	}
	connectMQTT(ctx, mqttClient, cfg.MQTT, log)

	offline := monitor.NewOfflineSweeper(monitor.OfflineConfig{
		Devices:   devices,
		Alerts:    emitter,
		Bus:       hub,
		Clock:     clk,
		Threshold: cfg.Monitor.OfflineThresholdDuration(),
		Logger:    log,
	})
	retention := monitor.NewRetentionSweeper(telemetryRepo, clk, cfg.Retention.MaxAge(), log)

	tasks := []*monitor.Task{
		monitor.NewTask("offline-sweep", cfg.Monitor.CheckIntervalDuration(), cfg.Monitor.RunOnStart, offline.Run),
		monitor.NewTask("metric-retention", cfg.Retention.IntervalDuration(), true, retention.Run),
	}
	for _, task := range tasks {
		if startErr := task.Start(ctx); startErr != nil {
			return fmt.Errorf("starting %s: %w", task.Name(), startErr)
		}
		defer task.Stop()
		log.Info("background task started", "task", task.Name())
	}

	checks := map[string]api.HealthChecker{"mqtt": mqttClient}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}

	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Devices:    devices,
		Groups:     groups,
		Telemetry:  telemetryRepo,
		Alerts:     alerts,
		Commands:   commands,
		Dispatcher: dispatcher,
		Clock:      clk,
		Hub:        hub,
		Database:   db,
		Checks:     checks,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: API server, tasks, InfluxDB, MQTT, database.
	log.Info("fleetwatch stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FLEETWATCH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectMQTT waits for the first broker connection. A failure is not
// fatal: the service runs without ingestion while paho retries, and the
// tracked subscriptions are applied once the broker answers.
func connectMQTT(ctx context.Context, client *mqtt.Client, cfg config.MQTTConfig, log *logging.Logger) {
	connectCtx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
	defer cancel()

	broker := fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port)
	if err := client.Connect(connectCtx); err != nil {
		log.Warn("MQTT broker unreachable, running without ingestion until it connects",
			"broker", broker,
			"error", err,
		)
		return
	}
	log.Info("MQTT connected",
		"broker", broker,
		"client_id", cfg.Broker.ClientID,
	)
}

// connectInflux opens the optional metric mirror. It returns nil when
// the mirror is disabled or unreachable.
func connectInflux(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) *influxdb.Client {
	client, err := influxdb.Connect(ctx, cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil
	}
	if err != nil {
		log.Warn("InfluxDB unavailable, metric samples stored in SQLite only", "url", cfg.URL, "error", err)
		return nil
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client
}
