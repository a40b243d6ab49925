// growrack core - growing rack automation engine
//
// This is the main entry point for the growrack core service. It receives
// sensor readings from rack gateways, evaluates operator-defined rules per
// rack, and drives the watering pump and grow light through MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/growrack-core/internal/api"
	"github.com/nerrad567/growrack-core/internal/automation"
	"github.com/nerrad567/growrack-core/internal/dispatch"
	"github.com/nerrad567/growrack-core/internal/events"
	"github.com/nerrad567/growrack-core/internal/infrastructure/config"
	"github.com/nerrad567/growrack-core/internal/infrastructure/database"
	"github.com/nerrad567/growrack-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/growrack-core/internal/infrastructure/kafka"
	"github.com/nerrad567/growrack-core/internal/infrastructure/logging"
	"github.com/nerrad567/growrack-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/growrack-core/internal/infrastructure/redis"
	"github.com/nerrad567/growrack-core/internal/ingress"
	"github.com/nerrad567/growrack-core/internal/rack"
	"github.com/nerrad567/growrack-core/migrations"
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
	// Cancel on Ctrl+C or SIGTERM so the deferred shutdown chain runs.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting growrack core",
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
	defer log.Sync() //nolint:errcheck // stdout sync fails on some platforms
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Rule registry
	rules := automation.NewRegistry(automation.NewSQLiteRepository(db.DB))
	rules.SetLogger(log.With("component", "rules"))
	if refreshErr := rules.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading rule registry: %w", refreshErr)
	}
	log.Info("rule registry initialised", "rules", rules.GetRuleCount())

	cooldowns, closeCooldowns, err := openCooldownTracker(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCooldowns()
	if f, ok := cooldowns.(automation.CooldownForgetter); ok {
		rules.SetCooldownForgetter(f)
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(ctx, cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.With("component", "mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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

	// Kafka (optional)
	var bus *kafka.Bus
	if cfg.Kafka.Enabled {
		bus, err = kafka.New(cfg.Kafka)
		if err != nil {
			return fmt.Errorf("configuring Kafka: %w", err)
		}
		log.Info("Kafka enabled",
			"brokers", cfg.Kafka.Brokers,
			"readings_topic", cfg.Kafka.ReadingsTopic,
			"events_topic", cfg.Kafka.EventsTopic,
		)
	} else {
		log.Info("Kafka disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Actuator dispatch
	dispatcher := dispatch.New(mqttClient, dispatch.NewConfig(cfg), log.With("component", "dispatch"))
	if startErr := dispatcher.Start(mqttClient); startErr != nil {
		return fmt.Errorf("starting dispatcher: %w", startErr)
	}
	defer func() {
		if stopErr := dispatcher.Stop(mqttClient); stopErr != nil {
			log.Warn("error stopping dispatcher", "error", stopErr)
		}
	}()

	// Event sinks. The audit store also records dispatch failures.
	audit := events.NewAuditStore(db.DB)
	sinks := events.Multi{audit, events.NewMQTTPublisher(mqttClient)}
	if influxClient != nil {
		sinks = append(sinks, events.NewInfluxWriter(influxClient))
	}
	if bus != nil {
		writer := bus.EventsWriter()
		defer func() {
			if closeErr := writer.Close(); closeErr != nil {
				log.Error("error closing Kafka writer", "error", closeErr)
			}
		}()
		sinks = append(sinks, events.NewKafkaWriter(writer))
	}
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log)
		go hub.Run(ctx)
		sinks = append(sinks, events.NewHubBroadcaster(hub))
	}

	engine, err := automation.NewEngine(automation.Collaborators{
		Rules:      rules,
		Cooldowns:  cooldowns,
		Dispatcher: dispatcher,
		Events:     sinks,
		Failures:   audit,
	}, automation.Options{
		Policy:          automation.DispatchPolicy(cfg.Automation.DispatchPolicy),
		QueueSize:       cfg.Automation.QueueSize,
		IdleTimeout:     config.Seconds(cfg.Automation.IdleTimeout),
		StorageTimeout:  config.Seconds(cfg.Automation.StorageTimeout),
		DispatchTimeout: config.Seconds(cfg.Automation.DispatchTimeout),
		Metrics:         automation.NewMetrics(registry),
		Logger:          log.With("component", "automation"),
	})
	if err != nil {
		return fmt.Errorf("creating automation engine: %w", err)
	}
	defer func() {
		log.Info("stopping automation engine")
		engine.Close()
	}()
	log.Info("automation engine started",
		"policy", engine.Policy(),
		"queue_size", cfg.Automation.QueueSize,
	)

	// Rack metadata; deactivating a rack stops its worker.
	racks := rack.NewRegistry(rack.NewSQLiteRepository(db.DB), engine)
	racks.SetLogger(log.With("component", "racks"))
	if refreshErr := racks.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading rack registry: %w", refreshErr)
	}
	log.Info("rack registry initialised", "racks", len(racks.List()))

	// Reading ingress
	deps := ingress.Deps{
		Engine:  engine,
		Racks:   racks,
		Metrics: ingress.NewMetrics(registry),
		Logger:  log.With("component", "ingress"),
	}
	if influxClient != nil {
		deps.Telemetry = influxClient
	}
	in, err := ingress.New(deps, ingress.NewConfig(cfg))
	if err != nil {
		return fmt.Errorf("creating ingress: %w", err)
	}
	racks.SetOnDelete(in.Forget)
	if startErr := in.Start(mqttClient); startErr != nil {
		return fmt.Errorf("starting ingress: %w", startErr)
	}
	defer func() {
		if stopErr := in.Stop(mqttClient); stopErr != nil {
			log.Warn("error stopping ingress", "error", stopErr)
		}
	}()

	if bus != nil {
		reader := bus.ReadingsReader()
		consumerCtx, stopConsumer := context.WithCancel(ctx)
		consumerDone := make(chan struct{})
		go func() {
			defer close(consumerDone)
			if runErr := in.RunKafka(consumerCtx, reader); runErr != nil {
				log.Error("kafka consumer stopped", "error", runErr)
			}
		}()
		defer func() {
			stopConsumer()
			<-consumerDone
			if closeErr := reader.Close(); closeErr != nil {
				log.Error("error closing Kafka reader", "error", closeErr)
			}
		}()
	}

	checks := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.With("component", "api"),
			Rules:    rules,
			Racks:    racks,
			Events:   audit,
			Engine:   engine,
			Hub:      hub,
			Gatherer: registry,
			Checks:   checks,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, Kafka consumer, ingress,
	// engine, sinks, dispatcher, InfluxDB, MQTT, cooldown store, database.
	log.Info("growrack core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GROWRACK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GROWRACK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openCooldownTracker builds the configured cooldown store. The returned
// func releases it.
func openCooldownTracker(ctx context.Context, cfg *config.Config, log *logging.Logger) (automation.CooldownTracker, func(), error) {
	if cfg.Automation.CooldownStore != config.CooldownStoreRedis {
		log.Info("cooldown store: memory")
		return automation.NewMemoryCooldownTracker(), func() {}, nil
	}

	client, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to Redis: %w", err)
	}
	log.Info("cooldown store: redis", "addr", cfg.Redis.Addr, "key_prefix", client.KeyPrefix())

	release := func() {
		log.Info("closing Redis connection")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing Redis", "error", closeErr)
		}
	}
	return automation.NewRedisCooldownTracker(client, client.KeyPrefix()), release, nil
}

// healthCheck verifies every infrastructure connection, returning the first
// failure.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for _, name := range []string{"database", "mqtt", "influxdb"} {
		check, ok := checks[name]
		if !ok {
			continue
		}
		if err := check.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
