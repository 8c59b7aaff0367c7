// ISY Shadow - Controller State Mirror
//
// This is the main entry point for the ISY Shadow daemon. It keeps a
// live in-memory mirror of an ISY home-automation controller (nodes,
// groups, programs, variables), fed by the controller's streaming
// event interface, and optionally relays state onto MQTT, records
// transitions to InfluxDB, and journals them to SQLite.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/isy-shadow/internal/command"
	"github.com/nerrad567/isy-shadow/internal/events"
	"github.com/nerrad567/isy-shadow/internal/history"
	"github.com/nerrad567/isy-shadow/internal/infrastructure/config"
	"github.com/nerrad567/isy-shadow/internal/infrastructure/influxdb"
	"github.com/nerrad567/isy-shadow/internal/infrastructure/logging"
	"github.com/nerrad567/isy-shadow/internal/infrastructure/mqtt"
	"github.com/nerrad567/isy-shadow/internal/relay"
	"github.com/nerrad567/isy-shadow/internal/rest"
	"github.com/nerrad567/isy-shadow/internal/shadow"
	"github.com/nerrad567/isy-shadow/internal/snapshot"
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

// pruneInterval is how often the history journal enforces retention.
const pruneInterval = 6 * time.Hour

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
	log.Info("starting ISY Shadow",
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

	// REST client for the snapshot fetch and the command layer
	restClient := rest.NewClient(rest.Config{
		Host:     cfg.Controller.Host,
		Port:     cfg.Controller.Port,
		TLS:      cfg.Controller.TLS,
		Username: cfg.Controller.Username,
		Password: cfg.Controller.Password,
		WebRoot:  cfg.Controller.WebRoot,
		Timeout:  cfg.RequestTimeout(),
	}, log.With("component", "rest"))

	// Shadow tree: the in-memory mirror everything else hangs off
	tree := shadow.NewTree(log.With("component", "shadow"))

	// Seed the tree from a full controller snapshot. Without the
	// snapshot the stream's deltas have nothing to apply to, so a
	// failure here is fatal.
	fetcher := snapshot.NewFetcher(restClient, log.With("component", "snapshot"))
	entries, err := fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetching startup snapshot: %w", err)
	}
	tree.Seed(entries)
	log.Info("shadow tree seeded", "entities", tree.Len())

	// Stream supervisor: owns the event connection and its retry policy
	streamLog := log.With("component", "stream")
	factory := func() events.StreamSession {
		return events.NewSession(newTransport(cfg), tree, streamLog)
	}
	supervisor := events.NewSupervisor(events.SupervisorConfig{
		HeartbeatInterval: cfg.HeartbeatInterval(),
		HeartbeatGrace:    cfg.HeartbeatGrace(),
		InitialDelay:      cfg.ReconnectInitialDelay(),
		MaxDelay:          cfg.ReconnectMaxDelay(),
		MaxAttempts:       cfg.Stream.Reconnect.MaxAttempts,
	}, factory, streamLog)

	logSub := supervisor.SubscribeStatus(func(status events.ConnectionStatus) {
		log.Info("stream connection", "status", string(status))
	})
	defer logSub.Unsubscribe()

	if cfg.Stream.ReseedOnReconnect {
		supervisor.SetReseeder(func(ctx context.Context) error {
			entries, err := fetcher.Fetch(ctx)
			if err != nil {
				return err
			}
			tree.Seed(entries)
			return nil
		})
		log.Info("snapshot reseed on reconnect enabled")
	}

	// Connect to MQTT broker and start the relay (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		commander := command.NewCommander(restClient, tree, log.With("component", "command"))
		rly, err := relay.New(relay.Options{
			MQTT:      mqttClient,
			Tree:      tree,
			Commander: commander,
			Logger:    log.With("component", "relay"),
			QoS:       cfg.MQTT.QoS,
		})
		if err != nil {
			return fmt.Errorf("creating relay: %w", err)
		}
		if err := rly.Start(); err != nil {
			return fmt.Errorf("starting relay: %w", err)
		}
		defer func() {
			log.Info("stopping relay")
			rly.Stop()
		}()

		// Mirror stream connection transitions onto the retained
		// connection topic so MQTT consumers can judge staleness.
		statusSub := supervisor.SubscribeStatus(func(status events.ConnectionStatus) {
			rly.PublishConnectionStatus(string(status))
		})
		defer statusSub.Unsubscribe()
	} else {
		log.Info("MQTT relay disabled")
	}

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

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		influxSub := tree.SubscribeAllStatus(func(change shadow.StatusChange) {
			uom := change.New.UOM
			if uom == shadow.UOMNotSet {
				uom = ""
			}
			influxClient.WriteStatusTransition(
				string(change.Address), string(change.Kind), change.Key,
				change.New.Value, uom, change.At,
			)
		})
		defer influxSub.Unsubscribe()

		connSub := supervisor.SubscribeStatus(func(status events.ConnectionStatus) {
			influxClient.WriteConnectionTransition(string(status), time.Now())
		})
		defer connSub.Unsubscribe()
	} else {
		log.Info("InfluxDB disabled")
	}

	// Open the history journal (optional)
	var journal *history.Journal
	if cfg.History.Enabled {
		journal, err = history.Open(cfg.History, log)
		if err != nil {
			return fmt.Errorf("opening history journal: %w", err)
		}
		defer func() {
			log.Info("closing history journal")
			if closeErr := journal.Close(); closeErr != nil {
				log.Error("error closing history journal", "error", closeErr)
			}
		}()

		journalSub := tree.SubscribeAllStatus(func(change shadow.StatusChange) {
			if recordErr := journal.Record(ctx, change); recordErr != nil {
				log.Warn("history record failed", "address", change.Address, "error", recordErr)
			}
		})
		defer journalSub.Unsubscribe()

		go pruneLoop(ctx, journal, cfg.History.RetentionDays, log)
	} else {
		log.Info("history journal disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, mqttClient, influxClient, journal); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Start the stream. The supervisor owns connect, watchdog, and
	// reconnect from here on; Run returns only on context cancellation
	// or when the retry budget is exhausted.
	streamErr := make(chan error, 1)
	go func() {
		streamErr <- supervisor.Run(ctx)
	}()
	defer supervisor.Stop()

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case err := <-streamErr:
		if err != nil {
			return fmt.Errorf("stream supervisor: %w", err)
		}
		log.Info("stream supervisor stopped, cleaning up")
	}

	log.Info("ISY Shadow stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses ISYSHADOW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ISYSHADOW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newTransport builds a fresh unconnected transport per the configured
// stream flavour. Transports are single-use; the supervisor calls this
// through the session factory on every connection attempt.
func newTransport(cfg *config.Config) events.Transport {
	tc := events.TransportConfig{
		Host:     cfg.Controller.Host,
		Port:     cfg.Controller.Port,
		TLS:      cfg.Controller.TLS,
		Username: cfg.Controller.Username,
		Password: cfg.Controller.Password,
		WebRoot:  cfg.Controller.WebRoot,
	}
	if cfg.Stream.Transport == "tcp" {
		return events.NewTCPTransport(tc)
	}
	return events.NewWebSocketTransport(tc)
}

// pruneLoop periodically removes journal entries past the retention
// window. Runs until the context is cancelled.
func pruneLoop(ctx context.Context, journal *history.Journal, retentionDays int, log *logging.Logger) {
	if retentionDays <= 0 {
		return
	}
	retention := time.Duration(retentionDays) * 24 * time.Hour

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := journal.Prune(ctx, retention); err != nil {
				log.Warn("history prune failed", "error", err)
			}
		}
	}
}

// healthCheck verifies all enabled infrastructure connections are
// healthy. Disabled components pass nil and are skipped.
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client, journal *history.Journal) error {
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if journal != nil {
		if err := journal.HealthCheck(ctx); err != nil {
			return fmt.Errorf("history: %w", err)
		}
	}

	return nil
}
