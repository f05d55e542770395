// bridged - JSON-RPC peer bridge daemon
//
// bridged keeps one managed connection per configured peer (serial device
// or TCP host), speaks JSON-RPC 2.0 with it, and relays the traffic onto
// MQTT. Connection events go to a SQLite journal and link statistics to
// InfluxDB. Everything runs on a single cooperative reactor.
//
// "bridged migrate [up|status|down]" manages the journal schema and exits.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-bridged/migrations"

	"github.com/nerrad567/gray-logic-bridged/internal/bridges/rpcmqtt"
	"github.com/nerrad567/gray-logic-bridged/internal/framing"
	"github.com/nerrad567/gray-logic-bridged/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bridged/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-bridged/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-bridged/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-bridged/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-bridged/internal/journal"
	"github.com/nerrad567/gray-logic-bridged/internal/link"
	"github.com/nerrad567/gray-logic-bridged/internal/reactor"
	"github.com/nerrad567/gray-logic-bridged/internal/telemetry"
	"github.com/nerrad567/gray-logic-bridged/internal/transport"
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

// shutdownTimeout bounds how long the reactor keeps cycling to flush the
// journal after a shutdown signal.
const shutdownTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(ctx, os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

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
	log := logging.Default()
	log.Info("starting bridged",
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

	r, err := reactor.New(
		reactor.WithCycleInterval(cfg.GetCycleInterval()),
		reactor.WithLogger(log.Component("reactor")),
	)
	if err != nil {
		return fmt.Errorf("creating reactor: %w", err)
	}
	defer r.Close()

	links, err := buildLinks(r, cfg, log)
	if err != nil {
		return err
	}
	log.Info("peers configured", "count", len(links))

	// Open database (optional)
	var db *database.DB
	var jrnl *journal.Journal
	if cfg.Database.Enabled {
		db, err = database.Open(database.ConfigFrom(cfg.Database))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", cfg.Database.Path)

		jrnl = journal.New(r, db, log.Component("journal"))
		for _, l := range links {
			jrnl.Attach(l)
		}
	} else {
		log.Info("journal disabled")
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	var relay *rpcmqtt.Bridge
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
		mqttClient.SetLogger(log.Component("mqtt"))
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

		relay = rpcmqtt.New(rpcmqtt.Options{
			Reactor:        r,
			MQTT:           mqttClient,
			Topics:         mqttClient.Topics(),
			QoS:            mqttClient.QoS(),
			RequestTimeout: cfg.GetRequestTimeout(),
			Logger:         log.Component("rpcmqtt"),
		})
		for _, l := range links {
			if addErr := relay.Add(l); addErr != nil {
				return fmt.Errorf("adding peer to MQTT relay: %w", addErr)
			}
		}
	} else {
		log.Info("MQTT relay disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	var reporter *telemetry.Reporter
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

		reporter = telemetry.New(r, influxClient, cfg.GetTelemetryInterval(), log.Component("telemetry"))
		for _, l := range links {
			reporter.Add(l)
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if relay != nil {
		if err := relay.Start(); err != nil {
			return fmt.Errorf("starting MQTT relay: %w", err)
		}
		defer relay.Stop()
	}
	if reporter != nil {
		reporter.Start()
	}
	for _, l := range links {
		l.Start()
	}

	go func() {
		<-ctx.Done()
		r.Post(func() {
			log.Info("shutdown signal received, cleaning up")
			shutdown(r, links, reporter, jrnl)
		})
	}()

	log.Info("initialisation complete, running reactor")
	if err := r.Run(); err != nil {
		return fmt.Errorf("reactor stopped: %w", err)
	}

	log.Info("bridged stopped")
	return nil
}

// shutdown stops every link and terminates the reactor once the journal has
// recorded the resulting disconnects, or after shutdownTimeout.
func shutdown(r *reactor.Reactor, links []*link.Link, reporter *telemetry.Reporter, jrnl *journal.Journal) {
	if reporter != nil {
		reporter.ReportNow()
		reporter.Stop()
	}
	for _, l := range links {
		l.Stop()
	}
	if jrnl == nil {
		r.Terminate()
		return
	}
	jrnl.Close()
	r.RunOnceAfter(shutdownTimeout, func(int64) { r.Terminate() })
	jrnl.Flush(r.Terminate)
}

// buildLinks creates one link per configured peer.
func buildLinks(r *reactor.Reactor, cfg *config.Config, log *logging.Logger) ([]*link.Link, error) {
	links := make([]*link.Link, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		lc, err := linkConfig(p)
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", p.Name, err)
		}
		links = append(links, link.New(r, lc, log.ForPeer(p.Name)))
	}
	return links, nil
}

// linkConfig maps one peers[] entry of config.yaml.
func linkConfig(p config.PeerConfig) (link.Config, error) {
	ep, err := transport.ParseSpec(p.Endpoint, uint16(p.Port), p.BaudRate)
	if err != nil {
		return link.Config{}, err
	}
	if ep.IsSerial() && !transport.ValidBaudRate(ep.BaudRate) {
		return link.Config{}, fmt.Errorf("%w: %d", transport.ErrUnknownBaudRate, ep.BaudRate)
	}

	mode, err := framing.ParseMode(p.Framing.Mode)
	if err != nil {
		return link.Config{}, err
	}

	return link.Config{
		Name:              p.Name,
		Endpoint:          ep,
		ReconnectInterval: p.GetReconnectInterval(),
		SkipBanner:        p.SkipBanner,
		ReportAllErrors:   p.ReportAllErrors,
		Framing: framing.Config{
			Mode:           mode,
			Delimiter:      p.Framing.DelimiterByte(),
			TrimCR:         p.Framing.TrimCR,
			MaxMessageSize: p.Framing.MaxMessageSize,
			MaxQueuedBytes: p.Framing.MaxQueuedBytes,
		},
	}, nil
}

// getConfigPath returns the configuration file path.
// Uses BRIDGED_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BRIDGED_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the enabled infrastructure connections.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database to check (nil if disabled)
//   - mqttClient: MQTT client to check (nil if disabled)
//   - influxClient: InfluxDB client to check (nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

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

	// Peer links are not checked: an unreachable peer is retried, not fatal.
	return nil
}
