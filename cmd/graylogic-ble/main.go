// Gray Logic BLE - Bluetooth Low Energy link manager
//
// This is the daemon entry point. It discovers BLE peripherals, keeps
// links to previously paired devices alive across radio power cycles and
// exposes the link state over REST/WebSocket and the MQTT bus.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"tinygo.org/x/bluetooth"

	_ "github.com/nerrad567/gray-logic-ble/migrations"

	"github.com/nerrad567/gray-logic-ble/internal/api"
	"github.com/nerrad567/gray-logic-ble/internal/audit"
	"github.com/nerrad567/gray-logic-ble/internal/ble"
	"github.com/nerrad567/gray-logic-ble/internal/bridges/blemqtt"
	"github.com/nerrad567/gray-logic-ble/internal/device"
	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-ble/internal/radio"
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

	// shutdownTimeout bounds the link manager's shutdown, including any
	// disconnect-on-shutdown pass.
	shutdownTimeout = 15 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// Deferred cleanups run in reverse order of startup, so the API and bridge
// stop before the link manager, and the link manager before the radio and
// database it depends on.
func run(ctx context.Context) error { //nolint:gocognit,funlen // linear startup sequence
	log := logging.Default()
	log.Info("starting Gray Logic BLE",
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

	// Database (saved-device list)
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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Command audit trail. It stops after the API and bridge, and drains
	// its queue before the database closes.
	auditCtx, stopAudit := context.WithCancel(context.Background())
	recorder := audit.NewRecorder(audit.NewSQLiteRepository(db.DB), cfg.GetAuditRetention())
	recorder.SetLogger(log.Component("audit"))
	recorder.Start(auditCtx)
	defer func() {
		stopAudit()
		recorder.Wait()
	}()

	// Radio: BlueZ power state over D-Bus, links through tinygo bluetooth
	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("connecting to system bus: %w", err)
	}
	defer bus.Close()

	power := radio.NewBlueZ(bus, cfg.Bluetooth.Adapter)
	power.SetLogger(log.Component("bluez"))
	if startErr := power.Start(); startErr != nil {
		return fmt.Errorf("watching adapter power: %w", startErr)
	}
	defer power.Close()

	adapter := radio.NewAdapter(bluetooth.DefaultAdapter, power)
	adapter.SetLogger(log.Component("radio"))
	if enableErr := adapter.Enable(); enableErr != nil {
		return fmt.Errorf("enabling bluetooth adapter: %w", enableErr)
	}
	log.Info("bluetooth adapter enabled", "adapter", cfg.Bluetooth.Adapter)

	// InfluxDB (optional link telemetry)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
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

	// Link manager
	opts := ble.Options{
		Radio:  adapter,
		KV:     device.NewSQLiteKV(db.DB),
		Config: bleConfig(cfg),
		Logger: log.Component("ble"),
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}
	svc, err := ble.New(opts)
	if err != nil {
		return fmt.Errorf("creating link manager: %w", err)
	}

	if influxClient != nil {
		stopTelemetry := svc.Registry().Subscribe(recordTelemetry(influxClient, svc))
		defer stopTelemetry()
	}

	if initErr := svc.Init(ctx); initErr != nil {
		return fmt.Errorf("initialising link manager: %w", initErr)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("stopping link manager")
		if shutdownErr := svc.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error("error stopping link manager", "error", shutdownErr)
		}
	}()
	log.Info("link manager initialised",
		"adapter_state", svc.Registry().AdapterState(),
		"saved", len(svc.Registry().Saved()),
		"connected", len(svc.Registry().Connected()),
	)

	// MQTT bridge (optional)
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
		mqttClient.SetLogger(log.Component("mqtt"))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bridge, bridgeErr := blemqtt.NewBridge(blemqtt.Options{
			Controller:     svc,
			MQTT:           mqttClient,
			Version:        version,
			HealthInterval: cfg.GetHealthInterval(),
			Logger:         log.Component("blemqtt"),
			Audit:          recorder,
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating MQTT bridge: %w", bridgeErr)
		}
		if startErr := bridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			bridge.Stop()
		}()
		log.Info("MQTT bridge started")
	} else {
		log.Info("MQTT bridge disabled")
	}

	// REST/WebSocket API
	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		BLE:      svc,
		Audit:    recorder,
		Version:  version,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	if influxClient != nil {
		deps.InfluxDB = influxClient
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// getConfigPath returns GRAYLOGIC_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// bleConfig maps the bluetooth section onto the link manager's tunables.
func bleConfig(cfg *config.Config) ble.Config {
	bt := cfg.Bluetooth
	return ble.Config{
		AllowList:            bt.AllowList,
		SavedListKey:         bt.SavedListKey,
		AutoPairOnPowerOn:    bt.AutoPair.OnPowerOn,
		RoundTimeout:         cfg.GetRoundTimeout(),
		ConnectRate:          bt.Connect.Rate,
		ConnectBurst:         bt.Connect.Burst,
		DisconnectPolicy:     ble.DisconnectPolicy(bt.DisconnectAllPolicy),
		DisconnectOnShutdown: bt.DisconnectOnShutdown,
	}
}

// healthCheck verifies the infrastructure connections. MQTT and InfluxDB
// are skipped when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
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

	return nil
}

// adapterTelemetry is the subset of the InfluxDB client fed from registry
// events.
type adapterTelemetry interface {
	WriteAdapterState(state string, usable bool)
	WriteRSSI(deviceID string, rssi int16)
}

type sightingSource interface {
	Sighting(id string) (ble.Sighting, bool)
}

// recordTelemetry returns a registry subscriber that writes adapter
// transitions and the signal strength of newly discovered devices.
func recordTelemetry(t adapterTelemetry, sightings sightingSource) func(device.Event) {
	return func(e device.Event) {
		switch e.Type {
		case device.EventAdapterState:
			t.WriteAdapterState(string(e.AdapterState), e.AdapterState.Usable())
		case device.EventDiscovered:
			if s, ok := sightings.Sighting(e.DeviceID); ok {
				t.WriteRSSI(e.DeviceID, s.RSSI)
			}
		}
	}
}
