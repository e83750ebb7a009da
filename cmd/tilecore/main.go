// Tile Core - Tile account tracking service
//
// Tile Core authenticates against the Tile cloud API for each configured
// account, discovers the account's tiles and polls their locations on a
// fixed interval. Tracker state is published over MQTT, location history
// is recorded in InfluxDB, and a small HTTP API exposes service status.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mwadds/tile-core/migrations"

	"github.com/mwadds/tile-core/internal/api"
	"github.com/mwadds/tile-core/internal/entry"
	"github.com/mwadds/tile-core/internal/infrastructure/config"
	"github.com/mwadds/tile-core/internal/infrastructure/database"
	"github.com/mwadds/tile-core/internal/infrastructure/influxdb"
	"github.com/mwadds/tile-core/internal/infrastructure/logging"
	"github.com/mwadds/tile-core/internal/infrastructure/mqtt"
	tileintegration "github.com/mwadds/tile-core/internal/integrations/tile"
	"github.com/mwadds/tile-core/internal/platform"
	"github.com/mwadds/tile-core/internal/platform/devicetracker"
	"github.com/mwadds/tile-core/internal/registry"
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

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
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
	log.Info("starting Tile Core",
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
	log.Info("configuration loaded", "path", configPath, "accounts", len(cfg.Accounts))

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Build the entity registry and entry store
	entityRegistry := registry.NewSQLiteRepository(db.DB)

	entries, err := entry.NewStore(cfg.Accounts)
	if err != nil {
		return fmt.Errorf("building entry store: %w", err)
	}
	log.Info("entry store initialised", "entries", entries.Len())

	// Connect to MQTT broker (optional)
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
	} else {
		log.Info("MQTT disabled")
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

	// Build the device tracker platform and register it with the loader
	trackerOpts := devicetracker.Options{
		Logger:       log,
		Registry:     entityRegistry,
		ShowInactive: cfg.Tile.ShowInactive,
	}
	if mqttClient != nil {
		trackerOpts.Publisher = mqttClient
	}
	if influxClient != nil {
		trackerOpts.History = influxClient
	}
	trackerPlatform := devicetracker.New(trackerOpts)

	loader := platform.NewLoader()
	if err := loader.Register(trackerPlatform); err != nil {
		return fmt.Errorf("registering tracker platform: %w", err)
	}

	// Build the integration manager
	manager := tileintegration.NewManager(tileintegration.Options{
		Logger:          log,
		Entries:         entries,
		Registry:        entityRegistry,
		Loader:          loader,
		PollInterval:    cfg.GetPollInterval(),
		InitConcurrency: cfg.Tile.InitConcurrency,
		SetupRetryDelay: cfg.GetSetupRetryDelay(),
	})

	// Start the status API (optional)
	if cfg.API.Enabled {
		checks := map[string]api.HealthChecker{
			"database": db,
		}
		if mqttClient != nil {
			checks["mqtt"] = mqttClient
		}
		if influxClient != nil {
			checks["influxdb"] = influxClient
		}

		apiServer, err := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Status:  &statusAdapter{entries: entries, manager: manager},
			Tracker: trackerPlatform,
			Checks:  checks,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating status API: %w", err)
		}
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting status API: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing status API", "error", closeErr)
			}
		}()
	} else {
		log.Info("status API disabled")
	}

	log.Info("initialisation complete, setting up entries")

	// Run blocks until shutdown, retrying entries that are not ready
	err = manager.Run(ctx)

	log.Info("Tile Core stopped")
	return err
}

// getConfigPath returns the configuration file path.
// Uses TILECORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TILECORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// statusAdapter exposes entry load state to the status API without the
// API package depending on the integration manager.
type statusAdapter struct {
	entries *entry.Store
	manager *tileintegration.Manager
}

// TileStatuses implements api.StatusSource.
func (a *statusAdapter) TileStatuses(entryID string) ([]api.TileStatus, bool) {
	data := a.manager.EntryData(entryID)
	if data == nil {
		return nil, false
	}

	out := make([]api.TileStatus, 0, len(data.Tiles))
	for uuid, t := range data.Tiles {
		status := api.TileStatus{
			UUID: uuid,
			Name: t.Name(),
		}
		if c := data.Coordinators[uuid]; c != nil {
			status.LastUpdateSuccess = c.LastUpdateSuccess()
			if err := c.LastError(); err != nil {
				status.LastError = err.Error()
			}
		}
		if lat, lon, acc, ok := t.Location(); ok {
			status.Latitude = lat
			status.Longitude = lon
			status.Accuracy = acc
			status.LastSeen = t.LastSeen().UTC().Format(time.RFC3339)
		}
		out = append(out, status)
	}
	return out, true
}

// EntryStatuses implements api.StatusSource.
func (a *statusAdapter) EntryStatuses() []api.EntryStatus {
	out := make([]api.EntryStatus, 0, a.entries.Len())
	for _, e := range a.entries.All() {
		status := api.EntryStatus{
			ID:       e.ID,
			Username: e.Username,
		}
		if data := a.manager.EntryData(e.ID); data != nil {
			status.Loaded = true
			status.TileCount = len(data.Tiles)
		}
		out = append(out, status)
	}
	return out
}
