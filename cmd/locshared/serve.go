package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/locshare-core/internal/api"
	"github.com/nerrad567/locshare-core/internal/audit"
	"github.com/nerrad567/locshare-core/internal/backend"
	"github.com/nerrad567/locshare-core/internal/infrastructure/config"
	"github.com/nerrad567/locshare-core/internal/infrastructure/database"
	"github.com/nerrad567/locshare-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/locshare-core/internal/infrastructure/logging"
	"github.com/nerrad567/locshare-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/locshare-core/internal/localstate"
	"github.com/nerrad567/locshare-core/internal/metrics"
	"github.com/nerrad567/locshare-core/internal/platform"
	"github.com/nerrad567/locshare-core/internal/platform/bridge"
	"github.com/nerrad567/locshare-core/internal/position"
	"github.com/nerrad567/locshare-core/internal/proximity"
	"github.com/nerrad567/locshare-core/internal/reporter"
	"github.com/nerrad567/locshare-core/internal/sharing"
	"github.com/nerrad567/locshare-core/internal/sysloc"
)

// shutdownTimeout bounds the controller's stop of loops and the child.
const shutdownTimeout = 15 * time.Second

// run is the daemon, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup wiring reads top to bottom
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting locshared",
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

	session, err := resolveSession(cfg.Session)
	if err != nil {
		return fmt.Errorf("resolving session: %w", err)
	}
	if session.Expired(time.Now()) {
		return fmt.Errorf("resolving session: token expired at %s", session.ExpiresAt.Format(time.RFC3339))
	}
	log.Info("session resolved", "user_id", session.UserID, "expires_at", session.ExpiresAt)

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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

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
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	qos := byte(cfg.MQTT.QoS)

	// Connect to InfluxDB (optional)
	influxClient, err := connectInflux(ctx, cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Platform bridge to the device OS
	osBridge := bridge.New(mqttClient, cfg.Device.ID, qos)
	osBridge.SetLogger(log.With("component", "bridge"))
	if err := osBridge.Start(); err != nil {
		return fmt.Errorf("starting platform bridge: %w", err)
	}
	defer osBridge.Stop()
	log.Info("platform bridge started", "device_id", cfg.Device.ID, "platform", cfg.Device.Platform)

	collectors := metrics.New()

	gate := platform.NewGate(osBridge, platform.CapabilitiesFor(cfg.Device.Platform))
	gate.SetLogger(log.With("component", "permissions"))

	monitor := sysloc.New(sysloc.Config{
		Source:   osBridge,
		Interval: cfg.Sharing.ProbeInterval,
		Timeout:  cfg.Sharing.ProbeTimeout,
		OnProbe: func(o sysloc.Outcome) {
			collectors.Probe(string(o))
		},
	})
	monitor.SetLogger(log.With("component", "sysloc"))

	stream := position.New(position.Config{
		Locator:         osBridge,
		FirstFixTimeout: cfg.Sharing.FirstFixTimeout,
		Interval:        cfg.Sharing.WatchInterval,
		DistanceMeters:  cfg.Sharing.WatchDistanceMeters,
	})
	stream.SetLogger(log.With("component", "position"))

	backendClient := backend.New(backend.Config{
		BaseURL:           cfg.Backend.BaseURL,
		Token:             session.Token,
		Timeout:           cfg.Backend.Timeout,
		RequestsPerSecond: cfg.Backend.RequestsPerSecond,
		Burst:             cfg.Backend.Burst,
	})

	store := localstate.New(db.DB)
	radius, err := store.Radius(ctx, cfg.Proximity.DefaultRadius, func(r int) bool {
		return slices.Contains(cfg.Proximity.Radii, r)
	})
	if err != nil {
		log.Warn("reading radius selection failed, using default", "error", err, "radius_m", radius)
	}

	feed := proximity.New(proximity.Config{
		Finder:        backendClient,
		SelfID:        session.UserID,
		Radii:         cfg.Proximity.Radii,
		DefaultRadius: radius,
		Limit:         cfg.Proximity.ResultLimit,
		Interval:      cfg.Proximity.RefreshInterval,
		OnRefresh: func(r proximity.RefreshResult) {
			collectors.Refresh(r.Radius, r.Count, r.Took, r.Err)
			influxClient.WriteProximityRefresh(r.Radius, r.Count, r.Took, r.Err == nil)
		},
	})
	feed.SetLogger(log.With("component", "proximity"))

	// The map follows the sharer's own position.
	unsubscribeStream := stream.Subscribe(func(e position.Event) {
		collectors.Fix(string(e.Kind))
		feed.UpdateOrigin(e.Coordinate)
		if e.Kind == position.EventFix {
			influxClient.WriteLocationFix(session.UserID, "stream", e.Coordinate.Latitude, e.Coordinate.Longitude, e.Coordinate.CapturedAt)
		}
	})
	defer unsubscribeStream()

	journal := audit.NewSQLiteRepository(db.DB)

	supervisor := reporter.NewSupervisor(reporter.SupervisorConfig{
		Binary:             cfg.Reporter.Binary,
		Token:              session.Token,
		BaseURL:            cfg.Backend.BaseURL,
		ConfigPath:         configPath,
		RestartDelay:       cfg.Reporter.RestartDelay,
		MaxRestartAttempts: cfg.Reporter.MaxRestartAttempts,
		GracefulTimeout:    cfg.Reporter.GracefulTimeout,
		OnExit: func(err error) {
			if err != nil {
				log.Warn("reporting service exited", "error", err)
			}
		},
	})
	supervisor.SetLogger(log.With("component", "reporter"))

	controllerCfg := sharing.Config{
		UserID:      session.UserID,
		Permissions: gate,
		Monitor:     monitor,
		Service:     supervisor,
		Presence:    backendClient,
		Store:       store,
		Stream:      stream,
		Proximity:   feed,
		Journal:     journal,
		Observer:    collectors,
		Publisher:   mqttClient,
		Topic:       mqtt.Topics{}.SharingState(session.UserID),
		QoS:         qos,
		OpTimeout:   cfg.Sharing.OpTimeout,
	}
	if influxClient != nil {
		controllerCfg.Telemetry = influxClient
	}
	controller := sharing.New(controllerCfg)
	controller.SetLogger(log.With("component", "sharing"))

	loggedOut := make(chan struct{})
	var logoutOnce sync.Once

	server, err := api.New(api.Deps{
		Config:         cfg.API,
		WS:             cfg.WebSocket,
		Logger:         log.With("component", "api"),
		Sharing:        controller,
		Proximity:      feed,
		Stream:         stream,
		Radius:         store,
		Journal:        journal,
		Settings:       osBridge,
		Reporter:       supervisor,
		Bus:            mqttClient,
		DB:             db,
		Observer:       collectors,
		MetricsHandler: collectors.Handler(),
		OnLogout:       func() { logoutOnce.Do(func() { close(loggedOut) }) },
		Version:        version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := controller.Start(gctx); err != nil {
			return fmt.Errorf("starting sharing controller: %w", err)
		}
		log.Info("sharing controller started", "status", controller.Status().State)
		<-gctx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := controller.Close(stopCtx); err != nil {
			log.Warn("stopping sharing controller", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := server.Start(gctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)
		<-gctx.Done()
		return server.Close()
	})

	g.Go(func() error {
		return watchSession(gctx, session, loggedOut, controller, log)
	})

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := g.Wait(); err != nil && !errors.Is(err, errSessionExpired) && !errors.Is(err, errLoggedOut) {
		return err
	}

	// Deferred cleanup runs in reverse order:
	// 1. stream subscription, 2. platform bridge,
	// 3. InfluxDB (if enabled), 4. MQTT, 5. Database
	log.Info("locshared stopped")
	return nil
}

// errSessionExpired stops the daemon once the session token lapses.
var errSessionExpired = errors.New("session expired")

// errLoggedOut stops the daemon after a logout through the API. The shell
// starts a new daemon for the next session.
var errLoggedOut = errors.New("logged out")

// sessionLogout is the part of the controller watchSession needs.
type sessionLogout interface {
	Logout(ctx context.Context)
}

// watchSession ends the daemon's session. An expired token tears sharing
// down the same way an explicit logout does; a logout through the API has
// already done so. Either way the daemon stops.
func watchSession(ctx context.Context, session backend.Session, loggedOut <-chan struct{}, ctrl sessionLogout, log *logging.Logger) error {
	var expired <-chan time.Time
	if !session.ExpiresAt.IsZero() {
		timer := time.NewTimer(time.Until(session.ExpiresAt))
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-ctx.Done():
		return nil
	case <-loggedOut:
		log.Info("session ended by logout", "user_id", session.UserID)
		return errLoggedOut
	case <-expired:
		log.Warn("session expired, tearing down sharing", "user_id", session.UserID)
		ctrl.Logout(context.WithoutCancel(ctx))
		return errSessionExpired
	}
}

// resolveSession derives the signed-in user from the session token. A
// configured user id wins over the token subject; it is required when the
// token is opaque.
func resolveSession(cfg config.SessionConfig) (backend.Session, error) {
	session, err := backend.ParseSession(cfg.Token)
	if cfg.UserID != "" {
		if err != nil {
			session = backend.Session{Token: cfg.Token}
		}
		session.UserID = cfg.UserID
		return session, nil
	}
	if err != nil {
		return backend.Session{}, err
	}
	return session, nil
}

// connectInflux connects to InfluxDB when enabled. A nil client is returned
// when it is disabled; the telemetry writers are no-ops on nil.
func connectInflux(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}

	client, err := influxdb.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
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
