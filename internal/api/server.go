package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/locshare-core/internal/audit"
	"github.com/nerrad567/locshare-core/internal/infrastructure/config"
	"github.com/nerrad567/locshare-core/internal/infrastructure/logging"
	"github.com/nerrad567/locshare-core/internal/platform"
	"github.com/nerrad567/locshare-core/internal/position"
	"github.com/nerrad567/locshare-core/internal/process"
	"github.com/nerrad567/locshare-core/internal/proximity"
	"github.com/nerrad567/locshare-core/internal/sharing"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// SharingController is the controller surface the API drives.
type SharingController interface {
	Status() sharing.Status
	SetEnabled(ctx context.Context, enabled bool) error
	Refresh(ctx context.Context) (sharing.Status, error)
	Logout(ctx context.Context)
	Subscribe(fn func(sharing.Event)) func()
}

// ProximityFeed is the nearby-users feed surface the API reads.
type ProximityFeed interface {
	Snapshot() proximity.Snapshot
	Radii() []int
	SetRadius(meters int) error
	Subscribe(fn func(proximity.Snapshot)) func()
}

// PositionStream is the sharer's own position stream.
type PositionStream interface {
	Subscribe(fn func(position.Event)) func()
}

// RadiusStore persists the radius selection.
type RadiusStore interface {
	SaveRadius(ctx context.Context, meters int) error
}

// EventLister lists the sharing journal.
type EventLister interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// SettingsOpener opens an OS settings page on the device.
type SettingsOpener interface {
	OpenSettings(ctx context.Context, target platform.SettingsTarget) error
}

// ReporterStats reports the background reporting child.
type ReporterStats interface {
	Stats() (process.Stats, bool)
}

// BusStatus reports message bus connectivity.
type BusStatus interface {
	IsConnected() bool
}

// Database is the local state database.
type Database interface {
	HealthCheck(ctx context.Context) error
	Stats() sql.DBStats
}

// HTTPObserver records request metrics.
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, took time.Duration)
	SetWebSocketClients(n int)
}

// Deps holds the dependencies required by the API server. Sharing and
// Proximity are required; everything else is optional.
type Deps struct {
	Config config.APIConfig
	WS     config.WebSocketConfig
	Logger *logging.Logger

	Sharing   SharingController
	Proximity ProximityFeed
	Stream    PositionStream
	Radius    RadiusStore
	Journal   EventLister
	Settings  SettingsOpener
	Reporter  ReporterStats
	Bus       BusStatus
	DB        Database

	Observer       HTTPObserver
	MetricsHandler http.Handler

	// OnLogout runs after a logout request has torn sharing down.
	OnLogout func()

	Version string
}

// Server is the local HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg            config.APIConfig
	wsCfg          config.WebSocketConfig
	logger         *logging.Logger
	sharing        SharingController
	proximity      ProximityFeed
	stream         PositionStream
	radius         RadiusStore
	journal        EventLister
	settings       SettingsOpener
	reporter       ReporterStats
	bus            BusStatus
	db             Database
	observer       HTTPObserver
	metricsHandler http.Handler
	onLogout       func()
	version        string
	startTime      time.Time

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc

	mu          sync.Mutex
	unsubscribe []func()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Sharing == nil {
		return nil, fmt.Errorf("sharing controller is required")
	}
	if deps.Proximity == nil {
		return nil, fmt.Errorf("proximity feed is required")
	}

	s := &Server{
		cfg:            deps.Config,
		wsCfg:          deps.WS,
		logger:         deps.Logger,
		sharing:        deps.Sharing,
		proximity:      deps.Proximity,
		stream:         deps.Stream,
		radius:         deps.Radius,
		journal:        deps.Journal,
		settings:       deps.Settings,
		reporter:       deps.Reporter,
		bus:            deps.Bus,
		db:             deps.DB,
		observer:       deps.Observer,
		metricsHandler: deps.MetricsHandler,
		onLogout:       deps.OnLogout,
		version:        deps.Version,
		startTime:      time.Now(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	s.hub.snapshot = s.channelSnapshot
	if s.observer != nil {
		s.hub.onCount = s.observer.SetWebSocketClients
	}
	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays controller, stream and feed events to
// it, and launches the HTTP listener in a background goroutine. The server
// can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.relayEvents()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// relayEvents subscribes the hub to the event sources.
func (s *Server) relayEvents() {
	unsubs := []func(){
		s.sharing.Subscribe(func(e sharing.Event) {
			switch {
			case e.Status != nil:
				s.hub.Broadcast(string(e.Kind), e.Status)
			case e.Notice != nil:
				s.hub.Broadcast(string(e.Kind), e.Notice)
			}
		}),
		s.proximity.Subscribe(func(snap proximity.Snapshot) {
			s.hub.Broadcast(ChannelProximityUpdated, snap)
		}),
	}
	if s.stream != nil {
		unsubs = append(unsubs, s.stream.Subscribe(func(e position.Event) {
			switch e.Kind {
			case position.EventFix:
				s.hub.Broadcast(ChannelPositionFix, e.Coordinate)
			case position.EventCenter:
				s.hub.Broadcast(ChannelMapCenter, e.Coordinate)
			}
		}))
	}

	s.mu.Lock()
	s.unsubscribe = append(s.unsubscribe, unsubs...)
	s.mu.Unlock()
}

// channelSnapshot returns the current value of the stateful channels.
func (s *Server) channelSnapshot(channel string) (any, bool) {
	switch channel {
	case ChannelSharingState:
		return s.sharing.Status(), true
	case ChannelProximityUpdated:
		return s.proximity.Snapshot(), true
	default:
		return nil, false
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	unsubs := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}

	if s.cancel != nil {
		s.cancel()
	}
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
