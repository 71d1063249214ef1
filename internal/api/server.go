package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/fleetwatch/internal/alert"
	"github.com/nerrad567/fleetwatch/internal/bus"
	"github.com/nerrad567/fleetwatch/internal/clock"
	"github.com/nerrad567/fleetwatch/internal/command"
	"github.com/nerrad567/fleetwatch/internal/device"
	"github.com/nerrad567/fleetwatch/internal/infrastructure/config"
	"github.com/nerrad567/fleetwatch/internal/infrastructure/logging"
	"github.com/nerrad567/fleetwatch/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by every component reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Devices    device.Repository
	Telemetry  telemetry.Repository
	Alerts     alert.Repository
	Commands   command.Repository
	Dispatcher *command.Dispatcher
	Clock      clock.Clock

	// Groups enables /groups when set.
	Groups device.GroupRepository

	// Hub is shared with the ingestion pipeline. When nil the server
	// creates its own.
	Hub *Hub

	// Bus receives device and alert announcements made by REST handlers.
	// Defaults to Hub.
	Bus bus.Publisher

	// Database must be healthy for /health to report 200. Other checkers
	// only degrade the reported status.
	Database HealthChecker
	Checks   map[string]HealthChecker

	Version string
}

// Server is the HTTP API server for fleetwatch.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	devices    device.Repository
	groups     device.GroupRepository
	telemetry  telemetry.Repository
	alerts     alert.Repository
	commands   command.Repository
	dispatcher *command.Dispatcher
	clock      clock.Clock
	database   HealthChecker
	checks     map[string]HealthChecker
	version    string
	server     *http.Server
	hub        *Hub
	bus        bus.Publisher
	limiter    *ipRateLimiter
	cancel     context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called. When deps.Bus is nil
// the server's own WebSocket hub becomes the publisher for REST mutations.
//
// Parameters:
//   - deps: Configuration, repositories, dispatcher and clock
//
// Returns:
//   - *Server: Configured server ready to Start
//   - error: If a required repository or the dispatcher is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil || deps.Telemetry == nil || deps.Alerts == nil || deps.Commands == nil {
		return nil, fmt.Errorf("device, telemetry, alert and command repositories are required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("command dispatcher is required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		devices:    deps.Devices,
		groups:     deps.Groups,
		telemetry:  deps.Telemetry,
		alerts:     deps.Alerts,
		commands:   deps.Commands,
		dispatcher: deps.Dispatcher,
		clock:      deps.Clock,
		database:   deps.Database,
		checks:     deps.Checks,
		version:    deps.Version,
		hub:        deps.Hub,
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	s.bus = deps.Bus
	if s.bus == nil {
		s.bus = s.hub
	}
	if rl := s.secCfg.RateLimit; rl.Enabled && rl.RequestsPerMinute > 0 {
		s.limiter = newIPRateLimiter(rl.RequestsPerMinute, rl.Burst)
	}

	return s, nil
}

// Hub returns the WebSocket hub events are published through.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds
// for in-flight requests. WebSocket clients are disconnected.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server has been started.
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
