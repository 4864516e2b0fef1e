package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/dlink-core/internal/device"
	"github.com/nerrad567/dlink-core/internal/discovery"
	"github.com/nerrad567/dlink-core/internal/infrastructure/config"
	"github.com/nerrad567/dlink-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceService is the slice of the device manager the API serves.
type DeviceService interface {
	List() []device.Status
	Get(id string) (*device.Status, error)
	Add(ctx context.Context, identity device.Identity) (*device.Status, error)
	Update(ctx context.Context, identity device.Identity) (*device.Status, error)
	Remove(ctx context.Context, id string) error
	HandleCommand(ctx context.Context, id, key, payload string) error
	IdentifyAt(ctx context.Context, address, pin string) (device.Identity, error)
}

// DiscoveryService exposes discovery candidates to the API.
type DiscoveryService interface {
	Candidates() []discovery.Candidate
	Candidate(id string) (discovery.Candidate, bool)
	Forget(id string)
}

// StateReader serves cached device state.
type StateReader interface {
	States(deviceID string) map[string]any
}

// HealthChecker is anything the health endpoint can probe.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	Logger    *logging.Logger
	Devices   DeviceService
	Discovery DiscoveryService // optional, discovery can be disabled
	States    StateReader
	Health    map[string]HealthChecker
	Version   string
}

// Server is the HTTP API for the device fleet: device CRUD, state
// reads, command writes, and the discovery candidate surface.
//
// Thread Safety: all methods are safe for concurrent use.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	devices   DeviceService
	discovery DiscoveryService
	states    StateReader
	health    map[string]HealthChecker
	version   string
	server    *http.Server
}

// New creates an API server. The server does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("api: logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("api: device service is required")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		devices:   deps.Devices,
		discovery: deps.Discovery,
		states:    deps.States,
		health:    deps.Health,
		version:   deps.Version,
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", deps.Config.Host, deps.Config.Port),
		Handler:      s.buildRouter(),
		ReadTimeout:  time.Duration(deps.Config.Timeouts.Read) * time.Second,
		WriteTimeout: time.Duration(deps.Config.Timeouts.Write) * time.Second,
		IdleTimeout:  time.Duration(deps.Config.Timeouts.Idle) * time.Second,
	}
	return s, nil
}

// Start begins serving in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		s.logger.Info("api listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server failed", "error", err)
		}
	}()
	return nil
}

// Close drains in-flight requests and stops the listener.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	s.logger.Info("api stopped")
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
