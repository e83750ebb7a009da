// Package api provides the HTTP status API for Tile Core.
//
// It exposes read-only diagnostics: service health, the configured
// entries with their load state, and the live trackers per entry. There
// is no write surface; entries are managed through configuration.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mwadds/tile-core/internal/infrastructure/config"
	"github.com/mwadds/tile-core/internal/infrastructure/logging"
	"github.com/mwadds/tile-core/internal/platform/devicetracker"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// EntryStatus describes one entry's load state for the entries endpoint.
type EntryStatus struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Loaded    bool   `json:"loaded"`
	TileCount int    `json:"tile_count"`
}

// TileStatus describes one tile's polling state for the tiles endpoint.
type TileStatus struct {
	UUID              string  `json:"uuid"`
	Name              string  `json:"name"`
	LastUpdateSuccess bool    `json:"last_update_success"`
	LastError         string  `json:"last_error,omitempty"`
	Latitude          float64 `json:"latitude,omitempty"`
	Longitude         float64 `json:"longitude,omitempty"`
	Accuracy          float64 `json:"gps_accuracy,omitempty"`
	LastSeen          string  `json:"last_seen,omitempty"`
}

// StatusSource is the read surface the API needs from the integration
// manager. Defined here to avoid a dependency cycle with the manager.
type StatusSource interface {
	EntryStatuses() []EntryStatus

	// TileStatuses returns per-tile polling state for a loaded entry.
	// The bool is false when the entry is not loaded.
	TileStatuses(entryID string) ([]TileStatus, bool)
}

// HealthChecker reports the health of one infrastructure component.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Status  StatusSource
	Tracker *devicetracker.Platform

	// Checks maps component names to health checkers, e.g. "database"
	// and "mqtt". Nil checkers are skipped.
	Checks map[string]HealthChecker

	Version string
}

// Server is the HTTP status API server.
//
// It manages the HTTP listener, routes and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	status  StatusSource
	tracker *devicetracker.Platform
	checks  map[string]HealthChecker
	version string
	server  *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, status source)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Status == nil {
		return nil, fmt.Errorf("status source is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		status:  deps.Status,
		tracker: deps.Tracker,
		checks:  deps.Checks,
		version: deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// The listener runs in a background goroutine; stop it with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("status API starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("status API shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down status API: %w", err)
	}
	return nil
}
