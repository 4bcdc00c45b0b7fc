package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"pinlink/config"
	"pinlink/device"
	"pinlink/discovery"
	"pinlink/serial"
)

// Device is the controller surface the endpoints need. *device.Controller
// implements it.
type Device interface {
	Port() string
	Session() string
	State() device.State
	IsConnected() bool
	Uptime() time.Duration
	Stats() serial.StatsSnapshot
	DigitalReadContext(ctx context.Context, pin int) (bool, error)
	DigitalWrite(pin int, value bool) error
	AnalogReadContext(ctx context.Context, pin int) (int, error)
	AnalogWrite(pin, value int) error
}

// Server provides HTTP endpoints for monitoring
type Server struct {
	config *config.MonitoringConfig
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a new monitoring server
func NewServer(cfg *config.Config, version string, dev Device, locator discovery.Locator, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health endpoint
	mux.Handle("/health", NewHealthHandler(cfg.App.InstanceID, version, dev))

	// Metrics endpoint (Prometheus format)
	mux.Handle("/metrics", NewMetricsHandler(dev))

	// Config endpoint
	mux.Handle("/api/config", NewConfigHandler(cfg))

	// Port discovery endpoint
	mux.Handle("/api/ports", NewPortsHandler(locator))

	// Remote pin I/O
	mux.Handle("/api/pins/{kind}/{pin}", NewPinsHandler(dev, logger))

	return &Server{
		config: &cfg.Monitoring,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Monitoring.Port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the routed endpoints
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the monitoring server
func (s *Server) Start() error {
	s.logger.Info("Starting monitoring server", "port", s.config.Port)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Monitoring server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully stops the monitoring server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping monitoring server")
	return s.server.Shutdown(ctx)
}
