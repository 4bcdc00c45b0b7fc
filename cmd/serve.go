package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"pinlink/device"
	"pinlink/monitoring"
	"pinlink/notify"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect and serve health, metrics and pin access over HTTP",
		Long: `Connect to the device and keep the session open until SIGINT or
SIGTERM. When monitoring is enabled the HTTP server exposes:

  GET  /health                       connection state and link counters
  GET  /metrics                      Prometheus metrics
  GET  /api/config                   effective configuration
  GET  /api/ports                    serial ports and the guessed device
  GET  /api/pins/{digital|analog}/N  read a pin
  POST /api/pins/{digital|analog}/N  write a pin, body {"value": n}

If the session is lost while serving (the device is unplugged, the receive
buffer overflows or a pin read goes unanswered), an error notification is sent, the server shuts down and
serve exits with the error so a service manager can restart it.

Connect gives up after handshake.attempts * handshake.interval_ms without
an answer (20 * 250ms = 5s by default).

Slack notifications for connect, disconnect and errors are sent when a
webhook is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	logger := a.logger
	cfg := a.cfg

	logger.Info("pinlink starting", "version", version)

	// Create Slack notifier
	slackNotifier := notify.NewSlackNotifier(&cfg.Slack, cfg.App.InstanceID, logger)

	ctrl, err := a.controller()
	if err != nil {
		return err
	}

	if err := ctrl.Connect(ctx); err != nil {
		if nerr := slackNotifier.NotifyError(ctrl.Port(), "", err); nerr != nil {
			logger.Warn("Failed to send error notification", "error", nerr)
		}
		return err
	}

	if err := slackNotifier.NotifyConnected(ctrl.Port(), ctrl.Session()); err != nil {
		logger.Warn("Failed to send connect notification", "error", err)
	}

	// Start monitoring server
	var monitorServer *monitoring.Server
	if cfg.Monitoring.Enabled {
		locator, err := a.locator()
		if err != nil {
			logger.Warn("Port discovery unavailable", "error", err)
		}
		monitorServer = monitoring.NewServer(cfg, version, ctrl, locator, logger)
		if err := monitorServer.Start(); err != nil {
			logger.Error("Failed to start monitoring server", "error", err)
		}
	}

	logger.Info("pinlink running",
		"port", ctrl.Port(),
		"session", ctrl.Session(),
		"monitoring", cfg.Monitoring.Enabled,
	)

	session := ctrl.Session()
	connectedAt := time.Now()

	// Wait for shutdown or a lost link
	var linkErr error
	select {
	case <-ctx.Done():
		logger.Info("pinlink shutting down")
	case <-ctrl.Done():
		linkErr = ctrl.Err()
		logger.Error("Device link lost", "error", linkErr)
		if err := slackNotifier.NotifyError(ctrl.Port(), session, linkErr); err != nil {
			logger.Warn("Failed to send error notification", "error", err)
		}
	}

	if monitorServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := monitorServer.Stop(shutdownCtx); err != nil {
			logger.Warn("Error stopping monitoring server", "error", err)
		}
	}

	uptime := time.Since(connectedAt)
	stats := ctrl.Stats()
	if err := ctrl.Disconnect(); err != nil {
		logger.Warn("Error closing device link", "error", err)
	}

	if err := slackNotifier.NotifyDisconnected(ctrl.Port(), uptime); err != nil {
		logger.Warn("Failed to send disconnect notification", "error", err)
	}

	logger.Info("pinlink stopped",
		"uptime", uptime.Round(time.Second),
		"bytes_sent", stats.BytesSent,
		"bytes_received", stats.BytesReceived,
	)
	return linkErr
}

var _ monitoring.Device = (*device.Controller)(nil)
