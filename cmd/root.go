// Package cmd implements the pinlink command line.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"pinlink/config"
	"pinlink/device"
	"pinlink/discovery"
	"pinlink/serial"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

// app carries the state shared by every subcommand
type app struct {
	cfgFile string
	port    string
	debug   bool

	cfg    *config.Config
	logger *slog.Logger

	opener  serial.Opener
	locator func() (discovery.Locator, error)
}

func newApp() *app {
	return &app{
		opener: serial.OpenPort,
		locator: func() (discovery.Locator, error) {
			return discovery.ForOS(runtime.GOOS)
		},
	}
}

// Execute runs the root command until it finishes or SIGINT/SIGTERM arrives
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(newApp()).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pinlink",
		Short: "Talk to a microcontroller's pins over a serial link",
		Long: `pinlink drives a microcontroller running the pin I/O firmware.

It performs the probe/acknowledge handshake, then reads and writes digital
and analog pins, sets pin modes, and can serve health, metrics and remote
pin access over HTTP.

The port comes from --port, the config file or PINLINK_DEVICE_PORT; when
none is given it is guessed from the platform's USB serial naming.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "Path to configuration file (JSON, YAML or TOML)")
	rootCmd.PersistentFlags().StringVarP(&a.port, "port", "p", "", "Serial port of the device (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		newPortsCmd(a),
		newDigitalCmd(a),
		newAnalogCmd(a),
		newModeCmd(a),
		newEchoCmd(a),
		newServeCmd(a),
		newValidateCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// load reads configuration and sets up logging
func (a *app) load() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.port != "" {
		cfg.Device.Port = a.port
	}
	a.cfg = cfg

	a.logger = setupLogging(cfg, a.debug)
	slog.SetDefault(a.logger)
	return nil
}

// controller validates the configuration and builds a controller for the
// configured or discovered port
func (a *app) controller() (*device.Controller, error) {
	if err := config.Validate(a.cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	opts := []device.Option{
		device.WithHandshake(a.cfg.Handshake.Device()),
		device.WithLogger(a.logger),
		device.WithTransportOptions(
			serial.WithOpener(a.opener),
			serial.WithConfig(a.cfg.Device.Serial()),
			serial.WithBufferSize(a.cfg.Device.BufferSize),
		),
	}

	if a.cfg.Device.Port != "" {
		return device.NewForPort(a.cfg.Device.Port, opts...), nil
	}

	locator, err := a.locator()
	if err != nil {
		return nil, err
	}
	ctrl, err := device.Discover(locator, opts...)
	if err != nil {
		return nil, err
	}
	a.logger.Info("Using discovered port", "port", ctrl.Port())
	return ctrl, nil
}

// connected runs fn against a freshly connected controller and disconnects
// afterwards
func (a *app) connected(ctx context.Context, fn func(*device.Controller) error) error {
	ctrl, err := a.controller()
	if err != nil {
		return err
	}
	if err := ctrl.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := ctrl.Disconnect(); err != nil {
			a.logger.Warn("Failed to disconnect", "error", err)
		}
	}()
	return fn(ctrl)
}
