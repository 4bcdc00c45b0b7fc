package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pinlink/config"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			cfg := a.cfg

			if err := config.Validate(cfg); err != nil {
				fmt.Fprintf(out, "%s Configuration validation failed:\n  %v\n", errorStyle.Render("✗"), err)
				return err
			}

			port := cfg.Device.Port
			if port == "" {
				port = "(discovered at startup)"
			}

			fmt.Fprintf(out, "%s Configuration is valid\n", successStyle.Render("✓"))
			fmt.Fprintf(out, "  Instance: %s\n", cfg.App.InstanceID)
			fmt.Fprintf(out, "  Port: %s - %d baud, %d%s%d\n",
				port, cfg.Device.BaudRate, cfg.Device.DataBits, parityLetter(cfg.Device.Parity), cfg.Device.StopBits)
			fmt.Fprintf(out, "  Handshake: %q/%q, %d attempts every %v\n",
				cfg.Handshake.Probe, cfg.Handshake.Ack, cfg.Handshake.Attempts, cfg.Handshake.GetInterval())
			if cfg.Monitoring.Enabled {
				fmt.Fprintf(out, "  Monitoring: port %d\n", cfg.Monitoring.Port)
			}
			return nil
		},
	}
}

func parityLetter(p string) string {
	if p == "" {
		return "N"
	}
	return strings.ToUpper(p[:1])
}
